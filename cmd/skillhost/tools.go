package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/llm"
	"github.com/agentskills/skillhost/mcpservice"
	"github.com/agentskills/skillhost/skills"
)

type searchArgs struct {
	Query      string `json:"query,omitempty" jsonschema_description:"Search query matched against skill names and descriptions."`
	NameFilter string `json:"name_filter,omitempty" jsonschema_description:"Skill name prefix filter (case-insensitive)."`
}

type describeArgs struct {
	SkillName string `json:"skill_name" jsonschema:"required" jsonschema_description:"Name of the skill to describe."`
}

type executeArgs struct {
	SkillName  string `json:"skill_name" jsonschema:"required" jsonschema_description:"Name of the skill to execute."`
	UserPrompt string `json:"user_prompt" jsonschema:"required" jsonschema_description:"Prompt to send to the LLM together with the skill."`
	Model      string `json:"model,omitempty" jsonschema_description:"Model override in <provider>/<model-name> form."`
}

// newSkillTools builds the MCP tool set exposed by the server.
func newSkillTools(mgr *skills.Manager, client *llm.Client) []mcpservice.StaticTool {
	search := mcpservice.NewTool("skills_search", func(ctx context.Context, caller *auth.Principal, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[searchArgs]) error {
		results := mgr.Search(ctx, r.Args().Query, r.Args().NameFilter, 0)

		items := make([]map[string]any, 0, len(results))
		var lines []string
		for _, res := range results {
			item := map[string]any{
				"name":           res.Skill.Name(),
				"description":    res.Skill.Description(),
				"directory_path": res.Skill.Dir,
			}
			if res.Score != nil {
				item["score"] = *res.Score
			}
			items = append(items, item)
			lines = append(lines, fmt.Sprintf("- %s: %s", res.Skill.Name(), res.Skill.Description()))
		}

		if len(lines) == 0 {
			w.AppendText("No skills matched.")
		} else {
			w.AppendText(fmt.Sprintf("Found %d skill(s):\n%s", len(items), strings.Join(lines, "\n")))
		}
		w.SetStructured(map[string]any{"skills": items})
		return nil
	}, mcpservice.WithToolDescription("Search for Agent Skills by description or name. Combine a free-text query with an optional name prefix filter."))

	describe := mcpservice.NewTool("skills_describe", func(ctx context.Context, caller *auth.Principal, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[describeArgs]) error {
		s, err := mgr.LoadSkill(r.Args().SkillName)
		if err != nil {
			if errors.Is(err, skills.ErrNotFound) {
				w.SetError(true)
				w.AppendText(fmt.Sprintf("Skill not found: %s", r.Args().SkillName))
				return nil
			}
			return err
		}

		w.AppendText(s.FullContent())
		w.SetStructured(map[string]any{
			"name":           s.Name(),
			"description":    s.Description(),
			"license":        s.Frontmatter.License,
			"compatibility":  s.Frontmatter.Compatibility,
			"metadata":       s.Frontmatter.Metadata,
			"allowed_tools":  s.Frontmatter.AllowedTools,
			"directory_path": s.Dir,
		})
		return nil
	}, mcpservice.WithToolDescription("Return the full definition of a skill: frontmatter, markdown body and directory path."))

	execute := mcpservice.NewTool("skills_execute", func(ctx context.Context, caller *auth.Principal, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[executeArgs]) error {
		s, err := mgr.LoadSkill(r.Args().SkillName)
		if err != nil {
			if errors.Is(err, skills.ErrNotFound) {
				w.SetError(true)
				w.AppendText(fmt.Sprintf("Skill not found: %s", r.Args().SkillName))
				return nil
			}
			return err
		}

		res, err := client.ExecuteSkill(ctx, s.Name(), s.FullContent(), r.Args().UserPrompt, r.Args().Model)
		if err != nil {
			w.SetError(true)
			w.AppendText(fmt.Sprintf("Skill execution failed: %v", err))
			return nil
		}

		w.AppendText(res.Response)
		w.SetStructured(map[string]any{
			"skill_name":     res.SkillName,
			"response":       res.Response,
			"model":          res.Model,
			"input_tokens":   res.InputTokens,
			"output_tokens":  res.OutputTokens,
			"execution_time": res.Duration.Seconds(),
		})
		return nil
	}, mcpservice.WithToolDescription("Execute a skill by sending its content as the system prompt to an LLM together with the user prompt."))

	return []mcpservice.StaticTool{search, describe, execute}
}
