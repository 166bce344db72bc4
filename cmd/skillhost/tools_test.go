package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/llm"
	"github.com/agentskills/skillhost/mcp"
	"github.com/agentskills/skillhost/mcpservice"
	"github.com/agentskills/skillhost/skills"
)

func writeSkill(t *testing.T, dir, name, description string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf("---\nname: %s\ndescription: %s\n---\n\nInstructions for %s.\n", name, description, name)
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestContainer(t *testing.T, client *llm.Client) *mcpservice.ToolsContainer {
	t.Helper()
	dir := t.TempDir()
	writeSkill(t, dir, "pdf-extract", "Extracts text from PDF documents.")
	writeSkill(t, dir, "etl-load", "Loads data into the warehouse.")

	mgr, err := skills.NewManager(skills.ManagerConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if client == nil {
		client = llm.NewClient(llm.Config{})
	}
	return mcpservice.NewToolsContainer(newSkillTools(mgr, client)...)
}

func callTool(t *testing.T, c *mcpservice.ToolsContainer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.CallTool(context.Background(), &auth.Principal{UserID: "alice@example.com"}, &mcp.CallToolRequestReceived{
		Name:      name,
		Arguments: raw,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func TestSkillsSearchTool(t *testing.T) {
	c := newTestContainer(t, nil)

	res := callTool(t, c, "skills_search", map[string]any{"query": "pdf"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "pdf-extract") {
		t.Errorf("text = %q", res.Content[0].Text)
	}
	found, ok := res.StructuredContent["skills"].([]map[string]any)
	if !ok || len(found) != 1 {
		t.Fatalf("structured = %+v", res.StructuredContent)
	}
	if found[0]["name"] != "pdf-extract" {
		t.Errorf("structured skill = %+v", found[0])
	}

	res = callTool(t, c, "skills_search", map[string]any{"query": "quantum"})
	if !strings.Contains(res.Content[0].Text, "No skills matched") {
		t.Errorf("text = %q", res.Content[0].Text)
	}
}

func TestSkillsDescribeTool(t *testing.T) {
	c := newTestContainer(t, nil)

	res := callTool(t, c, "skills_describe", map[string]any{"skill_name": "etl-load"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "Instructions for etl-load.") {
		t.Errorf("text = %q", res.Content[0].Text)
	}
	if res.StructuredContent["name"] != "etl-load" {
		t.Errorf("structured = %+v", res.StructuredContent)
	}

	res = callTool(t, c, "skills_describe", map[string]any{"skill_name": "missing"})
	if !res.IsError {
		t.Fatal("expected error result for missing skill")
	}
}

func TestSkillsExecuteTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "done"}},
			"usage":   map[string]any{"input_tokens": 10, "output_tokens": 2},
		})
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{AnthropicAPIKey: "sk-test", AnthropicBaseURL: srv.URL})
	c := newTestContainer(t, client)

	res := callTool(t, c, "skills_execute", map[string]any{
		"skill_name":  "pdf-extract",
		"user_prompt": "extract everything",
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if res.Content[0].Text != "done" {
		t.Errorf("text = %q", res.Content[0].Text)
	}
	if res.StructuredContent["skill_name"] != "pdf-extract" {
		t.Errorf("structured = %+v", res.StructuredContent)
	}
}

func TestSkillsExecuteToolMissingCredentials(t *testing.T) {
	c := newTestContainer(t, llm.NewClient(llm.Config{}))

	res := callTool(t, c, "skills_execute", map[string]any{
		"skill_name":  "pdf-extract",
		"user_prompt": "go",
	})
	if !res.IsError {
		t.Fatal("expected error result without credentials")
	}
	if !strings.Contains(res.Content[0].Text, "ANTHROPIC_API_KEY") {
		t.Errorf("text = %q", res.Content[0].Text)
	}
}
