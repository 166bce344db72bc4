// Package skills implements discovery, parsing and search of Agent Skills:
// directories holding a SKILL.md file with YAML frontmatter and a markdown
// body that is injected into an LLM as a system prompt.
package skills

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no skill exists with the requested name.
var ErrNotFound = errors.New("skills: skill not found")

const (
	maxNameLength          = 64
	maxDescriptionLength   = 1024
	maxCompatibilityLength = 500
)

// nameRe matches kebab-case skill names.
var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Frontmatter is the YAML header of a SKILL.md file.
type Frontmatter struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license,omitempty"`
	Compatibility string            `yaml:"compatibility,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty"`
	AllowedTools  string            `yaml:"allowed-tools,omitempty"`
}

// Validate checks the frontmatter against the skill schema.
func (f *Frontmatter) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if len(f.Name) > maxNameLength {
		return fmt.Errorf("skill name exceeds %d characters", maxNameLength)
	}
	if !nameRe.MatchString(f.Name) {
		return fmt.Errorf("skill name %q must be kebab-case (lowercase letters, digits, hyphens)", f.Name)
	}
	if f.Description == "" {
		return fmt.Errorf("skill description is required")
	}
	if len(f.Description) > maxDescriptionLength {
		return fmt.Errorf("skill description exceeds %d characters", maxDescriptionLength)
	}
	if len(f.Compatibility) > maxCompatibilityLength {
		return fmt.Errorf("skill compatibility exceeds %d characters", maxCompatibilityLength)
	}
	return nil
}

// Skill is a fully parsed skill: validated frontmatter, the markdown body,
// and the directory the skill was loaded from.
type Skill struct {
	Frontmatter Frontmatter
	Body        string
	Dir         string
}

// Name returns the skill name from the frontmatter.
func (s *Skill) Name() string { return s.Frontmatter.Name }

// Description returns the skill description from the frontmatter.
func (s *Skill) Description() string { return s.Frontmatter.Description }

// FullContent reconstructs the SKILL.md document for LLM consumption.
func (s *Skill) FullContent() string {
	var sb strings.Builder
	sb.WriteString("---\n")
	fm, err := yaml.Marshal(&s.Frontmatter)
	if err == nil {
		sb.Write(fm)
	}
	sb.WriteString("---\n\n")
	sb.WriteString(s.Body)
	return sb.String()
}

// SearchResult pairs a skill with its relevance score. Score is nil for
// keyword matches, which carry no similarity metric.
type SearchResult struct {
	Skill Skill
	Score *float64
}
