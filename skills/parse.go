package skills

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterRe splits a SKILL.md document into its YAML frontmatter and
// markdown body. Format: ---\n<yaml>\n---\n<body>.
var frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)

// Parse parses a SKILL.md document.
func Parse(content []byte) (*Skill, error) {
	m := frontmatterRe.FindSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("invalid SKILL.md format: expected YAML frontmatter between --- markers")
	}

	var fm Frontmatter
	dec := yaml.NewDecoder(bytes.NewReader(m[1]))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := fm.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	return &Skill{
		Frontmatter: fm,
		Body:        strings.TrimSpace(string(m[2])),
	}, nil
}

// ParseFile parses the SKILL.md at path and records its directory on the
// returned skill.
func ParseFile(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	s, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

const skillFileName = "SKILL.md"
