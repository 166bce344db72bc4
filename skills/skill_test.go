package skills

import (
	"strings"
	"testing"
)

const validSkill = `---
name: pdf-extract
description: Extracts text and tables from PDF documents.
license: Apache-2.0
metadata:
  author: docs-team
allowed-tools: file_read, web_fetch
---

# PDF Extract

Use this skill to pull text out of PDFs.
`

func TestParseValidSkill(t *testing.T) {
	s, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name() != "pdf-extract" {
		t.Errorf("name = %q", s.Name())
	}
	if s.Description() != "Extracts text and tables from PDF documents." {
		t.Errorf("description = %q", s.Description())
	}
	if s.Frontmatter.License != "Apache-2.0" {
		t.Errorf("license = %q", s.Frontmatter.License)
	}
	if s.Frontmatter.Metadata["author"] != "docs-team" {
		t.Errorf("metadata = %v", s.Frontmatter.Metadata)
	}
	if s.Frontmatter.AllowedTools != "file_read, web_fetch" {
		t.Errorf("allowed-tools = %q", s.Frontmatter.AllowedTools)
	}
	if !strings.HasPrefix(s.Body, "# PDF Extract") {
		t.Errorf("body = %q", s.Body)
	}
}

func TestParseRejectsMissingFrontmatter(t *testing.T) {
	if _, err := Parse([]byte("# Just markdown\n\nNo frontmatter here.")); err == nil {
		t.Fatal("expected error for document without frontmatter")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := "---\nname: ok-skill\ndescription: Fine.\nsurprise: field\n---\n\nbody\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for unknown frontmatter field")
	}
}

func TestFrontmatterValidation(t *testing.T) {
	cases := []struct {
		name string
		fm   Frontmatter
		ok   bool
	}{
		{"valid", Frontmatter{Name: "my-skill", Description: "Does things."}, true},
		{"valid single word", Frontmatter{Name: "skill2", Description: "ok"}, true},
		{"empty name", Frontmatter{Description: "x"}, false},
		{"uppercase name", Frontmatter{Name: "My-Skill", Description: "x"}, false},
		{"underscore name", Frontmatter{Name: "my_skill", Description: "x"}, false},
		{"leading hyphen", Frontmatter{Name: "-skill", Description: "x"}, false},
		{"trailing hyphen", Frontmatter{Name: "skill-", Description: "x"}, false},
		{"name too long", Frontmatter{Name: strings.Repeat("a", 65), Description: "x"}, false},
		{"empty description", Frontmatter{Name: "ok"}, false},
		{"description too long", Frontmatter{Name: "ok", Description: strings.Repeat("d", 1025)}, false},
		{"compatibility too long", Frontmatter{Name: "ok", Description: "x", Compatibility: strings.Repeat("c", 501)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fm.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestFullContentRoundTrips(t *testing.T) {
	s, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	full := s.FullContent()

	again, err := Parse([]byte(full))
	if err != nil {
		t.Fatalf("Parse reconstructed content: %v", err)
	}
	if again.Name() != s.Name() || again.Description() != s.Description() {
		t.Errorf("reconstructed skill differs: %+v", again.Frontmatter)
	}
	if again.Body != s.Body {
		t.Errorf("reconstructed body = %q, want %q", again.Body, s.Body)
	}
}
