package skills

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentskills/skillhost/skills/semantic"
)

// Index is the semantic search surface the manager consumes. The in-memory
// cosine index in skills/semantic satisfies it.
type Index interface {
	Rebuild(ctx context.Context, docs []semantic.Document) error
	Search(ctx context.Context, query string, limit int) ([]semantic.Result, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Dir is the primary skills directory. Required; must exist.
	Dir string

	// AdditionalDirs are extra skills directories, searched after Dir.
	// Missing directories are skipped.
	AdditionalDirs []string

	// ManagedBase is the root of the managed-skills area. Defaults to
	// "managed-skills" relative to the working directory.
	ManagedBase string

	// ManagedUser names the per-user subdirectory of the managed area.
	// Created on demand; legacy skills found directly under ManagedBase
	// are migrated into it.
	ManagedUser string

	// Index enables semantic search when set. Keyword search is always
	// available and used as the fallback.
	Index Index

	// SearchLimit caps search results. Defaults to semantic.DefaultLimit.
	SearchLimit int

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Manager discovers, loads and searches skills across a set of directories.
// When several directories define a skill with the same name, the first
// directory in search order wins.
type Manager struct {
	dirs  []string
	index Index
	limit int
	log   *slog.Logger

	mu      sync.Mutex
	indexed bool
}

// NewManager builds a manager over the configured directories and prepares
// the managed-skills area.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("skills directory is required")
	}
	primary, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve skills directory: %w", err)
	}
	if fi, err := os.Stat(primary); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("skills directory not found: %s", primary)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dirs := []string{primary}
	for _, d := range cfg.AdditionalDirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			log.Warn("skipping missing skills directory", slog.String("dir", abs))
			continue
		}
		if !containsDir(dirs, abs) {
			dirs = append(dirs, abs)
		}
	}

	if cfg.ManagedUser != "" {
		base := cfg.ManagedBase
		if base == "" {
			base = "managed-skills"
		}
		managedBase, err := filepath.Abs(base)
		if err != nil {
			return nil, fmt.Errorf("resolve managed-skills directory: %w", err)
		}
		managedDir := filepath.Join(managedBase, cfg.ManagedUser)
		if err := os.MkdirAll(managedDir, 0o755); err != nil {
			return nil, fmt.Errorf("create managed-skills directory: %w", err)
		}
		migrateLegacyManagedSkills(managedBase, managedDir, log)
		if !containsDir(dirs, managedDir) {
			dirs = append(dirs, managedDir)
		}
	}

	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = semantic.DefaultLimit
	}

	return &Manager{dirs: dirs, index: cfg.Index, limit: limit, log: log}, nil
}

func containsDir(dirs []string, dir string) bool {
	for _, d := range dirs {
		if d == dir {
			return true
		}
	}
	return false
}

// migrateLegacyManagedSkills moves skill directories found directly under
// the managed base into the per-user subdirectory. Skills whose name already
// exists in the target are left in place.
func migrateLegacyManagedSkills(base, target string, log *slog.Logger) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		src := filepath.Join(base, ent.Name())
		if src == target {
			continue
		}
		if _, err := os.Stat(filepath.Join(src, skillFileName)); err != nil {
			continue
		}
		dst := filepath.Join(target, ent.Name())
		if _, err := os.Stat(dst); err == nil {
			log.Info("skill already migrated, skipping", slog.String("skill", ent.Name()))
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			log.Error("failed to migrate managed skill", slog.String("skill", ent.Name()), slog.String("err", err.Error()))
			continue
		}
		log.Info("migrated managed skill", slog.String("skill", ent.Name()), slog.String("dir", target))
	}
}

// Dirs returns the directories the manager searches, in order.
func (m *Manager) Dirs() []string {
	out := make([]string, len(m.dirs))
	copy(out, m.dirs)
	return out
}

// LoadSkill loads the named skill from the first directory that defines it.
// The name is validated before any filesystem access so a caller-supplied
// name can never traverse outside the skills directories.
func (m *Manager) LoadSkill(name string) (*Skill, error) {
	if !nameRe.MatchString(name) || len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, dir := range m.dirs {
		path := filepath.Join(dir, name, skillFileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LoadAll loads every valid skill. Invalid skill files are skipped;
// duplicate names keep the copy from the earliest directory.
func (m *Manager) LoadAll() []Skill {
	var out []Skill
	seen := make(map[string]bool)
	for _, dir := range m.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			m.log.Warn("failed to read skills directory", slog.String("dir", dir), slog.String("err", err.Error()))
			continue
		}
		for _, ent := range entries {
			if !ent.IsDir() {
				continue
			}
			path := filepath.Join(dir, ent.Name(), skillFileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			s, err := ParseFile(path)
			if err != nil {
				m.log.Debug("skipping invalid skill", slog.String("path", path), slog.String("err", err.Error()))
				continue
			}
			if seen[s.Name()] {
				continue
			}
			seen[s.Name()] = true
			out = append(out, *s)
		}
	}
	return out
}

// Search finds skills matching query and nameFilter. Semantic search is used
// when an index is configured and a query is given; any semantic failure
// falls back to keyword search. A non-positive limit uses the configured
// default.
func (m *Manager) Search(ctx context.Context, query, nameFilter string, limit int) []SearchResult {
	if limit <= 0 {
		limit = m.limit
	}

	if query != "" && m.index != nil && m.ensureIndexed(ctx) {
		results, err := m.semanticSearch(ctx, query, nameFilter, limit)
		if err == nil {
			return results
		}
		m.log.Warn("semantic search failed, falling back to keyword", slog.String("err", err.Error()))
	}

	return m.keywordSearch(query, nameFilter, limit)
}

func (m *Manager) semanticSearch(ctx context.Context, query, nameFilter string, limit int) ([]SearchResult, error) {
	// Over-fetch when a name filter will drop hits afterwards.
	searchLimit := limit
	if nameFilter != "" {
		searchLimit = limit * 3
	}

	hits, err := m.index.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Skill)
	for _, s := range m.LoadAll() {
		byName[s.Name()] = s
	}

	prefix := strings.ToLower(nameFilter)
	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		s, ok := byName[hit.ID]
		if !ok {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(s.Name()), prefix) {
			continue
		}
		score := hit.Score
		out = append(out, SearchResult{Skill: s, Score: &score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Manager) keywordSearch(query, nameFilter string, limit int) []SearchResult {
	prefix := strings.ToLower(nameFilter)
	needle := strings.ToLower(query)

	var out []SearchResult
	for _, s := range m.LoadAll() {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(s.Name()), prefix) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(s.Name()), needle) &&
			!strings.Contains(strings.ToLower(s.Description()), needle) {
			continue
		}
		out = append(out, SearchResult{Skill: s})
		if len(out) == limit {
			break
		}
	}
	return out
}

// ensureIndexed builds the semantic index on first use.
func (m *Manager) ensureIndexed(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexed {
		return true
	}
	if err := m.rebuildIndexLocked(ctx); err != nil {
		m.log.Warn("failed to initialize semantic index", slog.String("err", err.Error()))
		return false
	}
	m.indexed = true
	return true
}

// RefreshIndex reloads all skills and rebuilds the semantic index. Call it
// after skills change on disk. It is a no-op when no index is configured.
func (m *Manager) RefreshIndex(ctx context.Context) error {
	if m.index == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rebuildIndexLocked(ctx); err != nil {
		return err
	}
	m.indexed = true
	return nil
}

func (m *Manager) rebuildIndexLocked(ctx context.Context) error {
	all := m.LoadAll()
	docs := make([]semantic.Document, len(all))
	for i, s := range all {
		docs[i] = semantic.Document{ID: s.Name(), Text: s.Name() + " " + s.Description()}
	}
	if err := m.index.Rebuild(ctx, docs); err != nil {
		return err
	}
	m.log.Info("semantic index rebuilt", slog.Int("skills", len(docs)))
	return nil
}
