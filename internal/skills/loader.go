package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// Root is one directory the loader scans, with the source tag its skills
// are installed under.
type Root struct {
	Dir    string
	Source string // store.SkillSourceBundled, Local, or Plugin
}

// Loader scans skill roots and syncs what it finds into the repo.
// Discovery is idempotent: content refreshes, user toggles survive.
type Loader struct {
	repo  *store.SkillRepo
	roots []Root
}

func NewLoader(repo *store.SkillRepo, managedDir string, extraRoots []string) *Loader {
	l := &Loader{repo: repo}
	if managedDir != "" {
		l.roots = append(l.roots, Root{Dir: managedDir, Source: store.SkillSourceBundled})
	}
	for _, dir := range extraRoots {
		l.roots = append(l.roots, Root{Dir: dir, Source: store.SkillSourceLocal})
	}
	return l
}

// AddRoot registers another directory, used by plugins that contribute
// a skills_dir at connect time.
func (l *Loader) AddRoot(dir, source string) {
	l.roots = append(l.roots, Root{Dir: dir, Source: source})
}

// Roots returns the scanned directories.
func (l *Loader) Roots() []Root { return l.roots }

// Sync walks every root and installs or refreshes each skill document.
// Per-file failures log and skip; one bad skill never blocks the rest.
func (l *Loader) Sync(ctx context.Context) (int, error) {
	total := 0
	for _, root := range l.roots {
		n, err := l.syncRoot(ctx, root)
		if err != nil {
			slog.Warn("skills.root.failed", "dir", root.Dir, "error", err)
			continue
		}
		total += n
	}
	slog.Info("skills.synced", "count", total, "roots", len(l.roots))
	return total, nil
}

func (l *Loader) syncRoot(ctx context.Context, root Root) (int, error) {
	docs, err := discover(root.Dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, path := range docs {
		if err := l.syncFile(ctx, path, root.Source); err != nil {
			slog.Warn("skills.file.failed", "path", path, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (l *Loader) syncFile(ctx context.Context, path, source string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	meta, body, err := Parse(string(data))
	if err != nil {
		return fmt.Errorf("parse front-matter: %w", err)
	}
	if meta.Name == "" {
		meta.Name = skillNameFromPath(path)
	}

	s := toSkill(meta, body, source)
	return l.repo.UpsertFromSource(ctx, s, source, store.PriorityStandard)
}

// FromDocument parses one markdown skill document into a Skill row,
// for callers that carry the document in memory (bundled skills).
func FromDocument(doc, source, fallbackName string) (*store.Skill, error) {
	meta, body, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse front-matter: %w", err)
	}
	if meta.Name == "" {
		meta.Name = fallbackName
	}
	return toSkill(meta, body, source), nil
}

// discover finds skill documents under dir: either SKILL.md inside a
// skill directory, or a bare .md file at the top level.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var docs []string
	for _, e := range entries {
		if e.IsDir() {
			candidate := filepath.Join(dir, e.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err == nil {
				docs = append(docs, candidate)
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".md") {
			docs = append(docs, filepath.Join(dir, e.Name()))
		}
	}
	return docs, nil
}

func skillNameFromPath(path string) string {
	base := filepath.Base(path)
	if base == "SKILL.md" {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, ".md")
}

func toSkill(meta *Metadata, body, source string) *store.Skill {
	return &store.Skill{
		Name:                   meta.Name,
		Description:            meta.Description,
		Version:                meta.Version,
		Author:                 meta.Author,
		Emoji:                  meta.Emoji,
		Tags:                   meta.Tags,
		Permissions:            meta.Permissions,
		Body:                   body,
		Source:                 source,
		AlwaysInclude:          meta.Always,
		UserInvocable:          meta.UserInvocable,
		DisableModelInvocation: meta.DisableModelInvocation,
		CommandDispatch:        meta.CommandDispatch,
		CommandTool:            meta.CommandTool,
		RequiresEnv:            meta.RequiresEnv,
		RequiresBins:           meta.RequiresBins,
		RequiresAnyBins:        meta.RequiresAnyBins,
		RequiresConfig:         meta.RequiresConfig,
		OSTags:                 meta.OS,
		EnvOverrides:           meta.EnvOverrides,
		InstallSpecs:           meta.InstallSpecs,
	}
}

// Eligible reports whether a skill can run on this host: OS tags match,
// required env vars are set, required config paths resolve, and binary
// requirements (all-of and any-of) are satisfied. Ineligible skills stay
// installed but are excluded from the prompt and the tool list.
func Eligible(s *store.Skill) bool {
	return eligible(s, runtime.GOOS, os.Getenv, lookPath, fileExists)
}

func eligible(s *store.Skill, goos string, getenv func(string) string,
	look func(string) bool, exists func(string) bool) bool {
	if len(s.OSTags) > 0 {
		ok := false
		for _, tag := range s.OSTags {
			if strings.EqualFold(tag, goos) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, env := range s.RequiresEnv {
		if getenv(env) == "" {
			return false
		}
	}
	for _, path := range s.RequiresConfig {
		if !exists(expandHome(path)) {
			return false
		}
	}
	for _, bin := range s.RequiresBins {
		if !look(bin) {
			return false
		}
	}
	if len(s.RequiresAnyBins) > 0 {
		ok := false
		for _, bin := range s.RequiresAnyBins {
			if look(bin) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// FilterEligible keeps the skills that can run on this host.
func FilterEligible(all []*store.Skill) []*store.Skill {
	var out []*store.Skill
	for _, s := range all {
		if Eligible(s) {
			out = append(out, s)
		}
	}
	return out
}

// PromptSection renders eligible skills into the system prompt block.
// Skills with Always set render their full body; the rest get one line.
func PromptSection(eligibleSkills []*store.Skill) string {
	if len(eligibleSkills) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Available skills:\n")
	for _, s := range eligibleSkills {
		if s.AlwaysInclude {
			sb.WriteString("\n## " + s.Name + "\n")
			sb.WriteString(s.Body)
			sb.WriteString("\n")
			continue
		}
		line := "- " + s.Name
		if s.Description != "" {
			line += ": " + s.Description
		}
		sb.WriteString(line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func lookPath(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
