// Package bootstrap seeds the skills that ship inside the binary. They
// upsert on every start so content tracks the release, while user
// toggles (enabled, priority) survive.
package bootstrap

import (
	"context"
	"embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/skills"
	"github.com/nextlevelbuilder/beacon/internal/store"
)

//go:embed skills/*.md
var bundledFS embed.FS

// SeedBundledSkills installs or refreshes every embedded skill. Returns
// the number seeded.
func SeedBundledSkills(ctx context.Context, repo *store.SkillRepo) (int, error) {
	entries, err := bundledFS.ReadDir("skills")
	if err != nil {
		return 0, fmt.Errorf("read bundled skills: %w", err)
	}

	seeded := 0
	for _, e := range entries {
		data, err := bundledFS.ReadFile(filepath.Join("skills", e.Name()))
		if err != nil {
			return seeded, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		s, err := skills.FromDocument(string(data), store.SkillSourceBundled, name)
		if err != nil {
			return seeded, fmt.Errorf("bundled skill %s: %w", e.Name(), err)
		}
		if err := repo.UpsertBundled(ctx, s, store.PriorityStandard); err != nil {
			return seeded, fmt.Errorf("install bundled skill %s: %w", s.Name, err)
		}
		seeded++
	}
	return seeded, nil
}
