package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Skill sources.
const (
	SkillSourceLocal   = "local"
	SkillSourceRemote  = "remote"
	SkillSourceBundled = "bundled"
	SkillSourcePlugin  = "plugin"
)

// Skill priorities.
const (
	PriorityStandard = "standard"
	PriorityElevated = "elevated"
)

// Skill is an installed markdown skill with parsed front-matter.
type Skill struct {
	ID                     string
	Name                   string
	Description            string
	Version                string
	Author                 string
	Tags                   []string
	Permissions            []string
	Body                   string
	Source                 string
	Enabled                bool
	Priority               string
	AlwaysInclude          bool
	UserInvocable          bool
	DisableModelInvocation bool
	CommandName            string // unique among enabled user-invocable skills
	CommandDispatch        string // "" or "tool"
	CommandTool            string
	UserID                 string // empty = shared
	RequiresEnv            []string
	RequiresBins           []string
	RequiresAnyBins        []string
	RequiresConfig         []string
	OSTags                 []string
	EnvOverrides           map[string]string
	InstallSpecs           []string
	Emoji                  string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type SkillRepo struct {
	db *sql.DB
}

// InstallWithPriority inserts a new skill, computing a unique command name
// for user-invocable skills by suffixing a counter on collision
// ("weather", "weather2", "weather3", ...).
func (r *SkillRepo) InstallWithPriority(ctx context.Context, s *Skill, priority, userID string) error {
	s.ID = uuid.Must(uuid.NewV7()).String()
	s.Priority = priority
	s.UserID = userID
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Source == "" {
		s.Source = SkillSourceLocal
	}

	if s.UserInvocable {
		name, err := r.uniqueCommandName(ctx, commandBase(s))
		if err != nil {
			return err
		}
		s.CommandName = name
	}

	return r.insert(ctx, s)
}

// UpsertBundled installs or refreshes a skill shipped with the binary.
// Content, description, and requirement metadata are replaced; user
// toggles (enabled, priority) survive the upgrade.
func (r *SkillRepo) UpsertBundled(ctx context.Context, s *Skill, priority string) error {
	return r.UpsertFromSource(ctx, s, SkillSourceBundled, priority)
}

// UpsertFromSource installs or refreshes a shared skill from one origin.
// Re-running discovery hits this path, so it must stay idempotent.
func (r *SkillRepo) UpsertFromSource(ctx context.Context, s *Skill, source, priority string) error {
	existing, err := r.getByName(ctx, s.Name, source, "")
	if errors.Is(err, ErrNotFound) {
		s.Source = source
		return r.InstallWithPriority(ctx, s, priority, "")
	}
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE skills SET description = ?, version = ?, author = ?, tags = ?,
			permissions = ?, body = ?, always_include = ?, user_invocable = ?,
			disable_model_invocation = ?, command_dispatch = ?, command_tool = ?,
			requires_env = ?, requires_bins = ?, requires_any_bins = ?,
			requires_config = ?, os_tags = ?, env_overrides = ?, install_specs = ?,
			emoji = ?, updated_at = ?
		WHERE id = ?`,
		s.Description, s.Version, s.Author, jsonArr(s.Tags),
		jsonArr(s.Permissions), s.Body, s.AlwaysInclude, s.UserInvocable,
		s.DisableModelInvocation, s.CommandDispatch, s.CommandTool,
		jsonArr(s.RequiresEnv), jsonArr(s.RequiresBins), jsonArr(s.RequiresAnyBins),
		jsonArr(s.RequiresConfig), jsonArr(s.OSTags), jsonMap(s.EnvOverrides), jsonArr(s.InstallSpecs),
		s.Emoji, time.Now().UTC(), existing.ID)
	if err != nil {
		return fmt.Errorf("upsert bundled skill: %w", err)
	}
	s.ID = existing.ID
	s.Enabled = existing.Enabled
	s.Priority = existing.Priority
	s.CommandName = existing.CommandName
	return nil
}

// ListEnabledForUser returns shared enabled skills plus the user's own.
// An empty userID returns shared skills only.
func (r *SkillRepo) ListEnabledForUser(ctx context.Context, userID string) ([]*Skill, error) {
	rows, err := r.db.QueryContext(ctx, skillSelect+`
		WHERE enabled = 1 AND (user_id IS NULL OR user_id = ?)
		ORDER BY priority DESC, name ASC`, nullIfEmpty(userID))
	if err != nil {
		return nil, fmt.Errorf("list enabled skills: %w", err)
	}
	return scanSkills(rows)
}

// List returns every installed skill.
func (r *SkillRepo) List(ctx context.Context) ([]*Skill, error) {
	rows, err := r.db.QueryContext(ctx, skillSelect+` ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	return scanSkills(rows)
}

// GetByCommandName resolves a slash command to an enabled skill, preferring
// a user-scoped skill over a shared one.
func (r *SkillRepo) GetByCommandName(ctx context.Context, cmd, userID string) (*Skill, error) {
	rows, err := r.db.QueryContext(ctx, skillSelect+`
		WHERE enabled = 1 AND command_name = ? AND (user_id IS NULL OR user_id = ?)
		ORDER BY user_id IS NULL ASC LIMIT 1`, cmd, nullIfEmpty(userID))
	if err != nil {
		return nil, fmt.Errorf("get by command: %w", err)
	}
	skills, err := scanSkills(rows)
	if err != nil {
		return nil, err
	}
	if len(skills) == 0 {
		return nil, ErrNotFound
	}
	return skills[0], nil
}

// SetEnabled flips the user toggle.
func (r *SkillRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE skills SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBySource removes skills from one origin, used when a plugin
// detaches its contributed directory.
func (r *SkillRepo) DeleteBySource(ctx context.Context, source string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM skills WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SkillRepo) getByName(ctx context.Context, name, source, userID string) (*Skill, error) {
	rows, err := r.db.QueryContext(ctx, skillSelect+`
		WHERE name = ? AND source = ? AND user_id IS ?`, name, source, nullIfEmpty(userID))
	if err != nil {
		return nil, fmt.Errorf("get skill: %w", err)
	}
	skills, err := scanSkills(rows)
	if err != nil {
		return nil, err
	}
	if len(skills) == 0 {
		return nil, ErrNotFound
	}
	return skills[0], nil
}

// uniqueCommandName disambiguates against existing command names by
// appending the smallest free numeric suffix.
func (r *SkillRepo) uniqueCommandName(ctx context.Context, base string) (string, error) {
	taken := make(map[string]bool)
	rows, err := r.db.QueryContext(ctx,
		`SELECT command_name FROM skills WHERE command_name IS NOT NULL`)
	if err != nil {
		return "", fmt.Errorf("list command names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan command name: %w", err)
		}
		taken[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if !taken[base] {
		return base, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func commandBase(s *Skill) string {
	name := strings.ToLower(s.Name)
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
	return strings.Trim(name, "_")
}

func (r *SkillRepo) insert(ctx context.Context, s *Skill) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, version, author, tags, permissions,
			body, source, enabled, priority, always_include, user_invocable,
			disable_model_invocation, command_name, command_dispatch, command_tool,
			user_id, requires_env, requires_bins, requires_any_bins, requires_config,
			os_tags, env_overrides, install_specs, emoji, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, s.Version, s.Author, jsonArr(s.Tags), jsonArr(s.Permissions),
		s.Body, s.Source, true, s.Priority, s.AlwaysInclude, s.UserInvocable,
		s.DisableModelInvocation, nullIfEmpty(s.CommandName), s.CommandDispatch, s.CommandTool,
		nullIfEmpty(s.UserID), jsonArr(s.RequiresEnv), jsonArr(s.RequiresBins),
		jsonArr(s.RequiresAnyBins), jsonArr(s.RequiresConfig), jsonArr(s.OSTags),
		jsonMap(s.EnvOverrides), jsonArr(s.InstallSpecs), s.Emoji, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	s.Enabled = true
	return nil
}

const skillSelect = `
	SELECT id, name, description, version, author, tags, permissions, body,
	       source, enabled, priority, always_include, user_invocable,
	       disable_model_invocation, command_name, command_dispatch, command_tool,
	       user_id, requires_env, requires_bins, requires_any_bins, requires_config,
	       os_tags, env_overrides, install_specs, emoji, created_at, updated_at
	FROM skills`

func scanSkills(rows *sql.Rows) ([]*Skill, error) {
	defer rows.Close()
	var out []*Skill
	for rows.Next() {
		s := &Skill{}
		var tags, perms, reqEnv, reqBins, reqAny, reqCfg, osTags, envOv, installs string
		var cmdName, userID sql.NullString
		err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Version, &s.Author, &tags, &perms,
			&s.Body, &s.Source, &s.Enabled, &s.Priority, &s.AlwaysInclude, &s.UserInvocable,
			&s.DisableModelInvocation, &cmdName, &s.CommandDispatch, &s.CommandTool,
			&userID, &reqEnv, &reqBins, &reqAny, &reqCfg, &osTags, &envOv, &installs,
			&s.Emoji, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		s.CommandName = cmdName.String
		s.UserID = userID.String
		json.Unmarshal([]byte(tags), &s.Tags)
		json.Unmarshal([]byte(perms), &s.Permissions)
		json.Unmarshal([]byte(reqEnv), &s.RequiresEnv)
		json.Unmarshal([]byte(reqBins), &s.RequiresBins)
		json.Unmarshal([]byte(reqAny), &s.RequiresAnyBins)
		json.Unmarshal([]byte(reqCfg), &s.RequiresConfig)
		json.Unmarshal([]byte(osTags), &s.OSTags)
		json.Unmarshal([]byte(envOv), &s.EnvOverrides)
		json.Unmarshal([]byte(installs), &s.InstallSpecs)
		out = append(out, s)
	}
	return out, rows.Err()
}

func jsonArr(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func jsonMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}
