// Package skills discovers markdown skills on disk, parses their
// front-matter, and syncs them into the skill repository.
package skills

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the parsed front-matter of one skill document.
type Metadata struct {
	Name                   string
	Description            string
	Version                string
	Author                 string
	Emoji                  string
	Tags                   []string
	Permissions            []string
	Always                 bool
	UserInvocable          bool
	DisableModelInvocation bool
	CommandDispatch        string
	CommandTool            string
	RequiresEnv            []string
	RequiresBins           []string
	RequiresAnyBins        []string
	RequiresConfig         []string
	OS                     []string
	PrimaryEnv             string
	EnvOverrides           map[string]string
	InstallSpecs           []string
}

// Parse splits a markdown document into front-matter and body. The
// front-matter is a block of "key: value" lines between two "---" fences
// at the top of the file. A document without a fence is all body.
func Parse(doc string) (*Metadata, string, error) {
	meta := &Metadata{}
	trimmed := strings.TrimLeft(doc, "\uFEFF\n\r\t ")
	if !strings.HasPrefix(trimmed, "---") {
		return meta, doc, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Scan() // opening fence

	var bodyLines []string
	inBody := false
	for scanner.Scan() {
		line := scanner.Text()
		if inBody {
			bodyLines = append(bodyLines, line)
			continue
		}
		if strings.TrimSpace(line) == "---" {
			inBody = true
			continue
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, "", fmt.Errorf("front-matter line %q has no colon", line)
		}
		if err := meta.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, "", err
		}
	}
	if !inBody {
		return nil, "", fmt.Errorf("front-matter fence not closed")
	}
	return meta, strings.TrimLeft(strings.Join(bodyLines, "\n"), "\n"), nil
}

func (m *Metadata) set(key, value string) error {
	switch key {
	case "name":
		m.Name = value
	case "description":
		m.Description = value
	case "version":
		m.Version = value
	case "author":
		m.Author = value
	case "emoji":
		m.Emoji = value
	case "tags":
		m.Tags = list(value)
	case "permissions":
		m.Permissions = list(value)
	case "always":
		m.Always = boolVal(value)
	case "user_invocable":
		m.UserInvocable = boolVal(value)
	case "disable_model_invocation":
		m.DisableModelInvocation = boolVal(value)
	case "command_dispatch":
		if value != "" && value != "tool" {
			return fmt.Errorf("unknown command_dispatch %q", value)
		}
		m.CommandDispatch = value
	case "command_tool":
		m.CommandTool = value
	case "requires_env":
		m.RequiresEnv = list(value)
	case "requires_bins":
		m.RequiresBins = list(value)
	case "requires_any_bins":
		m.RequiresAnyBins = list(value)
	case "requires_config":
		m.RequiresConfig = list(value)
	case "os":
		m.OS = list(value)
	case "primary_env":
		m.PrimaryEnv = value
	case "env":
		m.EnvOverrides = pairs(value)
	case "install":
		m.InstallSpecs = list(value)
	default:
		// Unknown keys are tolerated so newer skills load on older hosts.
	}
	return nil
}

// list parses "a, b, c" or "[a, b, c]" into a string slice.
func list(value string) []string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pairs parses "KEY=val, OTHER=val" into a map.
func pairs(value string) map[string]string {
	out := map[string]string{}
	for _, item := range list(value) {
		if k, v, ok := strings.Cut(item, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func boolVal(value string) bool {
	b, err := strconv.ParseBool(strings.ToLower(value))
	return err == nil && b
}
