// Package agents discovers agent definitions: markdown files whose YAML
// frontmatter names the agent and whose body is its system prompt.
package agents

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

var (
	// ErrMissingFrontMatter indicates the file did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("agents: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("agents: malformed frontmatter")
)

// Definition describes one agent.
type Definition struct {
	Name        string
	Description string
	Role        models.Role
	Model       string
	Thinking    string
	Tools       []string
	// MaxOutput is the agent's default output budget, if any.
	MaxOutput    *models.OutputBudget
	SystemPrompt string
	// Source is the file the definition was read from.
	Source string
}

type frontMatter struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Role        string               `yaml:"role"`
	Model       string               `yaml:"model"`
	Thinking    string               `yaml:"thinking"`
	Tools       stringList           `yaml:"tools"`
	MaxOutput   *models.OutputBudget `yaml:"max_output"`
}

// stringList accepts either a YAML sequence or a comma-separated string.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, part := range strings.Split(node.Value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("tools: expected string or list")
	}
}

// Parse reads one agent definition. name is used when the frontmatter
// omits one.
func Parse(content []byte, name string) (Definition, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Definition{}, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	var meta, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else {
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			if !bytes.HasSuffix(rest, []byte("\n---")) {
				return Definition{}, ErrMalformedFrontMatter
			}
			parts = [][]byte{bytes.TrimSuffix(rest, []byte("\n---")), nil}
		}
		meta, body = parts[0], parts[1]
	}

	var fm frontMatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}

	def := Definition{
		Name:         strings.TrimSpace(fm.Name),
		Description:  strings.TrimSpace(fm.Description),
		Role:         models.Role(strings.ToLower(strings.TrimSpace(fm.Role))),
		Model:        strings.TrimSpace(fm.Model),
		Thinking:     strings.TrimSpace(fm.Thinking),
		Tools:        []string(fm.Tools),
		SystemPrompt: strings.TrimSpace(string(body)),
	}
	if fm.MaxOutput != nil && !fm.MaxOutput.IsZero() {
		b := *fm.MaxOutput
		def.MaxOutput = &b
	}
	if def.Name == "" {
		def.Name = name
	}
	if !def.Role.Valid() {
		def.Role = InferRole(def.Name)
	}
	return def, nil
}

// InferRole guesses a role from an agent name such as "crew-reviewer".
func InferRole(name string) models.Role {
	lower := strings.ToLower(name)
	for _, r := range models.Roles() {
		if strings.Contains(lower, string(r)) {
			return r
		}
	}
	switch {
	case strings.Contains(lower, "plan"):
		return models.RolePlanner
	case strings.Contains(lower, "review"):
		return models.RoleReviewer
	case strings.Contains(lower, "analy"), strings.Contains(lower, "scout"):
		return models.RoleAnalyst
	}
	return models.RoleWorker
}

// Catalog is a set of definitions keyed by name.
type Catalog struct {
	defs map[string]Definition
	// Skipped lists files that could not be parsed.
	Skipped []string
}

// Get returns the definition called name.
func (c *Catalog) Get(name string) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	d, ok := c.defs[name]
	return d, ok
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add inserts or replaces a definition.
func (c *Catalog) Add(d Definition) {
	if c.defs == nil {
		c.defs = make(map[string]Definition)
	}
	c.defs[d.Name] = d
}

// Discover loads every *.md file in dirs. Later directories override
// earlier ones. Missing directories are skipped.
func Discover(dirs ...string) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition)}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read agent dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				c.Skipped = append(c.Skipped, path)
				continue
			}
			def, err := Parse(data, strings.TrimSuffix(e.Name(), ".md"))
			if err != nil {
				c.Skipped = append(c.Skipped, path)
				continue
			}
			def.Source = path
			c.defs[def.Name] = def
		}
	}
	return c, nil
}

// DefaultDirs returns the standard search path: user agents, then the
// project's crew agents, then any extra directories.
func DefaultDirs(cwd string, extra ...string) []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".pi", "agent", "agents"))
	}
	dirs = append(dirs, filepath.Join(cwd, ".pi", "messenger", "crew", "agents"))
	for _, d := range extra {
		if !filepath.IsAbs(d) {
			d = filepath.Join(cwd, d)
		}
		dirs = append(dirs, d)
	}
	return dirs
}
