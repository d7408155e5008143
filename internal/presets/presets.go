// Package presets holds named rule lists an operator can apply as an albumen
// pass. Built-ins are always present; presets.yaml in the home directory adds
// or overrides entries and is validated against a JSON schema before use.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/basket/lyrebird/internal/model"
)

// ErrUnknownPreset is returned by Catalog.Rules for names it does not hold.
var ErrUnknownPreset = errors.New("presets: unknown preset")

const (
	RedactPII   = "redact-pii"
	NeutralTone = "neutral-tone"
)

const schemaJSON = `{
  "type": "object",
  "required": ["presets"],
  "additionalProperties": false,
  "properties": {
    "presets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "rules"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
          "description": {"type": "string"},
          "rules": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["action"],
              "additionalProperties": false,
              "properties": {
                "id": {"type": "string"},
                "find": {"type": "string"},
                "replace": {"type": "string"},
                "action": {"enum": ["replace", "pii_remove", "rewrite_tone"]}
              }
            }
          }
        }
      }
    }
  }
}`

// Preset is a named, reusable rule list.
type Preset struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description"`
	Rules       []model.Rule `json:"rules" yaml:"rules"`
	Builtin     bool         `json:"builtin" yaml:"-"`
}

type file struct {
	Presets []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Rules       []struct {
			ID      string `yaml:"id"`
			Find    string `yaml:"find"`
			Replace string `yaml:"replace"`
			Action  string `yaml:"action"`
		} `yaml:"rules"`
	} `yaml:"presets"`
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal presets schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("presets.json", doc); err != nil {
			compileErr = fmt.Errorf("add presets schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile("presets.json")
	})
	return compiled, compileErr
}

// Builtins returns the presets that exist without any presets.yaml.
func Builtins() []Preset {
	return []Preset{
		{
			Name:        RedactPII,
			Description: "Replace email addresses with a redaction marker.",
			Rules:       []model.Rule{{ID: "redact-pii-1", Action: model.ActionPIIRemove}},
			Builtin:     true,
		},
		{
			Name:        NeutralTone,
			Description: "Prefix every fact with a context-neutral rewrite marker.",
			Rules:       []model.Rule{{ID: "neutral-tone-1", Find: "context-neutral", Action: model.ActionRewriteTone}},
			Builtin:     true,
		},
	}
}

// Parse validates a presets.yaml document and decodes its presets.
func Parse(data []byte) ([]Preset, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse presets.yaml: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	// Round-trip through JSON so the validator sees json.Number values.
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode presets.yaml: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(js)))
	if err != nil {
		return nil, fmt.Errorf("decode presets.yaml: %w", err)
	}
	sch, err := schema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("presets.yaml failed schema validation: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets.yaml: %w", err)
	}
	out := make([]Preset, 0, len(f.Presets))
	seen := map[string]struct{}{}
	for _, p := range f.Presets {
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("presets.yaml: duplicate preset %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		rules := make([]model.Rule, 0, len(p.Rules))
		for _, r := range p.Rules {
			rules = append(rules, model.Rule{ID: r.ID, Find: r.Find, Replace: r.Replace, Action: model.Action(r.Action)})
		}
		out = append(out, Preset{Name: p.Name, Description: p.Description, Rules: rules})
	}
	return out, nil
}

// LoadFile reads and parses path. A missing file yields no presets.
func LoadFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read presets.yaml: %w", err)
	}
	return Parse(data)
}

// Catalog is a concurrency-safe view of built-in plus file presets.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewCatalog returns a catalog of the built-ins overlaid with extra.
func NewCatalog(extra []Preset) *Catalog {
	c := &Catalog{}
	c.Replace(extra)
	return c
}

// Replace swaps the file presets. Built-ins with the same name are overridden.
func (c *Catalog) Replace(extra []Preset) {
	next := make(map[string]Preset, len(extra)+2)
	for _, p := range Builtins() {
		next[p.Name] = p
	}
	for _, p := range extra {
		p.Builtin = false
		p.Rules = append([]model.Rule(nil), p.Rules...)
		next[p.Name] = p
	}
	c.mu.Lock()
	c.presets = next
	c.mu.Unlock()
}

// Reload re-reads path and replaces the file presets. On error the previous
// catalog is kept.
func (c *Catalog) Reload(path string) error {
	extra, err := LoadFile(path)
	if err != nil {
		return err
	}
	c.Replace(extra)
	return nil
}

// Rules returns a copy of the named preset's rules.
func (c *Catalog) Rules(name string) ([]model.Rule, error) {
	c.mu.RLock()
	p, ok := c.presets[strings.ToLower(strings.TrimSpace(name))]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return append([]model.Rule(nil), p.Rules...), nil
}

// List returns all presets sorted by name.
func (c *Catalog) List() []Preset {
	c.mu.RLock()
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		p.Rules = append([]model.Rule(nil), p.Rules...)
		out = append(out, p)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Preset) int { return strings.Compare(a.Name, b.Name) })
	return out
}
