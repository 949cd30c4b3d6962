// Package pipeline loads the static per-job-type provider templates and
// renders them for a concrete job.
package pipeline

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

//go:embed default.toml
var defaultCatalog []byte

// Catalog holds one template per job type. It is read-only after Load.
type Catalog struct {
	templates map[domain.JobType]Template
}

// Load reads a TOML or JSON catalog from path. An empty path loads the
// embedded defaults.
func Load(path string) (*Catalog, error) {
	k := koanf.New(".")
	path = strings.TrimSpace(path)
	if path == "" {
		if err := k.Load(rawbytes.Provider(defaultCatalog), toml.Parser()); err != nil {
			return nil, fmt.Errorf("pipeline: parse default catalog: %w", err)
		}
		return fromRaw(k.Raw())
	}

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parser = toml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("pipeline: unsupported catalog format %q", filepath.Ext(path))
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("pipeline: load %s: %w", path, err)
	}
	return fromRaw(k.Raw())
}

func fromRaw(raw map[string]any) (*Catalog, error) {
	c := &Catalog{templates: make(map[domain.JobType]Template, len(raw))}
	for key, value := range raw {
		jobType, err := domain.ParseJobType(key)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		body, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pipeline: template %q must be a table", key)
		}
		c.templates[jobType] = Template{JobType: jobType, Body: body}
	}
	return c, nil
}

// Get returns the template for jobType. A missing template is a deployment
// defect, so it surfaces as a configuration error.
func (c *Catalog) Get(jobType domain.JobType) (Template, error) {
	if c != nil {
		if tpl, ok := c.templates[jobType]; ok {
			return tpl, nil
		}
	}
	return Template{}, domain.ConfigurationError("pipeline", fmt.Sprintf("no pipeline template for job type %q", jobType), nil)
}

// JobTypes lists the configured job types in order.
func (c *Catalog) JobTypes() []domain.JobType {
	if c == nil {
		return nil
	}
	out := make([]domain.JobType, 0, len(c.templates))
	for jt := range c.templates {
		out = append(out, jt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
