// Package catalog supplies the canonical self-hosted model definitions.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

//go:embed definitions.yaml
var definitionsYAML []byte

//go:embed schema.json
var schemaJSON []byte

// Source is the canonical definition set of one catalog release, loaded once
// per process and read-only afterwards.
type Source struct {
	release *version.Version
	defs    []registry.ModelDefinition
	byID    map[string]registry.ModelDefinition
}

type document struct {
	Release string                     `json:"release"`
	Models  []registry.ModelDefinition `json:"models"`
}

// Load parses and validates the definitions shipped with the binary.
func Load() (*Source, error) {
	return parse(definitionsYAML)
}

// LoadFile reads an operator-supplied definition set instead of the embedded
// one.
func LoadFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Source, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	schemaResult, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !schemaResult.Valid() {
		msgs := make([]string, 0, len(schemaResult.Errors()))
		for _, e := range schemaResult.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	release, err := version.NewVersion(doc.Release)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog release %q: %w", doc.Release, err)
	}

	src := &Source{
		release: release,
		defs:    doc.Models,
		byID:    make(map[string]registry.ModelDefinition, len(doc.Models)),
	}
	for _, def := range doc.Models {
		if _, dup := src.byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate model definition: %s", def.ID)
		}
		src.byID[def.ID] = def
	}
	sort.Slice(src.defs, func(i, j int) bool { return src.defs[i].ID < src.defs[j].ID })
	return src, nil
}

// Definitions returns the canonical set in stable id order.
func (s *Source) Definitions() []registry.ModelDefinition {
	out := make([]registry.ModelDefinition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Get returns one definition by model id.
func (s *Source) Get(id string) (registry.ModelDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// Count returns the number of definitions in the release.
func (s *Source) Count() int {
	return len(s.defs)
}

// Release returns the normalized catalog release version.
func (s *Source) Release() string {
	return s.release.String()
}

// OlderThan reports whether this release predates other. Used to warn when
// an operator override rolls the catalog backwards.
func (s *Source) OlderThan(other *Source) bool {
	if s == nil || other == nil {
		return false
	}
	return s.release.LessThan(other.release)
}
