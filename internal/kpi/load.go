package kpi

import (
	"fmt"
	"io"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Rules []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Category    string `yaml:"category"`
		Expression  string `yaml:"expression"`
		Enabled     *bool  `yaml:"enabled"`
	} `yaml:"rules"`
}

// LoadDefinitions reads rule definitions from a YAML document of the form
//
//	rules:
//	  - name: Nbr_WCL_DLPRB
//	    expression: DLPRBUtilization > 70.0
//
// Rules without an explicit enabled flag are enabled.
// The definitions are not compiled; pass them to NewCatalog.
func LoadDefinitions(r io.Reader) ([]*domain.RuleDefinition, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("failed to parse rule catalog: %w", err)
	}

	defs := make([]*domain.RuleDefinition, 0, len(f.Rules))
	for _, r := range f.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		defs = append(defs, &domain.RuleDefinition{
			Name:        r.Name,
			Description: r.Description,
			Category:    r.Category,
			Expression:  r.Expression,
			Enabled:     enabled,
		})
	}
	return defs, nil
}

// MarshalDefinitions writes definitions in the format LoadDefinitions reads.
func MarshalDefinitions(w io.Writer, defs []*domain.RuleDefinition) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]any{"rules": defs})
}
