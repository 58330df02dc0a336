// Package kpi provides the CEL-Go based KPI rule catalog and evaluator.
package kpi

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/kestrel-noc/kestrel/internal/domain"
)

var (
	ErrEmptyCatalog      = errors.New("rule catalog is empty")
	ErrDuplicateRule     = errors.New("duplicate rule name")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidMembership = errors.New("invalid membership list")
)

// Catalog is a validated, compiled set of KPI rules.
// It is immutable once built and safe for concurrent use.
type Catalog struct {
	rules  []*CompiledRule
	fields map[string]struct{}
}

// CompiledRule holds a pre-compiled CEL program and the metrics it reads.
type CompiledRule struct {
	Definition *domain.RuleDefinition
	Program    cel.Program

	// Fields referenced by the expression, sorted
	Fields []string
}

type catalogOptions struct {
	fields []string
}

// CatalogOption customizes NewCatalog.
type CatalogOption func(*catalogOptions)

// WithFields declares metric names on top of domain.CanonicalFields.
func WithFields(names ...string) CatalogOption {
	return func(o *catalogOptions) {
		o.fields = append(o.fields, names...)
	}
}

// NewCatalog compiles and validates rule definitions.
// Disabled definitions are validated like the others but left out of the
// catalog. Any invalid definition fails the whole catalog.
func NewCatalog(defs []*domain.RuleDefinition, opts ...CatalogOption) (*Catalog, error) {
	o := &catalogOptions{fields: domain.CanonicalFields()}
	for _, opt := range opts {
		opt(o)
	}

	fields := make(map[string]struct{}, len(o.fields))
	envOpts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, name := range o.fields {
		if _, seen := fields[name]; seen {
			continue
		}
		fields[name] = struct{}{}
		envOpts = append(envOpts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Catalog{fields: fields}
	names := make(map[string]struct{}, len(defs))

	for _, def := range defs {
		if def == nil {
			continue
		}
		if def.Name == "" {
			return nil, fmt.Errorf("%w: rule name is required", ErrInvalidRule)
		}
		if _, dup := names[def.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, def.Name)
		}
		names[def.Name] = struct{}{}

		compiled, err := compileRule(env, def, fields)
		if err != nil {
			return nil, err
		}
		if def.Enabled {
			c.rules = append(c.rules, compiled)
		}
	}

	if len(c.rules) == 0 {
		return nil, ErrEmptyCatalog
	}

	return c, nil
}

func compileRule(env *cel.Env, def *domain.RuleDefinition, fields map[string]struct{}) (*CompiledRule, error) {
	parsed, issues := env.Parse(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidRule, def.Name, issues.Err())
	}
	promoteMembership(parsed.NativeRep().Expr())

	checked, issues := env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidRule, def.Name, issues.Err())
	}

	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w %s: expression must return bool, got %s", ErrInvalidRule, def.Name, checked.OutputType())
	}

	refs := make(map[string]struct{})
	if err := inspect(checked.NativeRep().Expr(), fields, refs); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidRule, def.Name, err)
	}

	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.Name, err)
	}

	referenced := make([]string, 0, len(refs))
	for name := range refs {
		referenced = append(referenced, name)
	}
	sort.Strings(referenced)

	return &CompiledRule{
		Definition: def,
		Program:    program,
		Fields:     referenced,
	}, nil
}

// inspect walks the checked expression, collecting referenced metrics and
// rejecting membership lists that are empty or hold non-numeric literals.
func inspect(e ast.Expr, fields map[string]struct{}, refs map[string]struct{}) error {
	switch e.Kind() {
	case ast.IdentKind:
		if _, ok := fields[e.AsIdent()]; ok {
			refs[e.AsIdent()] = struct{}{}
		}
	case ast.CallKind:
		call := e.AsCall()
		if call.FunctionName() == operators.In && len(call.Args()) == 2 {
			if err := checkMembership(call.Args()[1]); err != nil {
				return err
			}
		}
		if call.IsMemberFunction() {
			if err := inspect(call.Target(), fields, refs); err != nil {
				return err
			}
		}
		for _, arg := range call.Args() {
			if err := inspect(arg, fields, refs); err != nil {
				return err
			}
		}
	case ast.ListKind:
		for _, el := range e.AsList().Elements() {
			if err := inspect(el, fields, refs); err != nil {
				return err
			}
		}
	case ast.SelectKind:
		return inspect(e.AsSelect().Operand(), fields, refs)
	case ast.ComprehensionKind:
		return fmt.Errorf("comprehensions are not supported")
	}
	return nil
}

// promoteMembership rewrites integer literals in membership lists as doubles
// so "earfcndl in [200, 1650]" type-checks against double fields.
func promoteMembership(e ast.Expr) {
	switch e.Kind() {
	case ast.CallKind:
		call := e.AsCall()
		if call.FunctionName() == operators.In && len(call.Args()) == 2 && call.Args()[1].Kind() == ast.ListKind {
			fac := ast.NewExprFactory()
			for _, el := range call.Args()[1].AsList().Elements() {
				if el.Kind() != ast.LiteralKind {
					continue
				}
				switch v := el.AsLiteral().(type) {
				case types.Int:
					el.SetKindCase(fac.NewLiteral(el.ID(), types.Double(float64(v))))
				case types.Uint:
					el.SetKindCase(fac.NewLiteral(el.ID(), types.Double(float64(v))))
				}
			}
		}
		if call.IsMemberFunction() {
			promoteMembership(call.Target())
		}
		for _, arg := range call.Args() {
			promoteMembership(arg)
		}
	case ast.ListKind:
		for _, el := range e.AsList().Elements() {
			promoteMembership(el)
		}
	case ast.SelectKind:
		promoteMembership(e.AsSelect().Operand())
	}
}

func checkMembership(e ast.Expr) error {
	if e.Kind() != ast.ListKind {
		return fmt.Errorf("%w: right-hand side must be a literal list", ErrInvalidMembership)
	}
	elems := e.AsList().Elements()
	if len(elems) == 0 {
		return fmt.Errorf("%w: list is empty", ErrInvalidMembership)
	}
	for _, el := range elems {
		if el.Kind() != ast.LiteralKind {
			return fmt.Errorf("%w: list elements must be numeric literals", ErrInvalidMembership)
		}
		switch el.AsLiteral().(type) {
		case types.Double:
		default:
			return fmt.Errorf("%w: %v is not numeric", ErrInvalidMembership, el.AsLiteral().Value())
		}
	}
	return nil
}

// Rules returns the compiled rules in catalog order.
func (c *Catalog) Rules() []*CompiledRule {
	out := make([]*CompiledRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Definitions returns the rule definitions in catalog order.
func (c *Catalog) Definitions() []*domain.RuleDefinition {
	out := make([]*domain.RuleDefinition, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Definition
	}
	return out
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Names returns rule names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Definition.Name
	}
	return names
}

// Lookup returns the compiled rule with the given name.
func (c *Catalog) Lookup(name string) (*CompiledRule, bool) {
	for _, r := range c.rules {
		if r.Definition.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Fields returns the metrics referenced by the named rule.
func (c *Catalog) Fields(name string) []string {
	r, ok := c.Lookup(name)
	if !ok {
		return nil
	}
	out := make([]string, len(r.Fields))
	copy(out, r.Fields)
	return out
}

// Declared returns every metric name rules may reference, sorted.
func (c *Catalog) Declared() []string {
	out := make([]string, 0, len(c.fields))
	for name := range c.fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
