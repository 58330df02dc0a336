package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
)

// Catalog sources, reported in logs and by "rules validate".
const (
	sourceConfig     = "config"
	sourceRepository = "repository"
	sourceBuiltin    = "builtin"
)

// resolveCatalog compiles the first non-empty rule source: the config file,
// the repository, then the built-in catalog, which is seeded into the
// repository so later edits have rows to update. repo may be nil.
func resolveCatalog(ctx context.Context, cfg *domain.Config, repo domain.Repository) (*kpi.Catalog, string, error) {
	defs, source, err := catalogDefinitions(ctx, cfg, repo)
	if err != nil {
		return nil, "", err
	}

	catalog, err := kpi.NewCatalog(defs, kpi.WithFields(cfg.Evaluator.ExtraFields...))
	if err != nil {
		return nil, source, fmt.Errorf("%s catalog: %w", source, err)
	}

	if source == sourceBuiltin && repo != nil {
		for _, def := range defs {
			if err := repo.SaveRuleDefinition(ctx, def); err != nil {
				return nil, source, fmt.Errorf("failed to seed rule %s: %w", def.Name, err)
			}
		}
		slog.Info("seeded built-in rules", "count", len(defs))
	}

	return catalog, source, nil
}

func catalogDefinitions(ctx context.Context, cfg *domain.Config, repo domain.Repository) ([]*domain.RuleDefinition, string, error) {
	if len(cfg.Rules) > 0 {
		return cfg.Rules, sourceConfig, nil
	}

	if repo != nil {
		defs, err := repo.ListRuleDefinitions(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list stored rules: %w", err)
		}
		if len(defs) > 0 {
			return defs, sourceRepository, nil
		}
	}

	return kpi.DefaultCatalog(), sourceBuiltin, nil
}
