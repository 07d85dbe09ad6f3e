package routing

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cdc-router/internal/config"
)

// Resolver derives the destination collection from a source table name.
// Implementations must be total and pure: the same table always resolves to
// the same target, whatever the operation.
type Resolver interface {
	Resolve(table string) string
}

// DefaultResolver maps a table to its lower-cased name
type DefaultResolver struct{}

// Resolve implements Resolver
func (DefaultResolver) Resolve(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}

// New builds the resolver described by the routing configuration: a goja
// script when one is configured, otherwise table rules over the default
// mapping.
func New(cfg config.RoutingConfig, logger *logrus.Logger) (Resolver, error) {
	if cfg.Script != "" {
		resolver, err := NewScriptResolverFromFile(cfg.Script, cfg.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing script: %w", err)
		}
		logger.Infof("Loaded routing script: %s", cfg.Script)
		return resolver, nil
	}

	if len(cfg.Rules) > 0 || cfg.Prefix != "" {
		return NewRuleResolver(cfg.Rules, cfg.Prefix), nil
	}
	return DefaultResolver{}, nil
}
