package routing

import (
	"strings"

	"cdc-router/internal/config"
)

// RuleResolver applies explicit table to collection overrides and an
// optional collection prefix on top of the default mapping
type RuleResolver struct {
	prefix    string
	overrides map[string]string
	fallback  Resolver
}

// NewRuleResolver creates a resolver from routing rules. Table names are
// matched case-insensitively; rules without a table are ignored.
func NewRuleResolver(rules []config.RouteRule, prefix string) *RuleResolver {
	overrides := make(map[string]string, len(rules))
	for _, rule := range rules {
		table := strings.ToLower(strings.TrimSpace(rule.Table))
		if table == "" || rule.Collection == "" {
			continue
		}
		overrides[table] = rule.Collection
	}

	return &RuleResolver{
		prefix:    prefix,
		overrides: overrides,
		fallback:  DefaultResolver{},
	}
}

// Resolve implements Resolver
func (r *RuleResolver) Resolve(table string) string {
	if target, ok := r.overrides[strings.ToLower(strings.TrimSpace(table))]; ok {
		return r.prefix + target
	}
	return r.prefix + r.fallback.Resolve(table)
}
