package routing

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cdc-router/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDefaultResolver(t *testing.T) {
	var r DefaultResolver
	require.Equal(t, "products", r.Resolve("products"))
	require.Equal(t, "products", r.Resolve("PRODUCTS"))
	require.Equal(t, "order_lines", r.Resolve(" Order_Lines "))
}

func TestResolversArePure(t *testing.T) {
	script, err := NewScriptResolver("route.js", `(function(table) { return "t_" + table.toLowerCase(); })`, "", testLogger())
	require.NoError(t, err)

	resolvers := map[string]Resolver{
		"default": DefaultResolver{},
		"rules":   NewRuleResolver([]config.RouteRule{{Table: "Products", Collection: "catalog"}}, "app_"),
		"script":  script,
	}

	for name, r := range resolvers {
		t.Run(name, func(t *testing.T) {
			for _, table := range []string{"products", "CUSTOMERS", "order_lines"} {
				first := r.Resolve(table)
				require.NotEmpty(t, first)
				for i := 0; i < 5; i++ {
					require.Equal(t, first, r.Resolve(table))
				}
			}
		})
	}
}

func TestRuleResolver(t *testing.T) {
	r := NewRuleResolver([]config.RouteRule{
		{Table: "PRODUCTS", Collection: "catalog"},
		{Table: "", Collection: "ignored"},
	}, "")

	require.Equal(t, "catalog", r.Resolve("products"))
	require.Equal(t, "catalog", r.Resolve("Products"))
	require.Equal(t, "customers", r.Resolve("CUSTOMERS"))

	prefixed := NewRuleResolver(nil, "crm_")
	require.Equal(t, "crm_customers", prefixed.Resolve("Customers"))
}

func TestScriptResolverNamedFunction(t *testing.T) {
	src := `
function route(table) {
	if (table === "LEGACY_ITEMS") {
		return "products";
	}
	return table.toLowerCase();
}`
	r, err := NewScriptResolver("route.js", src, "", testLogger())
	require.NoError(t, err)

	require.Equal(t, "products", r.Resolve("LEGACY_ITEMS"))
	require.Equal(t, "orders", r.Resolve("ORDERS"))
}

func TestScriptResolverFallsBack(t *testing.T) {
	src := `(function(table) {
		if (table === "boom") { throw new Error("no route"); }
		if (table === "empty") { return null; }
		if (table === "number") { return 42; }
		return table;
	})`
	r, err := NewScriptResolver("route.js", src, "x_", testLogger())
	require.NoError(t, err)

	require.Equal(t, "x_BOOM", r.Resolve("BOOM"))
	require.Equal(t, "x_boom", r.Resolve("boom"))
	require.Equal(t, "x_empty", r.Resolve("empty"))
	require.Equal(t, "x_number", r.Resolve("number"))
}

func TestScriptResolverHasNoSharedState(t *testing.T) {
	src := `
var calls = 0;
function route(table) {
	calls++;
	return table + "_" + calls;
}`
	r, err := NewScriptResolver("route.js", src, "", testLogger())
	require.NoError(t, err)

	require.Equal(t, "products_1", r.Resolve("products"))
	require.Equal(t, "products_1", r.Resolve("products"))
}

func TestScriptResolverInvalid(t *testing.T) {
	_, err := NewScriptResolver("route.js", `var x = 1;`, "", testLogger())
	require.ErrorIs(t, err, errNoRouteFunction)

	_, err = NewScriptResolver("route.js", `function (`, "", testLogger())
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	logger := testLogger()

	r, err := New(config.RoutingConfig{}, logger)
	require.NoError(t, err)
	require.IsType(t, DefaultResolver{}, r)

	r, err = New(config.RoutingConfig{Rules: []config.RouteRule{{Table: "a", Collection: "b"}}}, logger)
	require.NoError(t, err)
	require.Equal(t, "b", r.Resolve("A"))

	path := filepath.Join(t.TempDir(), "route.js")
	require.NoError(t, os.WriteFile(path, []byte(`(function(t) { return "all"; })`), 0o644))
	r, err = New(config.RoutingConfig{Script: path}, logger)
	require.NoError(t, err)
	require.Equal(t, "all", r.Resolve("anything"))

	_, err = New(config.RoutingConfig{Script: filepath.Join(t.TempDir(), "missing.js")}, logger)
	require.Error(t, err)
}
