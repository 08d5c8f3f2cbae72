package application

import (
	"sort"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// Route é uma entrada da tabela de rotas com o limiter já montado.
type Route struct {
	Config  domain.RouteConfig
	Limiter Limiter
}

// RouteTable resolve (método, caminho) para uma rota específica.
//
// É montada uma vez e só lida depois: Lookup faz no máximo dois acessos ao mapa.
type RouteTable struct {
	routes map[string]*Route
	list   []domain.RouteConfig
}

// NewRouteTable valida as rotas e monta os limiters via build, cada rota com
// contadores próprios. Chave (método, caminho) duplicada é erro de configuração.
func NewRouteTable(configs []domain.RouteConfig, build func(namespace string, rule domain.Rule) (Limiter, error)) (*RouteTable, error) {
	t := &RouteTable{routes: make(map[string]*Route, len(configs))}

	for _, rc := range configs {
		if rc.Path == "" || !strings.HasPrefix(rc.Path, "/") {
			return nil, &domain.ConfigError{Field: "route.path", Value: rc.Path, Reason: "must start with /"}
		}
		methods := normalizeMethods(rc.Methods)
		lim, err := build("route:"+strings.Join(methods, ".")+":"+rc.Path, rc.Rule)
		if err != nil {
			return nil, err
		}

		rc.Methods = methods
		route := &Route{Config: rc, Limiter: lim}
		for _, m := range methods {
			k := routeKey(m, rc.Path)
			if _, dup := t.routes[k]; dup {
				return nil, &domain.ConfigError{Field: "route", Value: k, Reason: "duplicate route"}
			}
			t.routes[k] = route
		}
		t.list = append(t.list, rc)
	}

	sort.Slice(t.list, func(i, j int) bool {
		if t.list[i].Path != t.list[j].Path {
			return t.list[i].Path < t.list[j].Path
		}
		return strings.Join(t.list[i].Methods, ",") < strings.Join(t.list[j].Methods, ",")
	})
	return t, nil
}

// Lookup tenta "{METHOD}:{path}" e depois "ALL:{path}".
func (t *RouteTable) Lookup(method, path string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	if r, ok := t.routes[routeKey(strings.ToUpper(method), path)]; ok {
		return r, true
	}
	r, ok := t.routes[routeKey(domain.MethodAll, path)]
	return r, ok
}

func (t *RouteTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.list)
}

// Routes lista as rotas configuradas, ordenadas por caminho.
func (t *RouteTable) Routes() []domain.RouteConfig {
	if t == nil {
		return nil
	}
	return append([]domain.RouteConfig(nil), t.list...)
}

func routeKey(method, path string) string { return method + ":" + path }

func normalizeMethods(methods []string) []string {
	if len(methods) == 0 {
		return []string{domain.MethodAll}
	}
	out := make([]string, 0, len(methods))
	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || m == "*" {
			m = domain.MethodAll
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
