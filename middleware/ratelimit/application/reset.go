package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// Resetter limpa contadores por padrão ou por identidade.
//
// Não é transacional com decisões concorrentes: uma requisição em voo pode
// recriar o contador logo após o reset.
type Resetter struct {
	Store  domain.CounterStore
	Prefix string
}

func (r Resetter) prefix() string {
	if r.Prefix == "" {
		return DefaultKeyPrefix
	}
	return r.Prefix
}

// ResetPattern remove os contadores cujas chaves casam "{prefix}:{pattern}".
// Sem curinga final, o padrão é uma chave exata: cobre todos os buckets dela
// e das variantes por rota, mas não chaves que só começam igual.
func (r Resetter) ResetPattern(ctx context.Context, pattern string) (int, error) {
	if err := validatePattern(pattern); err != nil {
		return 0, err
	}
	full := r.prefix() + ":" + pattern
	if strings.HasSuffix(full, "*") {
		return r.deleteAll(ctx, "{"+full)
	}
	return r.deleteAll(ctx, keyPatterns(full)...)
}

// keyPatterns casa os contadores da chave base e das variantes com namespace.
// A chave gravada é "{base}:..." (ver counterKey), então '}' fecha a identidade.
func keyPatterns(base string) []string {
	return []string{"{" + base + "}:*", "{" + base + ":*}:*"}
}

// ResetIdentity limpa tudo que pertence a uma identidade: scope "user", "ip" ou "all".
func (r Resetter) ResetIdentity(ctx context.Context, scope, id string) (int, error) {
	p := r.prefix()

	var patterns []string
	switch scope {
	case "all":
		patterns = []string{"{" + p + ":*"}
	case string(domain.ScopeUser), string(domain.ScopeIP):
		id = strings.TrimSpace(id)
		if id == "" {
			return 0, &domain.ValidationError{Field: "identifier", Reason: "required"}
		}
		if len(id) > MaxKeyLength {
			return 0, &domain.ValidationError{Field: "identifier", Reason: "too long"}
		}
		id = segment(id)
		// identificadores não têm ':', então "*:{id}" casa só o segmento do usuário
		combined := p + ":" + string(domain.ScopeIPUser) + ":"
		if scope == string(domain.ScopeUser) {
			patterns = append(keyPatterns(p+":user:"+id), keyPatterns(combined+"*:"+id)...)
		} else {
			patterns = append(keyPatterns(p+":ip:"+id), "{"+combined+id+":*")
		}
	default:
		return 0, &domain.ValidationError{Field: "scope", Reason: fmt.Sprintf("unsupported scope %q", scope)}
	}
	return r.deleteAll(ctx, patterns...)
}

func (r Resetter) deleteAll(ctx context.Context, patterns ...string) (int, error) {
	if r.Store == nil {
		return 0, errors.New("reset: no counter store configured")
	}
	total := 0
	for _, pat := range patterns {
		n, err := r.Store.DeleteMatching(ctx, pat)
		if err != nil {
			return total, fmt.Errorf("reset %q: %w", pat, err)
		}
		total += n
	}
	return total, nil
}

func validatePattern(p string) error {
	switch {
	case p == "":
		return &domain.ValidationError{Field: "pattern", Reason: "required"}
	case len(p) > MaxKeyLength:
		return &domain.ValidationError{Field: "pattern", Reason: "too long"}
	}
	for i := 0; i < len(p); i++ {
		if c := p[i]; !keyByte(c) && c != '*' && c != '?' {
			return &domain.ValidationError{Field: "pattern", Reason: fmt.Sprintf("invalid character %q", c)}
		}
	}
	return nil
}
