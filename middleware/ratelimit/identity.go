package ratelimit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity é o usuário autenticado (resolvido por uma camada anterior ou pelo token).
type Identity struct {
	UserID string
	Role   string
}

// IdentityResolver extrai a identidade da requisição.
// Não autentica: token inválido apenas resulta em identidade anônima.
type IdentityResolver interface {
	Resolve(r *http.Request) Identity
}

type IdentityFunc func(*http.Request) Identity

func (f IdentityFunc) Resolve(r *http.Request) Identity { return f(r) }

// HeaderIdentity lê usuário e papel de headers definidos por um proxy confiável.
type HeaderIdentity struct {
	UserHeader string
	RoleHeader string
}

func (h HeaderIdentity) Resolve(r *http.Request) Identity {
	var id Identity
	if h.UserHeader != "" {
		id.UserID = strings.TrimSpace(r.Header.Get(h.UserHeader))
	}
	if h.RoleHeader != "" {
		id.Role = strings.TrimSpace(r.Header.Get(h.RoleHeader))
	}
	return id
}

// JWTIdentity valida um Bearer token HMAC e usa os claims sub e role.
type JWTIdentity struct {
	secret    []byte
	roleClaim string
	parser    *jwt.Parser
}

type JWTOption func(*JWTIdentity)

func WithRoleClaim(name string) JWTOption {
	return func(j *JWTIdentity) { j.roleClaim = name }
}

func NewJWTIdentity(secret string, opts ...JWTOption) *JWTIdentity {
	j := &JWTIdentity{
		secret:    []byte(secret),
		roleClaim: "role",
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JWTIdentity) Resolve(r *http.Request) Identity {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return Identity{}
	}

	claims := jwt.MapClaims{}
	token, err := j.parser.ParseWithClaims(strings.TrimSpace(raw), claims, j.key)
	if err != nil || !token.Valid {
		return Identity{}
	}

	sub, _ := claims.GetSubject()
	role, _ := claims[j.roleClaim].(string)
	return Identity{UserID: sub, Role: role}
}

func (j *JWTIdentity) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return j.secret, nil
}

// ChainIdentity usa o primeiro resolver que encontrar um usuário.
type ChainIdentity []IdentityResolver

func (c ChainIdentity) Resolve(r *http.Request) Identity {
	for _, res := range c {
		if res == nil {
			continue
		}
		if id := res.Resolve(r); id.UserID != "" {
			return id
		}
	}
	return Identity{}
}
