package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"math"
	"strings"
	"time"
)

type Key string

// Scope é a dimensão de identidade usada para derivar a chave de contagem.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeGlobal   Scope = "global"
	ScopeEndpoint Scope = "endpoint"
	ScopeIPUser   Scope = "ip-user-combined"
)

var scopes = map[string]Scope{
	string(ScopeIP):       ScopeIP,
	string(ScopeUser):     ScopeUser,
	string(ScopeGlobal):   ScopeGlobal,
	string(ScopeEndpoint): ScopeEndpoint,
	string(ScopeIPUser):   ScopeIPUser,
}

// ParseScope converte o nome configurado em Scope.
// Nome desconhecido é erro de configuração (fatal na inicialização).
func ParseScope(name string) (Scope, error) {
	if s, ok := scopes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return "", &ConfigError{Field: "scope", Value: name}
}

func (s Scope) Valid() bool {
	_, ok := scopes[string(s)]
	return ok
}

// Strategy é o algoritmo de contagem.
type Strategy string

const (
	FixedWindow   Strategy = "fixed-window"
	SlidingWindow Strategy = "sliding-window"
	LeakyBucket   Strategy = "leaky-bucket"
)

var strategies = map[string]Strategy{
	string(FixedWindow):   FixedWindow,
	string(SlidingWindow): SlidingWindow,
	string(LeakyBucket):   LeakyBucket,
}

// Strategies lista as estratégias suportadas, em ordem estável.
func Strategies() []Strategy {
	return []Strategy{FixedWindow, SlidingWindow, LeakyBucket}
}

func ParseStrategy(name string) (Strategy, error) {
	if s, ok := strategies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return "", &ConfigError{Field: "strategy", Value: name}
}

func (s Strategy) Valid() bool {
	_, ok := strategies[string(s)]
	return ok
}

const (
	DefaultStatusCode = 429
	DefaultMessage    = "Too many requests, please try again later."
)

// Request é o descritor da requisição visto pelo motor.
//
// Os campos já chegam resolvidos pela camada HTTP (IP real, usuário autenticado etc.).
type Request struct {
	Method     string
	Path       string
	IP         string
	UserID     string
	Role       string
	Credential string
	RequestID  string
}

// SkipPredicate decide se a requisição deve ignorar o rate limit.
type SkipPredicate interface {
	Skip(Request) bool
}

type SkipFunc func(Request) bool

func (f SkipFunc) Skip(r Request) bool { return f(r) }

// LimitObserver é notificado quando uma requisição é rejeitada.
type LimitObserver interface {
	LimitReached(Request, Result)
}

type ObserverFunc func(Request, Result)

func (f ObserverFunc) LimitReached(r Request, res Result) { f(r, res) }

// Config é a configuração de um limite (janela, máximo e resposta de rejeição).
type Config struct {
	Window                 time.Duration
	Max                    int
	Message                string
	StatusCode             int
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
	Skip                   SkipPredicate
	OnLimitReached         LimitObserver
}

// WithDefaults preenche mensagem e status de rejeição quando ausentes.
func (c Config) WithDefaults() Config {
	if c.StatusCode == 0 {
		c.StatusCode = DefaultStatusCode
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	return c
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return &ConfigError{Field: "windowMs", Value: c.Window.String(), Reason: "must be > 0"}
	}
	if c.Max < 1 {
		return &ConfigError{Field: "max", Value: itoa(c.Max), Reason: "must be >= 1"}
	}
	if c.StatusCode != 0 && (c.StatusCode < 400 || c.StatusCode > 599) {
		return &ConfigError{Field: "statusCode", Value: itoa(c.StatusCode), Reason: "must be 4xx or 5xx"}
	}
	return nil
}

// Rule é a tupla (escopo, estratégia, configuração) avaliada pelo compositor.
type Rule struct {
	Scope    Scope
	Strategy Strategy
	Config   Config
}

func (r Rule) Validate() error {
	if !r.Scope.Valid() {
		return &ConfigError{Field: "scope", Value: string(r.Scope)}
	}
	if !r.Strategy.Valid() {
		return &ConfigError{Field: "strategy", Value: string(r.Strategy)}
	}
	return r.Config.Validate()
}

// MethodAll é o curinga de método de rota.
const MethodAll = "ALL"

// RouteConfig associa (método, caminho) a uma regra específica.
// Methods vazio, "ALL" ou "*" casam qualquer método.
type RouteConfig struct {
	Rule
	Path    string
	Methods []string
}

// Result é o veredito de admissão de uma requisição.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	Reset     time.Time
	// RetryAfter é zero quando não há recomendação.
	RetryAfter time.Duration

	// Bypassed indica curto-circuito pela política de bypass.
	Bypassed     bool
	BypassReason string
	// Degraded indica sucesso sintético por falha do store (fail-open).
	Degraded bool

	Scope    Scope
	Strategy Strategy
	Key      string
}

// RetryAfterSeconds arredonda RetryAfter para cima, em segundos.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}
