package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Formato do arquivo de regras:
//
//	global:
//	  - scope: ip
//	    strategy: sliding-window
//	    windowMs: 60000
//	    max: 100
//	routes:
//	  - path: /login
//	    methods: [POST]
//	    scope: ip
//	    strategy: fixed-window
//	    windowMs: 900000
//	    max: 5
//	    skipSuccessfulRequests: true

type ruleEntry struct {
	Scope                  string `yaml:"scope" validate:"required,oneof=ip user global endpoint ip-user-combined"`
	Strategy               string `yaml:"strategy" validate:"required,oneof=fixed-window sliding-window leaky-bucket"`
	WindowMs               int64  `yaml:"windowMs" validate:"required,gt=0"`
	Max                    int    `yaml:"max" validate:"required,gte=1"`
	Message                string `yaml:"message"`
	StatusCode             int    `yaml:"statusCode" validate:"omitempty,gte=400,lte=599"`
	SkipSuccessfulRequests bool   `yaml:"skipSuccessfulRequests"`
	SkipFailedRequests     bool   `yaml:"skipFailedRequests"`
}

type routeEntry struct {
	Path    string    `yaml:"path" validate:"required,startswith=/"`
	Methods []string  `yaml:"methods" validate:"omitempty,dive,required,alpha|eq=*"`
	Rule    ruleEntry `yaml:",inline"`
}

type rulesFile struct {
	Global []ruleEntry  `yaml:"global" validate:"omitempty,dive"`
	Routes []routeEntry `yaml:"routes" validate:"omitempty,dive"`
}

// Rules é o conteúdo do arquivo de regras já convertido para o domínio.
type Rules struct {
	Global []domain.Rule
	Routes []domain.RouteConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

func ParseRules(data []byte) (Rules, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Rules{}, fmt.Errorf("parse: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return Rules{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	var out Rules
	for _, g := range f.Global {
		r, err := g.toRule()
		if err != nil {
			return Rules{}, err
		}
		out.Global = append(out.Global, r)
	}
	for _, rs := range f.Routes {
		r, err := rs.Rule.toRule()
		if err != nil {
			return Rules{}, err
		}
		out.Routes = append(out.Routes, domain.RouteConfig{Rule: r, Path: rs.Path, Methods: rs.Methods})
	}
	return out, nil
}

func (s ruleEntry) toRule() (domain.Rule, error) {
	scope, err := domain.ParseScope(s.Scope)
	if err != nil {
		return domain.Rule{}, err
	}
	strategy, err := domain.ParseStrategy(s.Strategy)
	if err != nil {
		return domain.Rule{}, err
	}
	return domain.Rule{
		Scope:    scope,
		Strategy: strategy,
		Config: domain.Config{
			Window:                 time.Duration(s.WindowMs) * time.Millisecond,
			Max:                    s.Max,
			Message:                s.Message,
			StatusCode:             s.StatusCode,
			SkipSuccessfulRequests: s.SkipSuccessfulRequests,
			SkipFailedRequests:     s.SkipFailedRequests,
		},
	}, nil
}
