package domain

import (
	"errors"
	"strconv"
)

var (
	// ErrConfiguration agrupa erros de configuração (nome de estratégia/escopo
	// desconhecido, limites inválidos). Só ocorre na inicialização.
	ErrConfiguration = errors.New("rate limit configuration error")

	// ErrStoreUnavailable indica falha ou timeout no store de contadores.
	// Nunca chega ao cliente: o motor falha aberto.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrValidation indica entrada administrativa malformada (HTTP 400).
	ErrValidation = errors.New("validation error")
)

type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	msg := "invalid " + e.Field + " " + strconv.Quote(e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func itoa(v int) string { return strconv.Itoa(v) }
