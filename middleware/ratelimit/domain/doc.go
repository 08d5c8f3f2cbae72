// Package domain define contratos e tipos de domínio do motor de admissão
// (rate limit por escopo, estratégias de contagem e ajuste por carga).
//
// Este pacote não depende de net/http nem de implementações concretas.
// Todo estado de contagem vive atrás de CounterStore; o restante são valores
// imutáveis (Config, Rule, Result) e enums fechados (Scope, Strategy).
package domain
