package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore expõe as decisões como métricas.
//
// Rótulos limitados a outcome/scope/strategy: chave e caminho ficam de fora
// para não explodir a cardinalidade.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer, namespace string) *PrometheusStatsStore {
	return &PrometheusStatsStore{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of admission decisions by outcome",
			},
			[]string{"outcome", "scope", "strategy"},
		),
	}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.decisions.WithLabelValues(ev.Outcome(), string(ev.Scope), string(ev.Strategy)).Inc()
	return nil
}

// Decisions dá acesso ao vetor (ex: testes com prometheus/testutil).
func (s *PrometheusStatsStore) Decisions() *prometheus.CounterVec { return s.decisions }

// MultiStatsStore repassa o evento para vários stores e retorna o primeiro erro.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
