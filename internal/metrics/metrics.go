// Метрики Prometheus, обновляемые движком во время работы:
//   - bfte_signals_total{symbol,direction,strategy} — эмитированные сигналы
//   - bfte_admissions_total{result}                 — решения контроля допуска
//   - bfte_executions_total{outcome}                — попытки исполнения по исходу
//   - bfte_equity_usdt                              — текущий баланс счета
//   - bfte_open_positions                           — число открытых позиций
//
// Регистрируются в init() и отдаются HTTP-хендлером /metrics из cmd.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfte_signals_total",
			Help: "Эмитированные входные сигналы",
		},
		[]string{"symbol", "direction", "strategy"},
	)

	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfte_admissions_total",
			Help: "Решения контроля допуска",
		},
		[]string{"result"},
	)

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfte_executions_total",
			Help: "Попытки исполнения по терминальному исходу",
		},
		[]string{"outcome"},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bfte_equity_usdt",
			Help: "Баланс фьючерсного счета в USDT",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bfte_open_positions",
			Help: "Число открытых позиций",
		},
	)
)

func init() {
	prometheus.MustRegister(signals, admissions, executions, equity, openPositions)
}

// SignalEmitted учитывает эмитированный сигнал
func SignalEmitted(symbol, direction, strategy string) {
	signals.WithLabelValues(symbol, direction, strategy).Inc()
}

// Admission учитывает решение контроля допуска
func Admission(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	admissions.WithLabelValues(result).Inc()
}

// Execution учитывает терминальный исход попытки исполнения
func Execution(outcome string) {
	executions.WithLabelValues(outcome).Inc()
}

// SetEquity обновляет баланс счета
func SetEquity(v float64) {
	equity.Set(v)
}

// SetOpenPositions обновляет число открытых позиций
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}
