package metrics

import (
	"net/http"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the orchestrator's Prometheus surface. Amount gauges are in whole asset units.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	PhasesTotal       *prometheus.CounterVec
	TransactionsTotal *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	CycleNumber       *prometheus.GaugeVec
	QueueLength       *prometheus.GaugeVec
	IdleBalance       *prometheus.GaugeVec
	PoolPrincipal     *prometheus.GaugeVec
	VaultAPY          *prometheus.GaugeVec
	StrandedUnits     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers every collector on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Completed cycles by final status.",
		}, []string{"status"}),
		PhasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "phases_total", Help: "Phase outcomes by phase and status.",
		}, []string{"phase", "status"}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total", Help: "Submitted transactions by phase, method and status.",
		}, []string{"phase", "method", "status"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds", Help: "Wall time of one cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{}),
		CycleNumber: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycle_number", Help: "Last completed global cycle number.",
		}, []string{}),
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length", Help: "Pending requests after the last cycle.",
		}, []string{"queue"}),
		IdleBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "idle_balance", Help: "Idle vault assets at the last snapshot.",
		}, []string{"asset"}),
		PoolPrincipal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_principal", Help: "Recorded principal per pool at the last snapshot.",
		}, []string{"pool", "protocol"}),
		VaultAPY: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vault_apy", Help: "Realized vault APY by trailing window in days.",
		}, []string{"window"}),
		StrandedUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stranded_rebalances", Help: "Rebalance units deferred for lack of idle assets.",
		}, []string{}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Errors by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RunsTotal, m.PhasesTotal, m.TransactionsTotal, m.CycleDuration, m.CycleNumber,
			m.QueueLength, m.IdleBalance, m.PoolPrincipal, m.VaultAPY, m.StrandedUnits, m.ErrorsTotal,
		)
	}
	return m
}

// ObserveRun folds a finished run into the collectors. A nil receiver is a no-op.
func (m *Metrics) ObserveRun(run types.RunResult, asset types.Asset) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
		m.CycleDuration.WithLabelValues().Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	m.CycleNumber.WithLabelValues().Set(float64(run.CycleNumber))

	for name, p := range run.Phases {
		m.PhasesTotal.WithLabelValues(name, string(p.Status)).Inc()
	}
	for _, tx := range run.Transactions {
		m.TransactionsTotal.WithLabelValues(tx.Phase, tx.Method, string(tx.Status)).Inc()
	}

	m.QueueLength.WithLabelValues("deposit").Set(float64(run.QueueAfter.Deposit))
	m.QueueLength.WithLabelValues("withdrawal").Set(float64(run.QueueAfter.Withdrawal))

	if run.Yield != nil && !run.Yield.IdleBalance.IsNil() {
		idle, err := utils.SDKIntToFloat64(run.Yield.IdleBalance, int(asset.Decimals))
		if err == nil {
			m.IdleBalance.WithLabelValues(asset.Symbol).Set(idle)
		}
	}
	for _, pos := range run.PoolSnapshots {
		v, err := utils.SDKIntToFloat64(pos.Principal, int(asset.Decimals))
		if err != nil {
			continue
		}
		m.PoolPrincipal.WithLabelValues(pos.Pool.Address.Hex(), pos.Pool.Protocol).Set(v)
	}
	for _, w := range run.APY {
		if w.Unavailable != "" {
			continue
		}
		m.VaultAPY.WithLabelValues(windowLabel(w.WindowDays)).Set(w.APY)
	}
}

// ObserveError counts an error by kind.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// SetStranded reports how many stranded units were deferred in the last settle pass.
func (m *Metrics) SetStranded(n int) {
	if m == nil {
		return
	}
	m.StrandedUnits.WithLabelValues().Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{Timeout: 10 * time.Second})
}

func windowLabel(days float64) string {
	switch days {
	case 1:
		return "1d"
	case 7:
		return "7d"
	}
	return time.Duration(days * float64(24*time.Hour)).String()
}
