package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	runtimeMetricsOnce sync.Once
	runtimeRegistry    *RuntimeMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity per route group.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "optionsvault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RuntimeMetrics tracks the serial operation executor.
type RuntimeMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reverts    *prometheus.CounterVec
	height     prometheus.Gauge
}

// Runtime returns the singleton runtime metrics registry.
func Runtime() *RuntimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &RuntimeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "runtime",
				Name:      "operations_total",
				Help:      "Count of executed operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "optionsvault",
				Subsystem: "runtime",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for executed operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "runtime",
				Name:      "reverts_total",
				Help:      "Count of operations whose writes were rolled back, segmented by reason.",
			}, []string{"operation", "reason"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "optionsvault",
				Subsystem: "runtime",
				Name:      "committed_height",
				Help:      "Number of state commits applied to the database.",
			}),
		}
		prometheus.MustRegister(
			runtimeRegistry.operations,
			runtimeRegistry.latency,
			runtimeRegistry.reverts,
			runtimeRegistry.height,
		)
	})
	return runtimeRegistry
}

// Observe records the execution metrics for an operation.
func (m *RuntimeMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRevert counts a rolled back operation. Reasons should be stable
// strings such as "error" or "panic".
func (m *RuntimeMetrics) RecordRevert(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.reverts.WithLabelValues(operation, reason).Inc()
}

// SetHeight publishes the committed state height.
func (m *RuntimeMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// VaultMetrics exposes vault level gauges refreshed after each commit.
type VaultMetrics struct {
	totalAsset      prometheus.Gauge
	totalSupply     prometheus.Gauge
	pricePerShare   prometheus.Gauge
	pendingDeposit  prometheus.Gauge
	withdrawReserve prometheus.Gauge
	round           prometheus.Gauge
	state           *prometheus.GaugeVec
	fees            *prometheus.CounterVec
	actionLocked    *prometheus.GaugeVec
}

// Vault returns the singleton vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		gauge := func(name, help string) prometheus.Gauge {
			return prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "optionsvault",
				Subsystem: "vault",
				Name:      name,
				Help:      help,
			})
		}
		vaultRegistry = &VaultMetrics{
			totalAsset:      gauge("total_asset", "Vault total asset excluding pending deposits and reserved withdrawals."),
			totalSupply:     gauge("total_supply", "Outstanding vault shares."),
			pricePerShare:   gauge("price_per_share", "Asset per share, unscaled."),
			pendingDeposit:  gauge("pending_deposit", "Deposits registered during the current round."),
			withdrawReserve: gauge("withdraw_queue_amount", "Asset reserved for queued withdrawals."),
			round:           gauge("round", "Current vault round."),
			state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "optionsvault",
				Subsystem: "vault",
				Name:      "state",
				Help:      "Set to 1 for the current vault state.",
			}, []string{"state"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "vault",
				Name:      "fees_total",
				Help:      "Fees paid to the fee recipient segmented by kind.",
			}, []string{"kind"}),
			actionLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "optionsvault",
				Subsystem: "action",
				Name:      "locked_collateral",
				Help:      "Collateral posted with the options protocol per action.",
			}, []string{"action"}),
		}
		prometheus.MustRegister(
			vaultRegistry.totalAsset,
			vaultRegistry.totalSupply,
			vaultRegistry.pricePerShare,
			vaultRegistry.pendingDeposit,
			vaultRegistry.withdrawReserve,
			vaultRegistry.round,
			vaultRegistry.state,
			vaultRegistry.fees,
			vaultRegistry.actionLocked,
		)
	})
	return vaultRegistry
}

// VaultSnapshot is the subset of vault views published as gauges.
type VaultSnapshot struct {
	State           string
	Round           uint64
	TotalAsset      *big.Int
	TotalSupply     *big.Int
	PendingDeposit  *big.Int
	WithdrawReserve *big.Int
}

var vaultStates = []string{"unlocked", "locked", "emergency"}

// Record publishes a vault snapshot.
func (m *VaultMetrics) Record(snap VaultSnapshot) {
	if m == nil {
		return
	}
	m.totalAsset.Set(bigToFloat(snap.TotalAsset))
	m.totalSupply.Set(bigToFloat(snap.TotalSupply))
	m.pendingDeposit.Set(bigToFloat(snap.PendingDeposit))
	m.withdrawReserve.Set(bigToFloat(snap.WithdrawReserve))
	m.round.Set(float64(snap.Round))
	price := 0.0
	if supply := bigToFloat(snap.TotalSupply); supply > 0 {
		price = bigToFloat(snap.TotalAsset) / supply
	}
	m.pricePerShare.Set(price)
	for _, state := range vaultStates {
		value := 0.0
		if strings.EqualFold(state, snap.State) {
			value = 1
		}
		m.state.WithLabelValues(state).Set(value)
	}
}

// AddFee accumulates a fee payment of the given kind ("withdraw",
// "performance").
func (m *VaultMetrics) AddFee(kind string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.fees.WithLabelValues(kind).Add(bigToFloat(amount))
}

// SetActionLocked publishes the collateral locked by an action.
func (m *VaultMetrics) SetActionLocked(action string, amount *big.Int) {
	if m == nil {
		return
	}
	m.actionLocked.WithLabelValues(action).Set(bigToFloat(amount))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
