package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the market engine emits, labeled by
// market_id wherever a deployment runs more than one market per process.
type Metrics struct {
	OrdersPlaced      *prometheus.CounterVec
	OrdersRejected    *prometheus.CounterVec
	OrdersCancelled   *prometheus.CounterVec
	FillsTotal        *prometheus.CounterVec
	FillLatency       *prometheus.HistogramVec
	OpenOrderCount    *prometheus.GaugeVec
	LongOpenInterest  *prometheus.GaugeVec
	ShortOpenInterest *prometheus.GaugeVec

	FundingCranks     *prometheus.CounterVec
	FundingRate       *prometheus.GaugeVec
	CumulativeFunding *prometheus.GaugeVec

	LiquidationsTotal    *prometheus.CounterVec
	LiquidationsPartial  *prometheus.CounterVec
	LiquidationDeficit   *prometheus.CounterVec
	InsuranceFundBalance *prometheus.GaugeVec

	ArenaLiveBlocks *prometheus.GaugeVec
	ArenaFreeBlocks *prometheus.GaugeVec
}

// NewMetrics registers and returns the market engine's metric set.
func NewMetrics() *Metrics {
	fillLatencyBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	return &Metrics{
		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_orders_placed_total",
			Help: "Orders accepted by place_order",
		}, []string{"market_id", "order_type", "side"}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_orders_rejected_total",
			Help: "Orders rejected by place_order",
		}, []string{"market_id", "reason"}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_orders_cancelled_total",
			Help: "Orders removed via cancel_order",
		}, []string{"market_id"}),

		FillsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_fills_total",
			Help: "Matches produced by the matching loop",
		}, []string{"market_id"}),

		FillLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manifest_place_order_duration_seconds",
			Help:    "Wall time spent inside Place",
			Buckets: fillLatencyBuckets,
		}, []string{"market_id"}),

		OpenOrderCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_open_orders",
			Help: "Resting orders currently on the book",
		}, []string{"market_id", "side"}),

		LongOpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_long_open_interest_atoms",
			Help: "Sum of long positions in base atoms",
		}, []string{"market_id"}),

		ShortOpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_short_open_interest_atoms",
			Help: "Sum of short positions in base atoms",
		}, []string{"market_id"}),

		FundingCranks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_funding_cranks_total",
			Help: "Global funding crank invocations",
		}, []string{"market_id"}),

		FundingRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_funding_rate",
			Help: "Most recent per-crank funding rate, scaled by FundingScale",
		}, []string{"market_id"}),

		CumulativeFunding: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_cumulative_funding",
			Help: "Market-wide cumulative funding accumulator",
		}, []string{"market_id"}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_liquidations_total",
			Help: "Liquidations completed",
		}, []string{"market_id", "outcome"}),

		LiquidationsPartial: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_liquidations_partial_total",
			Help: "Liquidations that closed less than the full position",
		}, []string{"market_id"}),

		LiquidationDeficit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_liquidation_deficit_total",
			Help: "Quote atoms drawn from the insurance fund during liquidation",
		}, []string{"market_id"}),

		InsuranceFundBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_insurance_fund_balance",
			Help: "Current insurance fund balance in quote atoms",
		}, []string{"market_id"}),

		ArenaLiveBlocks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_arena_live_blocks",
			Help: "Live (allocated) blocks in the shared arena",
		}, []string{"market_id"}),

		ArenaFreeBlocks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manifest_arena_free_blocks",
			Help: "Free-list length in the shared arena",
		}, []string{"market_id"}),
	}
}
