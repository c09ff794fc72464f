// Command marketd runs one market as a NATS-addressable service: a single
// goroutine owns the Market and drains a command subscription, which is
// what serializes access per §5 (the market's own methods are not
// internally locked). Structure follows luxfi-dex's dex-server: flag-based
// config, a NATS connection, and a background stats/health surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dhruvja/manifest/internal/custodian"
	"github.com/dhruvja/manifest/internal/event"
	"github.com/dhruvja/manifest/internal/fixedpoint"
	"github.com/dhruvja/manifest/internal/market"
	"github.com/dhruvja/manifest/internal/observability"
	"github.com/dhruvja/manifest/internal/oracle"
)

func main() {
	marketID := flag.String("market-id", "default", "market identifier, also the NATS subject prefix")
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	httpAddr := flag.String("http", ":9090", "address for /metrics, /healthz, /readyz")
	initialMarginBps := flag.Int("initial-margin-bps", 1000, "initial margin requirement, in bps")
	maintenanceMarginBps := flag.Int("maintenance-margin-bps", 500, "maintenance margin requirement, in bps")
	takerFeeBps := flag.Int("taker-fee-bps", 10, "taker fee, in bps")
	liquidationBufferBps := flag.Int("liquidation-buffer-bps", 100, "liquidation target buffer above maintenance, in bps")
	baseDecimals := flag.Int("base-decimals", 9, "base asset decimals")
	quoteDecimals := flag.Int("quote-decimals", 6, "quote asset decimals")
	oracleFeedID := flag.String("oracle-feed-id", *marketID, "oracle feed identifier")
	snapshotPath := flag.String("snapshot-path", "", "optional file to load/persist the market's binary snapshot (§6.1); empty disables snapshotting")
	snapshotInterval := flag.Duration("snapshot-interval", 30*time.Second, "how often to write the snapshot file when -snapshot-path is set")
	flag.Parse()

	log := observability.NewLogger("marketd")
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to nats")
	}
	defer nc.Close()

	feed := oracle.NewStaticFeed()
	emitter := &natsEmitter{nc: nc, subjectPrefix: "manifest." + *marketID + ".events", log: log}

	m, err := market.NewMarket(*marketID, market.Params{
		BaseDecimals:         uint8(*baseDecimals),
		QuoteDecimals:        uint8(*quoteDecimals),
		InitialMarginBps:     uint16(*initialMarginBps),
		MaintenanceMarginBps: uint16(*maintenanceMarginBps),
		TakerFeeBps:          uint16(*takerFeeBps),
		LiquidationBufferBps: uint16(*liquidationBufferBps),
		OracleFeedID:         *oracleFeedID,
	}, feed, custodian.NopCustodian{}, custodian.AlwaysFundPool{}, emitter)
	if err != nil {
		log.Fatal().Err(err).Msg("create market")
	}
	if err := m.Expand(1024); err != nil {
		log.Fatal().Err(err).Msg("expand arena")
	}

	if *snapshotPath != "" {
		if loaded, err := loadSnapshot(*snapshotPath); err != nil {
			log.Warn().Err(err).Str("path", *snapshotPath).Msg("snapshot load skipped")
		} else if loaded != nil {
			loaded.Emitter = emitter
			loaded.Oracle = feed
			loaded.Custodian = custodian.NopCustodian{}
			loaded.Pool = custodian.AlwaysFundPool{}
			m = loaded
			log.Info().Str("path", *snapshotPath).Msg("restored market from snapshot")
		}
	}

	d := &daemon{market: m, feed: feed, log: log, metrics: metrics, marketID: *marketID}
	d.subscribe(nc)

	go d.reportLoop()
	go d.fundingLoop()
	if *snapshotPath != "" {
		go d.snapshotLoop(*snapshotPath, *snapshotInterval)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	health.SetReady(true)

	log.Info().Str("market_id", *marketID).Str("http", *httpAddr).Msg("marketd ready")
	if err := http.ListenAndServe(*httpAddr, mux); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

// daemon owns the Market and is the sole goroutine that mutates it; every
// NATS subscription callback below runs on the connection's dispatch
// goroutine, so nats.go's default single-threaded callback delivery is
// exactly the serialization §5 requires.
type daemon struct {
	market   *market.Market
	feed     *oracle.StaticFeed
	log      zerolog.Logger
	metrics  *observability.Metrics
	marketID string
}

func (d *daemon) subscribe(nc *nats.Conn) {
	prefix := "manifest." + d.marketID + "."
	subs := map[string]nats.MsgHandler{
		prefix + "claim_seat":    d.handleClaimSeat,
		prefix + "release_seat":  d.handleReleaseSeat,
		prefix + "deposit":       d.handleDeposit,
		prefix + "withdraw":      d.handleWithdraw,
		prefix + "place":         d.handlePlace,
		prefix + "cancel":        d.handleCancel,
		prefix + "liquidate":     d.handleLiquidate,
		prefix + "oracle_set":    d.handleOracleSet,
	}
	for subject, handler := range subs {
		if _, err := nc.Subscribe(subject, handler); err != nil {
			d.log.Fatal().Err(err).Str("subject", subject).Msg("subscribe")
		}
	}
}

func (d *daemon) reply(m *nats.Msg, v any, err error) {
	if err != nil {
		m.Respond(mustJSON(map[string]string{"error": err.Error()}))
		return
	}
	m.Respond(mustJSON(v))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}

type claimSeatRequest struct {
	Trader string `json:"trader"`
}

func (d *daemon) handleClaimSeat(msg *nats.Msg) {
	var req claimSeatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	err := d.market.ClaimSeat(market.KeyFromBytes([]byte(padKey(req.Trader))))
	d.reply(msg, map[string]bool{"ok": err == nil}, err)
}

type releaseSeatRequest struct {
	Trader string `json:"trader"`
}

func (d *daemon) handleReleaseSeat(msg *nats.Msg) {
	var req releaseSeatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	err := d.market.ReleaseSeat(market.KeyFromBytes([]byte(padKey(req.Trader))))
	d.reply(msg, map[string]bool{"ok": err == nil}, err)
}

type transferRequest struct {
	Trader string `json:"trader"`
	Amount uint64 `json:"amount"`
}

func (d *daemon) handleDeposit(msg *nats.Msg) {
	var req transferRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	err := d.market.Deposit(context.Background(), market.KeyFromBytes([]byte(padKey(req.Trader))), req.Amount)
	d.reply(msg, map[string]bool{"ok": err == nil}, err)
}

func (d *daemon) handleWithdraw(msg *nats.Msg) {
	var req transferRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	err := d.market.Withdraw(context.Background(), market.KeyFromBytes([]byte(padKey(req.Trader))), req.Amount)
	d.reply(msg, map[string]bool{"ok": err == nil}, err)
}

type placeRequest struct {
	Trader        string `json:"trader"`
	IsBid         bool   `json:"is_bid"`
	OrderType     string `json:"order_type"`
	Mantissa      uint32 `json:"mantissa"`
	Exponent      int32  `json:"exponent"`
	BaseAtoms     uint64 `json:"base_atoms"`
	LastValidSlot uint64 `json:"last_valid_slot"`
	CurrentSlot   uint64 `json:"current_slot"`
}

func (d *daemon) handlePlace(msg *nats.Msg) {
	var req placeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	price, err := fixedpoint.New(req.Mantissa, req.Exponent)
	if err != nil {
		d.reply(msg, nil, err)
		return
	}
	ot, err := parseOrderType(req.OrderType)
	if err != nil {
		d.reply(msg, nil, err)
		return
	}

	start := time.Now()
	result, err := d.market.Place(context.Background(), req.CurrentSlot, market.PlaceParams{
		Trader:        market.KeyFromBytes([]byte(padKey(req.Trader))),
		IsBid:         req.IsBid,
		OrderType:     ot,
		Price:         price,
		BaseAtoms:     req.BaseAtoms,
		LastValidSlot: req.LastValidSlot,
	})
	d.metrics.FillLatency.WithLabelValues(d.marketID).Observe(time.Since(start).Seconds())
	if err != nil {
		d.metrics.OrdersRejected.WithLabelValues(d.marketID, err.Error()).Inc()
	} else {
		d.metrics.OrdersPlaced.WithLabelValues(d.marketID, req.OrderType, sideLabel(req.IsBid)).Inc()
		if result.FillCount > 0 {
			d.metrics.FillsTotal.WithLabelValues(d.marketID).Add(float64(result.FillCount))
		}
	}
	d.reply(msg, result, err)
}

type cancelRequest struct {
	Trader         string `json:"trader"`
	SequenceNumber uint64 `json:"sequence_number"`
}

func (d *daemon) handleCancel(msg *nats.Msg) {
	var req cancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	err := d.market.Cancel(market.KeyFromBytes([]byte(padKey(req.Trader))), req.SequenceNumber)
	if err == nil {
		d.metrics.OrdersCancelled.WithLabelValues(d.marketID).Inc()
	}
	d.reply(msg, map[string]bool{"ok": err == nil}, err)
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Target     string `json:"target"`
}

func (d *daemon) handleLiquidate(msg *nats.Msg) {
	var req liquidateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	result, err := d.market.Liquidate(context.Background(),
		market.KeyFromBytes([]byte(padKey(req.Liquidator))),
		market.KeyFromBytes([]byte(padKey(req.Target))))
	if err == nil {
		outcome := "partial"
		if result.FullyLiquidated {
			outcome = "full"
		}
		d.metrics.LiquidationsTotal.WithLabelValues(d.marketID, outcome).Inc()
		if !result.FullyLiquidated {
			d.metrics.LiquidationsPartial.WithLabelValues(d.marketID).Inc()
		}
		if result.InsuranceDrawn > 0 {
			d.metrics.LiquidationDeficit.WithLabelValues(d.marketID).Add(float64(result.InsuranceDrawn))
		}
	}
	d.reply(msg, result, err)
}

type oracleSetRequest struct {
	FeedID   string `json:"feed_id"`
	Mantissa uint64 `json:"mantissa"`
	Exponent int32  `json:"exponent"`
}

func (d *daemon) handleOracleSet(msg *nats.Msg) {
	var req oracleSetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, nil, err)
		return
	}
	d.feed.Set(req.FeedID, oracle.Reading{Mantissa: req.Mantissa, Exponent: req.Exponent})
	d.reply(msg, map[string]bool{"ok": true}, nil)
}

// fundingLoop cranks funding once a minute; each crank prorates the rate by
// the time elapsed against §4.5's one-hour nominal period.
func (d *daemon) fundingLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now().Unix()
		rate, err := d.market.CrankFunding(now)
		if err != nil {
			d.log.Warn().Err(err).Msg("funding crank")
			continue
		}
		d.metrics.FundingCranks.WithLabelValues(d.marketID).Inc()
		d.metrics.FundingRate.WithLabelValues(d.marketID).Set(float64(rate))
		d.metrics.CumulativeFunding.WithLabelValues(d.marketID).Set(float64(d.market.Header.CumulativeFunding))
		d.metrics.InsuranceFundBalance.WithLabelValues(d.marketID).Set(float64(d.market.Header.InsuranceFund))
	}
}

// loadSnapshot reads a market snapshot written by (*market.Market).MarshalBinary
// off disk (§6.1). A missing file is not an error — it just means this is a
// fresh market with nothing to restore.
func loadSnapshot(path string) (*market.Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	m := &market.Market{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return m, nil
}

// snapshotLoop periodically persists the market's binary layout to path, so
// a restart with the same -snapshot-path picks up where the last run left
// off. Writes go to a temp file first and are renamed into place, so a crash
// mid-write never leaves a truncated snapshot behind.
func (d *daemon) snapshotLoop(path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		data, err := d.market.MarshalBinary()
		if err != nil {
			d.log.Warn().Err(err).Msg("marshal snapshot")
			continue
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			d.log.Warn().Err(err).Str("path", tmp).Msg("write snapshot")
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			d.log.Warn().Err(err).Str("path", path).Msg("rename snapshot")
		}
	}
}

func (d *daemon) reportLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		d.log.Info().
			Str("long_oi", d.market.FormatBaseAtoms(int64(d.market.Header.LongOpenInterest))).
			Str("short_oi", d.market.FormatBaseAtoms(int64(d.market.Header.ShortOpenInterest))).
			Str("insurance_fund", d.market.FormatQuoteAtoms(d.market.Header.InsuranceFund)).
			Msg("market snapshot")
		d.metrics.LongOpenInterest.WithLabelValues(d.marketID).Set(float64(d.market.Header.LongOpenInterest))
		d.metrics.ShortOpenInterest.WithLabelValues(d.marketID).Set(float64(d.market.Header.ShortOpenInterest))

		bids, asks := d.market.OpenOrderCounts()
		d.metrics.OpenOrderCount.WithLabelValues(d.marketID, "bid").Set(float64(bids))
		d.metrics.OpenOrderCount.WithLabelValues(d.marketID, "ask").Set(float64(asks))

		live, free := d.market.ArenaStats()
		d.metrics.ArenaLiveBlocks.WithLabelValues(d.marketID).Set(float64(live))
		d.metrics.ArenaFreeBlocks.WithLabelValues(d.marketID).Set(float64(free))
	}
}

func sideLabel(isBid bool) string {
	if isBid {
		return "bid"
	}
	return "ask"
}

func padKey(s string) string {
	b := make([]byte, 32)
	copy(b, s)
	return string(b)
}

func parseOrderType(s string) (market.OrderType, error) {
	switch s {
	case "limit":
		return market.Limit, nil
	case "post_only":
		return market.PostOnly, nil
	case "ioc":
		return market.ImmediateOrCancel, nil
	case "global":
		return market.Global, nil
	case "reverse":
		return market.Reverse, nil
	case "reverse_tight":
		return market.ReverseTight, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// natsEmitter publishes every market event to manifest.<marketID>.events.<EventName>
// as JSON, giving downstream consumers (indexers, risk dashboards) a
// per-event-type subject to subscribe to.
type natsEmitter struct {
	nc            *nats.Conn
	subjectPrefix string
	log           zerolog.Logger
}

func (e *natsEmitter) Emit(env event.Envelope) {
	b, err := json.Marshal(env.Event)
	if err != nil {
		e.log.Warn().Err(err).Msg("marshal event")
		return
	}
	subject := e.subjectPrefix + "." + env.Event.EventName()
	if err := e.nc.Publish(subject, b); err != nil {
		e.log.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}
