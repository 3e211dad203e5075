// Package engine runs the evaluation loop: it folds the market book into
// per-symbol risk scores, classifies the market-wide regime, detects
// divergences and hands alerts to the outbox.
package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/config"
	"github.com/perpwatch/perpwatch/internal/divergence"
	"github.com/perpwatch/perpwatch/internal/feed"
	"github.com/perpwatch/perpwatch/internal/journal"
	"github.com/perpwatch/perpwatch/internal/market"
	"github.com/perpwatch/perpwatch/internal/regime"
	"github.com/perpwatch/perpwatch/internal/risk"
)

const (
	// warmup lets the feed fill the windows before the first evaluation.
	warmup = 10 * time.Second

	priceHistLen = 5

	// Informational data-flow pings and their per-symbol cooldowns.
	oiDiagRatio     = 0.015
	oiDiagCooldown  = 20 * time.Minute
	liqDiagFraction = 0.7
	liqDiagCooldown = 30 * time.Minute
)

// SymbolView is the cached outcome of a symbol's latest evaluation,
// rendered on demand by the command surface.
type SymbolView struct {
	Symbol      string
	Score       int
	Direction   risk.Direction
	Driver      risk.Driver
	Reasons     []string
	Confidence  int
	ConfLevel   string
	Quality     risk.QualityLevel
	Trend       string // rising, falling, flat vs the previous tick
	Funding     float64
	HasFunding  bool
	Pressure    float64
	OIChange    float64
	HasOIChange bool
	LiqSum      decimal.Decimal
	Price       decimal.Decimal
	HasPrice    bool
	At          time.Time
}

// Engine owns the feed lifecycle, the evaluation cadence and the regime
// classifier. One Engine per process.
type Engine struct {
	cfg        *config.Config
	book       *market.Book
	outbox     *alert.Outbox
	history    *alert.History
	journal    *journal.Journal
	classifier *regime.Classifier
	activity   *regime.ActivityTracker
	detector   *divergence.Detector
	oi         *feed.OIPoller
	thresholds risk.Thresholds

	mu        sync.Mutex
	views     map[string]SymbolView
	priceHist map[string][]float64
	oiDiagAt  map[string]time.Time
	liqDiagAt map[string]time.Time
	reported  regime.Regime

	lastEval   atomic.Int64 // unix nanos of the last completed tick
	loopWarned atomic.Bool
	lastRegime time.Time

	feedMu     sync.Mutex
	feedCancel context.CancelFunc
	feedDone   chan struct{}
}

func New(cfg *config.Config, book *market.Book, outbox *alert.Outbox, history *alert.History, jrnl *journal.Journal) *Engine {
	e := &Engine{
		cfg:     cfg,
		book:    book,
		outbox:  outbox,
		history: history,
		journal: jrnl,
		classifier: regime.NewClassifier(regime.Config{
			StressConfirmTicks: cfg.StressConfirmTicks,
			StressExitTicks:    cfg.StressExitTicks,
			CrowdConfirmTicks:  cfg.CrowdConfirmTicks,
		}),
		activity: regime.NewActivityTracker(cfg.ActivityWindow, cfg.ActivityFragileAlerts, cfg.ActivityStressAlerts),
		detector: divergence.NewDetector(),
		oi:       feed.NewOIPoller(cfg.FuturesAPIURL, cfg.Symbols, cfg.OIInterval, cfg.HTTPTimeout),
		thresholds: risk.Thresholds{
			FundingExtreme: cfg.FundingExtremeThreshold,
			FundingSpike:   cfg.FundingSpikeThreshold,
			OISpike:        cfg.OISpikeThreshold,
		},
		views:     make(map[string]SymbolView),
		priceHist: make(map[string][]float64),
		oiDiagAt:  make(map[string]time.Time),
		liqDiagAt: make(map[string]time.Time),
		reported:  regime.Neutral,
	}

	outbox.OnDelivered(func(ev alert.Event) {
		if ev.Kind == alert.KindHard || ev.Kind == alert.KindBuildup {
			e.activity.Record(ev.At)
		}
		e.journal.RecordAlert(ev, "delivered")
	})
	outbox.OnFailed(func(ev alert.Event, err error) {
		e.journal.RecordAlert(ev, "failed")
	})

	return e
}

// Run blocks until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.startFeed(ctx)
	go e.oi.Run(ctx, func(s market.OISample) {
		_ = e.book.Ingest(s)
	})
	go e.feedWatchdog(ctx)
	go e.loopWatchdog(ctx)

	if err := sleepCtx(ctx, warmup); err != nil {
		return
	}
	e.lastRegime = time.Now()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine stopped")
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick evaluates every symbol, then runs the regime pass when due.
func (e *Engine) tick(now time.Time) {
	symbols := e.book.Symbols()
	for _, symbol := range symbols {
		e.evalSymbol(symbol, now)
	}
	e.lastEval.Store(now.UnixNano())
	e.loopWarned.Store(false)

	log.Debug().
		Str("event", "risk_eval").
		Int("symbols", len(symbols)).
		Msg("evaluation tick complete")

	if now.Sub(e.lastRegime) >= e.cfg.RegimeInterval {
		e.regimeTick(now)
		e.lastRegime = now
	}
}

// evalSymbol scores one symbol and decides its alerts. A panic here is
// contained: one bad symbol never takes the tick down.
func (e *Engine) evalSymbol(symbol string, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("symbol", symbol).Msg("symbol evaluation panicked")
		}
	}()

	_ = e.book.AdvanceFunding(symbol)
	snap, err := e.book.Snapshot(symbol, now)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("snapshot failed")
		return
	}

	priceTrend := e.observePrice(symbol, snap)

	series := make([]float64, len(snap.OISeries))
	for i, p := range snap.OISeries {
		series[i] = p.Value
	}

	in := risk.Input{
		Funding:        snap.Funding,
		HasFunding:     snap.HasFunding,
		PrevFunding:    snap.PrevFunding,
		HasPrevFunding: snap.HasPrevFunding,
		Pressure:       snap.PressureRatio(),
		OISeries:       series,
		LiqSum:         snap.LiqSum,
		LiqLong:        snap.LiqLong,
		LiqShort:       snap.LiqShort,
		LiqThreshold:   e.cfg.LiqThreshold(symbol),
	}
	res := risk.Score(in, e.thresholds)
	confidence := risk.Confidence(res, e.cfg.EarlyAlertLevel, snap.LiqSum)

	feedAge := time.Duration(-1)
	if f := snap.FreshestUpdate(); !f.IsZero() {
		feedAge = now.Sub(f)
	}
	quality := risk.EvaluateQuality(risk.QualityInput{
		FeedAge:     feedAge,
		FreshTTL:    e.cfg.FeedFreshTTL,
		HasFunding:  snap.HasFunding,
		OILen:       len(snap.OISeries),
		TradeVolume: snap.LongVolume.Add(snap.ShortVolume),
		LiqSum:      snap.LiqSum,
		HasPrice:    snap.HasPrice,
	})

	e.updateView(symbol, snap, res, confidence, quality, now)

	log.Debug().
		Str("event", "risk_eval").
		Str("symbol", symbol).
		Int("score", res.Score).
		Str("direction", string(res.Direction)).
		Str("driver", string(res.Driver)).
		Int("confidence", confidence).
		Str("quality", string(quality.Level)).
		Msg("symbol evaluated")

	if quality.Level != risk.QualityLow {
		switch {
		case res.Score >= e.cfg.HardAlertLevel && res.Direction != risk.DirectionNeutral && confidence >= 3:
			e.enqueue(e.buildRiskEvent(alert.KindHard, symbol, snap, res, confidence, now))
		case res.Score >= e.cfg.EarlyAlertLevel:
			e.enqueue(e.buildRiskEvent(alert.KindBuildup, symbol, snap, res, confidence, now))
		}

		signals := e.detector.Detect(divergence.Input{
			Symbol:     symbol,
			State:      e.Regime(),
			Pressure:   in.Pressure,
			OITrend:    divergence.OITrendOf(series),
			PriceTrend: priceTrend,
			LiqSum:     snap.LiqSum,
		}, now)
		for i, sig := range signals {
			e.enqueue(alert.Event{
				ID:         alert.EventID(symbol, now, alert.KindDivergence, i),
				Symbol:     symbol,
				Kind:       alert.KindDivergence,
				Risk:       res.Score,
				Direction:  res.Direction,
				Confidence: confidence,
				ConfLevel:  risk.ConfidenceLevel(confidence),
				Driver:     res.Driver,
				Price:      snap.MarkPrice,
				HasPrice:   snap.HasPrice,
				Text:       renderDivergence(symbol, sig),
				At:         now,
			})
		}
	}

	e.diagPings(symbol, snap, now)
}

func (e *Engine) buildRiskEvent(kind alert.Kind, symbol string, snap market.Snapshot, res risk.Result, confidence int, now time.Time) alert.Event {
	level := risk.ConfidenceLevel(confidence)
	var text string
	if kind == alert.KindHard {
		text = renderHard(symbol, snap, res, level)
	} else {
		text = renderBuildup(symbol, snap, res, level)
	}
	return alert.Event{
		ID:         alert.EventID(symbol, now, kind, 0),
		Symbol:     symbol,
		Kind:       kind,
		Risk:       res.Score,
		Direction:  res.Direction,
		Confidence: confidence,
		ConfLevel:  level,
		Driver:     res.Driver,
		Price:      snap.MarkPrice,
		HasPrice:   snap.HasPrice,
		Text:       text,
		At:         now,
	}
}

func (e *Engine) enqueue(ev alert.Event) {
	if e.outbox.Enqueue(ev) {
		log.Info().
			Str("event", "alert_enqueued").
			Str("event_id", ev.ID).
			Str("symbol", ev.Symbol).
			Str("kind", string(ev.Kind)).
			Int("risk", ev.Risk).
			Msg("alert queued")
	}
}

// diagPings emits informational messages about unusual data flow. They run
// even when quality gates alerts: a half-blind symbol can still show an OI
// move worth knowing about.
func (e *Engine) diagPings(symbol string, snap market.Snapshot, now time.Time) {
	if ratio, ok := snap.OIChangeRatio(); ok && math.Abs(ratio) >= oiDiagRatio {
		if e.diagDue(e.oiDiagAt, symbol, oiDiagCooldown, now) {
			e.enqueue(alert.Event{
				ID:       alert.EventID(symbol, now, alert.KindDiag, 0),
				Symbol:   symbol,
				Kind:     alert.KindDiag,
				Price:    snap.MarkPrice,
				HasPrice: snap.HasPrice,
				Text:     renderOIDiag(symbol, ratio),
				At:       now,
			})
		}
	}

	threshold := e.cfg.LiqThreshold(symbol)
	if threshold.IsPositive() {
		trigger := threshold.Mul(decimal.NewFromFloat(liqDiagFraction))
		if snap.LiqSum.GreaterThanOrEqual(trigger) {
			if e.diagDue(e.liqDiagAt, symbol, liqDiagCooldown, now) {
				e.enqueue(alert.Event{
					ID:       alert.EventID(symbol, now, alert.KindDiag, 1),
					Symbol:   symbol,
					Kind:     alert.KindDiag,
					Price:    snap.MarkPrice,
					HasPrice: snap.HasPrice,
					Text:     renderLiqDiag(symbol, snap.LiqSum, threshold),
					At:       now,
				})
			}
		}
	}
}

// diagDue checks and stamps a per-symbol ping cooldown.
func (e *Engine) diagDue(stamps map[string]time.Time, symbol string, cooldown time.Duration, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := stamps[symbol]; ok && now.Sub(last) < cooldown {
		return false
	}
	stamps[symbol] = now
	return true
}

// observePrice appends the tick's mark price to the short history and
// labels the trend with the symbol's epsilon.
func (e *Engine) observePrice(symbol string, snap market.Snapshot) divergence.PriceTrend {
	if !snap.HasPrice {
		return divergence.TrendFlat
	}
	price, _ := snap.MarkPrice.Float64()

	e.mu.Lock()
	hist := append(e.priceHist[symbol], price)
	if len(hist) > priceHistLen {
		hist = hist[len(hist)-priceHistLen:]
	}
	e.priceHist[symbol] = hist
	first, last, n := hist[0], hist[len(hist)-1], len(hist)
	e.mu.Unlock()

	if n < 2 {
		return divergence.TrendFlat
	}
	return divergence.TrendOf(first, last, divergence.ParamsFor(symbol).PriceTrendDelta)
}

// regimeTick aggregates the cached per-symbol results into a market state
// and feeds it through the hysteresis classifier.
func (e *Engine) regimeTick(now time.Time) {
	e.mu.Lock()
	var sum float64
	buildups, longBias, shortBias, n := 0, 0, 0, 0
	for _, v := range e.views {
		sum += float64(v.Score)
		n++
		if v.Score >= e.cfg.EarlyAlertLevel {
			buildups++
		}
		switch v.Direction {
		case risk.DirectionLong:
			longBias++
		case risk.DirectionShort:
			shortBias++
		}
	}
	e.mu.Unlock()
	if n == 0 {
		return
	}

	ms := regime.MarketState{
		AvgRisk:        sum / float64(n),
		Buildups:       buildups,
		LongBias:       longBias,
		ShortBias:      shortBias,
		AlertsInWindow: e.history.CountWithin(e.cfg.AlertWindow, now),
		Tracked:        len(e.book.Symbols()),
		At:             now,
	}
	dec := e.classifier.Observe(ms)

	e.mu.Lock()
	prev := e.reported
	e.reported = dec.Reported
	e.mu.Unlock()

	log.Info().
		Str("event", "regime_eval").
		Float64("avg_risk", ms.AvgRisk).
		Int("buildups", ms.Buildups).
		Int("alerts_in_window", ms.AlertsInWindow).
		Str("candidate", string(dec.Candidate)).
		Str("regime", string(dec.Reported)).
		Msg("regime tick")

	if prev != dec.Reported {
		log.Info().
			Str("event", "regime_transition").
			Str("from", string(prev)).
			Str("to", string(dec.Reported)).
			Msg("market regime changed")
		e.journal.RecordRegime(prev, dec.Reported, ms)
		e.enqueue(alert.Event{
			ID:     alert.EventID("MARKET", now, alert.KindSystem, 0),
			Symbol: "MARKET",
			Kind:   alert.KindSystem,
			Text:   renderRegimeShift(prev, dec.Reported, ms),
			At:     now,
		})
	}

	if act, prevAct, changed := e.activity.Observe(now); changed {
		log.Info().
			Str("event", "activity_shift").
			Str("from", string(prevAct)).
			Str("to", string(act)).
			Msg("alert activity regime changed")
		e.journal.RecordSystem("activity_shift", "", string(prevAct)+" -> "+string(act))
	}
}

func (e *Engine) updateView(symbol string, snap market.Snapshot, res risk.Result, confidence int, q risk.Quality, now time.Time) {
	oiChange, hasOI := snap.OIChangeRatio()

	e.mu.Lock()
	defer e.mu.Unlock()

	trend := "flat"
	if prev, ok := e.views[symbol]; ok {
		switch {
		case res.Score > prev.Score:
			trend = "rising"
		case res.Score < prev.Score:
			trend = "falling"
		}
	}
	e.views[symbol] = SymbolView{
		Symbol:      symbol,
		Score:       res.Score,
		Direction:   res.Direction,
		Driver:      res.Driver,
		Reasons:     res.Reasons,
		Confidence:  confidence,
		ConfLevel:   risk.ConfidenceLevel(confidence),
		Quality:     q.Level,
		Trend:       trend,
		Funding:     snap.Funding,
		HasFunding:  snap.HasFunding,
		Pressure:    snap.PressureRatio(),
		OIChange:    oiChange,
		HasOIChange: hasOI,
		LiqSum:      snap.LiqSum,
		Price:       snap.MarkPrice,
		HasPrice:    snap.HasPrice,
		At:          now,
	}
}

// Views returns the latest evaluation of every symbol in config order.
// Symbols not yet evaluated are absent.
func (e *Engine) Views() []SymbolView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SymbolView, 0, len(e.views))
	for _, symbol := range e.book.Symbols() {
		if v, ok := e.views[symbol]; ok {
			out = append(out, v)
		}
	}
	return out
}

// View returns the latest evaluation of one symbol.
func (e *Engine) View(symbol string) (SymbolView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[symbol]
	return v, ok
}

// Regime is the externally reported market regime.
func (e *Engine) Regime() regime.Regime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reported
}

// AlertsInWindow counts deliveries inside the configured alert window.
func (e *Engine) AlertsInWindow(now time.Time) int {
	return e.history.CountWithin(e.cfg.AlertWindow, now)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
