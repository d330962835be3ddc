package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openquant/mmdash/internal/domain"
	"go.uber.org/zap"
)

// EngineConfig carries the engine timing knobs. Production values mirror the
// dashboard defaults; tests run them at millisecond scale.
type EngineConfig struct {
	FillCheckInterval time.Duration // paired-strategy fill polling period
	RefreshInterval   time.Duration // paired EXCHANGE-source full refresh period
	ReplaceDelay      time.Duration // EXTERNAL-source replacement cooldown
	CallTimeout       time.Duration // bound on every gateway call
	PlacementSpacing  time.Duration // pause between sibling placements
}

func (c *EngineConfig) applyDefaults() {
	if c.FillCheckInterval <= 0 {
		c.FillCheckInterval = 5 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 2 * time.Minute
	}
	if c.ReplaceDelay <= 0 {
		c.ReplaceDelay = 2 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.PlacementSpacing <= 0 {
		c.PlacementSpacing = 200 * time.Millisecond
	}
}

// Engine runs one market-making session: placement, fill detection,
// replacement and lifecycle. The placement shape comes from the Strategy;
// the engine owns the timers and the persisted state.
//
// Fill detection, replacement, refresh and stop for the same session are
// serialized on mu. A monitoring tick still in flight suppresses the next
// one instead of running both against shared state.
type Engine struct {
	session  *domain.Session
	strategy Strategy
	gateway  domain.Gateway
	oracle   *PriceOracle
	sessions domain.SessionRepository
	clusters domain.ClusterRepository
	orders   domain.OrderRepository
	cfg      EngineConfig
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	paused  bool
	live    []domain.LiveOrder
	cluster *domain.Cluster
	seq     int
	lastMid float64

	placedCount int64
	fills       int64
	totalPnL    float64
	startTime   time.Time

	ticking  atomic.Bool
	stopChan chan struct{}
	cancel   context.CancelFunc

	// At most one pending delayed-replacement timer per session. A second
	// fill before it fires reschedules it; the pending fills are merged.
	pendingTimer *time.Timer
	pendingFills []domain.LiveOrder
}

func NewEngine(
	session *domain.Session,
	gateway domain.Gateway,
	oracle *PriceOracle,
	sessions domain.SessionRepository,
	clusters domain.ClusterRepository,
	orders domain.OrderRepository,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		session:  session,
		strategy: NewStrategy(session.Config),
		gateway:  gateway,
		oracle:   oracle,
		sessions: sessions,
		clusters: clusters,
		orders:   orders,
		cfg:      cfg,
		logger: logger.With(
			zap.String("session_id", session.ID),
			zap.String("symbol", session.Config.Symbol)),
		stopChan: make(chan struct{}),
	}
}

// Start validates the pair, places the initial order set and spawns the
// monitoring loops. A fatal start failure marks the session FAILED and no
// timers are ever started.
func (e *Engine) Start(ctx context.Context) error {
	e.setStatus(domain.StatusStarting, "")
	e.logger.Info("starting market making",
		zap.String("strategy", e.strategy.Name()),
		zap.String("reference_source", string(e.session.Config.ReferenceSource)),
		zap.Float64("spread_pct", e.session.Config.SpreadPct))

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	if err := e.gateway.ValidateSymbol(cctx, e.session.Config.Symbol); err != nil {
		err = fmt.Errorf("%w: symbol %s: %v", domain.ErrFatalStart, e.session.Config.Symbol, err)
		e.fail(err)
		return err
	}

	mid, err := e.oracle.ReferencePrice(cctx)
	if err != nil {
		err = fmt.Errorf("%w: initial reference price: %v", domain.ErrFatalStart, err)
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.lastMid = mid
	if err := e.openOrderSet(cctx, mid); err != nil {
		e.mu.Unlock()
		e.fail(err)
		return err
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	e.setStatus(domain.StatusRunning, "")

	loopCtx, loopCancel := context.WithCancel(context.Background())
	e.cancel = loopCancel
	go e.monitorLoop(loopCtx)
	if e.session.Config.Strategy == domain.StrategyPaired &&
		e.session.Config.ReferenceSource == domain.RefExchange {
		go e.refreshLoop(loopCtx)
	}

	e.logger.Info("market making started", zap.Float64("mid_price", mid))
	return nil
}

// Pause suppresses loop evaluation, leaving resting orders untouched.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.setStatus(domain.StatusPaused, "")
	e.logger.Info("session paused")
}

// Resume re-enables loop evaluation after a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.setStatus(domain.StatusRunning, "")
	e.logger.Info("session resumed")
}

// Stop halts the loops, cancels the pending replacement timer and cancels
// every resting order best-effort. A failed cancel is logged and the session
// still reaches STOPPED.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
		e.pendingTimer = nil
		e.pendingFills = nil
		e.logger.Info("cleared pending delayed replacement")
	}
	close(e.stopChan)
	if e.cancel != nil {
		e.cancel()
	}
	live := append([]domain.LiveOrder(nil), e.live...)
	e.live = nil
	e.mu.Unlock()

	for _, o := range live {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		if err := e.gateway.CancelOrder(cctx, o.OrderID, e.session.Config.Symbol); err != nil {
			e.logger.Warn("cancel on stop failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
		cancel()
	}

	e.setStatus(domain.StatusStopped, "")
	e.persistCounters(ctx)
	e.logger.Info("market making stopped")
	return nil
}

// EngineStatus is the snapshot exposed to callers.
type EngineStatus struct {
	SessionID       string               `json:"session_id"`
	Running         bool                 `json:"running"`
	Paused          bool                 `json:"paused"`
	Strategy        string               `json:"strategy"`
	Exchange        string               `json:"exchange"`
	Symbol          string               `json:"symbol"`
	ReferenceSource string               `json:"reference_source"`
	LastMidPrice    float64              `json:"last_mid_price"`
	CurrentCluster  *domain.Cluster      `json:"current_cluster,omitempty"`
	ActiveOrders    []domain.LiveOrder   `json:"active_orders,omitempty"`
	PlacedCount     int64                `json:"placed_count"`
	Fills           int64                `json:"fills"`
	TotalPnL        float64              `json:"total_pnl"`
	UptimeSeconds   int64                `json:"uptime_seconds"`
}

func (e *Engine) Status() *EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &EngineStatus{
		SessionID:       e.session.ID,
		Running:         e.running,
		Paused:          e.paused,
		Strategy:        e.strategy.Name(),
		Exchange:        e.session.Config.Exchange,
		Symbol:          e.session.Config.Symbol,
		ReferenceSource: string(e.session.Config.ReferenceSource),
		LastMidPrice:    e.lastMid,
		PlacedCount:     e.placedCount,
		Fills:           e.fills,
		TotalPnL:        e.totalPnL,
	}
	if e.cluster != nil {
		c := *e.cluster
		st.CurrentCluster = &c
	}
	st.ActiveOrders = append(st.ActiveOrders, e.live...)
	if e.running {
		st.UptimeSeconds = int64(time.Since(e.startTime).Seconds())
	}
	return st
}

// --- loops ---

func (e *Engine) monitorInterval() time.Duration {
	if e.session.Config.Strategy == domain.StrategyLadder {
		if e.session.Config.RefreshInterval > 0 {
			return e.session.Config.RefreshInterval
		}
		return 30 * time.Second
	}
	return e.cfg.FillCheckInterval
}

func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.monitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.refresh(ctx)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick is one monitoring pass: reconcile open orders, detect fills, apply
// the replacement policy. Loop iterations are independent; an iteration
// still in flight suppresses the next.
func (e *Engine) tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		return
	}
	defer e.ticking.Store(false)

	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	open, err := e.gateway.ListOpenOrders(cctx, e.session.Config.Symbol)
	if err != nil {
		e.logger.Warn("open orders fetch failed, retrying next tick", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}

	filled := e.detectFills(cctx, open)

	if e.session.Config.Strategy == domain.StrategyLadder {
		e.ladderAdjust(cctx, filled)
	} else if len(filled) > 0 {
		if e.session.Config.ReferenceSource == domain.RefExternal {
			e.scheduleDelayedReplacement(filled)
		} else {
			e.replaceFilled(cctx, filled)
		}
	}

	if e.cluster != nil {
		e.cluster.LastChecked = time.Now()
		e.persistCluster(cctx)
	}
	e.persistCounters(cctx)
}

// detectFills diffs the live order set against the exchange's open orders.
// An absent id means fully filled; a present id with a larger filled
// quantity is a partial fill, treated as a fill event for replacement
// purposes (the prior order id is abandoned). A leg never reverts from
// FILLED to OPEN without a replacement creating a new order id.
func (e *Engine) detectFills(ctx context.Context, open []domain.OpenOrder) []domain.LiveOrder {
	byID := make(map[string]domain.OpenOrder, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}

	var filled []domain.LiveOrder
	keep := e.live[:0]
	for _, lo := range e.live {
		oo, present := byID[lo.OrderID]
		switch {
		case !present:
			lo.Filled = lo.Quantity
			filled = append(filled, lo)
		case oo.Filled > lo.Filled:
			lo.Filled = oo.Filled
			filled = append(filled, lo)
		default:
			keep = append(keep, lo)
		}
	}
	e.live = keep

	for _, f := range filled {
		e.fills++
		if f.Side == domain.SideSell {
			e.totalPnL += f.Filled * f.Price
		} else {
			e.totalPnL -= f.Filled * f.Price
		}
		e.logger.Info("fill detected",
			zap.String("order_id", f.OrderID),
			zap.String("side", string(f.Side)),
			zap.Float64("price", f.Price),
			zap.Float64("filled", f.Filled))

		e.markLegFilled(f)
		if e.session.Config.Strategy == domain.StrategyLadder {
			if err := e.orders.MarkOrderFilled(ctx, e.session.ID, f.OrderID); err != nil {
				e.logger.Warn("order fill write failed", zap.Error(err))
			}
		}
	}
	return filled
}

func (e *Engine) markLegFilled(f domain.LiveOrder) {
	if e.cluster == nil {
		return
	}
	switch f.OrderID {
	case e.cluster.Buy.OrderID:
		e.cluster.Buy.Status = domain.LegFilled
		e.cluster.Buy.Filled = f.Filled
	case e.cluster.Sell.OrderID:
		e.cluster.Sell.Status = domain.LegFilled
		e.cluster.Sell.Filled = f.Filled
	}
}

// ladderAdjust recomputes the reference price, refreshes the whole ladder on
// threshold breach, and independently tops up any slots below the configured
// order count at the current geometry.
func (e *Engine) ladderAdjust(ctx context.Context, filled []domain.LiveOrder) {
	mid, err := e.oracle.ReferencePrice(ctx)
	if err != nil {
		e.logger.Warn("no reference price yet, skipping ladder adjust", zap.Error(err))
		return
	}

	if e.strategy.NeedsFullRefresh(e.lastMid, mid) {
		e.logger.Info("price moved past threshold, refreshing ladder",
			zap.Float64("last_mid", e.lastMid), zap.Float64("new_mid", mid))
		e.cancelAllLive(ctx)
		e.lastMid = mid
		if err := e.openOrderSet(ctx, mid); err != nil {
			e.logger.Error("ladder refresh placement failed", zap.Error(err))
			e.recordError(ctx, err)
		}
		return
	}

	specs := e.strategy.ReplacementFor(filled, e.live, mid)
	if len(specs) == 0 {
		return
	}
	e.logger.Info("topping up ladder", zap.Int("orders", len(specs)))
	if err := e.placeBatch(ctx, specs); err != nil {
		e.logger.Error("ladder top-up failed", zap.Error(err))
		e.recordError(ctx, err)
	}
}

// replaceFilled relists filled legs immediately, in the same monitoring
// tick, preserving price and quantity.
func (e *Engine) replaceFilled(ctx context.Context, filled []domain.LiveOrder) {
	specs := e.strategy.ReplacementFor(filled, e.live, e.lastMid)
	if len(specs) == 0 {
		return
	}
	e.logger.Info("replacing filled legs immediately", zap.Int("orders", len(specs)))
	if err := e.placeBatch(ctx, specs); err != nil {
		e.logger.Error("replacement failed", zap.Error(err))
		e.recordError(ctx, err)
	}
}

// scheduleDelayedReplacement arms the single per-session replacement timer.
// A fill arriving while one is pending merges its legs and pushes the timer
// out by the full cooldown; last scheduled wins.
func (e *Engine) scheduleDelayedReplacement(filled []domain.LiveOrder) {
	seen := make(map[string]bool, len(e.pendingFills))
	for _, f := range e.pendingFills {
		seen[f.OrderID] = true
	}
	for _, f := range filled {
		if !seen[f.OrderID] {
			e.pendingFills = append(e.pendingFills, f)
		}
	}

	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
	}
	e.pendingTimer = time.AfterFunc(e.cfg.ReplaceDelay, e.firePendingReplacement)
	e.logger.Info("replacement scheduled after cooldown",
		zap.Duration("cooldown", e.cfg.ReplaceDelay),
		zap.Int("pending_legs", len(e.pendingFills)))
}

func (e *Engine) firePendingReplacement() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	fills := e.pendingFills
	e.pendingFills = nil
	e.pendingTimer = nil
	if len(fills) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()

	e.logger.Info("cooldown elapsed, placing delayed replacements", zap.Int("legs", len(fills)))
	e.replaceFilled(ctx, fills)
	e.persistCluster(ctx)
	e.persistCounters(ctx)
}

// refresh cancels the current cluster and opens a brand-new one at a fresh
// reference price. EXCHANGE-source paired sessions only.
func (e *Engine) refresh(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	mid, err := e.oracle.ReferencePrice(cctx)
	if err != nil {
		e.logger.Warn("no reference price, skipping refresh", zap.Error(err))
		return
	}

	e.logger.Info("periodic refresh", zap.Float64("last_mid", e.lastMid), zap.Float64("new_mid", mid))
	e.cancelAllLive(cctx)
	e.lastMid = mid
	if err := e.openOrderSet(cctx, mid); err != nil {
		e.logger.Error("refresh placement failed", zap.Error(err))
		e.recordError(cctx, err)
	}
}

// --- placement ---

// openOrderSet places the strategy's full order set around mid. For the
// paired strategy this opens a new cluster record.
func (e *Engine) openOrderSet(ctx context.Context, mid float64) error {
	if e.session.Config.Strategy == domain.StrategyPaired {
		e.seq++
		e.cluster = &domain.Cluster{
			SessionID: e.session.ID,
			Seq:       e.seq,
			MidPrice:  mid,
			CreatedAt: time.Now(),
		}
	}

	specs := e.strategy.ComputeOrderSet(mid)
	if err := e.placeBatch(ctx, specs); err != nil {
		return err
	}

	if e.session.Config.Strategy == domain.StrategyPaired {
		if err := e.clusters.InsertCluster(ctx, e.cluster); err != nil {
			e.logger.Warn("cluster write failed", zap.Error(err))
		}
		e.logger.Info("cluster opened",
			zap.Int("seq", e.cluster.Seq),
			zap.Float64("mid_price", mid),
			zap.Float64("buy_price", e.cluster.Buy.Price),
			zap.Float64("sell_price", e.cluster.Sell.Price))
	}
	return nil
}

// placeBatch submits specs in order. A rejected placement aborts the batch
// and is recorded on the session; legs already placed are left resting.
func (e *Engine) placeBatch(ctx context.Context, specs []domain.OrderSpec) error {
	for i, spec := range specs {
		if i > 0 && e.cfg.PlacementSpacing > 0 {
			time.Sleep(e.cfg.PlacementSpacing)
		}
		placed, err := e.gateway.PlaceLimitOrder(ctx, e.session.Config.Symbol, spec.Side, spec.Quantity, spec.Price)
		if err != nil {
			return fmt.Errorf("place %s %v @ %v: %w", spec.Side, spec.Quantity, spec.Price, err)
		}
		e.applyPlacement(ctx, spec, placed.OrderID)
	}
	return nil
}

func (e *Engine) applyPlacement(ctx context.Context, spec domain.OrderSpec, orderID string) {
	lo := domain.LiveOrder{
		OrderID:  orderID,
		Side:     spec.Side,
		Price:    spec.Price,
		Quantity: spec.Quantity,
		Level:    spec.Level,
		PlacedAt: time.Now(),
	}
	e.live = append(e.live, lo)
	e.placedCount++

	e.logger.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("side", string(spec.Side)),
		zap.Float64("price", spec.Price),
		zap.Float64("quantity", spec.Quantity))

	if e.session.Config.Strategy == domain.StrategyLadder {
		if err := e.orders.InsertOrder(ctx, e.session.ID, &lo); err != nil {
			e.logger.Warn("order write failed", zap.Error(err))
		}
		return
	}

	if e.cluster == nil {
		return
	}
	leg := domain.Leg{
		OrderID:  orderID,
		Price:    spec.Price,
		Quantity: spec.Quantity,
		Status:   domain.LegOpen,
	}
	if spec.Side == domain.SideBuy {
		e.cluster.Buy = leg
	} else {
		e.cluster.Sell = leg
	}
	e.persistCluster(ctx)
}

// cancelAllLive cancels every tracked live order best-effort. The exchange
// may have already filled or cancelled any of them.
func (e *Engine) cancelAllLive(ctx context.Context) {
	for _, o := range e.live {
		if err := e.gateway.CancelOrder(ctx, o.OrderID, e.session.Config.Symbol); err != nil {
			e.logger.Warn("cancel failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}
	e.live = e.live[:0]
}

// --- persistence (logged, never fatal) ---

func (e *Engine) persistCluster(ctx context.Context) {
	if e.cluster == nil {
		return
	}
	if err := e.clusters.UpdateCluster(ctx, e.cluster); err != nil {
		e.logger.Warn("cluster update failed", zap.Error(err))
	}
}

func (e *Engine) persistCounters(ctx context.Context) {
	uptime := int64(0)
	if !e.startTime.IsZero() {
		uptime = int64(time.Since(e.startTime).Seconds())
	}
	if err := e.sessions.UpdateSessionCounters(ctx, e.session.ID, int64(e.seq), e.fills, e.totalPnL, uptime); err != nil {
		e.logger.Warn("counters update failed", zap.Error(err))
	}
}

func (e *Engine) setStatus(status domain.SessionStatus, errMsg string) {
	e.session.Status = status
	e.session.ErrorMessage = errMsg
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	if err := e.sessions.UpdateSessionStatus(ctx, e.session.ID, status, errMsg); err != nil {
		e.logger.Warn("status update failed",
			zap.String("status", string(status)), zap.Error(err))
	}
}

func (e *Engine) recordError(ctx context.Context, err error) {
	e.session.ErrorMessage = err.Error()
	if uerr := e.sessions.UpdateSessionStatus(ctx, e.session.ID, e.session.Status, err.Error()); uerr != nil {
		e.logger.Warn("error message update failed", zap.Error(uerr))
	}
}

func (e *Engine) fail(err error) {
	e.logger.Error("session failed", zap.Error(err))
	e.setStatus(domain.StatusFailed, err.Error())
}
