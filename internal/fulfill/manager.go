// Package fulfill implements the fulfillment manager: it admits trade
// requests from the decision manager, assigns unique order IDs, submits
// orders to the exchange, and drives each order through its lifecycle until
// it is finalized into the historical trade store.
package fulfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autotrader/internal/bus"
	"autotrader/internal/domain"
	"autotrader/internal/exchange"
	"autotrader/internal/store"
	"autotrader/internal/util"
)

// Config holds the timing parameters of the fulfillment manager.
type Config struct {
	Tick                 time.Duration // dispatch interval
	OpenTradeTTL         time.Duration // processing deadline before reorder
	CallTimeout          time.Duration // deadline for each bus, exchange, and store call
	HandshakeMaxAttempts int
	HandshakeBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Tick == 0 {
		c.Tick = time.Second
	}
	if c.OpenTradeTTL == 0 {
		c.OpenTradeTTL = time.Hour
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.HandshakeMaxAttempts == 0 {
		c.HandshakeMaxAttempts = 30
	}
	if c.HandshakeBackoff == 0 {
		c.HandshakeBackoff = 2 * time.Second
	}
}

// Manager owns the order queue. All queue mutation happens through its
// methods under a single mutex: the serving goroutine admits orders, the
// dispatch loop advances them, and the stream listener applies updates, but
// nothing outside the manager ever touches an order's status.
type Manager struct {
	exchange   exchange.Exchange
	openTrades store.OpenTradeStore
	trades     store.TradeStore
	thresholds store.ThresholdStore
	ids        *Generator

	inbox  *bus.Mailbox // requests from the decision manager
	outbox *bus.Mailbox // replies and probes to the decision manager

	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	queue     []*domain.Order
	state     domain.ManagerState
	peerState domain.ManagerState
}

// NewManager creates a fulfillment manager wired with the given dependencies.
func NewManager(
	ex exchange.Exchange,
	openTrades store.OpenTradeStore,
	trades store.TradeStore,
	thresholds store.ThresholdStore,
	inbox, outbox *bus.Mailbox,
	cfg Config,
) *Manager {
	cfg.applyDefaults()
	return &Manager{
		exchange:   ex,
		openTrades: openTrades,
		trades:     trades,
		thresholds: thresholds,
		ids:        NewGenerator(openTrades, trades),
		inbox:      inbox,
		outbox:     outbox,
		cfg:        cfg,
		log:        slog.Default().With("manager", "fulfillment"),
		state:      domain.ManagerStateInit,
		peerState:  domain.ManagerStateUnknown,
	}
}

// State returns the manager's lifecycle state.
func (m *Manager) State() domain.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s domain.ManagerState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// PeerState returns the last state reported by the decision manager.
func (m *Manager) PeerState() domain.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerState
}

func (m *Manager) setPeerState(s domain.ManagerState) {
	m.mu.Lock()
	m.peerState = s
	m.mu.Unlock()
}

// QueueSize returns the number of orders currently held in the queue.
func (m *Manager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Run recovers persisted orders, answers bus traffic, and drives the dispatch
// loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.setState(domain.ManagerStateStarting)

	if err := m.Recover(ctx); err != nil {
		m.setState(domain.ManagerStateError)
		return fmt.Errorf("recovering open trades: %w", err)
	}

	// Serve bus traffic before the handshake so the peer's own probes are
	// answered while we wait for it.
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		m.serve(ctx)
	}()

	m.setState(domain.ManagerStateReady)

	if err := m.handshake(ctx); err != nil {
		m.setState(domain.ManagerStateError)
		return err
	}

	m.setState(domain.ManagerStateRunning)
	m.log.Info("dispatch loop started", "tick", m.cfg.Tick, "queue", m.QueueSize())

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-serveDone
			m.setState(domain.ManagerStateStopped)
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// handshake probes the peer's STATUS until it reports ready, bounded by a
// maximum attempt count.
func (m *Manager) handshake(ctx context.Context) error {
	for attempt := 1; attempt <= m.cfg.HandshakeMaxAttempts; attempt++ {
		if m.PeerState().Ready() {
			return nil
		}
		if err := m.send(ctx, bus.NewRequest(bus.RequestStatus)); err != nil {
			m.log.Warn("status probe not delivered", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.HandshakeBackoff):
		}
	}
	if m.PeerState().Ready() {
		return nil
	}
	return fmt.Errorf("decision manager not ready after %d status probes", m.cfg.HandshakeMaxAttempts)
}

func (m *Manager) send(ctx context.Context, e bus.Envelope) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.outbox.Send(sendCtx, e)
}

// serve handles inbound envelopes until the context is cancelled.
func (m *Manager) serve(ctx context.Context) {
	for {
		e, err := m.inbox.Recv(ctx)
		if err != nil {
			return
		}
		m.handle(ctx, e)
	}
}

func (m *Manager) handle(ctx context.Context, e bus.Envelope) {
	if !e.IsRequest() {
		if e.Response == bus.ResponseStatus {
			m.setPeerState(e.ManagerState)
		}
		return
	}

	var reply bus.Envelope
	switch e.Request {
	case bus.RequestStatus:
		reply = e.Reply(bus.ResponseStatus, bus.StatusSuccessful)
		reply.ManagerState = m.State()
	case bus.RequestTrade:
		reply = m.handleTrade(ctx, e)
	case bus.RequestAllowance:
		reply = m.handleAllowance(ctx, e)
	case bus.RequestHoldings:
		reply = m.handleHoldings(ctx, e)
	case bus.RequestThresholds:
		reply = m.handleThresholds(ctx, e)
	default:
		m.log.Warn("unhandled request", "type", e.Request)
		reply = e.Reply(bus.ResponseType(e.Request), bus.StatusUnknown)
	}

	if err := m.send(ctx, reply); err != nil {
		m.log.Error("reply not delivered", "type", reply.Response, "error", err)
	}
}

// handleTrade admits an order into the queue. A request for an asset that
// already has a non-terminal order is answered EXISTS and the new order is
// marked CANCELLED without persistence.
func (m *Manager) handleTrade(ctx context.Context, e bus.Envelope) bus.Envelope {
	order := e.Order
	reply := e.Reply(bus.ResponseTrade, bus.StatusUnsuccessful)
	reply.Order = order
	if order == nil {
		return reply
	}

	if m.hasOpenOrder(order.Asset.Name) {
		order.Status = domain.OrderStatusCancelled
		m.log.Info("duplicate trade request", "asset", order.Asset.Name, "side", order.Side)
		reply.Status = bus.StatusExists
		return reply
	}

	if order.Asset.ID == 0 {
		id, err := m.ids.Generate(ctx, order.Side)
		if err != nil {
			m.log.Error("order id generation failed", "asset", order.Asset.Name, "error", err)
			return reply
		}
		order.Asset.ID = id
	}

	order.Status = domain.OrderStatusQueued
	order.Asset.LastUpdated = time.Now()
	if err := m.upsertOpenTrade(ctx, store.OpenTradeFromOrder(order)); err != nil {
		m.log.Error("persisting admitted order failed", "asset", order.Asset.Name, "order_id", order.Asset.ID, "error", err)
		return reply
	}
	m.enqueue(order)

	m.log.Info("order admitted", "asset", order.Asset.Name, "side", order.Side, "order_id", order.Asset.ID)
	reply.Status = bus.StatusSuccessful
	return reply
}

// handleAllowance sizes the order in place: Value from the exchange's cash
// allowance, Qty from the allowance and current price (BUY) or the held
// position (SELL). Both must be non-negative for a SUCCESSFUL reply.
func (m *Manager) handleAllowance(ctx context.Context, e bus.Envelope) bus.Envelope {
	order := e.Order
	reply := e.Reply(bus.ResponseAllowance, bus.StatusUnsuccessful)
	reply.Order = order
	if order == nil {
		return reply
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	allowance, err := m.exchange.Allowance(callCtx)
	if err != nil || allowance < 0 {
		m.log.Warn("allowance unavailable", "asset", order.Asset.Name, "allowance", allowance, "error", err)
		return reply
	}
	order.Asset.Value = allowance

	qty, err := m.exchange.Quantity(callCtx, order)
	if err != nil || qty < 0 {
		m.log.Warn("order sizing failed", "asset", order.Asset.Name, "qty", qty, "error", err)
		return reply
	}
	order.Asset.Qty = qty

	reply.Status = bus.StatusSuccessful
	return reply
}

func (m *Manager) handleHoldings(ctx context.Context, e bus.Envelope) bus.Envelope {
	reply := e.Reply(bus.ResponseHoldings, bus.StatusUnsuccessful)
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	holdings, err := m.exchange.Holdings(callCtx)
	if err != nil {
		m.log.Warn("holdings unavailable", "error", err)
		return reply
	}
	reply.Holdings = holdings
	reply.Status = bus.StatusSuccessful
	return reply
}

func (m *Manager) handleThresholds(ctx context.Context, e bus.Envelope) bus.Envelope {
	reply := e.Reply(bus.ResponseThresholds, bus.StatusUnsuccessful)
	reply.Asset = e.Asset
	if e.Asset == nil {
		return reply
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	buy, sell, err := m.thresholds.Get(callCtx, e.Asset.Name)
	if err != nil {
		m.log.Error("threshold lookup failed", "asset", e.Asset.Name, "error", err)
		return reply
	}
	reply.BuyThreshold = buy
	reply.SellThreshold = sell
	reply.Status = bus.StatusSuccessful
	return reply
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func (m *Manager) hasOpenOrder(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.queue {
		if o.Asset.Name == name && !o.Status.Terminal() {
			return true
		}
	}
	return false
}

func (m *Manager) enqueue(order *domain.Order) {
	m.mu.Lock()
	m.queue = append(m.queue, order)
	m.mu.Unlock()
}

func (m *Manager) dequeue(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.queue {
		if o == order {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) snapshot() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Order, len(m.queue))
	copy(out, m.queue)
	return out
}

// orderStatus reads an order's status under the queue mutex. The serving
// goroutine and the stream listener write statuses under the same mutex, so
// the dispatch loop must never read one bare.
func (m *Manager) orderStatus(order *domain.Order) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return order.Status
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// Tick advances every order in the queue one step: QUEUED orders are
// submitted, in-flight orders are refreshed from the exchange, FILLED orders
// are finalized, and stuck or failed orders are reordered.
func (m *Manager) Tick(ctx context.Context) {
	for _, order := range m.snapshot() {
		switch m.orderStatus(order) {
		case domain.OrderStatusQueued:
			m.fulfill(ctx, order)
		case domain.OrderStatusProcessing, domain.OrderStatusAccepted:
			m.poll(ctx, order)
		}

		if m.orderStatus(order) == domain.OrderStatusFilled {
			m.finalize(ctx, order)
		} else if m.stuckOrFailed(order) {
			m.reorder(ctx, order)
		}
	}
}

// fulfill submits a queued order to the exchange and marks it PROCESSING.
// Submission is skipped while the market is closed; the order stays QUEUED.
func (m *Manager) fulfill(ctx context.Context, order *domain.Order) {
	open, err := m.marketOpen(ctx)
	if err != nil {
		m.log.Warn("market clock unavailable", "error", err)
		return
	}
	if !open {
		m.log.Debug("market closed, order held", "asset", order.Asset.Name, "order_id", order.Asset.ID)
		return
	}

	err = util.Retry(ctx, 3, time.Second, func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		return m.exchange.Fulfill(callCtx, order)
	})
	if err != nil {
		m.log.Error("order submission failed", "asset", order.Asset.Name, "order_id", order.Asset.ID, "error", err)
		return
	}

	m.mu.Lock()
	// A streamed fill can land between submission and this write; never
	// walk a terminal status back.
	if !order.Status.Terminal() {
		order.Status = domain.OrderStatusProcessing
	}
	order.Asset.LastUpdated = time.Now()
	row := store.OpenTradeFromOrder(order)
	m.mu.Unlock()

	if err := m.upsertOpenTrade(ctx, row); err != nil {
		m.log.Error("persisting submitted order failed", "order_id", order.Asset.ID, "error", err)
	}
	m.log.Info("order submitted", "asset", order.Asset.Name, "side", order.Side, "order_id", order.Asset.ID, "qty", order.Asset.Qty)
}

func (m *Manager) marketOpen(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.exchange.MarketOpen(callCtx)
}

func (m *Manager) upsertOpenTrade(ctx context.Context, row store.OpenTrade) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.openTrades.Upsert(callCtx, row)
}

// poll refreshes an in-flight order's status from the exchange's ground
// truth. A terminal local status is never overwritten.
func (m *Manager) poll(ctx context.Context, order *domain.Order) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	status, _, err := m.exchange.OrderStatus(callCtx, order.Asset.ID)
	cancel()
	if err != nil {
		m.log.Warn("order status unavailable", "order_id", order.Asset.ID, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if order.Status.Terminal() {
		return
	}
	if status.Terminal() {
		m.log.Info("order reached terminal state", "asset", order.Asset.Name, "order_id", order.Asset.ID, "status", status)
		order.Status = status
	}
}

// ApplyUpdate applies a streamed exchange-side order event to the matching
// queued order. Updates for unknown orders or orders already in a terminal
// state are dropped; the finalize step still runs on the dispatch tick.
func (m *Manager) ApplyUpdate(u exchange.OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.queue {
		if order.Asset.ID != u.OrderID {
			continue
		}
		if order.Status.Terminal() || !u.Status.Terminal() {
			return
		}
		m.log.Info("streamed order update", "asset", order.Asset.Name, "order_id", u.OrderID, "status", u.Status)
		order.Status = u.Status
		return
	}
}

// finalize commits a filled order to the historical trade store, then deletes
// its open-trade row, then drops it from the queue. The ordering makes a
// crash between the steps re-finalizable instead of lossy.
func (m *Manager) finalize(ctx context.Context, order *domain.Order) {
	m.mu.Lock()
	trade := store.TradeFromOrder(order)
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.trades.Upsert(callCtx, trade); err != nil {
		m.log.Error("committing filled order failed", "order_id", order.Asset.ID, "error", err)
		return
	}
	if err := m.openTrades.Delete(callCtx, order.Asset.ID); err != nil {
		m.log.Error("deleting open trade failed", "order_id", order.Asset.ID, "error", err)
		return
	}
	m.dequeue(order)
	m.log.Info("order finalized", "asset", order.Asset.Name, "side", order.Side, "order_id", order.Asset.ID)
}

// stuckOrFailed reports whether the order has exceeded its processing
// deadline or sits in a failure state.
func (m *Manager) stuckOrFailed(order *domain.Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.Status == domain.OrderStatusProcessing &&
		time.Since(order.Asset.LastUpdated) >= m.cfg.OpenTradeTTL {
		return true
	}
	switch order.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusFailed, domain.OrderStatusRejected:
		return true
	}
	return false
}

// reorder cancels the exchange-side order best-effort, refreshes the
// order's deadline, re-persists it, and resubmits. The status is left
// unchanged.
func (m *Manager) reorder(ctx context.Context, order *domain.Order) {
	m.log.Warn("order stuck or failed, reordering", "asset", order.Asset.Name, "order_id", order.Asset.ID, "status", order.Status)

	cancelCtx, done := context.WithTimeout(ctx, m.cfg.CallTimeout)
	if err := m.exchange.Cancel(cancelCtx, order.Asset.ID); err != nil {
		m.log.Debug("cancel before resubmit failed", "order_id", order.Asset.ID, "error", err)
	}
	done()

	m.mu.Lock()
	order.Asset.LastUpdated = time.Now()
	row := store.OpenTradeFromOrder(order)
	m.mu.Unlock()

	if err := m.upsertOpenTrade(ctx, row); err != nil {
		m.log.Error("re-persisting order failed", "order_id", order.Asset.ID, "error", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.exchange.Fulfill(callCtx, order); err != nil {
		m.log.Error("resubmission failed", "order_id", order.Asset.ID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Crash recovery
// ---------------------------------------------------------------------------

// Recover reloads every open-trade row, derives each order's authoritative
// status from the exchange, and admits them into the queue. Only one order
// per asset name is admitted; duplicates are logged and dropped.
func (m *Manager) Recover(ctx context.Context) error {
	rows, err := m.openTrades.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading open trades: %w", err)
	}

	admitted := make(map[string]bool, len(rows))
	for _, row := range rows {
		if admitted[row.Name] {
			m.log.Warn("dropping duplicate recovered order", "asset", row.Name, "order_id", row.OrderID)
			continue
		}

		order := row.Order()
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		status, filled, err := m.exchange.OrderStatus(callCtx, row.OrderID)
		cancel()
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			// Never reached the exchange; submit it fresh.
			order.Status = domain.OrderStatusQueued
		case err != nil:
			return fmt.Errorf("querying exchange for order %d: %w", row.OrderID, err)
		case status.Terminal():
			order.Status = status
		default:
			order.Status = domain.OrderStatusProcessing
			if filled > 0 {
				order.Asset.Qty -= filled
			}
		}

		admitted[row.Name] = true
		m.enqueue(order)
		m.log.Info("order recovered", "asset", order.Asset.Name, "order_id", order.Asset.ID, "status", order.Status)
	}
	return nil
}
