// Package trade implements the decision manager: on each tick it scores
// every watchlist asset through a strategy proposer, compares the confidence
// against the asset's persisted thresholds, and negotiates an allowance and a
// trade with the fulfillment manager over the bus.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/bus"
	"autotrader/internal/domain"
	"autotrader/internal/strategy"
)

// Config holds the decision manager's watchlist and timing parameters.
type Config struct {
	Watchlist   []string
	AssetType   domain.AssetType
	TradeIntent domain.TradeIntent

	Tick                 time.Duration
	CallTimeout          time.Duration
	HandshakeMaxAttempts int
	HandshakeBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.AssetType == "" {
		c.AssetType = domain.AssetTypePaperStock
	}
	if c.TradeIntent == "" {
		c.TradeIntent = domain.TradeIntentShortTrade
	}
	if c.Tick == 0 {
		c.Tick = time.Second
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

// Manager proposes trades. Every cross-manager exchange is a correlated
// request/response pair: requests go out on the outbox and the serving
// goroutine routes responses back to the waiting caller by envelope ID.
type Manager struct {
	proposer strategy.Proposer

	inbox  *bus.Mailbox // responses and probes from the fulfillment manager
	outbox *bus.Mailbox // requests to the fulfillment manager

	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     domain.ManagerState
	peerState domain.ManagerState
	pending   map[uuid.UUID]chan bus.Envelope
}

// NewManager creates a decision manager wired with the given proposer and
// mailboxes.
func NewManager(proposer strategy.Proposer, inbox, outbox *bus.Mailbox, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		proposer:  proposer,
		inbox:     inbox,
		outbox:    outbox,
		cfg:       cfg,
		log:       slog.Default().With("manager", "decision"),
		state:     domain.ManagerStateInit,
		peerState: domain.ManagerStateUnknown,
		pending:   make(map[uuid.UUID]chan bus.Envelope),
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

// Run serves bus traffic, performs the readiness handshake, and then walks
// the watchlist on every tick until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.setState(domain.ManagerStateStarting)

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
	m.log.Info("proposal loop started", "tick", m.cfg.Tick, "watchlist", m.cfg.Watchlist, "proposer", m.proposer.Name())

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-serveDone
			m.setState(domain.ManagerStateStopped)
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range m.cfg.Watchlist {
				m.evaluate(ctx, symbol)
			}
		}
	}
}

// handshake probes the fulfillment manager's STATUS until it reports ready,
// bounded by a maximum attempt count.
func (m *Manager) handshake(ctx context.Context) error {
	for attempt := 1; attempt <= m.cfg.HandshakeMaxAttempts; attempt++ {
		resp, err := m.call(ctx, bus.NewRequest(bus.RequestStatus))
		if err == nil && resp.ManagerState.Ready() {
			m.mu.Lock()
			m.peerState = resp.ManagerState
			m.mu.Unlock()
			return nil
		}
		if err != nil {
			m.log.Warn("status probe failed", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.HandshakeBackoff):
		}
	}
	return fmt.Errorf("fulfillment manager not ready after %d status probes", m.cfg.HandshakeMaxAttempts)
}

// serve routes inbound envelopes: peer requests are answered inline, and
// responses are delivered to the caller waiting on the matching ID.
func (m *Manager) serve(ctx context.Context) {
	for {
		e, err := m.inbox.Recv(ctx)
		if err != nil {
			return
		}

		if e.IsRequest() {
			if e.Request == bus.RequestStatus {
				reply := e.Reply(bus.ResponseStatus, bus.StatusSuccessful)
				reply.ManagerState = m.State()
				sendCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
				if err := m.outbox.Send(sendCtx, reply); err != nil {
					m.log.Error("status reply not delivered", "error", err)
				}
				cancel()
			} else {
				m.log.Warn("unhandled request", "type", e.Request)
			}
			continue
		}

		m.mu.Lock()
		ch, ok := m.pending[e.ID]
		m.mu.Unlock()
		if !ok {
			m.log.Debug("uncorrelated response dropped", "type", e.Response, "id", e.ID)
			continue
		}
		ch <- e
	}
}

// call sends a request and blocks until the correlated response arrives or
// the call deadline expires.
func (m *Manager) call(ctx context.Context, req bus.Envelope) (bus.Envelope, error) {
	ch := make(chan bus.Envelope, 1)
	m.mu.Lock()
	m.pending[req.ID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.outbox.Send(callCtx, req); err != nil {
		return bus.Envelope{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-callCtx.Done():
		return bus.Envelope{}, fmt.Errorf("awaiting %s response: %w", req.Request, callCtx.Err())
	}
}

// evaluate runs the three-step negotiation for one symbol: thresholds,
// allowance, trade. Any non-successful step ends the evaluation; the symbol
// is revisited on the next tick.
func (m *Manager) evaluate(ctx context.Context, symbol string) {
	asset := domain.NewAsset(symbol, m.cfg.AssetType)
	asset.TradeIntent = m.cfg.TradeIntent

	req := bus.NewRequest(bus.RequestThresholds)
	req.Asset = asset
	resp, err := m.call(ctx, req)
	if err != nil || resp.Status != bus.StatusSuccessful {
		m.log.Warn("thresholds unavailable", "asset", symbol, "status", resp.Status, "error", err)
		return
	}
	buy, sell := resp.BuyThreshold, resp.SellThreshold

	confidence, err := m.proposer.Confidence(ctx, asset)
	if err != nil {
		m.log.Error("confidence scoring failed", "asset", symbol, "error", err)
		return
	}

	var side domain.OrderSide
	switch {
	case confidence >= buy:
		side = domain.OrderSideBuy
	case confidence <= sell:
		side = domain.OrderSideSell
	default:
		m.log.Debug("no trade", "asset", symbol, "confidence", confidence, "buy", buy, "sell", sell)
		return
	}
	order := domain.NewOrder(side, *asset)

	areq := bus.NewRequest(bus.RequestAllowance)
	areq.Order = order
	aresp, err := m.call(ctx, areq)
	if err != nil || aresp.Status != bus.StatusSuccessful {
		m.log.Warn("allowance denied", "asset", symbol, "side", side, "status", aresp.Status, "error", err)
		return
	}
	if aresp.Order != nil {
		order = aresp.Order
	}

	treq := bus.NewRequest(bus.RequestTrade)
	treq.Order = order
	tresp, err := m.call(ctx, treq)
	if err != nil {
		m.log.Warn("trade request failed", "asset", symbol, "error", err)
		return
	}
	switch tresp.Status {
	case bus.StatusSuccessful:
		m.log.Info("trade admitted", "asset", symbol, "side", side, "confidence", confidence, "qty", order.Asset.Qty, "order_id", order.Asset.ID)
	case bus.StatusExists:
		m.log.Debug("trade already in flight", "asset", symbol, "side", side)
	default:
		m.log.Warn("trade rejected", "asset", symbol, "side", side, "status", tresp.Status)
	}
}

// Holdings queries the fulfillment manager for the current exchange-side
// positions.
func (m *Manager) Holdings(ctx context.Context) ([]domain.Asset, error) {
	resp, err := m.call(ctx, bus.NewRequest(bus.RequestHoldings))
	if err != nil {
		return nil, err
	}
	if resp.Status != bus.StatusSuccessful {
		return nil, fmt.Errorf("holdings request answered %s", resp.Status)
	}
	return resp.Holdings, nil
}
