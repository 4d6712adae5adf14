package trade

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"autotrader/internal/bus"
	"autotrader/internal/domain"
	"autotrader/internal/exchange"
	"autotrader/internal/fulfill"
	"autotrader/internal/store"
)

type fixedProposer struct{ conf float64 }

func (p fixedProposer) Name() string { return "fixed" }

func (p fixedProposer) Confidence(context.Context, *domain.Asset) (float64, error) {
	return p.conf, nil
}

// newPair wires a decision manager and a fulfillment manager over real
// mailboxes, backed by a temp SQLite store and the paper exchange.
func newPair(t *testing.T, watchlist []string, confidence float64) (*Manager, *fulfill.Manager, *exchange.Paper, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"), 1.0, -1.0, slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	paper := exchange.NewPaper(100000, 0.1)
	toEM := bus.NewMailbox("to-fulfillment", 16)
	toTM := bus.NewMailbox("to-decision", 16)

	em := fulfill.NewManager(paper, s.OpenTrades(), s.Trades(), s.Thresholds(), toEM, toTM, fulfill.Config{
		Tick:             10 * time.Millisecond,
		HandshakeBackoff: 5 * time.Millisecond,
	})
	tm := NewManager(fixedProposer{conf: confidence}, toTM, toEM, Config{
		Watchlist:        watchlist,
		Tick:             10 * time.Millisecond,
		HandshakeBackoff: 5 * time.Millisecond,
	})
	return tm, em, paper, s
}

func startPair(t *testing.T, tm *Manager, em *fulfill.Manager) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = em.Run(ctx) }()
	go func() { _ = tm.Run(ctx) }()
	return ctx
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBuyNegotiationEndToEnd(t *testing.T) {
	tm, em, paper, s := newPair(t, []string{"TSLA"}, 2.0)
	ctx := startPair(t, tm, em)

	eventually(t, 5*time.Second, func() bool { return em.QueueSize() == 1 }, "no order admitted")

	rows, err := s.OpenTrades().GetAll(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("open trades = %v, %v", rows, err)
	}
	row := rows[0]
	if row.Side != domain.OrderSideBuy || row.Name != "TSLA" {
		t.Errorf("row = %+v, want BUY TSLA", row)
	}
	if row.OrderID < 100000 || row.OrderID > 199999 {
		t.Errorf("order id = %d, want BUY prefix", row.OrderID)
	}

	// Sized from the 10% cash allowance at the default price of 100.
	eventually(t, 5*time.Second, func() bool { return paper.Submissions(row.OrderID) >= 1 }, "order never submitted")
	if row.Qty != 100 {
		t.Errorf("qty = %f, want 100", row.Qty)
	}

	paper.FillOrder(row.OrderID)
	eventually(t, 5*time.Second, func() bool {
		done, _ := s.Trades().Exists(ctx, row.OrderID)
		return done
	}, "filled order never committed to trades")
	// Assert on this order ID only: the still-running decision manager is
	// free to re-admit TSLA under a fresh ID the moment this one finalizes.
	eventually(t, 5*time.Second, func() bool {
		open, _ := s.OpenTrades().Exists(ctx, row.OrderID)
		return !open
	}, "filled order never finalized out of open trades")
}

func TestSellNegotiationUsesPosition(t *testing.T) {
	tm, em, paper, s := newPair(t, []string{"TSLA"}, -2.0)
	paper.SetPosition("TSLA", 7)
	ctx := startPair(t, tm, em)

	eventually(t, 5*time.Second, func() bool { return em.QueueSize() == 1 }, "no sell order admitted")

	rows, err := s.OpenTrades().GetAll(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("open trades = %v, %v", rows, err)
	}
	row := rows[0]
	if row.Side != domain.OrderSideSell {
		t.Errorf("side = %s, want SELL", row.Side)
	}
	if row.OrderID < 200000 || row.OrderID > 299999 {
		t.Errorf("order id = %d, want SELL prefix", row.OrderID)
	}
	if row.Qty != 7 {
		t.Errorf("qty = %f, want the held position of 7", row.Qty)
	}
}

func TestDuplicateProposalsKeepSingleOrder(t *testing.T) {
	tm, em, paper, s := newPair(t, []string{"TSLA"}, 2.0)
	ctx := startPair(t, tm, em)

	eventually(t, 5*time.Second, func() bool { return em.QueueSize() == 1 }, "no order admitted")
	rows, _ := s.OpenTrades().GetAll(ctx)
	orderID := rows[0].OrderID

	// Many more proposal ticks pass; the in-flight order must absorb them.
	time.Sleep(100 * time.Millisecond)
	if n := em.QueueSize(); n != 1 {
		t.Errorf("queue size = %d, want 1", n)
	}
	if n := paper.Submissions(orderID); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}
}

func TestConfidenceWithinThresholdsProposesNothing(t *testing.T) {
	tm, em, _, _ := newPair(t, []string{"TSLA"}, 0)
	startPair(t, tm, em)

	eventually(t, 5*time.Second, func() bool { return tm.State() == domain.ManagerStateRunning }, "manager never started")
	time.Sleep(100 * time.Millisecond)
	if n := em.QueueSize(); n != 0 {
		t.Errorf("queue size = %d, want 0 for neutral confidence", n)
	}
}

func TestHoldingsQuery(t *testing.T) {
	tm, em, paper, _ := newPair(t, []string{"TSLA"}, 0)
	paper.SetPosition("AAPL", 5)
	ctx := startPair(t, tm, em)

	eventually(t, 5*time.Second, func() bool { return tm.State() == domain.ManagerStateRunning }, "manager never started")

	holdings, err := tm.Holdings(ctx)
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Name != "AAPL" || holdings[0].Qty != 5 {
		t.Errorf("holdings = %+v, want AAPL qty 5", holdings)
	}
}

func TestHandshakeBoundedFailure(t *testing.T) {
	toTM := bus.NewMailbox("to-decision", 16)
	toEM := bus.NewMailbox("to-fulfillment", 16)
	tm := NewManager(fixedProposer{}, toTM, toEM, Config{
		Watchlist:            []string{"TSLA"},
		CallTimeout:          10 * time.Millisecond,
		HandshakeMaxAttempts: 2,
		HandshakeBackoff:     time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tm.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want handshake exhaustion error", err)
	}
	if tm.State() != domain.ManagerStateError {
		t.Errorf("state = %s, want ERROR", tm.State())
	}
}
