package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"autotrader/internal/domain"
)

// OrderUpdate is a brokerage-side order event pushed over the update stream.
type OrderUpdate struct {
	OrderID   int64
	Status    domain.OrderStatus
	FilledQty float64
}

// Listener maintains a websocket connection to the brokerage order-update
// stream and forwards fills, cancellations, and rejections between dispatch
// ticks. The dispatch loop's polling remains the source of truth; the
// listener only makes the manager react sooner.
type Listener struct {
	url    string
	key    string
	secret string
	apply  func(OrderUpdate)
	log    *slog.Logger

	readTimeout time.Duration
	backoff     time.Duration
}

// NewListener creates a Listener that invokes apply for every decoded order
// update.
func NewListener(url, key, secret string, apply func(OrderUpdate), log *slog.Logger) *Listener {
	return &Listener{
		url:         url,
		key:         key,
		secret:      secret,
		apply:       apply,
		log:         log.With("component", "exchange-listener"),
		readTimeout: 60 * time.Second,
		backoff:     5 * time.Second,
	}
}

// Run connects and reads updates until the context is cancelled, redialling
// with a fixed backoff after any connection failure.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("stream disconnected, redialling", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// streamMessage is the wire envelope of the brokerage update stream.
type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string `json:"event"`
		Order struct {
			ClientOrderID string `json:"client_order_id"`
			FilledQty     string `json:"filled_qty"`
		} `json:"order"`
	} `json:"data"`
}

func (l *Listener) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dialling %s: %w", l.url, err)
	}
	defer conn.Close()

	auth := map[string]any{
		"action": "authenticate",
		"data":   map[string]string{"key_id": l.key, "secret_key": l.secret},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	sub := map[string]any{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	l.log.Info("listening for trade updates", "url", l.url)

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			l.log.Warn("undecodable stream message", "error", err)
			continue
		}
		if msg.Stream != "trade_updates" {
			continue
		}

		update, ok := decodeUpdate(msg)
		if !ok {
			continue
		}
		l.apply(update)
	}
}

// decodeUpdate maps a stream event onto an OrderUpdate. Events that carry no
// status change for the state machine are dropped.
func decodeUpdate(msg streamMessage) (OrderUpdate, bool) {
	id, err := strconv.ParseInt(msg.Data.Order.ClientOrderID, 10, 64)
	if err != nil {
		return OrderUpdate{}, false
	}

	var status domain.OrderStatus
	switch msg.Data.Event {
	case "fill":
		status = domain.OrderStatusFilled
	case "partial_fill", "new":
		status = domain.OrderStatusAccepted
	case "canceled":
		status = domain.OrderStatusCancelled
	case "rejected", "expired":
		status = domain.OrderStatusRejected
	default:
		return OrderUpdate{}, false
	}

	filled := 0.0
	if msg.Data.Order.FilledQty != "" {
		if f, err := strconv.ParseFloat(msg.Data.Order.FilledQty, 64); err == nil {
			filled = f
		}
	}
	return OrderUpdate{OrderID: id, Status: status, FilledQty: filled}, true
}
