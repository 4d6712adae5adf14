// Package bus carries typed request/response envelopes between the decision
// and fulfillment managers over bounded channels, one mailbox per logical
// link. No error ever crosses the bus: every failure is encoded as a
// Status so the receiving manager can always make progress from bus
// data alone.
package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"autotrader/internal/domain"
)

// RequestType classifies a request made to the peer manager.
type RequestType string

const (
	RequestTrade      RequestType = "TRADE"
	RequestAllowance  RequestType = "ALLOWANCE"
	RequestHoldings   RequestType = "HOLDINGS"
	RequestThresholds RequestType = "THRESHOLDS"
	RequestStatus     RequestType = "STATUS"
)

// ResponseType classifies a response from the peer manager.
type ResponseType string

const (
	ResponseTrade      ResponseType = "TRADE"
	ResponseAllowance  ResponseType = "ALLOWANCE"
	ResponseHoldings   ResponseType = "HOLDINGS"
	ResponseThresholds ResponseType = "THRESHOLDS"
	ResponseStatus     ResponseType = "STATUS"
)

// Status is the outcome carried in a response envelope.
type Status string

const (
	StatusNone         Status = "NONE"
	StatusUnknown      Status = "UNKNOWN"
	StatusSuccessful   Status = "SUCCESSFUL"
	StatusUnsuccessful Status = "UNSUCCESSFUL"
	StatusMarketClosed Status = "MARKET_CLOSED"
	StatusExists       Status = "EXISTS"
	StatusDenied       Status = "DENIED"
)

// Envelope is the tagged union exchanged between managers. Exactly one of
// Request and Response is populated. Responses copy the ID of the request
// they answer so callers can correlate.
type Envelope struct {
	ID       uuid.UUID
	Request  RequestType
	Response ResponseType

	Status        Status
	Order         *domain.Order
	Asset         *domain.Asset
	Holdings      []domain.Asset
	BuyThreshold  float64
	SellThreshold float64
	ManagerState  domain.ManagerState
}

// NewRequest creates a request envelope with a fresh correlation ID.
func NewRequest(t RequestType) Envelope {
	return Envelope{ID: uuid.New(), Request: t, Status: StatusNone}
}

// Reply creates a response envelope answering e, preserving its ID.
func (e Envelope) Reply(t ResponseType, status Status) Envelope {
	return Envelope{ID: e.ID, Response: t, Status: status}
}

// IsRequest reports whether the envelope carries a request.
func (e Envelope) IsRequest() bool { return e.Request != "" }

// Mailbox is one directional link between the managers: a named, bounded
// channel. A full mailbox makes Send block until the consumer drains it or
// the sender's context expires, so a slow consumer cannot stall a publisher
// indefinitely.
type Mailbox struct {
	name string
	ch   chan Envelope
}

// NewMailbox creates a mailbox with the given buffer size.
func NewMailbox(name string, size int) *Mailbox {
	return &Mailbox{name: name, ch: make(chan Envelope, size)}
}

// Name returns the link identifier, used in logs.
func (m *Mailbox) Name() string { return m.name }

// Send delivers an envelope, honouring context cancellation while the buffer
// is full.
func (m *Mailbox) Send(ctx context.Context, e Envelope) error {
	select {
	case m.ch <- e:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending on %s: %w", m.name, ctx.Err())
	}
}

// Recv blocks until an envelope arrives or the context is done.
func (m *Mailbox) Recv(ctx context.Context) (Envelope, error) {
	select {
	case e := <-m.ch:
		return e, nil
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("receiving on %s: %w", m.name, ctx.Err())
	}
}

// C exposes the underlying channel for use in select loops.
func (m *Mailbox) C() <-chan Envelope { return m.ch }
