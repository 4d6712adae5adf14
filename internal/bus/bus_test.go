package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"autotrader/internal/domain"
)

func TestSendRecv(t *testing.T) {
	m := NewMailbox("tm-to-em", 4)
	ctx := context.Background()

	req := NewRequest(RequestThresholds)
	req.Asset = domain.NewAsset("TSLA", domain.AssetTypePaperStock)

	if err := m.Send(ctx, req); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	got, err := m.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv returned error: %v", err)
	}
	if got.ID != req.ID {
		t.Errorf("ID = %v, want %v", got.ID, req.ID)
	}
	if !got.IsRequest() || got.Request != RequestThresholds {
		t.Errorf("Request = %q, want %q", got.Request, RequestThresholds)
	}
	if got.Asset == nil || got.Asset.Name != "TSLA" {
		t.Errorf("Asset = %+v, want TSLA", got.Asset)
	}
}

func TestReplyPreservesCorrelationID(t *testing.T) {
	req := NewRequest(RequestTrade)
	resp := req.Reply(ResponseTrade, StatusExists)

	if resp.ID != req.ID {
		t.Errorf("reply ID = %v, want request ID %v", resp.ID, req.ID)
	}
	if resp.IsRequest() {
		t.Error("reply should not be a request")
	}
	if resp.Status != StatusExists {
		t.Errorf("Status = %q, want %q", resp.Status, StatusExists)
	}
}

func TestStatusHandshakeReply(t *testing.T) {
	// The STATUS response type and the outcome Status live side by side on
	// every handshake reply; keep both names usable together.
	probe := NewRequest(RequestStatus)
	reply := probe.Reply(ResponseStatus, StatusSuccessful)
	reply.ManagerState = domain.ManagerStateReady

	if reply.Response != ResponseStatus {
		t.Errorf("Response = %q, want %q", reply.Response, ResponseStatus)
	}
	var outcome Status = reply.Status
	if outcome != StatusSuccessful {
		t.Errorf("Status = %q, want %q", outcome, StatusSuccessful)
	}
}

func TestSendBlocksUntilContextExpires(t *testing.T) {
	m := NewMailbox("full-link", 1)
	ctx := context.Background()

	if err := m.Send(ctx, NewRequest(RequestStatus)); err != nil {
		t.Fatalf("first Send returned error: %v", err)
	}

	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := m.Send(timed, NewRequest(RequestStatus))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Send = %v, want deadline exceeded", err)
	}
}

func TestRecvHonoursContext(t *testing.T) {
	m := NewMailbox("empty-link", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recv = %v, want deadline exceeded", err)
	}
}
