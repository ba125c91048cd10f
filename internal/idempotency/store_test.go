package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestCreateIfNotExists_Get_MarkDone_Reopen(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "webhook-events", 48*time.Hour)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	ctx := context.Background()
	eventID := "evt_123"

	created, err := s.CreateIfNotExists(ctx, eventID, "payment_intent.succeeded", "pi_1")
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// redelivery sees the existing record
	created2, err := s.CreateIfNotExists(ctx, eventID, "payment_intent.succeeded", "pi_1")
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.Status != StatusInProgress || rec.PaymentRef != "pi_1" || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt != fixed.Add(48*time.Hour).Unix() {
		t.Fatalf("unexpected ttl %d", rec.ExpiresAt)
	}

	if err := s.MarkFailed(ctx, eventID, "throttled"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := mock.table[eventID]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item["status"])
	}
	if n, ok := item["note"].(*types.AttributeValueMemberS); !ok || n.Value != "throttled" {
		t.Fatalf("note not set, got %+v", item["note"])
	}

	reopened, err := s.Reopen(ctx, eventID)
	if err != nil || !reopened {
		t.Fatalf("expected failed event to reopen, got (%v, %v)", reopened, err)
	}
	rec, _ = s.Get(ctx, eventID)
	if rec.Status != StatusInProgress || rec.Attempts != 2 {
		t.Fatalf("unexpected reopened record: %+v", rec)
	}

	if err := s.MarkDone(ctx, eventID); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	reopened, err = s.Reopen(ctx, eventID)
	if err != nil || reopened {
		t.Fatalf("DONE event must not reopen, got (%v, %v)", reopened, err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(newSimpleMock(), "webhook-events", 0)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
	if s.ttlWindow != DefaultTTL {
		t.Fatalf("expected default ttl, got %s", s.ttlWindow)
	}
}

func TestCreateIfNotExists_StorageError(t *testing.T) {
	mock := newSimpleMock()
	mock.err = errors.New("service unavailable")
	s := NewStore(mock, "webhook-events", time.Hour)
	created, err := s.CreateIfNotExists(context.Background(), "evt", "t", "")
	if err == nil || created {
		t.Fatalf("expected error, got (%v, %v)", created, err)
	}
}
