package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/db"
)

// memRepo mimics the store's conditional-update semantics in memory.
type memRepo struct {
	attempts map[string]*db.DeliveryAttempt

	markCalls  int
	mergeCalls int
	touchCalls int
	failErr    error
	lookupErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{attempts: make(map[string]*db.DeliveryAttempt)}
}

func (m *memRepo) seed(ref string) *db.DeliveryAttempt {
	a := &db.DeliveryAttempt{
		ID:             uuid.New(),
		ProviderRef:    ref,
		PhoneNumber:    "+15551234567",
		Status:         db.StatusInitiated,
		ProviderStatus: db.StatusInitiated,
		CostCents:      2,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.attempts[ref] = a
	return a
}

func (m *memRepo) GetAttemptByRef(ctx context.Context, ref string) (*db.DeliveryAttempt, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	a, ok := m.attempts[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrAttemptNotFound, ref)
	}
	return a, nil
}

func (m *memRepo) MarkAttemptTerminal(ctx context.Context, ref, status string, failureReason *string, durationSeconds *int, costCents *int) (bool, error) {
	m.markCalls++
	if m.failErr != nil {
		return false, m.failErr
	}

	a, ok := m.attempts[ref]
	if !ok || a.Status != db.StatusInitiated {
		return false, nil
	}

	a.Status = status
	a.ProviderStatus = status
	a.FailureReason = failureReason
	if durationSeconds != nil {
		a.DurationSeconds = durationSeconds
	}
	if costCents != nil {
		a.CostCents = *costCents
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *memRepo) MergeAttemptDuration(ctx context.Context, ref string, durationSeconds int) (bool, error) {
	m.mergeCalls++
	a, ok := m.attempts[ref]
	if !ok || a.DurationSeconds != nil {
		return false, nil
	}
	a.DurationSeconds = &durationSeconds
	return true, nil
}

func (m *memRepo) RecordProviderStatus(ctx context.Context, ref, providerStatus string) error {
	if a, ok := m.attempts[ref]; ok && a.Status == db.StatusInitiated {
		a.ProviderStatus = providerStatus
	}
	return nil
}

func (m *memRepo) TouchAttempt(ctx context.Context, ref string) error {
	m.touchCalls++
	if a, ok := m.attempts[ref]; ok {
		a.UpdatedAt = time.Now()
	}
	return nil
}

type fixedFinalizer struct{ centsPerMinute int }

func (f fixedFinalizer) Finalize(durationSeconds int) int {
	minutes := (durationSeconds + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return minutes * f.centsPerMinute
}

func intPtr(n int) *int { return &n }

func TestHandleCallbackTerminalMapping(t *testing.T) {
	tests := []struct {
		name           string
		providerStatus string
		wantStatus     string
		wantReason     string
	}{
		{name: "completed maps to delivered", providerStatus: "completed", wantStatus: db.StatusDelivered},
		{name: "failed", providerStatus: "failed", wantStatus: db.StatusFailed, wantReason: "failed"},
		{name: "canceled maps to failed", providerStatus: "canceled", wantStatus: db.StatusFailed, wantReason: "canceled"},
		{name: "busy", providerStatus: "busy", wantStatus: db.StatusBusy, wantReason: "busy"},
		{name: "no-answer", providerStatus: "no-answer", wantStatus: db.StatusNoAnswer, wantReason: "no-answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			repo.seed("CA100")
			trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

			err := trk.HandleCallback(context.Background(), Callback{
				AttemptRef: "CA100",
				Status:     tt.providerStatus,
			})
			if err != nil {
				t.Fatalf("HandleCallback failed: %v", err)
			}

			a := repo.attempts["CA100"]
			if a.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", a.Status, tt.wantStatus)
			}
			if tt.wantReason == "" {
				if a.FailureReason != nil {
					t.Errorf("failure reason = %v, want nil", *a.FailureReason)
				}
			} else if a.FailureReason == nil || *a.FailureReason != tt.wantReason {
				t.Errorf("failure reason = %v, want %s", a.FailureReason, tt.wantReason)
			}
		})
	}
}

func TestHandleCallbackFinalizesCost(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA200")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

	err := trk.HandleCallback(context.Background(), Callback{
		AttemptRef:      "CA200",
		Status:          "completed",
		DurationSeconds: intPtr(95),
	})
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	a := repo.attempts["CA200"]
	if a.DurationSeconds == nil || *a.DurationSeconds != 95 {
		t.Errorf("duration = %v, want 95", a.DurationSeconds)
	}
	// 95s rounds up to two minutes.
	if a.CostCents != 4 {
		t.Errorf("cost = %d, want finalized 4", a.CostCents)
	}
}

func TestHandleCallbackFirstTerminalWins(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA300")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())
	ctx := context.Background()

	if err := trk.HandleCallback(ctx, Callback{AttemptRef: "CA300", Status: "busy"}); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	// A conflicting late terminal callback must not override.
	if err := trk.HandleCallback(ctx, Callback{AttemptRef: "CA300", Status: "completed"}); err != nil {
		t.Fatalf("late callback failed: %v", err)
	}

	a := repo.attempts["CA300"]
	if a.Status != db.StatusBusy {
		t.Errorf("status = %s, late callback overrode first terminal", a.Status)
	}
	if repo.touchCalls == 0 {
		t.Error("duplicate terminal callback should still touch the record")
	}
}

func TestHandleCallbackDuplicateIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA400")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())
	ctx := context.Background()

	cb := Callback{AttemptRef: "CA400", Status: "completed", DurationSeconds: intPtr(30)}
	if err := trk.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	costAfterFirst := repo.attempts["CA400"].CostCents

	if err := trk.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	a := repo.attempts["CA400"]
	if a.Status != db.StatusDelivered {
		t.Errorf("status = %s, want delivered", a.Status)
	}
	if a.CostCents != costAfterFirst {
		t.Errorf("cost changed on redelivery: %d -> %d", costAfterFirst, a.CostCents)
	}
	if repo.markCalls != 2 {
		t.Errorf("markCalls = %d, want 2 (second must be a no-op CAS)", repo.markCalls)
	}
}

func TestHandleCallbackMergesLateDuration(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA500")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())
	ctx := context.Background()

	// First terminal callback arrives without a duration.
	if err := trk.HandleCallback(ctx, Callback{AttemptRef: "CA500", Status: "completed"}); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if repo.attempts["CA500"].DurationSeconds != nil {
		t.Fatal("duration set before any callback carried one")
	}

	// The duplicate carries the duration; it merges without changing status.
	if err := trk.HandleCallback(ctx, Callback{AttemptRef: "CA500", Status: "completed", DurationSeconds: intPtr(42)}); err != nil {
		t.Fatalf("duplicate callback failed: %v", err)
	}

	a := repo.attempts["CA500"]
	if a.DurationSeconds == nil || *a.DurationSeconds != 42 {
		t.Errorf("duration = %v, want merged 42", a.DurationSeconds)
	}
	if a.Status != db.StatusDelivered {
		t.Errorf("status = %s, want delivered unchanged", a.Status)
	}
}

func TestHandleCallbackIntermediateStatus(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA600")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

	err := trk.HandleCallback(context.Background(), Callback{AttemptRef: "CA600", Status: "ringing"})
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	a := repo.attempts["CA600"]
	if a.Status != db.StatusInitiated {
		t.Errorf("status = %s, intermediate status forced a transition", a.Status)
	}
	if a.ProviderStatus != "ringing" {
		t.Errorf("provider status = %s, want verbatim ringing", a.ProviderStatus)
	}
}

func TestHandleCallbackUnknownAttempt(t *testing.T) {
	repo := newMemRepo()
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

	err := trk.HandleCallback(context.Background(), Callback{AttemptRef: "CAmissing", Status: "completed"})
	if !errors.Is(err, ErrUnknownAttempt) {
		t.Fatalf("error = %v, want ErrUnknownAttempt", err)
	}
}

func TestHandleCallbackLookupFailure(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA900")
	repo.lookupErr = errors.New("connection reset by peer")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

	err := trk.HandleCallback(context.Background(), Callback{AttemptRef: "CA900", Status: "completed"})
	if err == nil {
		t.Fatal("transient lookup failure must surface so the provider retries")
	}
	// A failed read is not a missing attempt; acking it would lose the
	// callback and strand the attempt in initiated.
	if errors.Is(err, ErrUnknownAttempt) || errors.Is(err, ErrMalformedCallback) {
		t.Errorf("lookup failure mapped to a drop class: %v", err)
	}
}

func TestHandleCallbackMalformed(t *testing.T) {
	repo := newMemRepo()
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())
	ctx := context.Background()

	if err := trk.HandleCallback(ctx, Callback{Status: "completed"}); !errors.Is(err, ErrMalformedCallback) {
		t.Errorf("missing ref: error = %v, want ErrMalformedCallback", err)
	}
	if err := trk.HandleCallback(ctx, Callback{AttemptRef: "CA1"}); !errors.Is(err, ErrMalformedCallback) {
		t.Errorf("missing status: error = %v, want ErrMalformedCallback", err)
	}
}

func TestHandleCallbackStoreFailure(t *testing.T) {
	repo := newMemRepo()
	repo.seed("CA700")
	repo.failErr = errors.New("connection reset")
	trk := New(repo, fixedFinalizer{centsPerMinute: 2}, zap.NewNop())

	err := trk.HandleCallback(context.Background(), Callback{AttemptRef: "CA700", Status: "completed"})
	if err == nil {
		t.Fatal("store failure must surface so the provider retries")
	}
	if errors.Is(err, ErrUnknownAttempt) || errors.Is(err, ErrMalformedCallback) {
		t.Errorf("store failure mapped to a drop class: %v", err)
	}
}
