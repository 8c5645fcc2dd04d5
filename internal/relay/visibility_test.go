package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSleeper struct {
	calls []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.calls = append(f.calls, d)
	return nil
}

func (f *fakeSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range f.calls {
		sum += d
	}
	return sum
}

// laggingStore hides written rows until visibleAfter polls have missed.
type laggingStore struct {
	*InMemoryDatastore
	visibleAfter int
	polls        int
	failPut      bool
}

func (s *laggingStore) PutMessage(ctx context.Context, rec *MessageRecord) (int64, error) {
	if s.failPut {
		return 0, nil
	}
	return s.InMemoryDatastore.PutMessage(ctx, rec)
}

func (s *laggingStore) CountMessages(ctx context.Context, retrievalID string) (int, error) {
	s.polls++
	if s.visibleAfter < 0 || s.polls <= s.visibleAfter {
		return 0, nil
	}
	return s.InMemoryDatastore.CountMessages(ctx, retrievalID)
}

func TestCommitAndAwaitVisibleWaitFormula(t *testing.T) {
	for n := 0; n <= 7; n++ {
		store := &laggingStore{InMemoryDatastore: NewInMemoryDatastore(), visibleAfter: n}
		sleeper := &fakeSleeper{}
		coordinator := NewCoordinator(store, CoordinatorOptions{Sleep: sleeper.Sleep})

		report, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid", SenderToken: "tok", Message: []byte("m")})
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		want := time.Duration(float64(250*time.Millisecond) * float64((int(1)<<n)-1))
		if sleeper.total() != want || report.Waited != want {
			t.Fatalf("n=%d: expected total wait %s, got slept=%s reported=%s", n, want, sleeper.total(), report.Waited)
		}
		if !report.Visible {
			t.Fatalf("n=%d: expected record visible", n)
		}
		if report.Polls != n+1 {
			t.Fatalf("n=%d: expected %d polls, got %d", n, n+1, report.Polls)
		}
	}
}

func TestCommitAndAwaitVisibleCeilingProceeds(t *testing.T) {
	store := &laggingStore{InMemoryDatastore: NewInMemoryDatastore(), visibleAfter: -1}
	sleeper := &fakeSleeper{}
	var observed []VisibilityReport
	coordinator := NewCoordinator(store, CoordinatorOptions{
		Sleep:    sleeper.Sleep,
		OnReport: func(r VisibilityReport) { observed = append(observed, r) },
	})

	report, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid", SenderToken: "tok"})
	if err != nil {
		t.Fatalf("expected ceiling to proceed without error, got %v", err)
	}
	if report.Visible {
		t.Fatalf("expected record reported not visible")
	}
	if sleeper.total() != 32*time.Second {
		t.Fatalf("expected cumulative wait 32s, got %s", sleeper.total())
	}
	last := sleeper.calls[len(sleeper.calls)-1]
	if last != 250*time.Millisecond {
		t.Fatalf("expected final sleep clamped to 250ms, got %s", last)
	}
	if len(observed) != 1 || observed[0].ID != report.ID {
		t.Fatalf("expected one observed report, got %+v", observed)
	}
}

func TestCommitAndAwaitVisibleNoIdentity(t *testing.T) {
	store := &laggingStore{InMemoryDatastore: NewInMemoryDatastore(), failPut: true}
	sleeper := &fakeSleeper{}
	coordinator := NewCoordinator(store, CoordinatorOptions{Sleep: sleeper.Sleep})

	_, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid"})
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}
	if FailureMessage(err) != "Unable to create new message." {
		t.Fatalf("unexpected failure message %q", FailureMessage(err))
	}
	if store.polls != 0 || len(sleeper.calls) != 0 {
		t.Fatalf("expected no polling after failed write, got polls=%d sleeps=%d", store.polls, len(sleeper.calls))
	}
}

func TestCommitAndAwaitVisibleLargePayloadGoesToBlobStore(t *testing.T) {
	store := NewInMemoryDatastore()
	blobs := NewInMemoryBlobStore()
	coordinator := NewCoordinator(store, CoordinatorOptions{
		Blobs:       blobs,
		InlineLimit: 8,
		NewBlobKey:  func() string { return "blob-1" },
	})

	payload := []byte("0123456789")
	report, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid", Payload: payload})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if report.BlobKey != "blob-1" {
		t.Fatalf("expected blob key blob-1, got %q", report.BlobKey)
	}
	stored, ok := store.Message("rid")
	if !ok || stored.BlobKey != "blob-1" || len(stored.Payload) != 0 {
		t.Fatalf("expected stored record to reference blob, got %+v", stored)
	}
	data, err := blobs.Get(context.Background(), "blob-1")
	if err != nil || string(data) != string(payload) {
		t.Fatalf("expected blob payload %q, got %q (%v)", payload, data, err)
	}
}

func TestCommitAndAwaitVisibleRemovesBlobWhenWriteFails(t *testing.T) {
	store := &laggingStore{InMemoryDatastore: NewInMemoryDatastore(), failPut: true}
	blobs := NewInMemoryBlobStore()
	coordinator := NewCoordinator(store, CoordinatorOptions{
		Blobs:       blobs,
		InlineLimit: 4,
		NewBlobKey:  func() string { return "blob-orphan" },
	})

	_, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid", Payload: []byte("0123456789")})
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected blob to be removed after failed write, got %d blobs", blobs.Len())
	}
}

func TestCommitAndAwaitVisibleSmallPayloadStaysInline(t *testing.T) {
	store := NewInMemoryDatastore()
	blobs := NewInMemoryBlobStore()
	coordinator := NewCoordinator(store, CoordinatorOptions{Blobs: blobs, InlineLimit: 8})

	if _, err := coordinator.CommitAndAwaitVisible(context.Background(), &MessageRecord{RetrievalID: "rid", Payload: []byte("12345678")}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	stored, _ := store.Message("rid")
	if stored.BlobKey != "" || string(stored.Payload) != "12345678" {
		t.Fatalf("expected inline payload, got %+v", stored)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected no blobs written, got %d", blobs.Len())
	}
}

func TestSleepContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
