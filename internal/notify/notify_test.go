// internal/notify/notify_test.go
//
// Unit-tests for the domain-event dispatcher.
//
// Run: go test ./internal/notify -v

package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/perkloop/loyalty/internal/loyalty"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	d := NewDispatcher(8, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	d.Emit(Event{TenantID: 1, MemberID: 10, Kind: loyalty.KindReview})
	d.Emit(Event{TenantID: 1, MemberID: 11, Kind: loyalty.KindVideo})
	d.Close() // drains before returning

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].MemberID != 10 || got[1].MemberID != 11 {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestDispatcher_StampsIDAndTime(t *testing.T) {
	var got Event
	d := NewDispatcher(1, func(ev Event) { got = ev })

	d.Emit(Event{TenantID: 3, Kind: loyalty.KindSignup})
	d.Close()

	if got.ID == "" {
		t.Error("expected a generated event id")
	}
	if got.At.IsZero() || time.Since(got.At) > time.Minute {
		t.Errorf("expected a recent timestamp, got %v", got.At)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	d := NewDispatcher(1, func(ev Event) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	// First event occupies the consumer, second fills the buffer, third is
	// dropped without blocking.
	d.Emit(Event{TenantID: 1})
	d.Emit(Event{TenantID: 2})
	done := make(chan struct{})
	go func() {
		d.Emit(Event{TenantID: 3})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if delivered > 2 {
		t.Fatalf("expected at most 2 delivered events, got %d", delivered)
	}
}
