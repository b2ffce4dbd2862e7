package journal

import (
	"strconv"
	"sync"
	"testing"

	"github.com/tradewire/accountsync/internal/connection"
)

func ev(i int) connection.Event {
	return connection.Event{
		AccountID: strconv.Itoa(i),
		Kind:      connection.EventConnected,
	}
}

func TestEventBuffer_BasicSendReceive(t *testing.T) {
	buf := newEventBuffer(10)

	for i := 0; i < 5; i++ {
		if !buf.Send(ev(i)) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		got, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if got.AccountID != strconv.Itoa(i) {
			t.Errorf("received %s, want %d", got.AccountID, i)
		}
	}

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}

	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive on empty buffer should return false")
	}
}

func TestEventBuffer_GrowAt70Percent(t *testing.T) {
	buf := newEventBuffer(10)

	for i := 0; i < 7; i++ {
		buf.Send(ev(i))
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	// All items still readable in order.
	for i := 0; i < 7; i++ {
		got, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if got.AccountID != strconv.Itoa(i) {
			t.Errorf("received %s, want %d", got.AccountID, i)
		}
	}
}

func TestEventBuffer_WrapAroundGrow(t *testing.T) {
	buf := newEventBuffer(5)

	buf.Send(ev(1))
	buf.Send(ev(2))
	buf.Send(ev(3))

	buf.TryReceive()
	buf.TryReceive()

	// These wrap, then force growth across the wrap point.
	buf.Send(ev(4))
	buf.Send(ev(5))
	buf.Send(ev(6))
	buf.Send(ev(7))
	buf.Send(ev(8))

	expected := []int{3, 4, 5, 6, 7, 8}
	for _, want := range expected {
		got, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive failed, expected %d", want)
		}
		if got.AccountID != strconv.Itoa(want) {
			t.Errorf("got %s, want %d", got.AccountID, want)
		}
	}
}

func TestEventBuffer_Close(t *testing.T) {
	buf := newEventBuffer(10)

	buf.Send(ev(1))
	buf.Send(ev(2))
	buf.Close()

	if buf.Send(ev(3)) {
		t.Error("Send should return false after Close")
	}

	// Queued events stay readable.
	got, ok := buf.TryReceive()
	if !ok || got.AccountID != "1" {
		t.Errorf("TryReceive() = %s, %v; want 1, true", got.AccountID, ok)
	}
	got, ok = buf.TryReceive()
	if !ok || got.AccountID != "2" {
		t.Errorf("TryReceive() = %s, %v; want 2, true", got.AccountID, ok)
	}
	if _, ok = buf.TryReceive(); ok {
		t.Error("TryReceive should return false when empty and closed")
	}
}

func TestEventBuffer_DrainTo(t *testing.T) {
	buf := newEventBuffer(10)

	for i := 0; i < 10; i++ {
		buf.Send(ev(i))
	}

	items := buf.DrainTo(5)
	if len(items) != 5 {
		t.Errorf("DrainTo(5) returned %d items, want 5", len(items))
	}
	for i, got := range items {
		if got.AccountID != strconv.Itoa(i) {
			t.Errorf("items[%d] = %s, want %d", i, got.AccountID, i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	// 0 means all.
	items = buf.DrainTo(0)
	if len(items) != 5 {
		t.Errorf("DrainTo(0) returned %d items, want 5", len(items))
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
	if buf.DrainTo(0) != nil {
		t.Error("DrainTo on empty buffer should return nil")
	}
}

func TestEventBuffer_ConcurrentSend(t *testing.T) {
	buf := newEventBuffer(4)
	const numItems = 500

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numItems/4; i++ {
				buf.Send(ev(w*1000 + i))
			}
		}()
	}
	wg.Wait()

	if buf.Len() != numItems {
		t.Errorf("Len() = %d, want %d", buf.Len(), numItems)
	}

	seen := make(map[string]bool)
	for _, item := range buf.DrainTo(0) {
		if seen[item.AccountID] {
			t.Errorf("duplicate item %s", item.AccountID)
		}
		seen[item.AccountID] = true
	}
	if len(seen) != numItems {
		t.Errorf("drained %d distinct items, want %d", len(seen), numItems)
	}
}

func TestNewEventBuffer_MinCapacity(t *testing.T) {
	buf := newEventBuffer(0)
	if buf.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", buf.Cap())
	}

	buf = newEventBuffer(-5)
	if buf.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for negative initial capacity", buf.Cap())
	}
}
