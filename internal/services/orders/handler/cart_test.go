package handler

import "testing"

func TestCartSetAndGet(t *testing.T) {
	cart := &Cart{UserID: 1}

	cart.Set(10, 2)
	if got := cart.Get(10); got != 2 {
		t.Errorf("Get(10) = %d, want 2", got)
	}

	cart.Set(10, 5)
	if got := cart.Get(10); got != 5 {
		t.Errorf("Get(10) after reset = %d, want 5", got)
	}
	if len(cart.Lines) != 1 {
		t.Errorf("Set must not duplicate lines, got %d", len(cart.Lines))
	}
}

func TestCartSetZeroRemoves(t *testing.T) {
	cart := &Cart{UserID: 1}
	cart.Set(10, 2)
	cart.Set(10, 0)

	if !cart.IsEmpty() {
		t.Error("setting quantity to zero should drop the line")
	}
}

func TestCartAddAccumulates(t *testing.T) {
	cart := &Cart{UserID: 1}
	cart.Add(10, 2)
	cart.Add(10, 3)

	if got := cart.Get(10); got != 5 {
		t.Errorf("Get(10) = %d, want 5", got)
	}
}

func TestCartRemove(t *testing.T) {
	cart := &Cart{UserID: 1}
	cart.Add(10, 2)
	cart.Add(20, 1)

	cart.Remove(10)
	if cart.Get(10) != 0 {
		t.Error("removed line should be gone")
	}
	if cart.Get(20) != 1 {
		t.Error("other lines must survive a remove")
	}

	// Removing an absent dish is a no-op.
	cart.Remove(99)
	if len(cart.Lines) != 1 {
		t.Errorf("lines = %d, want 1", len(cart.Lines))
	}
}

func TestCartTotalItems(t *testing.T) {
	cart := &Cart{UserID: 1}
	if cart.TotalItems() != 0 {
		t.Error("empty cart should total zero")
	}

	cart.Add(10, 2)
	cart.Add(20, 3)
	if got := cart.TotalItems(); got != 5 {
		t.Errorf("TotalItems() = %d, want 5", got)
	}
}
