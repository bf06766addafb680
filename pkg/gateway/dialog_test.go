package gateway

import "testing"

func TestDialogHistory_CapsAtLimit(t *testing.T) {
	d := NewDialogHistory(20)
	for i := 0; i < 30; i++ {
		d.Add(RoleUser, "msg")
	}
	if d.Len() != 20 {
		t.Fatalf("expected length capped at 20, got %d", d.Len())
	}
}

func TestDialogHistory_SnapshotIsIndependentCopy(t *testing.T) {
	d := NewDialogHistory(20)
	d.Add(RoleUser, "hello")

	snap := d.Snapshot()
	snap[0].Content = "mutated"

	if d.Snapshot()[0].Content != "hello" {
		t.Fatalf("mutating a snapshot must not affect the underlying history")
	}
}

func TestDialogHistory_ClearEmpties(t *testing.T) {
	d := NewDialogHistory(20)
	d.Add(RoleUser, "hello")
	d.Clear()
	if d.Len() != 0 {
		t.Fatalf("expected empty history after Clear, got %d", d.Len())
	}
}
