package vad

import "testing"

func TestStubVAD_AlternatesHighLow(t *testing.T) {
	v := NewStubVAD()
	window := make([]byte, 1024)

	for i := 0; i < StubToggleInterval-1; i++ {
		p, err := v.Probability(window)
		if err != nil {
			t.Fatalf("window %d: unexpected error: %v", i, err)
		}
		if p >= 0.5 {
			t.Fatalf("window %d: expected low probability, got %v", i, p)
		}
	}

	p, err := v.Probability(window)
	if err != nil {
		t.Fatal(err)
	}
	if p < 0.5 {
		t.Fatalf("expected toggle to high probability, got %v", p)
	}
}

func TestStubVAD_Reset(t *testing.T) {
	v := NewStubVAD()
	window := make([]byte, 1024)

	for i := 0; i <= StubToggleInterval; i++ {
		v.Probability(window)
	}
	p, _ := v.Probability(window)
	if p < 0.5 {
		t.Fatal("expected high probability before reset")
	}

	v.Reset()
	p, _ = v.Probability(window)
	if p >= 0.5 {
		t.Fatal("expected low probability immediately after reset")
	}
}

func TestStubVAD_CloneIsIndependent(t *testing.T) {
	v := NewStubVAD()
	window := make([]byte, 1024)

	for i := 0; i < StubToggleInterval; i++ {
		v.Probability(window)
	}

	clone := v.Clone()
	p, _ := clone.Probability(window)
	if p >= 0.5 {
		t.Fatal("expected fresh clone to start in low-probability state regardless of source state")
	}
}

func TestStubVAD_Name(t *testing.T) {
	v := NewStubVAD()
	if v.Name() != "stub" {
		t.Fatalf("expected name stub, got %s", v.Name())
	}
}
