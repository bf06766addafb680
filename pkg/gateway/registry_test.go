package gateway

import "testing"

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	c := NewConnection("client-1", "device-1", ListenAuto, DefaultConfig(), Providers{}, nil, nil, r)

	r.Add(c)

	got, ok := r.Get("client-1")
	if !ok || got != c {
		t.Fatalf("expected to find the registered connection")
	}

	if _, ok := r.Session(c.SessionID); !ok {
		t.Fatalf("expected a session record for the new connection")
	}

	r.Remove("client-1")
	if _, ok := r.Get("client-1"); ok {
		t.Fatalf("expected connection removed from registry")
	}

	// Device/session records are append-only and survive removal.
	if _, ok := r.Session(c.SessionID); !ok {
		t.Fatalf("expected session record to survive connection removal")
	}
}

func TestRegistry_UpdateDeviceAndTouch(t *testing.T) {
	r := NewRegistry()
	c := NewConnection("client-2", "device-2", ListenAuto, DefaultConfig(), Providers{}, nil, nil, r)
	r.Add(c)

	r.UpdateDevice("client-2", "aa:bb:cc", "speaker-v2")
	d, ok := r.Device("client-2")
	if !ok {
		t.Fatalf("expected device record")
	}
	if d.MAC != "aa:bb:cc" || d.Model != "speaker-v2" {
		t.Fatalf("unexpected device info: %+v", d)
	}

	before := d.LastActivity
	r.Touch("client-2")
	after, _ := r.Device("client-2")
	if !after.LastActivity.After(before) && after.LastActivity != before {
		t.Fatalf("expected last_activity to advance on Touch")
	}
}
