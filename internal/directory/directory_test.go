package directory

import "testing"

func TestRegister_EmptyRequestSynthesizesID(t *testing.T) {
	d := New()
	id := d.Register(nil, "")
	if id != "peer_1" {
		t.Fatalf("id = %q, want peer_1", id)
	}
	id2 := d.Register(nil, "")
	if id2 != "peer_2" {
		t.Fatalf("id2 = %q, want peer_2", id2)
	}
}

func TestRegister_DuplicateRequestSynthesizesFresh(t *testing.T) {
	d := New()
	first := d.Register(nil, "peer_1")
	if first != "peer_1" {
		t.Fatalf("first = %q", first)
	}
	second := d.Register(nil, "peer_1")
	if second == "peer_1" {
		t.Fatal("expected a fresh synthesized id for the duplicate request")
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestRegister_RequestedIDIsHonoredWhenFree(t *testing.T) {
	d := New()
	id := d.Register(nil, "bob")
	if id != "bob" {
		t.Fatalf("id = %q, want bob", id)
	}
}

func TestUnregister_RemovesEntry(t *testing.T) {
	d := New()
	d.Register(nil, "bob")
	d.Unregister("bob")
	if _, ok := d.Lookup("bob"); ok {
		t.Fatal("expected bob to be removed")
	}
}

func TestListExcluding_ExcludesSelfAndIsStable(t *testing.T) {
	d := New()
	d.Register(nil, "bob")
	d.Register(nil, "alice")

	got := d.ListExcluding("bob")
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("got %v", got)
	}

	got2 := d.ListExcluding("bob")
	if got[0] != got2[0] {
		t.Fatal("expected stable ordering across calls")
	}
}

func TestUnregisterThenReregister_IDIsReusable(t *testing.T) {
	d := New()
	d.Register(nil, "bob")
	d.Unregister("bob")
	id := d.Register(nil, "bob")
	if id != "bob" {
		t.Fatalf("id = %q, want bob reusable after cleanup", id)
	}
}
