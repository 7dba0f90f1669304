package relaygraph

import "testing"

func TestInsert_IsIdempotentAndOrderInsensitive(t *testing.T) {
	g := New()
	g.Insert("a", "b")
	g.Insert("a", "b")
	g.Insert("b", "a")
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	if !g.Contains("a", "b") || !g.Contains("b", "a") {
		t.Fatal("expected pair to be present regardless of argument order")
	}
}

func TestInsert_RejectsSelfPair(t *testing.T) {
	g := New()
	g.Insert("a", "a")
	if g.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for a self-pair", g.Len())
	}
}

func TestRemove_EitherEndpointRemovesPair(t *testing.T) {
	g := New()
	g.Insert("a", "b")
	g.Remove("b", "a")
	if g.Contains("a", "b") {
		t.Fatal("expected pair to be removed")
	}
}

func TestRemove_AbsentPairIsNoError(t *testing.T) {
	g := New()
	g.Remove("a", "b")
	if g.Len() != 0 {
		t.Fatal("expected no pairs")
	}
}

func TestRemoveAll_ReturnsPartnersAndClearsThem(t *testing.T) {
	g := New()
	g.Insert("x", "a")
	g.Insert("x", "b")
	g.Insert("a", "b")

	partners := g.RemoveAll("x")
	if len(partners) != 2 {
		t.Fatalf("partners = %v, want 2 entries", partners)
	}
	if g.Contains("x", "a") || g.Contains("x", "b") {
		t.Fatal("expected x's pairs to be gone")
	}
	if !g.Contains("a", "b") {
		t.Fatal("expected unrelated pair to survive")
	}
}

func TestPartnersOf_EmptyWhenNoPairs(t *testing.T) {
	g := New()
	if got := g.PartnersOf("x"); len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}
