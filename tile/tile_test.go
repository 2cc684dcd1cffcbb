package tile

import "testing"

func TestValid(t *testing.T) {
	valid := []Key{
		{0, 0, 0},
		{3, 2, 2},
		{(1 << 21) - 1, (1 << 21) - 1, 21},
	}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("Expected %v to be valid", k)
		}
	}
	invalid := []Key{
		{1, 0, 0},
		{0, -1, 3},
		{8, 0, 3},
		{0, 0, 22},
		{0, 0, -1},
	}
	for _, k := range invalid {
		if k.Valid() {
			t.Errorf("Expected %v to be invalid", k)
		}
	}
}

func TestWrapX(t *testing.T) {
	if got := (Key{X: -1, Y: 0, Z: 2}).WrapX(); got != (Key{X: 3, Y: 0, Z: 2}) {
		t.Errorf("Bad wrap of negative x: %v", got)
	}
	if got := (Key{X: 9, Y: 1, Z: 3}).WrapX(); got != (Key{X: 1, Y: 1, Z: 3}) {
		t.Errorf("Bad wrap of overflowing x: %v", got)
	}
}

func TestParentChildren(t *testing.T) {
	k := Key{X: 5, Y: 3, Z: 4}
	for _, c := range k.Children() {
		if c.Parent() != k {
			t.Errorf("Child %v does not point back to %v", c, k)
		}
	}
	if (Key{0, 0, 0}).Parent() != (Key{0, 0, 0}) {
		t.Error("Root tile should be its own parent")
	}
}

func TestNeighborsWrapAndClip(t *testing.T) {
	corner := Key{X: 0, Y: 0, Z: 3}
	neighbors := corner.Neighbors()
	if len(neighbors) != 5 {
		t.Errorf("Expected 5 neighbors at the top edge, got %d: %v", len(neighbors), neighbors)
	}
	for _, n := range neighbors {
		if !n.Valid() {
			t.Errorf("Invalid neighbor %v", n)
		}
	}
	found := false
	for _, n := range neighbors {
		if n == (Key{X: 7, Y: 0, Z: 3}) {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected antimeridian-wrapped neighbor in %v", neighbors)
	}
}

func TestQuadkeyRoundTrip(t *testing.T) {
	keys := []Key{
		{0, 0, 0},
		{3, 5, 3},
		{35210, 21493, 16},
	}
	for _, k := range keys {
		q := k.Quadkey()
		if int32(len(q)) != k.Z {
			t.Errorf("Quadkey %q of %v has wrong length", q, k)
		}
		back, err := FromQuadkey(q)
		if err != nil {
			t.Fatalf("FromQuadkey(%q): %v", q, err)
		}
		if back != k {
			t.Errorf("Quadkey round trip %v -> %q -> %v", k, q, back)
		}
	}
	if (Key{X: 3, Y: 5, Z: 3}).Quadkey() != "213" {
		t.Errorf("Unexpected quadkey %q", (Key{X: 3, Y: 5, Z: 3}).Quadkey())
	}
	if _, err := FromQuadkey("0124"); err == nil {
		t.Error("Expected error for invalid quadkey digit")
	}
}

func TestLessIsTotalOrder(t *testing.T) {
	a := Key{X: 1, Y: 2, Z: 3}
	b := Key{X: 2, Y: 2, Z: 3}
	c := Key{X: 0, Y: 0, Z: 4}
	if !a.Less(b) || b.Less(a) {
		t.Error("X ordering broken")
	}
	if !b.Less(c) {
		t.Error("Zoom should dominate ordering")
	}
	if a.Less(a) {
		t.Error("Less must be irreflexive")
	}
}
