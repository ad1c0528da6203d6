package mathx

import "testing"

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{0, 16, 0, 0},
		{15, 16, 0, 15},
		{16, 16, 1, 0},
		{-1, 16, -1, 15},
		{-16, 16, -1, 0},
		{-17, 16, -2, 15},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestFloorToInt(t *testing.T) {
	if got := FloorToInt(-0.5); got != -1 {
		t.Fatalf("FloorToInt(-0.5)=%d want -1", got)
	}
	if got := FloorToInt(3.99); got != 3 {
		t.Fatalf("FloorToInt(3.99)=%d want 3", got)
	}
}

func TestHash3Deterministic(t *testing.T) {
	a := Hash3(42, 1, -2, 3)
	b := Hash3(42, 1, -2, 3)
	if a != b {
		t.Fatalf("hash not deterministic: %d vs %d", a, b)
	}
	if a == Hash3(43, 1, -2, 3) {
		t.Fatalf("expected seed to change hash")
	}
	if a == Hash3(42, -2, 1, 3) {
		t.Fatalf("expected axis order to matter")
	}
}
