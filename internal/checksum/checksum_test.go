package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("report"))
	b := Sum([]byte("report"))
	if a != b || len(a) != 64 {
		t.Fatalf("Sum not stable: %q vs %q", a, b)
	}
}

func TestDomain_SeparatesParts(t *testing.T) {
	if Domain("d", "ab", "c") == Domain("d", "a", "bc") {
		t.Error("part boundaries must change the digest")
	}
	if Domain("d1", "x") == Domain("d2", "x") {
		t.Error("domain must change the digest")
	}
	if Domain("d", "x") != Domain("d", "x") {
		t.Error("Domain not deterministic")
	}
}
