package sha256

import "testing"

func TestHashStringDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.HashString("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.HashString("hello world"); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
	if other := h.HashString("hello world!"); other == got {
		t.Fatalf("expected distinct digest for distinct input")
	}
}
