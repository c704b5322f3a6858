package hasher

import "testing"

func digest(fn func(h *Hasher)) FileHash {
	h := &Hasher{}
	h.Start()
	fn(h)
	return h.Finalize()
}

func TestDeterminism(t *testing.T) {
	mk := func() FileHash {
		return digest(func(h *Hasher) {
			h.Update([]byte("gcc"))
			h.Delimiter("arg")
			h.Update([]byte("-Wall"))
		})
	}
	a, b := mk(), mk()
	if !a.Equal(b) {
		t.Fatalf("expected deterministic digests, got %v != %v", a, b)
	}
}

func TestDelimiterPreventsConcatenationAmbiguity(t *testing.T) {
	withoutDelim := digest(func(h *Hasher) {
		h.Update([]byte("ab"))
		h.Update([]byte("c"))
	})
	withDelim := digest(func(h *Hasher) {
		h.Update([]byte("a"))
		h.Delimiter("x")
		h.Update([]byte("bc"))
	})
	if withoutDelim.Equal(withDelim) {
		t.Fatalf("expected different splits of the same stream to hash differently")
	}
}

func TestDelimiterDistinguishesFieldBoundary(t *testing.T) {
	a := digest(func(h *Hasher) {
		h.Update([]byte("ab"))
		h.Delimiter("f")
		h.Update([]byte("c"))
	})
	b := digest(func(h *Hasher) {
		h.Update([]byte("a"))
		h.Delimiter("f")
		h.Update([]byte("bc"))
	})
	if a.Equal(b) {
		t.Fatalf("expected hash(\"ab\")||hash(\"c\") != hash(\"a\")||hash(\"bc\") even with a shared delimiter label")
	}
}

func TestCloneForksIndependently(t *testing.T) {
	common := &Hasher{}
	common.Start()
	common.Update([]byte("shared-prefix"))

	direct := common.Clone()
	direct.Delimiter("direct")

	cpp := common.Clone()
	cpp.Delimiter("cpp")

	if direct.Finalize().Equal(cpp.Finalize()) {
		t.Fatalf("expected forked hashers to diverge after different continuations")
	}

	// common itself must be untouched by either fork's continuation.
	common.Delimiter("common-only")
	wantCommonOnly := digest(func(h *Hasher) {
		h.Update([]byte("shared-prefix"))
		h.Delimiter("common-only")
	})
	if !common.Finalize().Equal(wantCommonOnly) {
		t.Fatalf("expected Clone to not mutate the original hasher's state")
	}
}

func TestFileHashSizeParticipatesInEquality(t *testing.T) {
	a := FileHash{Digest: Digest{Lo: 1, Hi: 2}, Size: 10}
	b := FileHash{Digest: Digest{Lo: 1, Hi: 2}, Size: 11}
	if a.Equal(b) {
		t.Fatalf("expected FileHashes with differing sizes to compare unequal")
	}
}
