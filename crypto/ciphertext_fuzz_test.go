package crypto

import (
	"bytes"
	"testing"
)

func FuzzOpeningDigest(f *testing.F) {
	f.Add([]byte{}, []byte{})
	f.Add([]byte{EnvelopeVersion}, []byte{0, 0, 0, 150})
	f.Add(make([]byte, EnvelopeLen), make([]byte, 4))

	f.Fuzz(func(t *testing.T, handle, clear []byte) {
		digest := OpeningDigest(CiphertextHandle(handle), clear)

		// SHA3-256 output width.
		if len(digest) != 32 {
			t.Fatalf("digest wrong length: got %d, want 32", len(digest))
		}

		// Deterministic.
		if !bytes.Equal(digest, OpeningDigest(CiphertextHandle(handle), clear)) {
			t.Error("digest is not deterministic")
		}

		// Any single-byte perturbation of either input changes the digest.
		if len(handle) > 0 {
			mutated := make([]byte, len(handle))
			copy(mutated, handle)
			mutated[0] ^= 0xFF
			if bytes.Equal(digest, OpeningDigest(CiphertextHandle(mutated), clear)) {
				t.Error("digest unchanged after handle mutation")
			}
		}
		if len(clear) > 0 {
			mutated := make([]byte, len(clear))
			copy(mutated, clear)
			mutated[len(mutated)-1] ^= 0xFF
			if bytes.Equal(digest, OpeningDigest(CiphertextHandle(handle), mutated)) {
				t.Error("digest unchanged after clear-value mutation")
			}
		}
	})
}

func FuzzDecodeClearValue(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0, 0, 0, 150})
	f.Add(make([]byte, 8))

	f.Fuzz(func(t *testing.T, data []byte) {
		value, err := DecodeClearValue(data)
		if len(data) != 4 {
			if err == nil {
				t.Fatalf("decoded %d-byte input", len(data))
			}
			return
		}
		if err != nil {
			t.Fatalf("rejected 4-byte input: %v", err)
		}
		if !bytes.Equal(EncodeClearValue(value), data) {
			t.Error("encode(decode(data)) != data")
		}
	})
}
