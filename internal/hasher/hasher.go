// Package hasher implements the fingerprint primitive the whole cache is keyed on.
//
// It mirrors the shape of github.com/VKCOM/nocc's internal/common/sha256-struct.go
// (a fixed-width struct pulled out of a crypto.Hash, with long/short hex helpers),
// but the underlying algorithm and width are different: the fingerprint here is a
// streaming accumulator fed field-by-field by callers, not a single io.Copy over
// one file. The algorithm itself (MD5) is treated as an external primitive, exactly
// the way the MD4-family hash is an external collaborator in the system this
// package implements — only the delimiter/accumulation discipline around it is
// this package's concern.
package hasher

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Digest is an opaque, fixed-width 128-bit fingerprint.
type Digest struct {
	Lo, Hi uint64
}

func (d Digest) IsZero() bool {
	return d.Lo == 0 && d.Hi == 0
}

func (d Digest) String() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], d.Lo)
	binary.BigEndian.PutUint64(b[8:16], d.Hi)
	return hex.EncodeToString(b[:])
}

// FileHash is the identity of any cached artifact: a digest plus the total byte
// count that produced it. Two FileHashes are equal iff both fields match.
type FileHash struct {
	Digest Digest
	Size   uint32
}

func (h FileHash) Equal(o FileHash) bool {
	return h.Digest == o.Digest && h.Size == o.Size
}

func (h FileHash) IsZero() bool {
	return h.Digest.IsZero() && h.Size == 0
}

// Hasher is a streaming fingerprint accumulator. The zero value is not usable;
// call Start. It performs no I/O itself — callers feed it bytes.
//
// md5.New()'s hash.Hash does not expose mid-stream cloning, so Hasher keeps a
// replay log of every field written; Clone replays it into a fresh instance.
// Compilations are small (a source file, its includes, a handful of arg
// tokens), so the replay log never grows large enough for this to matter.
type Hasher struct {
	impl   hash.Hash
	replay []byte
	nBytes uint32
}

// Start begins (or restarts) accumulation.
func (h *Hasher) Start() {
	h.impl = md5.New()
	h.replay = h.replay[:0]
	h.nBytes = 0
}

// Clone returns a Hasher with the same accumulated state, so callers can fork a
// common prefix (common_hash) into independent continuations (direct_hash,
// cpp_hash) without recomputing the shared part.
func (h *Hasher) Clone() *Hasher {
	clone := &Hasher{nBytes: h.nBytes}
	clone.impl = md5.New()
	clone.replay = append([]byte(nil), h.replay...)
	clone.impl.Write(clone.replay)
	return clone
}

func (h *Hasher) Update(p []byte) {
	h.impl.Write(p)
	h.replay = append(h.replay, p...)
	h.nBytes += uint32(len(p))
}

// Delimiter mixes in a zero byte, the label, and another zero byte, so that
// successive fields can never be confused with a different split of the same
// total byte stream: hash("ab")||hash("c") must differ from hash("a")||hash("bc").
// MUST be called between every logical field.
func (h *Hasher) Delimiter(label string) {
	h.Update([]byte{0})
	h.Update([]byte(label))
	h.Update([]byte{0})
}

// Finalize returns the accumulated FileHash. The Hasher may continue to be used
// afterward (finalizing does not reset state), mirroring a streaming digest.
func (h *Hasher) Finalize() FileHash {
	sum := h.impl.Sum(nil) // 16 bytes
	return FileHash{
		Digest: Digest{
			Lo: binary.BigEndian.Uint64(sum[0:8]),
			Hi: binary.BigEndian.Uint64(sum[8:16]),
		},
		Size: h.nBytes,
	}
}
