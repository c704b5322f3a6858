// Package manifest implements the on-disk manifest format: a manifest maps
// one source file's hash to a sequence of candidate (IncludeSet, object-hash)
// pairs, letting direct mode skip the preprocessor when every listed include
// still hashes to what was recorded.
//
// The path-pool / hash-pool / entry-table shape is grounded on
// github.com/VKCOM/nocc's internal/common/own-pch-files.go ParseOwnPchFile
// (a magic-prefixed header followed by a pool of dependency records,
// round-tripped through a single read/write pair), adapted from nocc's
// ad hoc text pool to a fixed big-endian binary layout, since this format
// must be byte-for-byte interoperable rather than merely internally
// consistent.
package manifest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/nocc-cache/ccache/internal/common"
	"github.com/nocc-cache/ccache/internal/hasher"
)

var magic = [4]byte{'c', 'C', 'm', 'F'}

const (
	version  = 0
	hashSize = 16 // bytes in hasher.Digest
)

// DefaultCapacity is the recommended pool-entry cap; once a pool would exceed
// it, Put skips the write rather than evicting anything.
const DefaultCapacity = 16384

// IncludeRef is one (path, FileHash) pair an entry's IncludeSet references.
type IncludeRef struct {
	Path string
	Hash hasher.FileHash
}

type hashPoolEntry struct {
	pathIndex uint32
	hash      hasher.FileHash
}

type manifestEntry struct {
	hashIndices []uint32
	object      hasher.FileHash
}

// Manifest is one source file's accumulated candidate list.
type Manifest struct {
	paths     []string
	pathIndex map[string]int

	hashes    []hashPoolEntry
	hashIndex map[hashPoolKey]int

	entries []manifestEntry
}

type hashPoolKey struct {
	path string
	hash hasher.FileHash
}

// New returns an empty manifest, ready for Put.
func New() *Manifest {
	return &Manifest{
		pathIndex: make(map[string]int),
		hashIndex: make(map[hashPoolKey]int),
	}
}

// Load reads a manifest from a cache file. It returns an error on
// version/magic mismatch, I/O error, or an empty file — callers MUST treat
// any non-nil error here identically to "manifest absent".
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("manifest: empty file")
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("manifest: not gzip: %w", err)
	}
	defer gz.Close()

	return parse(bufio.NewReader(gz))
}

func parse(r *bufio.Reader) (*Manifest, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("manifest: short header: %w", err)
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return nil, fmt.Errorf("manifest: bad magic")
	}
	if header[4] != version {
		return nil, fmt.Errorf("manifest: unsupported version %d", header[4])
	}
	fileHashSize := int(header[5])
	if fileHashSize != hashSize {
		return nil, fmt.Errorf("manifest: hash size %d unsupported", fileHashSize)
	}

	m := New()

	pathCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m.paths = make([]string, pathCount)
	for i := range m.paths {
		s, err := readCString(r)
		if err != nil {
			return nil, err
		}
		m.paths[i] = s
		m.pathIndex[s] = i
	}

	hashCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m.hashes = make([]hashPoolEntry, hashCount)
	for i := range m.hashes {
		pathIdx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		fh, err := readFileHash(r)
		if err != nil {
			return nil, err
		}
		m.hashes[i] = hashPoolEntry{pathIndex: pathIdx, hash: fh}
		if int(pathIdx) < len(m.paths) {
			m.hashIndex[hashPoolKey{path: m.paths[pathIdx], hash: fh}] = i
		}
	}

	entryCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m.entries = make([]manifestEntry, entryCount)
	for i := range m.entries {
		idxCount, err := readU32(r)
		if err != nil {
			return nil, err
		}
		indices := make([]uint32, idxCount)
		for j := range indices {
			v, err := readU32(r)
			if err != nil {
				return nil, err
			}
			indices[j] = v
		}
		obj, err := readFileHash(r)
		if err != nil {
			return nil, err
		}
		m.entries[i] = manifestEntry{hashIndices: indices, object: obj}
	}

	return m, nil
}

// Get probes every entry's IncludeSet against the current filesystem via
// hashFile, hashing each referenced path and comparing it to the stored
// FileHash; on a mismatch it moves on to the next entry, returning the
// first fully-matching entry's object hash, or false if none match.
func (m *Manifest) Get(hashFile func(path string) (hasher.FileHash, error)) (hasher.FileHash, bool) {
	cache := make(map[string]hasher.FileHash)

	for _, e := range m.entries {
		matched := true
		for _, idx := range e.hashIndices {
			if int(idx) >= len(m.hashes) {
				matched = false
				break
			}
			pool := m.hashes[idx]
			if int(pool.pathIndex) >= len(m.paths) {
				matched = false
				break
			}
			path := m.paths[pool.pathIndex]

			current, ok := cache[path]
			if !ok {
				fh, err := hashFile(path)
				if err != nil {
					matched = false
					break
				}
				current = fh
				cache[path] = fh
			}
			if !current.Equal(pool.hash) {
				matched = false
				break
			}
		}
		if matched {
			return e.object, true
		}
	}
	return hasher.FileHash{}, false
}

// Put appends a new entry referencing includeSet, de-duplicating the path
// and hash pools against what is already present. Returns false (without
// modifying m) once either pool would exceed capacity — this is a
// best-effort cap, never an eviction. Returns false without adding a
// duplicate entry that is already present verbatim.
func (m *Manifest) Put(includeSet []IncludeRef, object hasher.FileHash, capacity int) bool {
	indices := make([]uint32, 0, len(includeSet))
	newPaths := make(map[string]bool)
	newHashes := 0

	for _, ref := range includeSet {
		if _, ok := m.pathIndex[ref.Path]; !ok && !newPaths[ref.Path] {
			newPaths[ref.Path] = true
		}
		if _, ok := m.hashIndex[hashPoolKey{path: ref.Path, hash: ref.Hash}]; !ok {
			newHashes++
		}
	}
	if len(m.paths)+len(newPaths) > capacity || len(m.hashes)+newHashes > capacity {
		return false
	}

	for _, ref := range includeSet {
		pathIdx, ok := m.pathIndex[ref.Path]
		if !ok {
			pathIdx = len(m.paths)
			m.paths = append(m.paths, ref.Path)
			m.pathIndex[ref.Path] = pathIdx
		}

		key := hashPoolKey{path: ref.Path, hash: ref.Hash}
		hashIdx, ok := m.hashIndex[key]
		if !ok {
			hashIdx = len(m.hashes)
			m.hashes = append(m.hashes, hashPoolEntry{pathIndex: uint32(pathIdx), hash: ref.Hash})
			m.hashIndex[key] = hashIdx
		}
		indices = append(indices, uint32(hashIdx))
	}

	for _, e := range m.entries {
		if e.object.Equal(object) && sameIndices(e.hashIndices, indices) {
			return false // identical entry already present
		}
	}

	m.entries = append(m.entries, manifestEntry{hashIndices: indices, object: object})
	return true
}

func sameIndices(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Save atomically rewrites path with m's gzip-compressed binary encoding.
func (m *Manifest) Save(path string) error {
	tmp, err := common.OpenStagingFile(path)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	if err := m.encode(gz); err != nil {
		tmp.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (m *Manifest) encode(w io.Writer) error {
	bw := bufio.NewWriter(w)

	header := append(append([]byte{}, magic[:]...), version, hashSize, 0, 0)
	if _, err := bw.Write(header); err != nil {
		return err
	}

	if err := writeU32(bw, uint32(len(m.paths))); err != nil {
		return err
	}
	for _, p := range m.paths {
		if err := writeCString(bw, p); err != nil {
			return err
		}
	}

	if err := writeU32(bw, uint32(len(m.hashes))); err != nil {
		return err
	}
	for _, h := range m.hashes {
		if err := writeU32(bw, h.pathIndex); err != nil {
			return err
		}
		if err := writeFileHash(bw, h.hash); err != nil {
			return err
		}
	}

	if err := writeU32(bw, uint32(len(m.entries))); err != nil {
		return err
	}
	for _, e := range m.entries {
		if err := writeU32(bw, uint32(len(e.hashIndices))); err != nil {
			return err
		}
		for _, idx := range e.hashIndices {
			if err := writeU32(bw, idx); err != nil {
				return err
			}
		}
		if err := writeFileHash(bw, e.object); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readCString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

func writeCString(w io.Writer, s string) error {
	_, err := w.Write(append([]byte(s), 0))
	return err
}

func readFileHash(r io.Reader) (hasher.FileHash, error) {
	var digest [hashSize]byte
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return hasher.FileHash{}, err
	}
	size, err := readU32(r)
	if err != nil {
		return hasher.FileHash{}, err
	}
	return hasher.FileHash{
		Digest: hasher.Digest{
			Lo: binary.BigEndian.Uint64(digest[0:8]),
			Hi: binary.BigEndian.Uint64(digest[8:16]),
		},
		Size: size,
	}, nil
}

func writeFileHash(w io.Writer, fh hasher.FileHash) error {
	var digest [hashSize]byte
	binary.BigEndian.PutUint64(digest[0:8], fh.Digest.Lo)
	binary.BigEndian.PutUint64(digest[8:16], fh.Digest.Hi)
	if _, err := w.Write(digest[:]); err != nil {
		return err
	}
	return writeU32(w, fh.Size)
}
