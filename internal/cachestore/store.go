// Package cachestore implements the on-disk cache store: content addressing
// by FileHash with hex fan-out directories, write-temp-then-rename staging,
// optional gzip compression, and hardlink-or-copy materialization.
//
// Grounded on github.com/VKCOM/nocc's internal/server/file-cache.go FileCache,
// which shards a cache directory (shardsDirCount, createSubdirsForFileCache)
// and restores entries via os.Link — generalized here from nocc's fixed
// 256-shard, LRU-evicting design (eviction is a stats/cleanup concern kept
// out of this package) to a variable-depth nlevels fan-out with no
// eviction, only write-temp-then-rename atomicity and compression.
package cachestore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nocc-cache/ccache/internal/common"
	"github.com/nocc-cache/ccache/internal/hasher"
)

var gzipMagic = [2]byte{0x1f, 0x8b}

// CachePath is a path into the cache directory produced by PathOf; treat it
// as opaque outside this package.
type CachePath string

// PathOf computes the fan-out path for a cached artifact and mkdir -p's the
// fan-out directories so it exists. nlevels leading hex digits of the
// digest each become one directory component; the remaining digits, the
// byte size, and suffix form the file name.
func PathOf(cacheDir string, fh hasher.FileHash, nlevels int, suffix string) (CachePath, error) {
	hex := fh.Digest.String()
	if nlevels > len(hex) {
		nlevels = len(hex)
	}

	var b strings.Builder
	b.WriteString(cacheDir)
	for i := 0; i < nlevels; i++ {
		b.WriteByte('/')
		b.WriteByte(hex[i])
	}
	b.WriteByte('/')
	fmt.Fprintf(&b, "%s-%d%s", hex[nlevels:], fh.Size, suffix)

	full := b.String()
	if err := common.MkdirForFile(full); err != nil {
		return "", err
	}
	return CachePath(full), nil
}

// Stage copies srcPath's content into dst atomically (write-temp-then-rename),
// optionally gzip-compressing it on the way in. srcPath itself is left in
// place.
func Stage(srcPath string, dst CachePath, compress bool, tempDir string) error {
	tmpBase := string(dst)
	if tempDir != "" {
		if err := os.MkdirAll(tempDir, os.ModePerm); err != nil {
			return err
		}
		tmpBase = tempDir + "/" + strconv.Itoa(os.Getpid()) + "-stage"
	}
	tmp, err := common.OpenStagingFile(tmpBase)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	src, err := os.Open(srcPath)
	if err != nil {
		tmp.Close()
		return err
	}
	defer src.Close()

	if compress {
		gz := gzip.NewWriter(tmp)
		if _, err := io.Copy(gz, src); err != nil {
			tmp.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			tmp.Close()
			return err
		}
	} else if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, string(dst))
}

// IsCompressed sniffs the gzip magic bytes.
func IsCompressed(path CachePath) (bool, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return false, err
	}
	defer f.Close()

	var magic [2]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return n == 2 && magic == gzipMagic, nil
}

// Materialize copies (or, when possible and requested, hardlinks) a cached
// artifact to dst, decompressing on the fly when the cache file is gzipped.
// It hardlinks only when hardlink is set AND the cache file is
// uncompressed; otherwise it byte-copies.
func Materialize(path CachePath, dst string, hardlink bool) error {
	compressed, err := IsCompressed(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err // caller treats a vanished cache file as a miss
		}
		return err
	}

	if hardlink && !compressed {
		if err := common.MkdirForFile(dst); err != nil {
			return err
		}
		_ = os.Remove(dst) // a stale dst would otherwise make the link fail
		if err := os.Link(string(path), dst); err == nil {
			return nil
		}
		// fall through to a byte copy (e.g. cross-device link)
	}

	src, err := os.Open(string(path))
	if err != nil {
		return err
	}
	defer src.Close()

	if err := common.MkdirForFile(dst); err != nil {
		return err
	}
	tmp, err := common.OpenStagingFile(dst)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var reader io.Reader = src
	if compressed {
		gz, err := gzip.NewReader(src)
		if err != nil {
			tmp.Close()
			return err
		}
		defer gz.Close()
		reader = gz
	}

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// RefreshMtime bumps a cache file's modification time, used on every hit so
// a future cleanup pass (out of this package's scope) sees recent accesses.
func RefreshMtime(path CachePath) error {
	now := time.Now()
	return os.Chtimes(string(path), now, now)
}

// ReadAll returns a cached artifact's decompressed content, used by callers
// (e.g. the manifest) that need it in memory rather than staged to a path.
func ReadAll(path CachePath) ([]byte, error) {
	compressed, err := IsCompressed(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(string(path))
	if err != nil {
		return nil, err
	}
	if !compressed {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
