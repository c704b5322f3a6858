// Package stats implements the statistics counter file: a small set of
// named counters, persisted as a flat file per cache directory, incremented
// under an exclusive flock so concurrent wrapper invocations sharing a
// cache directory don't race each other's read-modify-write.
//
// Grounded on github.com/VKCOM/nocc's internal/server/statsd.go Statsd,
// which keeps the same named-counter shape (atomically incremented int64
// fields, periodically flushed) but flushes over a UDP statsd connection;
// this package has no daemon to flush from, so it persists straight to a
// local file instead, using golang.org/x/sys/unix.Flock for the
// per-directory lock.
package stats

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/nocc-cache/ccache/internal/common"
	"golang.org/x/sys/unix"
)

// Counter names one bucket in the fixed-size counter file.
type Counter int

const (
	DirectHit       Counter = iota // served from cache via direct mode
	PreprocessorHit                // served from cache via preprocessor mode
	CacheMiss                      // neither mode hit; real compiler ran (its output is stored only if it succeeded)
	Bypassed                       // hard bypass or CCACHE_DISABLE; real compiler ran unchanged
	InternalError                  // an internal failure funneled through the fallback path
	numCounters
)

var counterNames = [numCounters]string{
	DirectHit:       "direct_hit",
	PreprocessorHit: "preprocessor_hit",
	CacheMiss:       "cache_miss",
	Bypassed:        "bypassed",
	InternalError:   "internal_error",
}

func (c Counter) String() string { return counterNames[c] }

// Counters is one bucket's full set of values.
type Counters [numCounters]int64

const statsFileName = "stats"
const lockFileName = "stats.lock"

// Increment adds delta to one counter in the bucket rooted at dir, holding
// dir's lock file for the duration of the read-modify-write.
func Increment(dir string, which Counter, delta int64) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	lock, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	path := filepath.Join(dir, statsFileName)
	counters, _ := read(path) // a missing or corrupt counter file reads as all-zero
	counters[which] += delta
	return write(path, counters)
}

// Read returns a bucket's current counters without locking; callers
// displaying stats tolerate a concurrent writer's in-flight update.
func Read(dir string) (Counters, error) {
	return read(filepath.Join(dir, statsFileName))
}

// Zero resets a bucket's counters to zero, under the same lock Increment uses.
func Zero(dir string) error {
	lock, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	return write(filepath.Join(dir, statsFileName), Counters{})
}

func read(path string) (Counters, error) {
	var counters Counters
	data, err := os.ReadFile(path)
	if err != nil {
		return counters, err
	}
	if len(data) != numCounters*8 {
		return counters, nil // corrupt/old-format file: treat as zeroed rather than fail a compile
	}
	for i := range counters {
		counters[i] = int64(binary.BigEndian.Uint64(data[i*8 : i*8+8]))
	}
	return counters, nil
}

func write(path string, counters Counters) error {
	data := make([]byte, numCounters*8)
	for i, v := range counters {
		binary.BigEndian.PutUint64(data[i*8:i*8+8], uint64(v))
	}

	tmp, err := common.OpenStagingFile(path)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
