package scanner

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile memory-maps path for reading, used for both the preprocessed
// stream and each discovered include file. Grounded on the Mmap/Munmap
// pairing used by readFileWithMmap in the templar build-cache's hash
// provider, swapping syscall for golang.org/x/sys/unix (already a teacher
// dependency, used here for mmap instead of nocc's process-management use
// of x/sys).
//
// Non-regular files (pipes, /dev/null, sockets) cannot be mmap'd; those fall
// back to a plain io.ReadAll read instead of failing the scan outright.
func mmapFile(path string) (data []byte, unmap func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, &os.PathError{Op: "mmap", Path: path, Err: os.ErrInvalid}
	}

	if !info.Mode().IsRegular() {
		buf, err := io.ReadAll(f)
		if err != nil {
			return nil, nil, err
		}
		return buf, func() error { return nil }, nil
	}

	size := info.Size()
	if size == 0 {
		return nil, func() error { return nil }, nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return mapped, func() error { return unix.Munmap(mapped) }, nil
}
