package common

import (
	"os"
	"path/filepath"
	"strconv"
)

// MkdirForFile ensures fileName's parent directory exists, used before every
// write-temp-then-rename in cachestore and manifest.
func MkdirForFile(fileName string) error {
	return os.MkdirAll(filepath.Dir(fileName), os.ModePerm)
}

// OpenStagingFile creates a uniquely-named sibling of fullPath for a
// write-temp-then-rename sequence. The name is seeded with the current
// process ID so that two ccache invocations racing on the same cache
// directory (the common case this whole package exists for) never collide on
// the same staging name, then disambiguated further by O_EXCL retry.
//
// fullPath's own permission bits land on disk after CCACHE_UMASK (applied
// once, process-wide, at startup) rather than here; this only decides the
// staging file's name.
func OpenStagingFile(fullPath string) (f *os.File, err error) {
	pid := os.Getpid()
	for attempt := 0; ; attempt++ {
		name := fullPath + ".tmp" + strconv.Itoa(pid) + "-" + strconv.Itoa(attempt)
		f, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, os.ModePerm)
		if err == nil || !os.IsExist(err) {
			return f, err
		}
	}
}
