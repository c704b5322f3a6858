// cmd/ccache is the wrapper binary: invoked either as `ccache <compiler> ...`
// (wrapped form), as a symlink named after a compiler (masqueraded form,
// resolved by argv[0]), or with one of its own administrative flags.
//
// The flag-registration-then-dispatch shape is grounded on
// github.com/VKCOM/nocc's cmd/nocc-daemon/main.go, which registers a handful
// of CmdEnvBool/CmdEnvString flags, calls common.ParseCmdFlagsCombiningWithEnv
// once, and then branches on os.Args before falling through to the compile
// path. Unlike nocc-daemon, a compiler invocation's own argv must never be
// handed to the flag package (its tokens are not ccache's flags), so the two
// paths are told apart by argv[0]/argv[1] before any flag parsing happens.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nocc-cache/ccache/internal/common"
	"github.com/nocc-cache/ccache/internal/config"
	"github.com/nocc-cache/ccache/internal/driver"
	"github.com/nocc-cache/ccache/internal/stats"
	"golang.org/x/sys/unix"
)

func failedStart(err interface{}) {
	_, _ = fmt.Fprintln(os.Stderr, "[ccache]", err)
	os.Exit(1)
}

var adminFlags = map[string]bool{
	"-h": true, "--help": true,
	"-V": true, "--version": true,
	"-s": true, "--show-stats": true,
	"-z": true, "--zero-stats": true,
	"-c": true, "--cleanup": true,
	"-C": true, "--clear": true,
	"-F": true, "--max-files": true,
	"-M": true, "--max-size": true,
}

func isAdminInvocation(argv0 string, args []string) bool {
	if filepath.Base(argv0) != "ccache" {
		return false // masqueraded form is always a compile
	}
	if len(args) == 0 {
		return true // bare `ccache` prints usage
	}
	return adminFlags[args[0]]
}

func main() {
	argv0 := os.Args[0]
	args := os.Args[1:]

	if isAdminInvocation(argv0, args) {
		runAdmin(args)
		return
	}

	cfgFlags := config.RegisterFlags()
	common.ApplyEnvOverrides()
	cfg := cfgFlags.Resolve()

	if cfg.Umask >= 0 {
		unix.Umask(cfg.Umask)
	}

	logger, err := common.MakeLogger(cfg.LogFile, 0, cfg.LogFile == "", cfg.LogFile == "" || cfg.LogFile == "stderr")
	if err != nil {
		failedStart(err)
	}

	d := driver.New(cfg, logger)
	os.Exit(d.Run(argv0, args))
}

func runAdmin(args []string) {
	cfgFlags := config.RegisterFlags()
	common.ApplyEnvOverrides()
	cfg := cfgFlags.Resolve()

	if len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "-h", "--help":
		printUsage()
	case "-V", "--version":
		fmt.Println("ccache", common.GetVersion())
	case "-s", "--show-stats":
		printStats(cfg)
	case "-z", "--zero-stats":
		if err := stats.Zero(cfg.CacheDir); err != nil {
			failedStart(err)
		}
		fmt.Println("statistics zeroed")
	case "-c", "--cleanup":
		fmt.Println("cleanup is not implemented: this cache never evicts on its own")
	case "-C", "--clear":
		if err := os.RemoveAll(cfg.CacheDir); err != nil {
			failedStart(err)
		}
		fmt.Println("cache cleared")
	case "-F", "--max-files":
		fmt.Println("max-files is not enforced: capacity is per-manifest only, see -M")
	case "-M", "--max-size":
		fmt.Println("max-size is not enforced: this cache never evicts on its own")
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println(`Usage:
  ccache <compiler> [args...]   compile through the cache
  <symlink-to-ccache> [args...] same, resolved by argv[0]

  ccache -h, --help             show this help
  ccache -V, --version          show version
  ccache -s, --show-stats       show cache statistics
  ccache -z, --zero-stats       zero cache statistics
  ccache -C, --clear            clear the whole cache directory

Configuration is read from CCACHE_* environment variables.`)
}

func printStats(cfg config.Configuration) {
	counters, err := stats.Read(cfg.CacheDir)
	if err != nil {
		fmt.Println("cache directory:", cfg.CacheDir)
		fmt.Println("no statistics recorded yet")
		return
	}
	fmt.Println("cache directory:", cfg.CacheDir)
	fmt.Println("direct hits:       ", counters[stats.DirectHit])
	fmt.Println("preprocessed hits: ", counters[stats.PreprocessorHit])
	fmt.Println("cache misses:      ", counters[stats.CacheMiss])
	fmt.Println("bypassed:          ", counters[stats.Bypassed])
	fmt.Println("internal errors:   ", counters[stats.InternalError])
}
