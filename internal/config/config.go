// Package config assembles an immutable Configuration value threaded
// through the driver, rather than the process-wide mutable globals the
// tool this is modeled on uses.
//
// Flag/env registration reuses github.com/VKCOM/nocc's hand-rolled
// internal/common/cmd-env-flags.go bridge verbatim (CmdEnvString and
// friends), the same way cmd/nocc-daemon/main.go registers its flags: call
// the Cmd* constructors once (RegisterFlags), then apply the environment
// (cmd/ccache uses common.ApplyEnvOverrides), then Resolve the pointers into
// a plain value.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nocc-cache/ccache/internal/common"
)

// Sloppiness is a bitmask of relaxations that trade cache correctness for
// hit rate.
type Sloppiness uint8

const (
	SloppyFileMacro Sloppiness = 1 << iota
	SloppyIncludeFileMTime
	SloppyTimeMacros
)

func (s Sloppiness) Has(bit Sloppiness) bool { return s&bit != 0 }

func parseSloppiness(raw string) Sloppiness {
	var s Sloppiness
	raw = strings.ReplaceAll(raw, ",", " ")
	for _, word := range strings.Fields(raw) {
		switch strings.ToLower(strings.TrimSpace(word)) {
		case "file_macro":
			s |= SloppyFileMacro
		case "include_file_mtime":
			s |= SloppyIncludeFileMTime
		case "time_macros":
			s |= SloppyTimeMacros
		}
	}
	return s
}

// CompilerCheck selects how the real compiler's identity participates in
// common_hash.
type CompilerCheck string

const (
	CompilerCheckNone    CompilerCheck = "none"
	CompilerCheckMtime   CompilerCheck = "mtime"
	CompilerCheckContent CompilerCheck = "content"
)

// Configuration is the resolved, immutable set of cache-behavior knobs.
type Configuration struct {
	CacheDir    string
	BaseDir     string // only used if absolute; otherwise path rewriting is skipped
	TempDir     string
	NLevels     int // fan-out depth, clamped to [1,8]
	HashDir     bool
	ExtraFiles  []string
	Sloppiness  Sloppiness
	Recache     bool
	Readonly    bool
	Hardlink    bool
	Prefix      string
	Disable     bool
	CC          string
	Extension   string
	Umask       int

	EnableDirect                  bool
	EnableUnify                   bool // disables EnableDirect when set
	EnableCompression             bool
	CompilePreprocessedSourceCode bool
	CompilerCheck                 CompilerCheck

	LogFile string
}

// Flags holds the not-yet-resolved flag.Value pointers; call Resolve once
// common.ApplyEnvOverrides (or common.ParseCmdFlagsCombiningWithEnv) has run.
type Flags struct {
	cacheDir    *string
	baseDir     *string
	tempDir     *string
	nlevels     *int64
	hashDir     *bool
	extraFiles  *string
	sloppiness  *string
	recache     *bool
	readonly    *bool
	hardlink    *bool
	prefix      *string
	disable     *bool
	cc          *string
	extension   *string
	umask       *string
	enableUnify *bool
	noDirect    *bool
	compress    *bool
	cpp2        *bool
	compcheck   *string
	logFile     *string
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".ccache")
	}
	return ".ccache"
}

// RegisterFlags declares every CCACHE_* flag/env pair the core cares about.
func RegisterFlags() *Flags {
	return &Flags{
		cacheDir: common.CmdEnvString("Directory holding cached objects.", defaultCacheDir(),
			"cache-dir", "CCACHE_DIR"),
		baseDir: common.CmdEnvString("Absolute prefix under which paths are rewritten to relative before hashing.\nIgnored unless absolute.", "",
			"base-dir", "CCACHE_BASEDIR"),
		tempDir: common.CmdEnvString("Staging directory for temp files written before an atomic rename.", "",
			"temp-dir", "CCACHE_TEMPDIR"),
		nlevels: common.CmdEnvInt("Fan-out depth: how many leading hex digest chars become directory components.", 2,
			"nlevels", "CCACHE_NLEVELS"),
		hashDir: common.CmdEnvBool("Mix the current working directory into the hash.", false,
			"hash-dir", "CCACHE_HASHDIR"),
		extraFiles: common.CmdEnvString("':'-delimited list of extra files to mix into every hash.", "",
			"extra-files", "CCACHE_EXTRAFILES"),
		sloppiness: common.CmdEnvString("Comma/space-delimited sloppiness words: file_macro, include_file_mtime, time_macros.", "",
			"sloppiness", "CCACHE_SLOPPINESS"),
		recache: common.CmdEnvBool("Force a miss on every lookup; still stores, letting callers refresh a cache entry.", false,
			"recache", "CCACHE_RECACHE"),
		readonly: common.CmdEnvBool("Never write to the cache; fall back on miss.", false,
			"readonly", "CCACHE_READONLY"),
		hardlink: common.CmdEnvBool("Materialize uncompressed artifacts via hardlink instead of copy.", false,
			"hardlink", "CCACHE_HARDLINK"),
		prefix: common.CmdEnvString("Command prepended to every invocation of the real compiler.", "",
			"prefix", "CCACHE_PREFIX"),
		disable: common.CmdEnvBool("Pass through to the real compiler unconditionally.", false,
			"disable", "CCACHE_DISABLE"),
		cc: common.CmdEnvString("Override the real compiler to invoke.", "",
			"", "CCACHE_CC"),
		extension: common.CmdEnvString("Override the cache artifact filename extension.", "",
			"", "CCACHE_EXTENSION"),
		umask: common.CmdEnvString("Octal umask applied while writing cache files.", "",
			"", "CCACHE_UMASK"),
		enableUnify: common.CmdEnvBool("Use semantic-equivalence hashing that ignores whitespace/comments; disables direct mode.", false,
			"unify", "CCACHE_UNIFY"),
		noDirect: common.CmdEnvBool("Disable direct mode (source+includes hashing without a preprocessor run).", false,
			"no-direct", "CCACHE_NODIRECT"),
		compress: common.CmdEnvBool("Compress .o and .d artifacts on write (manifests are always compressed).", false,
			"compress", "CCACHE_COMPRESS"),
		cpp2: common.CmdEnvBool("Re-read the original source for the compile step instead of reusing preprocessed output.", false,
			"cpp2", "CCACHE_CPP2"),
		compcheck: common.CmdEnvString("How to identify the compiler: none, mtime, or content.", "mtime",
			"compiler-check", "CCACHE_COMPILERCHECK"),
		logFile: common.CmdEnvString("Log file path; empty disables logging other than errors to stderr.", "",
			"log-file", "CCACHE_LOGFILE"),
	}
}

// Resolve turns the registered flag pointers into an immutable Configuration.
func (f *Flags) Resolve() Configuration {
	nlevels := int(*f.nlevels)
	if nlevels < 1 {
		nlevels = 1
	} else if nlevels > 8 {
		nlevels = 8
	}

	baseDir := *f.baseDir
	if baseDir != "" && !filepath.IsAbs(baseDir) {
		baseDir = "" // must be absolute or ignored
	}

	var extraFiles []string
	if *f.extraFiles != "" {
		extraFiles = strings.Split(*f.extraFiles, ":")
	}

	umask := -1
	if *f.umask != "" {
		if v, err := strconv.ParseInt(*f.umask, 8, 32); err == nil {
			umask = int(v)
		}
	}

	compilerCheck := CompilerCheck(strings.ToLower(*f.compcheck))
	switch compilerCheck {
	case CompilerCheckNone, CompilerCheckMtime, CompilerCheckContent:
	default:
		compilerCheck = CompilerCheckMtime
	}

	enableUnify := *f.enableUnify
	enableDirect := !*f.noDirect && !enableUnify // unify disables direct mode

	return Configuration{
		CacheDir:                      *f.cacheDir,
		BaseDir:                       baseDir,
		TempDir:                       *f.tempDir,
		NLevels:                       nlevels,
		HashDir:                       *f.hashDir,
		ExtraFiles:                    extraFiles,
		Sloppiness:                    parseSloppiness(*f.sloppiness),
		Recache:                       *f.recache,
		Readonly:                      *f.readonly,
		Hardlink:                      *f.hardlink,
		Prefix:                        *f.prefix,
		Disable:                       *f.disable,
		CC:                            *f.cc,
		Extension:                     *f.extension,
		Umask:                         umask,
		EnableDirect:                  enableDirect,
		EnableUnify:                   enableUnify,
		EnableCompression:             *f.compress,
		CompilePreprocessedSourceCode: !*f.cpp2,
		CompilerCheck:                 compilerCheck,
		LogFile:                       *f.logFile,
	}
}
