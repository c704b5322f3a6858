package config

import "testing"

func ptr[T any](v T) *T { return &v }

func TestParseSloppiness(t *testing.T) {
	cases := map[string]Sloppiness{
		"":                                    0,
		"file_macro":                          SloppyFileMacro,
		"file_macro,time_macros":              SloppyFileMacro | SloppyTimeMacros,
		"file_macro include_file_mtime":       SloppyFileMacro | SloppyIncludeFileMTime,
		"FILE_MACRO, time_macros":             SloppyFileMacro | SloppyTimeMacros,
		"bogus_word":                          0,
	}
	for raw, want := range cases {
		if got := parseSloppiness(raw); got != want {
			t.Errorf("parseSloppiness(%q) = %v, want %v", raw, got, want)
		}
	}
}

func manualFlags() *Flags {
	return &Flags{
		cacheDir:    ptr("/tmp/cc"),
		baseDir:     ptr("relative/not/absolute"),
		tempDir:     ptr(""),
		nlevels:     ptr(int64(99)),
		hashDir:     ptr(false),
		extraFiles:  ptr(""),
		sloppiness:  ptr(""),
		recache:     ptr(false),
		readonly:    ptr(false),
		hardlink:    ptr(false),
		prefix:      ptr(""),
		disable:     ptr(false),
		cc:          ptr(""),
		extension:   ptr(""),
		umask:       ptr(""),
		enableUnify: ptr(false),
		noDirect:    ptr(false),
		compress:    ptr(false),
		cpp2:        ptr(false),
		compcheck:   ptr("bogus"),
		logFile:     ptr(""),
	}
}

func TestResolveClampsNLevels(t *testing.T) {
	cfg := manualFlags().Resolve()
	if cfg.NLevels != 8 {
		t.Errorf("expected nlevels clamped to 8, got %d", cfg.NLevels)
	}
}

func TestResolveIgnoresRelativeBaseDir(t *testing.T) {
	cfg := manualFlags().Resolve()
	if cfg.BaseDir != "" {
		t.Errorf("expected non-absolute base dir to be ignored, got %q", cfg.BaseDir)
	}
}

func TestResolveFallsBackToMtimeCompilerCheck(t *testing.T) {
	cfg := manualFlags().Resolve()
	if cfg.CompilerCheck != CompilerCheckMtime {
		t.Errorf("expected unknown compilercheck to fall back to mtime, got %q", cfg.CompilerCheck)
	}
}

func TestResolveUnifyDisablesDirect(t *testing.T) {
	flags := manualFlags()
	flags.enableUnify = ptr(true)
	cfg := flags.Resolve()
	if cfg.EnableDirect {
		t.Errorf("expected CCACHE_UNIFY to disable direct mode")
	}
	if !cfg.EnableUnify {
		t.Errorf("expected unify to be enabled")
	}
}
