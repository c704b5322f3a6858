package driver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveCompilerHonorsCcOverride(t *testing.T) {
	// Wrapped form as main.go actually produces it: wrapperArgs[0] is the
	// nominal compiler name ("gcc") and must still be stripped even though
	// CCACHE_CC overrides which compiler ultimately runs.
	compiler, rest, err := ResolveCompiler("ccache", []string{"gcc", "-c", "foo.c"}, "/usr/bin/my-cc")
	if err != nil {
		t.Fatalf("ResolveCompiler: %v", err)
	}
	if compiler != "/usr/bin/my-cc" {
		t.Errorf("compiler = %q, want /usr/bin/my-cc", compiler)
	}
	if len(rest) != 2 || rest[0] != "-c" || rest[1] != "foo.c" {
		t.Errorf("rest = %v, want the nominal compiler name stripped", rest)
	}
}

func TestResolveCompilerMasqueradedFormHonorsCcOverride(t *testing.T) {
	compiler, rest, err := ResolveCompiler("/usr/bin/gcc", []string{"-c", "foo.c"}, "/usr/bin/my-cc")
	if err != nil {
		t.Fatalf("ResolveCompiler: %v", err)
	}
	if compiler != "/usr/bin/my-cc" {
		t.Errorf("compiler = %q, want /usr/bin/my-cc", compiler)
	}
	if len(rest) != 2 || rest[0] != "-c" || rest[1] != "foo.c" {
		t.Errorf("rest = %v, want wrapperArgs untouched", rest)
	}
}

func TestResolveCompilerWrappedFormConsumesFirstArg(t *testing.T) {
	dir := t.TempDir()
	fakeCC := filepath.Join(dir, "fake-cc")
	if err := os.WriteFile(fakeCC, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	compiler, rest, err := ResolveCompiler(filepath.Join(dir, "ccache"), []string{fakeCC, "-c", "foo.c"}, "")
	if err != nil {
		t.Fatalf("ResolveCompiler: %v", err)
	}
	if compiler != fakeCC {
		t.Errorf("compiler = %q, want %q", compiler, fakeCC)
	}
	if len(rest) != 2 || rest[0] != "-c" || rest[1] != "foo.c" {
		t.Errorf("rest = %v, want the compiler name stripped", rest)
	}
}

func TestResolveCompilerMasqueradedFormUsesArgv0(t *testing.T) {
	dir := t.TempDir()
	fakeCC := filepath.Join(dir, "fake-cc")
	if err := os.WriteFile(fakeCC, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	defer os.Setenv("PATH", oldPath)

	// argv[0] is a masquerading link named like the compiler but living
	// outside PATH; the PATH search must then find the real fake-cc.
	wrapper := filepath.Join(t.TempDir(), "fake-cc")
	compiler, rest, err := ResolveCompiler(wrapper, []string{"-c", "foo.c"}, "")
	if err != nil {
		t.Fatalf("ResolveCompiler: %v", err)
	}
	if compiler != fakeCC {
		t.Errorf("compiler = %q, want %q", compiler, fakeCC)
	}
	if len(rest) != 2 {
		t.Errorf("rest = %v, want wrapperArgs untouched", rest)
	}
}

func TestResolveCompilerRejectsRecursiveInvocation(t *testing.T) {
	dir := t.TempDir()
	self := filepath.Join(dir, "ccache")
	if err := os.WriteFile(self, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir)
	defer os.Setenv("PATH", oldPath)

	if _, _, err := ResolveCompiler(self, []string{"ccache", "-c", "foo.c"}, ""); err == nil {
		t.Error("expected recursive invocation (ccache resolving to itself) to be rejected")
	}
}

func TestResolveCompilerMissingWrappedArgument(t *testing.T) {
	if _, _, err := ResolveCompiler("/usr/bin/ccache", nil, ""); err == nil {
		t.Error("expected an error when the wrapped form has no compiler argument")
	}
}
