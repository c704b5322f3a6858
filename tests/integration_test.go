// Package tests holds the end-to-end smoke tests that need a real `cc`
// binary on PATH and a built ccache executable, mirroring the layout of
// github.com/VKCOM/nocc's own tests/ directory (client_test.go,
// testing_utils.go): a process-level test that cannot live inside a unit
// package, kept separate from the package-level _test.go files beside each
// internal/* package.
//
// note, how to run this test:
//  1. make sure `cc` (or another real compiler) is on PATH
//  2. run `go test ./tests/...` from the module root
package tests

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func buildCcacheForTesting(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("cc"); err != nil {
		t.Skip("no cc on PATH, skipping end-to-end test")
	}

	bin := filepath.Join(t.TempDir(), "ccache")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/ccache")
	cmd.Dir = moduleRoot(t)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building ccache: %v\n%s", err, out)
	}
	return bin
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Dir(wd) // tests/ is one level below the module root
}

// Test_coldThenWarm runs `cc -c hello.c -o hello.o` through the wrapper
// twice, removing the object in between, per spec.md §8 scenario 1 ("Cold
// then warm"). It checks that both invocations exit 0 and leave hello.o in
// place; it does not inspect the cache directory, the statistics, or which
// mode served the second invocation.
func Test_coldThenWarm(t *testing.T) {
	ccacheBin := buildCcacheForTesting(t)

	workDir := t.TempDir()
	cacheDir := filepath.Join(workDir, "cache")

	src := filepath.Join(workDir, "hello.c")
	if err := os.WriteFile(src, []byte("int main(void) { return 0; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	obj := filepath.Join(workDir, "hello.o")
	run := func() int {
		cmd := exec.Command(ccacheBin, "cc", "-c", src, "-o", obj)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), "CCACHE_DIR="+cacheDir)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode()
			}
			t.Fatalf("running ccache: %v", err)
		}
		return 0
	}

	if code := run(); code != 0 {
		t.Fatalf("first (cold) invocation failed with exit %d", code)
	}
	if _, err := os.Stat(obj); err != nil {
		t.Fatalf("expected object file after cold invocation: %v", err)
	}

	os.Remove(obj)

	if code := run(); code != 0 {
		t.Fatalf("second (warm) invocation failed with exit %d", code)
	}
	if _, err := os.Stat(obj); err != nil {
		t.Fatalf("expected object file materialized from cache on warm hit: %v", err)
	}
}

// Test_failureTransparency feeds a source that fails to compile and checks
// that the wrapper's exit code matches what the real compiler would return,
// per spec.md §8 scenario 6 ("Failure transparency").
func Test_failureTransparency(t *testing.T) {
	ccacheBin := buildCcacheForTesting(t)

	workDir := t.TempDir()
	cacheDir := filepath.Join(workDir, "cache")

	src := filepath.Join(workDir, "bad.c")
	if err := os.WriteFile(src, []byte("int main(void) { this is not valid C\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	direct := exec.Command("cc", "-c", src, "-o", filepath.Join(workDir, "bad-direct.o"))
	direct.Dir = workDir
	directErr := direct.Run()
	directCode := 0
	if exitErr, ok := directErr.(*exec.ExitError); ok {
		directCode = exitErr.ExitCode()
	}

	wrapped := exec.Command(ccacheBin, "cc", "-c", src, "-o", filepath.Join(workDir, "bad-wrapped.o"))
	wrapped.Dir = workDir
	wrapped.Env = append(os.Environ(), "CCACHE_DIR="+cacheDir)
	wrappedErr := wrapped.Run()
	wrappedCode := 0
	if exitErr, ok := wrappedErr.(*exec.ExitError); ok {
		wrappedCode = exitErr.ExitCode()
	}

	if directCode == 0 {
		t.Fatal("expected the real compiler to fail on invalid source")
	}
	if wrappedCode != directCode {
		t.Fatalf("exit code mismatch: direct=%d wrapped=%d", directCode, wrappedCode)
	}
}
