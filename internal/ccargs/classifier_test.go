package ccargs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nocc-cache/ccache/internal/config"
)

func defaultConfig() config.Configuration {
	return config.Configuration{
		EnableDirect:                  true,
		EnableUnify:                   false,
		CompilePreprocessedSourceCode: true,
	}
}

func mustClassify(t *testing.T, args []string) *Classification {
	t.Helper()
	cwd, _ := os.Getwd()
	c, err := Classify(args, cwd, defaultConfig())
	if err != nil {
		t.Fatalf("Classify(%v) returned error: %v", args, err)
	}
	return c
}

func TestClassifyBasicCompile(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o"})
	if c.InputFile != src {
		t.Errorf("InputFile = %q, want %q", c.InputFile, src)
	}
	if c.OutputObj != "foo.o" {
		t.Errorf("OutputObj = %q, want foo.o", c.OutputObj)
	}
	if c.InputLanguage != LangC {
		t.Errorf("InputLanguage = %q, want c", c.InputLanguage)
	}
}

func TestClassifyBypassesOnDashE(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	_, err := Classify([]string{"-E", "-c", src}, ".", defaultConfig())
	if _, ok := err.(*BypassError); !ok {
		t.Fatalf("expected BypassError, got %v", err)
	}
}

func TestClassifyBypassesWithoutDashC(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	_, err := Classify([]string{src, "-o", "foo.o"}, ".", defaultConfig())
	if _, ok := err.(*BypassError); !ok {
		t.Fatalf("expected BypassError for missing -c, got %v", err)
	}
}

func TestClassifyExplicitLanguageOverridesExtension(t *testing.T) {
	src := writeTempSource(t, "foo.txt")
	c := mustClassify(t, []string{"-x", "c", "-c", src, "-o", "foo.o"})
	if c.InputLanguage != LangC {
		t.Errorf("InputLanguage = %q, want c", c.InputLanguage)
	}
	if !c.ExplicitLanguage {
		t.Error("expected ExplicitLanguage to be true")
	}
}

func TestClassifyWpMDIsRecognizedForm(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "-Wp,-MD,foo.d"})
	if !c.EnableDirect {
		t.Error("recognized -Wp,-MD, form should not demote direct mode")
	}
	if !c.GeneratingDependencies {
		t.Error("expected GeneratingDependencies")
	}
	if c.DepFlags.FlagMF != "foo.d" {
		t.Errorf("FlagMF = %q, want foo.d", c.DepFlags.FlagMF)
	}
}

func TestClassifyWpOtherFormDemotesDirect(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "-Wp,-lsomething"})
	if c.EnableDirect {
		t.Error("unrecognized -Wp, form should demote direct mode")
	}
}

func TestClassifyDefaultDepFileName(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "out/foo.o", "-MD"})
	if c.OutputDep != "out/foo.d" {
		t.Errorf("OutputDep = %q, want out/foo.d", c.OutputDep)
	}
}

func TestClassifyIncludePathsHashExcludedInPreprocessorModeOnly(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "-Ifoo/bar", "-DFOO=1"})
	var sawDirectOnlyInclude, sawDMarkedDirectOnly bool
	for _, h := range c.HashArgs {
		if h.Token == "-I" && h.DirectModeOnly {
			sawDirectOnlyInclude = true
		}
		if h.Token == "-DFOO=1" && h.DirectModeOnly {
			sawDMarkedDirectOnly = true
		}
	}
	if !sawDirectOnlyInclude {
		t.Error("expected -I to be marked direct-mode-only in the hash")
	}
	if !sawDMarkedDirectOnly {
		t.Error("expected -DFOO=1 to be marked direct-mode-only in the hash")
	}
}

func TestClassifyGDebugAffectsUnifyAndCpp2(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	cfg := defaultConfig()
	cfg.EnableUnify = true
	cwd, _ := os.Getwd()
	c, err := Classify([]string{"-c", src, "-o", "foo.o", "-g3"}, cwd, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.EnableUnify {
		t.Error("-g (non -g0) should disable unify mode")
	}
	if c.CompilePreprocessedSourceCode {
		t.Error("-g3 should disable compiling from preprocessed source")
	}
}

func TestClassifySpecsFileTrackedSeparatelyFromHash(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "--specs=myspecs.specs"})
	if c.SpecsFile != "myspecs.specs" {
		t.Errorf("SpecsFile = %q, want myspecs.specs", c.SpecsFile)
	}
	for _, h := range c.HashArgs {
		if h.Token == "--specs=myspecs.specs" {
			t.Error("--specs= token should not be hashed verbatim")
		}
	}
}

func TestClassifyDashLNeverHashed(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "-L/usr/lib/foo"})
	for _, h := range c.HashArgs {
		if h.Token == "-L/usr/lib/foo" {
			t.Error("-L should never participate in the hash")
		}
	}
}

func TestClassifyCcacheSkipConsumesNextToken(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-o", "foo.o", "--ccache-skip", "-fsome-experimental-flag"})
	for _, a := range c.CompilerArgs {
		if a == "-fsome-experimental-flag" {
			t.Error("token after --ccache-skip should not be forwarded")
		}
	}
}

func TestClassifyConcatenatedOutputFlag(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-c", src, "-ofoo.o"})
	if c.OutputObj != "foo.o" {
		t.Errorf("OutputObj = %q, want foo.o", c.OutputObj)
	}
}

func TestClassifyConcatenatedLanguageFlag(t *testing.T) {
	src := writeTempSource(t, "foo.txt")
	c := mustClassify(t, []string{"-xc", "-c", src, "-o", "foo.o"})
	if c.InputLanguage != LangC {
		t.Errorf("InputLanguage = %q, want c", c.InputLanguage)
	}
	if !c.ExplicitLanguage {
		t.Error("expected ExplicitLanguage to be true")
	}
}

func TestClassifyExplicitMTSuppressesDefaultInjection(t *testing.T) {
	src := writeTempSource(t, "foo.c")
	c := mustClassify(t, []string{"-MT", "foo", "-MD", "-c", src, "-o", "foo.o"})
	if c.DepFlags.FlagMT != "foo" {
		t.Errorf("FlagMT = %q, want just the explicit target %q", c.DepFlags.FlagMT, "foo")
	}
}

func writeTempSource(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("int main(void){return 0;}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
