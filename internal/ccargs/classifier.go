// Package ccargs implements the compiler argument classifier: it consumes
// an invocation's argv and produces the preprocessor arg-list, the
// compiler arg-list, the subset of args that participate in the hash, and
// the cache-control flag bundle driving the rest of the driver.
//
// The control-flow shape — a single pass over argv with index-aware helpers
// recognizing "-flag value" and "-flagvalue" forms — is grounded on
// github.com/VKCOM/nocc's internal/client/invocation.go ParseCmdLineInvocation,
// generalized from nocc's C++-build-farm-specific option set (which only
// needs to recognize enough to reconstruct a remote compile) to a full
// compiler-flag classification rule set.
package ccargs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nocc-cache/ccache/internal/config"
)

// Language is one of the recognized source-language tags.
type Language string

const (
	LangC               Language = "c"
	LangCxx             Language = "c++"
	LangCppOutput       Language = "cpp-output"
	LangCxxCppOutput    Language = "c++-cpp-output"
	LangObjCCppOutput   Language = "objc-cpp-output"
	LangObjCxxCppOutput Language = "objc++-cpp-output"
	LangObjC            Language = "objective-c"
	LangObjCxx          Language = "objective-c++"
)

// extensionLanguages is the recognized source-extension-to-language table.
var extensionLanguages = map[string]Language{
	".c":   LangC,
	".C":   LangCxx,
	".cc":  LangCxx,
	".CC":  LangCxx,
	".cpp": LangCxx,
	".CPP": LangCxx,
	".cxx": LangCxx,
	".CXX": LangCxx,
	".c++": LangCxx,
	".C++": LangCxx,
	".i":   LangCppOutput,
	".ii":  LangCxxCppOutput,
	".mi":  LangObjCCppOutput,
	".mii": LangObjCxxCppOutput,
	".m":   LangObjC,
	".M":   LangObjCxx,
	".mm":  LangObjCxx,
}

// isPreprocessedLanguage reports whether a language's canonical source
// extension is already a "*-cpp-output" variant.
func isPreprocessedLanguage(lang Language) bool {
	return strings.HasSuffix(string(lang), "-cpp-output")
}

func languageForPath(path string) (Language, bool) {
	lang, ok := extensionLanguages[filepath.Ext(path)]
	return lang, ok
}

// HashArg is one hash-participating token, tagged with whether it is
// excluded from the hash in preprocessor mode only.
type HashArg struct {
	Token          string
	DirectModeOnly bool
}

// BypassError signals that the invocation must run the real compiler
// unchanged, never a compile error of our own making.
type BypassError struct {
	Reason string
}

func (b *BypassError) Error() string { return "bypass cache: " + b.Reason }

func bypass(format string, args ...interface{}) error {
	return &BypassError{Reason: fmt.Sprintf(format, args...)}
}

// Classification is the classifier's full output: the two argv reconstructions
// plus the hash-participating subset plus the cache-control flag bundle.
type Classification struct {
	PreprocessorArgs []string
	CompilerArgs     []string
	HashArgs         []HashArg
	SpecsFile        string // --specs=FILE path whose *contents* (not path) enter the hash

	InputFile        string
	InputLanguage    Language
	ExplicitLanguage bool // true if InputLanguage came from -x rather than extension sniffing

	OutputObj string
	OutputDep string

	GeneratingDependencies        bool
	DirectIFile                   bool // input is already preprocessed (an LangXxxCppOutput variant)
	CompilePreprocessedSourceCode bool
	EnableDirect                  bool
	EnableUnify                   bool

	DepFlags DepCmdFlags
}

// Classify walks one invocation's argv (with the compiler name itself,
// argv[0], already stripped) and produces its Classification.
func Classify(args []string, cwd string, cfg config.Configuration) (*Classification, error) {
	c := &Classification{
		EnableDirect:                  cfg.EnableDirect,
		EnableUnify:                   cfg.EnableUnify,
		CompilePreprocessedSourceCode: cfg.CompilePreprocessedSourceCode,
	}

	var (
		passThrough  []string // tokens forwarded verbatim to both arg lists
		includeDirs  IncludeDirs
		explicitLang Language
		sawDashC     bool
		sawArch      int
		inputCharset string
		hasInput     bool
	)

	addHash := func(token string, directOnly bool) {
		c.HashArgs = append(c.HashArgs, HashArg{Token: token, DirectModeOnly: directOnly})
	}

	rewriteForBaseDir := func(p string) string {
		if cfg.BaseDir == "" || !filepath.IsAbs(p) {
			return p
		}
		rel, err := filepath.Rel(cwd, p)
		if err != nil || strings.HasPrefix(rel, "..") && !strings.HasPrefix(p, cfg.BaseDir) {
			return p
		}
		if !strings.HasPrefix(p, cfg.BaseDir) {
			return p
		}
		if rel, err := filepath.Rel(cwd, p); err == nil {
			return rel
		}
		return p
	}

	// valueOf recognizes both "-flag value" (two tokens) and "-flagvalue"
	// (concatenated) forms.
	valueOf := func(arg, flag string, i *int) (string, bool) {
		if arg == flag {
			if *i+1 >= len(args) {
				return "", false
			}
			*i++
			return args[*i], true
		}
		if strings.HasPrefix(arg, flag) && len(arg) > len(flag) {
			return arg[len(flag):], true
		}
		return "", false
	}

	hashExcludedInPreprocessorMode := map[string]bool{
		"-D": true, "-I": true, "-U": true,
		"-idirafter": true, "-imacros": true, "-imultilib": true,
		"-include": true, "-iprefix": true, "-iquote": true,
		"-isysroot": true, "-isystem": true,
		"-iwithprefix": true, "-iwithprefixbefore": true,
		"-nostdinc": true, "-nostdinc++": true,
	}

	pathRewriteFlags := []string{"-I", "-idirafter", "-imacros", "-include", "-iprefix", "-isystem"}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "" {
			continue
		}

		switch {
		// --- rule 1: hard bypass ---
		case arg == "-E" || arg == "-M" || arg == "-MM" || arg == "--coverage" ||
			arg == "-fbranch-probabilities" || arg == "-fprofile-arcs" ||
			arg == "-fprofile-generate" || arg == "-fprofile-use" ||
			arg == "-ftest-coverage" || arg == "-save-temps":
			return nil, bypass("unsupported option %s", arg)
		case strings.HasPrefix(arg, "@"):
			return nil, bypass("@-file %s is unsupported", arg)
		case arg == "-arch":
			sawArch++
			if sawArch > 1 {
				return nil, bypass("multiple -arch is unsupported")
			}
			if i+1 < len(args) {
				i++
				passThrough = append(passThrough, arg, args[i])
				addHash(arg, false)
				addHash(args[i], false)
			}
			continue
		case arg == "-o" && i+1 < len(args) && args[i+1] == "-":
			return nil, bypass("-o - is unsupported")

		// --- --ccache-skip: consume next token verbatim, no forward/hash ---
		case arg == "--ccache-skip":
			if i+1 < len(args) {
				i++
			}
			continue

		// --- rule 2: direct-mode demotion ---
		case arg == "-Xpreprocessor":
			c.EnableDirect = false
			passThrough = append(passThrough, arg)
			addHash(arg, false)
			continue
		case strings.HasPrefix(arg, "-Wp,"):
			rest := strings.TrimPrefix(arg, "-Wp,")
			isRecognized := strings.HasPrefix(rest, "-MD,") || strings.HasPrefix(rest, "-MMD,")
			if !isRecognized {
				c.EnableDirect = false
			} else {
				depFile := rest[strings.IndexByte(rest, ',')+1:]
				c.GeneratingDependencies = true
				if strings.HasPrefix(rest, "-MD,") {
					c.DepFlags.SetMD()
				} else {
					c.DepFlags.SetMMD()
				}
				c.OutputDep = depFile
				c.DepFlags.SetMF(depFile)
			}
			passThrough = append(passThrough, arg)
			addHash(arg, false)
			continue

		// --- rule 3: controlled options ---
		case hasPrefixValue(arg, "-o"):
			v, ok := valueOf(arg, "-o", &i)
			if !ok {
				return nil, bypass("missing argument after -o")
			}
			c.OutputObj = v
			continue
		case hasPrefixValue(arg, "-x"):
			v, ok := valueOf(arg, "-x", &i)
			if !ok {
				return nil, bypass("missing argument after -x")
			}
			explicitLang = Language(v)
			c.ExplicitLanguage = true
			continue
		case hasPrefixValue(arg, "-MF"):
			v, _ := valueOf(arg, "-MF", &i)
			c.OutputDep = v
			c.DepFlags.SetMF(v)
			continue
		case hasPrefixValue(arg, "-MT"):
			v, _ := valueOf(arg, "-MT", &i)
			c.DepFlags.SetMT(v)
			continue
		case hasPrefixValue(arg, "-MQ"):
			v, _ := valueOf(arg, "-MQ", &i)
			c.DepFlags.SetMQ(v)
			continue
		case arg == "-MD":
			c.GeneratingDependencies = true
			c.DepFlags.SetMD()
			continue
		case arg == "-MMD":
			c.GeneratingDependencies = true
			c.DepFlags.SetMMD()
			continue
		case strings.HasPrefix(arg, "-finput-charset="):
			inputCharset = arg
			addHash(arg, false)
			continue

		// --- rule 4: path-rewriting options ---
		case matchesAny(arg, pathRewriteFlags):
			flag, ok := matchedFlag(arg, pathRewriteFlags)
			if !ok {
				break
			}
			v, ok := valueOf(arg, flag, &i)
			if !ok {
				return nil, bypass("missing argument after %s", flag)
			}
			rewritten := rewriteForBaseDir(v)
			includeDirs.Add(flag, rewritten)
			addHash(flag, hashExcludedInPreprocessorMode[flag])
			addHash(rewritten, hashExcludedInPreprocessorMode[flag])
			continue

		// --- rule 5: debug options ---
		case strings.HasPrefix(arg, "-g"):
			passThrough = append(passThrough, arg)
			addHash(arg, false)
			if arg == "-g3" {
				c.CompilePreprocessedSourceCode = false
			}
			if arg != "-g0" {
				c.EnableUnify = false
			}
			continue

		// --- rule 7: special ---
		case strings.HasPrefix(arg, "--specs="):
			c.SpecsFile = strings.TrimPrefix(arg, "--specs=")
			passThrough = append(passThrough, arg)
			continue
		case arg == "-L":
			passThrough = append(passThrough, arg)
			if i+1 < len(args) {
				i++
				passThrough = append(passThrough, args[i])
			}
			continue
		case strings.HasPrefix(arg, "-L") && len(arg) > 2:
			passThrough = append(passThrough, arg)
			continue

		// --- rule 6: hash-exclusion-only options (no path rewriting) ---
		case arg == "-D" || arg == "-U":
			// two-token form: the next token is the macro and goes with it
			passThrough = append(passThrough, arg)
			addHash(arg, true)
			if i+1 < len(args) {
				i++
				passThrough = append(passThrough, args[i])
				addHash(args[i], true)
			}
			continue
		case strings.HasPrefix(arg, "-D") || strings.HasPrefix(arg, "-U"):
			passThrough = append(passThrough, arg)
			addHash(arg, true)
			continue
		case arg == "-iquote" || arg == "-isysroot" || arg == "-imultilib" ||
			arg == "-iwithprefix" || arg == "-iwithprefixbefore":
			passThrough = append(passThrough, arg)
			addHash(arg, true)
			if i+1 < len(args) {
				i++
				passThrough = append(passThrough, args[i])
				addHash(args[i], true)
			}
			continue
		case arg == "-nostdinc" || arg == "-nostdinc++":
			passThrough = append(passThrough, arg)
			addHash(arg, true)
			continue

		default:
		}

		if strings.HasPrefix(arg, "-") {
			if arg == "-c" {
				sawDashC = true
				continue // -c itself is not forwarded; the driver decides when to pass it
			}
			passThrough = append(passThrough, arg)
			addHash(arg, false)
			continue
		}

		// --- rule 8: input file detection ---
		if lang, ok := languageForPath(arg); ok || isRegularFile(arg) {
			if hasInput {
				return nil, bypass("multiple input files")
			}
			hasInput = true
			c.InputFile = arg
			if !c.ExplicitLanguage {
				if ok {
					c.InputLanguage = lang
				}
			}
			continue
		}

		if strings.HasSuffix(arg, ".o") || strings.HasSuffix(arg, ".a") || strings.HasPrefix(arg, ".so") {
			return nil, bypass("link invocation, not a compile")
		}
		passThrough = append(passThrough, arg)
		addHash(arg, false)
	}

	if !sawDashC {
		return nil, bypass("no -c: not a compile-only invocation")
	}
	if c.InputFile == "" {
		return nil, bypass("no input file")
	}
	if c.ExplicitLanguage {
		c.InputLanguage = explicitLang
	}
	c.DirectIFile = isPreprocessedLanguage(c.InputLanguage)
	if c.DirectIFile {
		c.CompilePreprocessedSourceCode = false
	}

	c.DepFlags.OrigO = c.OutputObj
	c.DepFlags.OrigCpp = c.InputFile
	if c.GeneratingDependencies && c.OutputDep == "" {
		c.OutputDep = DefaultDepFileName(c.OutputObj)
		c.DepFlags.SetMF(c.OutputDep)
		if c.DepFlags.FlagMT == "" {
			c.DepFlags.SetMT(c.OutputObj)
		}
	}

	c.PreprocessorArgs = append([]string{}, passThrough...)
	c.PreprocessorArgs = append(c.PreprocessorArgs, includeDirs.AsArgs()...)
	if inputCharset != "" {
		c.PreprocessorArgs = append(c.PreprocessorArgs, inputCharset)
	}
	if c.ExplicitLanguage {
		c.PreprocessorArgs = append(c.PreprocessorArgs, "-x", string(c.InputLanguage))
	}

	c.CompilerArgs = append([]string{}, passThrough...)
	c.CompilerArgs = append(c.CompilerArgs, includeDirs.AsArgs()...)
	if c.CompilePreprocessedSourceCode {
		c.CompilerArgs = append(c.CompilerArgs, "-x", string(intermediateLanguage(c.InputLanguage)))
	} else if inputCharset != "" {
		// re-reading the original source still needs the charset hint.
		c.CompilerArgs = append(c.CompilerArgs, inputCharset)
	}

	return c, nil
}

// intermediateLanguage maps a source language to the *-cpp-output variant
// used when feeding the compile step with already-preprocessed text.
func intermediateLanguage(lang Language) Language {
	switch lang {
	case LangC:
		return LangCppOutput
	case LangCxx:
		return LangCxxCppOutput
	case LangObjC:
		return LangObjCCppOutput
	case LangObjCxx:
		return LangObjCxxCppOutput
	default:
		return lang
	}
}

// IntermediateExtension returns the conventional file extension for lang's
// preprocessed form, used to name temp files holding preprocessor output.
func IntermediateExtension(lang Language) string {
	switch intermediateLanguage(lang) {
	case LangCppOutput:
		return ".i"
	case LangCxxCppOutput:
		return ".ii"
	case LangObjCCppOutput:
		return ".mi"
	case LangObjCxxCppOutput:
		return ".mii"
	default:
		return ".i"
	}
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func matchesAny(arg string, flags []string) bool {
	_, ok := matchedFlag(arg, flags)
	return ok
}

func matchedFlag(arg string, flags []string) (string, bool) {
	for _, f := range flags {
		if arg == f || strings.HasPrefix(arg, f) {
			return f, true
		}
	}
	return "", false
}

func hasPrefixValue(arg, flag string) bool {
	return arg == flag || strings.HasPrefix(arg, flag)
}
