// Package driver orchestrates one invocation end to end: resolve the real
// compiler, classify the arguments, attempt direct mode, attempt
// preprocessor mode, and on a full miss run (and store) the real compile —
// falling back to an unmodified real-compiler execve on any internal
// failure.
package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveCompiler determines which real compiler to run, supporting both
// invocation forms: wrapperArgv0 is argv[0] as the OS invoked us with,
// wrapperArgs is argv[1:], ccOverride is CCACHE_CC (empty if unset).
//
// Grounded on github.com/VKCOM/nocc's internal/client/daemon.go pattern of a
// handful of small resolver functions consulted in sequence before an
// invocation is built, generalized to the wrapped-vs-masqueraded distinction.
func ResolveCompiler(wrapperArgv0 string, wrapperArgs []string, ccOverride string) (compiler string, rest []string, err error) {
	wrapperBase := filepath.Base(wrapperArgv0)

	// Masqueraded form: argv[0] is a symlink named like a compiler.
	if wrapperBase != "ccache" {
		if ccOverride != "" {
			return ccOverride, wrapperArgs, nil
		}
		return resolveByBasename(wrapperBase, wrapperArgv0, wrapperArgs)
	}

	// Wrapped form: argv[1] names the compiler, either a basename to search
	// PATH for or a path containing a separator to use as-is. That leading
	// token is always consumed here, whether or not CCACHE_CC overrides
	// which real compiler ultimately runs.
	if len(wrapperArgs) == 0 {
		return "", nil, fmt.Errorf("ccache: missing compiler argument")
	}
	name, args := wrapperArgs[0], wrapperArgs[1:]
	if ccOverride != "" {
		return ccOverride, args, nil
	}
	return resolveByBasename(name, wrapperArgv0, args)
}

func resolveByBasename(name string, wrapperArgv0 string, args []string) (string, []string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, args, nil
	}

	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", nil, fmt.Errorf("ccache: cannot find %s in PATH: %w", name, err)
	}

	selfPath, selfErr := filepath.Abs(wrapperArgv0)
	resolvedAbs, resolvedErr := filepath.Abs(resolved)
	if selfErr == nil && resolvedErr == nil && samePath(selfPath, resolvedAbs) {
		return "", nil, fmt.Errorf("ccache: recursive invocation, %s resolves to itself", name)
	}

	return resolved, args, nil
}

func samePath(a, b string) bool {
	ai, aerr := os.Stat(a)
	bi, berr := os.Stat(b)
	if aerr != nil || berr != nil {
		return a == b
	}
	return os.SameFile(ai, bi)
}
