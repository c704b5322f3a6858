package driver

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nocc-cache/ccache/internal/cachestore"
	"github.com/nocc-cache/ccache/internal/ccargs"
	"github.com/nocc-cache/ccache/internal/common"
	"github.com/nocc-cache/ccache/internal/config"
	"github.com/nocc-cache/ccache/internal/hasher"
	"github.com/nocc-cache/ccache/internal/manifest"
	"github.com/nocc-cache/ccache/internal/scanner"
	"github.com/nocc-cache/ccache/internal/stats"
)

// Driver runs one wrapper invocation to completion.
// Grounded on github.com/VKCOM/nocc's internal/client/compile-locally.go
// RunCxxLocally (exec.Command with captured stdout/stderr buffers, deciding
// what to forward) for actually running a compiler process, generalized
// from nocc's single "run it, ship the result" call into a multi-stage
// direct/preprocessor/compile sequence.
type Driver struct {
	Cfg    config.Configuration
	Logger *common.LoggerWrapper
}

func New(cfg config.Configuration, logger *common.LoggerWrapper) *Driver {
	return &Driver{Cfg: cfg, Logger: logger}
}

// Run drives one compile invocation end to end and returns the process
// exit code the wrapper should use.
func (d *Driver) Run(wrapperArgv0 string, wrapperArgs []string) int {
	cwd, err := os.Getwd()
	if err != nil {
		d.Logger.Error("getwd:", err)
		return d.fallback(wrapperArgv0, wrapperArgs, "")
	}

	if d.Cfg.Disable {
		d.bump("", stats.Bypassed)
		return d.fallback(wrapperArgv0, wrapperArgs, cwd)
	}

	compiler, args, err := ResolveCompiler(wrapperArgv0, wrapperArgs, d.Cfg.CC)
	if err != nil {
		d.Logger.Error(err)
		return 1 // no compiler could be resolved at all; nothing to fall back to
	}

	classification, err := ccargs.Classify(args, cwd, d.Cfg)
	if err != nil {
		if _, ok := err.(*ccargs.BypassError); ok {
			d.Logger.TmpDebug("bypass:", err)
		} else {
			d.Logger.Error("classify:", err)
		}
		d.bump("", stats.Bypassed)
		return d.fallback(compiler, args, cwd)
	}

	compileStart := time.Now()
	commonHash, err := d.computeCommonHash(compiler, classification)
	if err != nil {
		d.Logger.Error("common hash:", err)
		d.bump("", stats.InternalError)
		return d.fallback(compiler, args, cwd)
	}

	enableDirect := classification.EnableDirect
	var directHash *hasher.Hasher
	var directDigest hasher.FileHash
	if enableDirect {
		directHash = commonHash.Clone()
		for _, ha := range classification.HashArgs {
			if ha.DirectModeOnly {
				directHash.Delimiter("arg")
				directHash.Update([]byte(ha.Token))
			}
		}
		if !d.Cfg.Sloppiness.Has(config.SloppyFileMacro) {
			directHash.Delimiter("inputfile")
			directHash.Update([]byte(classification.InputFile))
		}
		directHash.Delimiter("sourcecode")
		src, err := os.ReadFile(classification.InputFile)
		if err != nil {
			enableDirect = false
		} else if !d.Cfg.Sloppiness.Has(config.SloppyTimeMacros) && hasTimeMacro(src) {
			enableDirect = false
		} else {
			directHash.Update(src)
			directDigest = directHash.Finalize()
		}
	}

	var manifestCachePath cachestore.CachePath
	haveDirectCandidate := enableDirect && !directDigest.IsZero()
	if haveDirectCandidate {
		manifestCachePath, err = cachestore.PathOf(d.Cfg.CacheDir, directDigest, d.Cfg.NLevels, ".manifest")
		if err != nil {
			haveDirectCandidate = false
		}
	}

	// --- step 4: direct attempt ---
	if haveDirectCandidate {
		if m, err := manifest.Load(string(manifestCachePath)); err == nil {
			if objHash, ok := m.Get(scanner.HashFile); ok && !d.Cfg.Recache {
				if d.fromCacheDirect(objHash, classification, compiler) {
					d.bump(string(manifestCachePath), stats.DirectHit)
					return 0
				}
			}
		}
	}

	// --- step 5: preprocessor attempt ---
	cppHash := commonHash.Clone()

	preprocessedPath, stderrFromCpp, err := d.runPreprocessor(compiler, classification, cwd)
	if err != nil {
		d.Logger.Error("preprocess:", err)
		d.bump("", stats.InternalError)
		return d.fallback(compiler, args, cwd)
	}
	defer os.Remove(preprocessedPath)

	var includeSet *scanner.IncludeSet
	var scanEnableDirect bool
	if classification.EnableUnify {
		// unify mode hashes semantic content only (comments/whitespace folded
		// away); it never discovers includes, since EnableDirect is already
		// forced off whenever EnableUnify is set.
		if err := scanner.ScanUnify(preprocessedPath, cppHash); err != nil {
			d.Logger.Error("scan:", err)
			d.bump("", stats.InternalError)
			return d.fallback(compiler, args, cwd)
		}
	} else {
		includeSet, scanEnableDirect, err = scanner.Scan(preprocessedPath, scanner.Options{
			InputFile:              classification.InputFile,
			BaseDir:                d.Cfg.BaseDir,
			CompileStart:           compileStart,
			EnableDirect:           enableDirect,
			SloppyIncludeFileMTime: d.Cfg.Sloppiness.Has(config.SloppyIncludeFileMTime),
			SloppyTimeMacros:       d.Cfg.Sloppiness.Has(config.SloppyTimeMacros),
		}, cppHash)
		if err != nil {
			d.Logger.Error("scan:", err)
			d.bump("", stats.InternalError)
			return d.fallback(compiler, args, cwd)
		}
	}
	cppHash.Delimiter("cppstderr")
	cppHash.Update(stderrFromCpp)
	cppDigest := cppHash.Finalize()

	objPath, _ := cachestore.PathOf(d.Cfg.CacheDir, cppDigest, d.Cfg.NLevels, objectSuffix(d.Cfg.Extension))

	if !d.Cfg.Recache {
		if d.fromCacheCompiled(objPath, cppDigest, classification, includeSet, scanEnableDirect, string(manifestCachePath)) {
			d.bump(string(objPath), stats.PreprocessorHit)
			return 0
		}
	}

	// --- step 6: run the real compiler and store ---
	if d.Cfg.Readonly {
		return d.fallback(compiler, args, cwd)
	}

	exitCode, stderr, err := d.compileAndStore(compiler, classification, preprocessedPath, cppDigest, objPath, includeSet, scanEnableDirect, string(manifestCachePath), stderrFromCpp)
	if err != nil {
		d.Logger.Error("compile:", err)
		d.bump("", stats.InternalError)
		return d.fallback(compiler, args, cwd)
	}
	os.Stderr.Write(stderr)
	d.bump(string(objPath), stats.CacheMiss)
	return exitCode
}

func hasTimeMacro(data []byte) bool {
	return bytes.Contains(data, []byte("__TIME__")) || bytes.Contains(data, []byte("__DATE__"))
}

func objectSuffix(extension string) string {
	if extension != "" {
		return extension
	}
	return ".o"
}

// computeCommonHash folds everything direct mode, preprocessor mode, and
// the plain cache key all agree on into one hash: the tool's identity and
// version, the compiler's identity, the current directory (if HashDir),
// extra files, and every hash-relevant argument except the DirectModeOnly
// ones.
func (d *Driver) computeCommonHash(compiler string, c *ccargs.Classification) (*hasher.Hasher, error) {
	h := &hasher.Hasher{}
	h.Start()

	h.Delimiter("ext")
	h.Update([]byte(common.GetVersion()))
	h.Update([]byte{0})
	h.Update([]byte(ccargs.IntermediateExtension(c.InputLanguage)))

	switch d.Cfg.CompilerCheck {
	case config.CompilerCheckMtime:
		info, err := os.Stat(compiler)
		if err != nil {
			return nil, err
		}
		h.Delimiter("cc_mtime")
		h.Update([]byte(strconv.FormatInt(info.Size(), 10)))
		h.Update([]byte{0})
		h.Update([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	case config.CompilerCheckContent:
		data, err := os.ReadFile(compiler)
		if err != nil {
			return nil, err
		}
		h.Delimiter("cc_content")
		h.Update(data)
	}

	h.Delimiter("cc_name")
	h.Update([]byte(filepath.Base(compiler)))

	if d.Cfg.HashDir {
		cwd, _ := os.Getwd()
		h.Delimiter("cwd")
		h.Update([]byte(cwd))
	}

	for _, ef := range d.Cfg.ExtraFiles {
		data, err := os.ReadFile(ef)
		if err != nil {
			return nil, fmt.Errorf("extra_files %s: %w", ef, err)
		}
		h.Delimiter("extrafile")
		h.Update(data)
	}

	for _, ha := range c.HashArgs {
		if ha.DirectModeOnly {
			continue // added to direct_hash only, once cloned
		}
		h.Delimiter("arg")
		h.Update([]byte(ha.Token))
	}

	if c.SpecsFile != "" {
		if data, err := os.ReadFile(c.SpecsFile); err == nil {
			h.Delimiter("specs")
			h.Update(data)
		}
	}

	return h, nil
}

// runPreprocessor either runs the real compiler with -E, or, for an
// already-preprocessed input, uses it directly.
func (d *Driver) runPreprocessor(compiler string, c *ccargs.Classification, cwd string) (stdoutPath string, stderr []byte, err error) {
	if c.DirectIFile {
		return c.InputFile, nil, nil
	}

	tmpOut, err := os.CreateTemp(d.Cfg.TempDir, "ccache-cpp-*"+ccargs.IntermediateExtension(c.InputLanguage))
	if err != nil {
		return "", nil, err
	}
	defer tmpOut.Close()

	cmdArgs := append([]string{}, c.PreprocessorArgs...)
	cmdArgs = append(cmdArgs, "-E", c.InputFile)

	cmd := prefixedCommand(d.Cfg.Prefix, compiler, cmdArgs)
	cmd.Dir = cwd
	cmd.Stdout = tmpOut
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if runErr := cmd.Run(); runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return "", nil, runErr
		}
	}

	return tmpOut.Name(), stderrBuf.Bytes(), nil
}

func prefixedCommand(prefix, compiler string, args []string) *exec.Cmd {
	if prefix == "" {
		return exec.Command(compiler, args...)
	}
	parts := strings.Fields(prefix)
	fullArgs := append(append([]string{}, parts[1:]...), compiler)
	fullArgs = append(fullArgs, args...)
	return exec.Command(parts[0], fullArgs...)
}

// fromCacheDirect materializes a cache hit found via the manifest (direct
// mode): the object, an optional .d file, and the replayed stderr.
func (d *Driver) fromCacheDirect(objHash hasher.FileHash, c *ccargs.Classification, compiler string) bool {
	objPath, err := cachestore.PathOf(d.Cfg.CacheDir, objHash, d.Cfg.NLevels, objectSuffix(d.Cfg.Extension))
	if err != nil {
		return false
	}
	if _, err := os.Stat(string(objPath)); err != nil {
		return false
	}
	if c.GeneratingDependencies {
		depPath, err := cachestore.PathOf(d.Cfg.CacheDir, objHash, d.Cfg.NLevels, ".d")
		if err != nil {
			return false
		}
		if _, err := os.Stat(string(depPath)); err != nil {
			return false // missing .d when dep-generation was requested
		}
		if err := cachestore.Materialize(depPath, c.OutputDep, d.Cfg.Hardlink); err != nil {
			return false
		}
	}

	stderrPath, err := cachestore.PathOf(d.Cfg.CacheDir, objHash, d.Cfg.NLevels, ".stderr")
	if err == nil {
		if data, err := cachestore.ReadAll(stderrPath); err == nil {
			os.Stderr.Write(data)
		}
	}

	if err := cachestore.Materialize(objPath, c.OutputObj, d.Cfg.Hardlink); err != nil {
		return false
	}
	_ = cachestore.RefreshMtime(objPath)
	return true
}

// fromCacheCompiled looks the object up directly by cpp_hash, and if found,
// materializes it and updates the manifest with the now-known IncludeSet
// if not already present.
func (d *Driver) fromCacheCompiled(objPath cachestore.CachePath, objDigest hasher.FileHash, c *ccargs.Classification, includeSet *scanner.IncludeSet, enableDirect bool, manifestPath string) bool {
	if _, err := os.Stat(string(objPath)); err != nil {
		return false
	}
	if c.GeneratingDependencies {
		depPath, err := cachestore.PathOf(d.Cfg.CacheDir, objDigest, d.Cfg.NLevels, ".d")
		if err != nil || !fileExists(string(depPath)) {
			return false
		}
		if err := cachestore.Materialize(depPath, c.OutputDep, d.Cfg.Hardlink); err != nil {
			return false
		}
	}

	stderrPath, err := cachestore.PathOf(d.Cfg.CacheDir, objDigest, d.Cfg.NLevels, ".stderr")
	if err == nil {
		if data, err := cachestore.ReadAll(stderrPath); err == nil {
			os.Stderr.Write(data)
		}
	}

	if err := cachestore.Materialize(objPath, c.OutputObj, d.Cfg.Hardlink); err != nil {
		return false
	}
	_ = cachestore.RefreshMtime(objPath)

	if enableDirect && includeSet != nil && manifestPath != "" {
		d.updateManifest(manifestPath, includeSet, objDigest)
	}
	return true
}

// compileAndStore runs the real compiler on the preprocessor output (or
// the original source), stores the artifacts, and updates the manifest.
func (d *Driver) compileAndStore(compiler string, c *ccargs.Classification, preprocessedPath string, objDigest hasher.FileHash, objPath cachestore.CachePath, includeSet *scanner.IncludeSet, enableDirect bool, manifestPath string, cppStderr []byte) (exitCode int, stderr []byte, err error) {
	source := preprocessedPath
	args := append([]string{}, c.CompilerArgs...)
	if !c.CompilePreprocessedSourceCode {
		source = c.InputFile
	}

	tmpObj, err := os.CreateTemp(d.Cfg.TempDir, "ccache-obj-*"+objectSuffix(d.Cfg.Extension))
	if err != nil {
		return 0, nil, err
	}
	tmpObjName := tmpObj.Name()
	tmpObj.Close()
	os.Remove(tmpObjName)
	defer os.Remove(tmpObjName)

	args = append(args, "-c", source, "-o", tmpObjName)

	cmd := prefixedCommand(d.Cfg.Prefix, compiler, args)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	runErr := cmd.Run()

	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return 0, nil, runErr
		}
	}

	if code != 0 {
		return code, stderrBuf.Bytes(), nil
	}

	mergedStderr := append(append([]byte{}, cppStderr...), stderrBuf.Bytes()...)

	if err := cachestore.Stage(tmpObjName, objPath, d.Cfg.EnableCompression, d.Cfg.TempDir); err != nil {
		return 0, nil, err
	}

	if len(mergedStderr) > 0 {
		stderrCachePath, pathErr := cachestore.PathOf(d.Cfg.CacheDir, objDigest, d.Cfg.NLevels, ".stderr")
		if pathErr == nil {
			if tmp, werr := os.CreateTemp(d.Cfg.TempDir, "ccache-stderr-*"); werr == nil {
				tmp.Write(mergedStderr)
				tmp.Close()
				_ = cachestore.Stage(tmp.Name(), stderrCachePath, d.Cfg.EnableCompression, d.Cfg.TempDir)
				os.Remove(tmp.Name())
			}
		}
	}

	if c.GeneratingDependencies {
		if depFileName, err := c.DepFlags.GenerateAndSaveDepFile(toHFiles(includeSet)); err == nil {
			defer os.Remove(depFileName)
			depPath, pathErr := cachestore.PathOf(d.Cfg.CacheDir, objDigest, d.Cfg.NLevels, ".d")
			if pathErr == nil {
				_ = cachestore.Stage(depFileName, depPath, d.Cfg.EnableCompression, d.Cfg.TempDir)
			}
			if c.OutputDep != "" {
				depData, _ := os.ReadFile(depFileName)
				_ = os.WriteFile(c.OutputDep, depData, 0o644)
			}
		}
	}

	if err := cachestore.Materialize(objPath, c.OutputObj, d.Cfg.Hardlink); err != nil {
		return 0, nil, err
	}

	if enableDirect && includeSet != nil && manifestPath != "" {
		d.updateManifest(manifestPath, includeSet, objDigest)
	}

	return 0, mergedStderr, nil
}

func toHFiles(set *scanner.IncludeSet) []ccargs.HFile {
	if set == nil {
		return nil
	}
	out := make([]ccargs.HFile, 0, len(set.Entries))
	for _, e := range set.Entries {
		out = append(out, ccargs.HFile{Path: e.Path})
	}
	return out
}

func (d *Driver) updateManifest(manifestPath string, set *scanner.IncludeSet, objDigest hasher.FileHash) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		m = manifest.New()
	}

	refs := make([]manifest.IncludeRef, 0, len(set.Entries))
	for _, e := range set.Entries {
		refs = append(refs, manifest.IncludeRef{Path: e.Path, Hash: e.Hash})
	}

	if m.Put(refs, objDigest, manifest.DefaultCapacity) {
		_ = m.Save(manifestPath)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fallback strips any --ccache-* arguments and runs the real compiler with
// the original argv, passing through its exit code unmodified. The cache
// must never make a compilation fail that would otherwise succeed.
func (d *Driver) fallback(compiler string, args []string, cwd string) int {
	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--ccache-") {
			if args[i] == "--ccache-skip" {
				i++ // also drop the token it controls
			}
			continue
		}
		filtered = append(filtered, args[i])
	}

	cmd := exec.Command(compiler, filtered...)
	cmd.Dir = cwd
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		d.Logger.Error("fallback exec:", err)
		return 1
	}
	return 0
}

func (d *Driver) bump(cachePathHint string, counter stats.Counter) {
	dir := d.Cfg.CacheDir
	if cachePathHint != "" {
		dir = filepath.Dir(cachePathHint)
	}
	if err := stats.Increment(dir, counter, 1); err != nil {
		d.Logger.TmpDebug("stats:", err)
	}
}
