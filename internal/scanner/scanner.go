// Package scanner implements the source scanner: it walks a preprocessed
// translation unit, mixes its bytes into a Hasher while rewriting embedded
// absolute paths relative to base_dir, and (in direct mode) discovers the
// set of header files the translation unit depends on.
//
// The line-marker grammar and the bufio word-scanning idiom for recognizing
// compiler-emitted path tokens are grounded on
// github.com/VKCOM/nocc's internal/client/includes-collector.go
// extractIncludesFromCxxMStdout, generalized from parsing `cxx -M` dependency
// output to parsing `# <n> "path"` / `#line <n> "path"` markers inside `cxx
// -E` output directly, since direct/preprocessor mode here never shells out
// to a second `-M` invocation.
package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nocc-cache/ccache/internal/hasher"
)

// IncludeEntry is one dependency discovered while scanning, paired with the
// content hash used to revalidate it on a later direct-mode lookup.
type IncludeEntry struct {
	Path string
	Hash hasher.FileHash
}

// IncludeSet is the dependency list stored per manifest entry.
type IncludeSet struct {
	Entries []IncludeEntry
}

// Options configures one scan.
type Options struct {
	InputFile              string
	BaseDir                string
	CompileStart           time.Time
	EnableDirect           bool
	SloppyIncludeFileMTime bool
	SloppyTimeMacros       bool
}

var lineMarkerRe = regexp.MustCompile(`^(#\s*(?:line\s+)?[0-9]+\s+")([^"]*)("(?:\s.*)?)$`)

var timeMacros = [][]byte{[]byte("__TIME__"), []byte("__DATE__")}

// Scan feeds preprocessedPath's bytes into h (rewriting embedded paths
// relative to opts.BaseDir as it goes) and, when opts.EnableDirect is set,
// returns the IncludeSet of every header it discovers. A per-include
// failure (file vanished, mtime too new, embedded time macro) degrades the
// returned enableDirect to false without failing the scan itself — the
// overall compile must still succeed.
func Scan(preprocessedPath string, opts Options, h *hasher.Hasher) (set *IncludeSet, enableDirect bool, err error) {
	data, unmap, err := mmapFile(preprocessedPath)
	if err != nil {
		return nil, false, err
	}
	defer unmap()

	enableDirect = opts.EnableDirect
	set = &IncludeSet{}
	seen := make(map[string]bool)

	pos := 0
	for pos < len(data) {
		nl := bytes.IndexByte(data[pos:], '\n')
		var line []byte
		var next int
		if nl < 0 {
			line = data[pos:]
			next = len(data)
		} else {
			line = data[pos : pos+nl]
			next = pos + nl + 1
		}

		if m := lineMarkerRe.FindSubmatch(line); m != nil {
			prefix, rawPath, suffix := m[1], string(m[2]), m[3]
			h.Update(prefix)
			h.Delimiter("path")
			h.Update([]byte(rewriteForBaseDir(rawPath, opts.BaseDir)))
			h.Update(suffix)
			if next > pos+len(line) {
				h.Update([]byte("\n"))
			}

			if enableDirect && !seen[rawPath] {
				seen[rawPath] = true
				if queueable(rawPath, opts.InputFile) {
					entry, ok := hashIncludeFile(rawPath, opts)
					if !ok {
						enableDirect = false
					} else {
						set.Entries = append(set.Entries, entry)
					}
				}
			}
		} else {
			h.Update(line)
			if next > pos+len(line) {
				h.Update([]byte("\n"))
			}
		}

		pos = next
	}

	return set, enableDirect, nil
}

// ScanUnify feeds preprocessedPath into h after folding comments and
// whitespace runs, and dropping every line that begins with '#' entirely
// (line markers, and also any #pragma lines left in the output; so a line
// inserted or removed upstream of the current position cannot perturb the
// hash through a line marker). This is the semantic-equivalence mode spec left unspecified beyond
// "ignores whitespace and comments in the source": a best-effort scheme,
// not a byte-exact match for any other ccache implementation. It does not
// distinguish comment-like sequences inside string/character literals from
// real comments, which a stricter tokenizer would need to.
func ScanUnify(preprocessedPath string, h *hasher.Hasher) error {
	data, unmap, err := mmapFile(preprocessedPath)
	if err != nil {
		return err
	}
	defer unmap()

	h.Update(foldCommentsAndSpace(data))
	return nil
}

func foldCommentsAndSpace(data []byte) []byte {
	var out bytes.Buffer
	n := len(data)
	lastWasSpace := true
	atLineStart := true

	for i := 0; i < n; {
		if atLineStart && data[i] == '#' {
			nl := bytes.IndexByte(data[i:], '\n')
			if nl < 0 {
				break
			}
			i += nl + 1
			atLineStart = true
			continue
		}
		atLineStart = false

		if i+1 < n && data[i] == '/' && data[i+1] == '*' {
			end := bytes.Index(data[i+2:], []byte("*/"))
			if end < 0 {
				i = n
			} else {
				i += 2 + end + 2
			}
			if !lastWasSpace {
				out.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		if i+1 < n && data[i] == '/' && data[i+1] == '/' {
			nl := bytes.IndexByte(data[i:], '\n')
			if nl < 0 {
				i = n
			} else {
				i += nl
			}
			continue
		}

		c := data[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			if !lastWasSpace {
				out.WriteByte(' ')
				lastWasSpace = true
			}
			if c == '\n' {
				atLineStart = true
			}
			i++
			continue
		}
		out.WriteByte(c)
		lastWasSpace = false
		i++
	}

	return bytes.TrimSpace(out.Bytes())
}

// rewriteForBaseDir makes path relative to baseDir when it lives under it,
// so the cpp_hash is identical across checkouts at different absolute
// locations. Unrewritable paths (relative already, outside baseDir, or
// baseDir unset) are hashed as-is.
func rewriteForBaseDir(path, baseDir string) string {
	if baseDir == "" || !filepath.IsAbs(path) || !strings.HasPrefix(path, baseDir) {
		return path
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// queueable reports whether path should be queued as a candidate include.
func queueable(path, inputFile string) bool {
	if path == inputFile {
		return false
	}
	if strings.HasPrefix(path, "<") && strings.HasSuffix(path, ">") {
		return false // angle-bracket pseudo-form, e.g. "<built-in>"
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return false
	}
	return true // a path that cannot be stat'ed fails in hashIncludeFile
}

// hashIncludeFile mmaps and hashes one discovered header: reject files
// newer than the compile start (unless sloppy), scan for time macros
// (unless sloppy), and hash the contents.
func hashIncludeFile(path string, opts Options) (IncludeEntry, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return IncludeEntry{}, false
	}
	if !opts.SloppyIncludeFileMTime && !info.ModTime().Before(opts.CompileStart) {
		return IncludeEntry{}, false // "too new"
	}

	data, unmap, err := mmapFile(path)
	if err != nil {
		return IncludeEntry{}, false
	}
	defer unmap()

	if !opts.SloppyTimeMacros && containsTimeMacro(data) {
		return IncludeEntry{}, false
	}

	fh := &hasher.Hasher{}
	fh.Start()
	fh.Update(data)

	return IncludeEntry{Path: path, Hash: fh.Finalize()}, true
}

// HashFile mmaps path and returns its content FileHash, with no sloppiness
// exceptions. Used by the manifest to revalidate a direct-mode candidate's
// include set against the current filesystem.
func HashFile(path string) (hasher.FileHash, error) {
	data, unmap, err := mmapFile(path)
	if err != nil {
		return hasher.FileHash{}, err
	}
	defer unmap()

	h := &hasher.Hasher{}
	h.Start()
	h.Update(data)
	return h.Finalize(), nil
}

func containsTimeMacro(data []byte) bool {
	for _, m := range timeMacros {
		if bytes.Contains(data, m) {
			return true
		}
	}
	return false
}
