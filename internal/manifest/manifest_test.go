package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nocc-cache/ccache/internal/hasher"
)

func fileHash(content string) hasher.FileHash {
	h := &hasher.Hasher{}
	h.Start()
	h.Update([]byte(content))
	return h.Finalize()
}

func TestPutThenGetRoundTrip(t *testing.T) {
	m := New()
	foo := IncludeRef{Path: "/src/foo.h", Hash: fileHash("foo contents")}
	obj := fileHash("object bytes")

	if !m.Put([]IncludeRef{foo}, obj, DefaultCapacity) {
		t.Fatal("expected Put to succeed")
	}

	hashFile := func(path string) (hasher.FileHash, error) {
		if path == "/src/foo.h" {
			return fileHash("foo contents"), nil
		}
		return hasher.FileHash{}, os.ErrNotExist
	}

	got, ok := m.Get(hashFile)
	if !ok {
		t.Fatal("expected Get to find the matching entry")
	}
	if got != obj {
		t.Errorf("Get = %+v, want %+v", got, obj)
	}
}

func TestGetMissesWhenIncludeChanged(t *testing.T) {
	m := New()
	foo := IncludeRef{Path: "/src/foo.h", Hash: fileHash("v1")}
	obj := fileHash("object bytes")
	m.Put([]IncludeRef{foo}, obj, DefaultCapacity)

	hashFile := func(path string) (hasher.FileHash, error) {
		return fileHash("v2"), nil // content changed since Put
	}
	if _, ok := m.Get(hashFile); ok {
		t.Error("expected Get to miss once an include's content changed")
	}
}

func TestPutSkipsIdenticalEntry(t *testing.T) {
	m := New()
	foo := IncludeRef{Path: "/src/foo.h", Hash: fileHash("v1")}
	obj := fileHash("object bytes")
	if !m.Put([]IncludeRef{foo}, obj, DefaultCapacity) {
		t.Fatal("expected first Put to succeed")
	}
	if m.Put([]IncludeRef{foo}, obj, DefaultCapacity) {
		t.Error("expected duplicate Put to be skipped")
	}
	if len(m.entries) != 1 {
		t.Errorf("expected exactly one entry, got %d", len(m.entries))
	}
}

func TestPutRespectsCapacity(t *testing.T) {
	m := New()
	foo := IncludeRef{Path: "/src/foo.h", Hash: fileHash("v1")}
	if m.Put([]IncludeRef{foo}, fileHash("obj"), 0) {
		t.Error("expected Put to refuse once capacity is exceeded")
	}
	if len(m.entries) != 0 {
		t.Error("capacity-rejected Put must not mutate the manifest")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	includes := []IncludeRef{
		{Path: "/src/foo.h", Hash: fileHash("foo")},
		{Path: "/src/bar.h", Hash: fileHash("bar")},
	}
	obj := fileHash("object")
	if !m.Put(includes, obj, DefaultCapacity) {
		t.Fatal("expected Put to succeed")
	}

	path := filepath.Join(t.TempDir(), "entry.manifest")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	hashFile := func(p string) (hasher.FileHash, error) {
		switch p {
		case "/src/foo.h":
			return fileHash("foo"), nil
		case "/src/bar.h":
			return fileHash("bar"), nil
		}
		return hasher.FileHash{}, os.ErrNotExist
	}
	got, ok := loaded.Get(hashFile)
	if !ok {
		t.Fatal("expected loaded manifest to find the matching entry")
	}
	if got != obj {
		t.Errorf("Get = %+v, want %+v", got, obj)
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.manifest")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected Load to reject an empty file")
	}
}

func TestLoadRejectsNonGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.manifest")
	if err := os.WriteFile(path, []byte("not gzip data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected Load to reject non-gzip content")
	}
}
