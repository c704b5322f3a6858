package ccargs

import (
	"reflect"
	"strings"
	"testing"
)

func TestDepFileRoundTrip(t *testing.T) {
	orig := &DepFile{DTargets: []DepFileTarget{
		{TargetName: "foo.o", TargetDepList: []string{"foo.c", "foo.h", "dir/bar.h"}},
	}}
	bytes := orig.WriteToBytes()

	parsed, err := MakeDepFileFromBytes(bytes)
	if err != nil {
		t.Fatalf("MakeDepFileFromBytes: %v", err)
	}
	if !reflect.DeepEqual(parsed.DTargets, orig.DTargets) {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed.DTargets, orig.DTargets)
	}
}

func TestDepFileEscapesSpacesInDepNames(t *testing.T) {
	orig := &DepFile{DTargets: []DepFileTarget{
		{TargetName: "foo.o", TargetDepList: []string{"path with spaces/bar.h"}},
	}}
	bytes := orig.WriteToBytes()
	if !strings.Contains(string(bytes), `path\ with\ spaces/bar.h`) {
		t.Errorf("expected escaped spaces in output, got %q", bytes)
	}

	parsed, err := MakeDepFileFromBytes(bytes)
	if err != nil {
		t.Fatalf("MakeDepFileFromBytes: %v", err)
	}
	got := parsed.FindDepListByTargetName("foo.o")
	if len(got) != 1 || got[0] != "path with spaces/bar.h" {
		t.Errorf("FindDepListByTargetName = %v, want [%q]", got, "path with spaces/bar.h")
	}
}

func TestDepFileMultipleTargets(t *testing.T) {
	orig := &DepFile{DTargets: []DepFileTarget{
		{TargetName: "foo.o", TargetDepList: []string{"foo.c"}},
		{TargetName: "bar.h", TargetDepList: nil},
	}}
	bytes := orig.WriteToBytes()
	parsed, err := MakeDepFileFromBytes(bytes)
	if err != nil {
		t.Fatalf("MakeDepFileFromBytes: %v", err)
	}
	if len(parsed.DTargets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(parsed.DTargets))
	}
}
