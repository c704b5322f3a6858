package ccargs

import (
	"os"
	"path"
	"strings"
)

// DepCmdFlags collects the -M family of flags controlling dependency-file
// generation. Adapted from github.com/VKCOM/nocc's
// internal/client/dep-cmd-flags.go DepCmdFlags, which implements the same
// -MF/-MT/-MQ/-MD/-MMD/-MP grammar for the same purpose (emitting a .d file
// next to an object file); nocc emits it on a client after collecting
// includes remotely, this package emits it after either the direct-mode or
// preprocessor-mode include set is known.
type DepCmdFlags struct {
	FlagMF  string // -MF filename as given (relative to cwd unless absolute)
	FlagMT  string // -MT/-MQ accumulated target name
	FlagMD  bool   // -MD
	FlagMMD bool   // -MMD: only user header files, not system ones
	FlagMP  bool   // -MP: phony target per dependency

	OrigO   string // -o value as given on the cmd line, used as default -MT target
	OrigCpp string // input file as given on the cmd line, first dependency
}

func (d *DepCmdFlags) SetMF(absFilename string) { d.FlagMF = absFilename }

func (d *DepCmdFlags) SetMT(target string) {
	if len(d.FlagMT) > 0 {
		d.FlagMT += " \\\n "
	}
	d.FlagMT += target
}

func (d *DepCmdFlags) SetMQ(target string) {
	if len(d.FlagMT) > 0 {
		d.FlagMT += " \\\n "
	}
	d.FlagMT += quoteMakefileTarget(target)
}

func (d *DepCmdFlags) SetMD()  { d.FlagMD = true }
func (d *DepCmdFlags) SetMMD() { d.FlagMMD = true }
func (d *DepCmdFlags) SetMP()  { d.FlagMP = true }

// ShouldGenerateDepFile reports whether a .d file should be emitted alongside
// the object.
func (d *DepCmdFlags) ShouldGenerateDepFile() bool {
	return d.FlagMD || d.FlagMF != ""
}

// DefaultDepFileName synthesizes <basename(output_obj)>.d, used when
// -MD/-MMD is set without an explicit -MF.
func DefaultDepFileName(outputObj string) string {
	ext := path.Ext(outputObj)
	return outputObj[:len(outputObj)-len(ext)] + ".d"
}

// HFile is the minimal shape DepCmdFlags needs about a resolved include, kept
// decoupled from the scanner package's richer IncludeSet type.
type HFile struct {
	Path     string
	IsSystem bool
}

// GenerateAndSaveDepFile writes the .d file once the include set is known,
// following the same escaping/target-naming rules as
// github.com/VKCOM/nocc's DepCmdFlags.GenerateAndSaveDepFile.
func (d *DepCmdFlags) GenerateAndSaveDepFile(hFiles []HFile) (string, error) {
	targetName := d.FlagMT
	if targetName == "" {
		targetName = d.OrigO
	}

	depFileName := d.FlagMF
	if depFileName == "" {
		depFileName = DefaultDepFileName(d.OrigO)
	}

	depList := d.calcDepList(hFiles)
	targets := []DepFileTarget{{targetName, depList}}
	if d.FlagMP {
		for idx, dep := range depList {
			if idx > 0 { // index 0 is the source file itself
				targets = append(targets, DepFileTarget{escapeMakefileSpaces(dep), nil})
			}
		}
	}

	depFile := DepFile{DTargets: targets}
	return depFileName, depFile.WriteToFile(depFileName)
}

func (d *DepCmdFlags) calcDepList(hFiles []HFile) []string {
	cwd, _ := os.Getwd()
	if !strings.HasSuffix(cwd, "/") {
		cwd += "/"
	}
	relFileName := func(fileName string) string {
		return quoteMakefileTarget(strings.TrimPrefix(fileName, cwd))
	}

	depList := make([]string, 0, 1+len(hFiles))
	depList = append(depList, quoteMakefileTarget(d.OrigCpp))
	for _, hFile := range hFiles {
		if d.FlagMMD && hFile.IsSystem {
			continue
		}
		depList = append(depList, relFileName(hFile.Path))
	}
	return depList
}

// quoteMakefileTarget escapes characters that are special to Make.
func quoteMakefileTarget(targetName string) (escaped string) {
	for i := 0; i < len(targetName); i++ {
		switch targetName[i] {
		case ' ':
		case '\t':
			for j := i - 1; j >= 0 && targetName[j] == '\\'; j-- {
				escaped += "\\"
			}
			escaped += "\\"
		case '$':
			escaped += "$"
		case '#':
			escaped += "\\"
		}
		escaped += string(targetName[i])
	}
	return
}
