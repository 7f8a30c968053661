package subaru

import (
	"errors"
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	rootDir    string
	SourcesDir string
	LogDir     string
	MarkerBase string
	tmpDir     string
	diskDevice string
	rootPart   string
	homePart   string
	swapPart   string
	hostName   string
	kernelVer  string
	Debug      bool
	Verbose    bool
	wantPkgMgr bool
	ConfigFile = "/etc/subaru.conf"
	version    = "dev" // overridden at build time
	arch       = runtime.GOARCH
	buildDate  = "unknown" // overridden at build time

	errSourceNotFound = errors.New("source archive not found")
	errUnsupported    = errors.New("unsupported package")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
