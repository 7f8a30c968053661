package subaru

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	oldRoot, oldSources, oldLog, oldMarkers := rootDir, SourcesDir, LogDir, MarkerBase
	oldHost, oldKernel := hostName, kernelVer
	oldRootPart, oldHomePart, oldSwapPart := rootPart, homePart, swapPart
	oldDebug, oldVerbose := Debug, Verbose
	t.Cleanup(func() {
		rootDir, SourcesDir, LogDir, MarkerBase = oldRoot, oldSources, oldLog, oldMarkers
		hostName, kernelVer = oldHost, oldKernel
		rootPart, homePart, swapPart = oldRootPart, oldHomePart, oldSwapPart
		Debug, Verbose = oldDebug, oldVerbose
	})
}

func TestLoadConfigParsesKeyValueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subaru.conf")
	content := `
# partitions
SUBARU_ROOT_PART=/dev/sda2
SUBARU_HOME_PART="/dev/sda3"
SUBARU_SWAP_PART='/dev/sda4'

SUBARU_HOSTNAME = pleiades
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Values["SUBARU_ROOT_PART"]; got != "/dev/sda2" {
		t.Fatalf("SUBARU_ROOT_PART = %q", got)
	}
	// Quotes and surrounding whitespace are trimmed.
	if got := cfg.Values["SUBARU_HOME_PART"]; got != "/dev/sda3" {
		t.Fatalf("SUBARU_HOME_PART = %q", got)
	}
	if got := cfg.Values["SUBARU_HOSTNAME"]; got != "pleiades" {
		t.Fatalf("SUBARU_HOSTNAME = %q", got)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subaru.conf")
	if err := os.WriteFile(path, []byte("SUBARU_HOSTNAME=fromfile\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUBARU_HOSTNAME", "fromenv")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Values["SUBARU_HOSTNAME"]; got != "fromenv" {
		t.Fatalf("SUBARU_HOSTNAME = %q, want env override", got)
	}
}

func TestLoadConfigMissingFileIsNotFatal(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Values["TMPDIR"] != "/tmp" {
		t.Fatalf("TMPDIR default not applied")
	}
}

func TestInitConfigDefaults(t *testing.T) {
	restoreGlobals(t)
	InitConfig(&Config{Values: map[string]string{}})

	if rootDir != "/mnt/subaru" {
		t.Fatalf("rootDir = %q", rootDir)
	}
	if SourcesDir != "/mnt/subaru/sources" {
		t.Fatalf("SourcesDir = %q", SourcesDir)
	}
	if LogDir != "/var/log/subaru" {
		t.Fatalf("LogDir = %q", LogDir)
	}
	if MarkerBase != "/mnt/subaru/var/db/subaru/markers" {
		t.Fatalf("MarkerBase = %q", MarkerBase)
	}
	if hostName != "subaru" {
		t.Fatalf("hostName = %q", hostName)
	}
}

func TestInitConfigDebugAndVerboseKeys(t *testing.T) {
	restoreGlobals(t)
	InitConfig(&Config{Values: map[string]string{
		"SUBARU_DEBUG":   "0",
		"SUBARU_VERBOSE": "1",
	}})
	if Debug {
		t.Fatalf("Debug enabled without SUBARU_DEBUG=1")
	}
	if !Verbose {
		t.Fatalf("SUBARU_VERBOSE=1 did not enable Verbose")
	}
}

func TestVersionStringNamesBuild(t *testing.T) {
	s := VersionString()
	for _, want := range []string{"subaru", version, arch, buildDate} {
		if !strings.Contains(s, want) {
			t.Fatalf("version string %q missing %q", s, want)
		}
	}
}

func TestValidateConfigRequiresPartitionPaths(t *testing.T) {
	err := ValidateConfig(&Config{Values: map[string]string{
		"SUBARU_ROOT_PART": "/dev/sda2",
	}})
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	for _, key := range []string{"SUBARU_HOME_PART", "SUBARU_SWAP_PART"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error does not name %s: %v", key, err)
		}
	}
	if strings.Contains(err.Error(), "SUBARU_ROOT_PART") {
		t.Fatalf("error names a key that was supplied: %v", err)
	}
}

func TestValidateConfigAcceptsCompleteConfig(t *testing.T) {
	err := ValidateConfig(&Config{Values: map[string]string{
		"SUBARU_ROOT_PART": "/dev/sda2",
		"SUBARU_HOME_PART": "/dev/sda3",
		"SUBARU_SWAP_PART": "/dev/sda4",
	}})
	if err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
}
