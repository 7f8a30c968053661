package subaru

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTargetConfigCarriesSurfaceOver(t *testing.T) {
	restoreGlobals(t)
	rootDir = t.TempDir()
	rootPart, homePart, swapPart = "/dev/sda2", "/dev/sda3", "/dev/sda4"
	hostName = "pleiades"

	actx := &ActionContext{Ctx: context.Background(), Log: io.Discard}
	if err := writeTargetConfig(actx); err != nil {
		t.Fatalf("writeTargetConfig: %v", err)
	}

	// The generated file must parse with the same loader the target
	// run will use.
	cfg, err := LoadConfig(filepath.Join(rootDir, "etc/subaru.conf"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Values["SUBARU_ROOT"]; got != "/" {
		t.Fatalf("SUBARU_ROOT = %q, want /", got)
	}
	if got := cfg.Values["SUBARU_SWAP_PART"]; got != "/dev/sda4" {
		t.Fatalf("SUBARU_SWAP_PART = %q", got)
	}
	if got := cfg.Values["SUBARU_HOSTNAME"]; got != "pleiades" {
		t.Fatalf("SUBARU_HOSTNAME = %q", got)
	}
}

func TestInstallStage2CopiesRunningBinary(t *testing.T) {
	restoreGlobals(t)
	rootDir = t.TempDir()

	actx := &ActionContext{Ctx: context.Background(), Log: io.Discard}
	if err := installStage2(actx); err != nil {
		t.Fatalf("installStage2: %v", err)
	}

	info, err := os.Stat(filepath.Join(rootDir, stage2Path))
	if err != nil {
		t.Fatalf("stage-two binary missing: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("stage-two binary not executable: %v", info.Mode())
	}
	if info.Size() == 0 {
		t.Fatalf("stage-two binary is empty")
	}
}

func TestHandoffStepIDs(t *testing.T) {
	steps := handoffSteps()
	if len(steps) != 2 || steps[0].ID != "install-stage2" || steps[1].ID != "write-target-config" {
		t.Fatalf("unexpected handoff steps: %+v", steps)
	}
}
