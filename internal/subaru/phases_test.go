package subaru

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

func decompressGz(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func testOrchestrator(phases []Phase) *Orchestrator {
	return &Orchestrator{
		Env:    EnvHost,
		Runner: NewRunner(NewMemStore(), ""),
		Reg:    NewRegistry(),
		Exec:   NewExecutor(context.Background()),
		phases: phases,
	}
}

func recordStep(id string, ran *[]string) Step {
	return Step{ID: id, Action: func(actx *ActionContext) error {
		*ran = append(*ran, id)
		return nil
	}}
}

func failStep(id string) Step {
	return Step{ID: id, Action: func(actx *ActionContext) error {
		return fmt.Errorf("%s exploded", id)
	}}
}

func TestOrchestratorRunsPhasesInOrder(t *testing.T) {
	var ran []string
	o := testOrchestrator([]Phase{
		{Name: "first", Steps: []Step{recordStep("a", &ran), recordStep("b", &ran)}},
		{Name: "second", Steps: []Step{recordStep("c", &ran)}},
	})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a", "b", "c"}
	if strings.Join(ran, ",") != strings.Join(want, ",") {
		t.Fatalf("ran %v, want %v", ran, want)
	}
}

// A failing step must stop everything ordered after it: the rest of its
// phase and all later phases.
func TestOrchestratorHaltsOnFirstFailure(t *testing.T) {
	var ran []string
	o := testOrchestrator([]Phase{
		{Name: "first", Steps: []Step{recordStep("a", &ran), failStep("b"), recordStep("c", &ran)}},
		{Name: "second", Steps: []Step{recordStep("d", &ran)}},
	})
	err := o.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("error does not name phase and step: %v", err)
	}
	if strings.Join(ran, ",") != "a" {
		t.Fatalf("steps after failure ran: %v", ran)
	}
	if o.states[0] != PhaseFailed {
		t.Fatalf("failing phase state = %s, want failed", o.states[0])
	}
}

// Running the whole sequence twice over the same marker store performs
// zero actions the second time and succeeds both times.
func TestOrchestratorSecondRunIsNoOp(t *testing.T) {
	var ran []string
	phases := []Phase{
		{Name: "first", Steps: []Step{recordStep("a", &ran)}},
		{Name: "second", Steps: []Step{recordStep("b", &ran)}},
	}
	o := testOrchestrator(phases)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("actions ran %d times across two runs, want 2 (%v)", len(ran), ran)
	}
}

func TestPackageLoopSkipsUnsupported(t *testing.T) {
	o := testOrchestrator(nil)
	actx := &ActionContext{Ctx: context.Background(), Exec: o.Exec, Log: os.Stderr}

	// Nothing registered: every id is a gap, none of them fatal.
	ph := Phase{Name: "packages", Loop: []PackageID{PkgPerl, PkgPython}}
	if err := o.runPackageLoop(ph, actx); err != nil {
		t.Fatalf("runPackageLoop: %v", err)
	}
}

func TestPackageLoopContinuesPastUnsupportedToNextRecipe(t *testing.T) {
	restore := setTestDirs(t)
	defer restore()

	writeTarGz(t, SourcesDir, "sed-4.9.tar.gz", "sed-4.9", map[string]string{"configure": "#!/bin/sh\n"})

	built := false
	rec := Recipe{
		ID:     PkgSed,
		Source: "sed",
		Build: func(actx *ActionContext) error {
			built = true
			return nil
		},
		Install: noopAction,
	}
	o := testOrchestrator(nil)
	if err := o.Reg.Register(rec); err != nil {
		t.Fatal(err)
	}
	actx := &ActionContext{Ctx: context.Background(), Exec: o.Exec, Log: os.Stderr}

	// perl has no recipe and comes first; sed must still be built.
	ph := Phase{Name: "packages", Loop: []PackageID{PkgPerl, PkgSed}}
	if err := o.runPackageLoop(ph, actx); err != nil {
		t.Fatalf("runPackageLoop: %v", err)
	}
	if !built {
		t.Fatalf("recipe after unsupported package never ran")
	}
	done, _ := o.Runner.Store.Status("pkg-sed")
	if !done {
		t.Fatalf("no marker for built package")
	}
	if done, _ := o.Runner.Store.Status("pkg-perl"); done {
		t.Fatalf("marker written for unsupported package")
	}
}

// setTestDirs points the sources and scratch globals at temp dirs and
// returns a restore func.
func setTestDirs(t *testing.T) func() {
	t.Helper()
	oldSources, oldTmp := SourcesDir, tmpDir
	SourcesDir = t.TempDir()
	tmpDir = t.TempDir()
	return func() {
		SourcesDir, tmpDir = oldSources, oldTmp
	}
}

// writeTarXz creates a minimal .tar.xz source archive.
func writeTarXz(t *testing.T, dir, name, topDir string, files map[string]string) string {
	t.Helper()
	tmp := writeTarGz(t, t.TempDir(), "inner.tar.gz", topDir, files)
	// Re-encode as xz: decompress the gz we just built and wrap in xz.
	raw := decompressGz(t, tmp)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// The scenario from the temporary-toolchain phase: a sources directory
// holding only binutils-2.42.tar.xz. The first invocation extracts,
// builds, installs and writes the marker; the second invocation returns
// success without touching the build action.
func TestToolchainStepScenario(t *testing.T) {
	restore := setTestDirs(t)
	defer restore()

	writeTarXz(t, SourcesDir, "binutils-2.42.tar.xz", "binutils-2.42", map[string]string{
		"configure": "#!/bin/sh\n",
	})

	var builds, installs int
	rec := Recipe{
		ID:     PkgBinutilsPass1,
		Source: "binutils",
		Build: func(actx *ActionContext) error {
			// Extraction already happened into the explicit work dir.
			if _, err := os.Stat(filepath.Join(actx.WorkDir, "configure")); err != nil {
				return fmt.Errorf("source not extracted: %w", err)
			}
			builds++
			return nil
		},
		Install: func(actx *ActionContext) error {
			installs++
			return nil
		},
	}

	r := NewRunner(NewMemStore(), "")
	step := Step{ID: "pkg-binutils-pass1", Action: buildAction(rec)}
	actx := &ActionContext{Ctx: context.Background()}

	if err := r.Run("toolchain", step, actx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if builds != 1 || installs != 1 {
		t.Fatalf("first run: builds=%d installs=%d, want 1/1", builds, installs)
	}

	if err := r.Run("toolchain", step, actx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if builds != 1 || installs != 1 {
		t.Fatalf("second run re-invoked the action: builds=%d installs=%d", builds, installs)
	}
}

// A mandatory recipe with no archive fails its step; an Optional one
// does not.
func TestBuildActionHonorsOptionalAttribute(t *testing.T) {
	restore := setTestDirs(t)
	defer restore()

	mandatory := Recipe{ID: PkgM4, Source: "m4", Build: noopAction, Install: noopAction}
	optional := Recipe{ID: PkgFile, Source: "file", Optional: true, Build: noopAction, Install: noopAction}

	actx := &ActionContext{Ctx: context.Background(), Log: os.Stderr}
	if err := buildAction(mandatory)(actx); !errors.Is(err, errSourceNotFound) {
		t.Fatalf("mandatory recipe: got %v, want errSourceNotFound", err)
	}
	if err := buildAction(optional)(actx); err != nil {
		t.Fatalf("optional recipe: %v", err)
	}
}

func TestHostPhaseOrderIsFixed(t *testing.T) {
	o := testOrchestrator(nil)
	var names []string
	for _, ph := range o.hostPhases() {
		names = append(names, ph.Name)
	}
	want := "filesystem,setup,profile,mounts,toolchain,handoff"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("host phase order %s, want %s", got, want)
	}
}

func TestTargetPhasesIncludePackageLoop(t *testing.T) {
	o := testOrchestrator(nil)
	o.Env = EnvTarget
	phases := o.targetPhases()
	found := false
	for _, ph := range phases {
		if ph.Name == "packages" && len(ph.Loop) == len(targetPackages) {
			found = true
		}
	}
	if !found {
		t.Fatalf("target phases missing the package loop")
	}
}
