package subaru

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// PackageID identifies one buildable package. The set is closed: the
// registry rejects anything outside this enumeration at registration
// time, so a typo in a recipe table fails immediately rather than
// surfacing as a mysterious dispatch miss hours into a build.
type PackageID string

const (
	PkgBinutilsPass1 PackageID = "binutils-pass1"
	PkgGCCPass1      PackageID = "gcc-pass1"
	PkgLinuxHeaders  PackageID = "linux-headers"
	PkgGlibc         PackageID = "glibc"
	PkgM4            PackageID = "m4"
	PkgNcurses       PackageID = "ncurses"
	PkgBash          PackageID = "bash"
	PkgCoreutils     PackageID = "coreutils"
	PkgDiffutils     PackageID = "diffutils"
	PkgFile          PackageID = "file"
	PkgFindutils     PackageID = "findutils"
	PkgGawk          PackageID = "gawk"
	PkgGrep          PackageID = "grep"
	PkgGzip          PackageID = "gzip"
	PkgMake          PackageID = "make"
	PkgPatch         PackageID = "patch"
	PkgSed           PackageID = "sed"
	PkgTar           PackageID = "tar"
	PkgXz            PackageID = "xz"
	PkgPerl          PackageID = "perl"
	PkgPython        PackageID = "python"
)

var knownPackages = map[PackageID]bool{
	PkgBinutilsPass1: true,
	PkgGCCPass1:      true,
	PkgLinuxHeaders:  true,
	PkgGlibc:         true,
	PkgM4:            true,
	PkgNcurses:       true,
	PkgBash:          true,
	PkgCoreutils:     true,
	PkgDiffutils:     true,
	PkgFile:          true,
	PkgFindutils:     true,
	PkgGawk:          true,
	PkgGrep:          true,
	PkgGzip:          true,
	PkgMake:          true,
	PkgPatch:         true,
	PkgSed:           true,
	PkgTar:           true,
	PkgXz:            true,
	PkgPerl:          true,
	PkgPython:        true,
}

// Recipe is the fixed ordered action sequence for one package: extract
// the archive, run the optional prepare step, build, install. Optional
// marks packages whose missing source archive is tolerated (the build
// continues without them); everything else treats a missing archive as
// fatal.
type Recipe struct {
	ID       PackageID
	Source   string // archive name prefix, e.g. "binutils"
	Optional bool
	Prepare  Action // optional environment-specific pre-step
	Build    Action
	Install  Action
}

// Registry maps package identifiers to recipes. Lookup is total over
// registered ids; anything else yields errUnsupported, never a silent
// no-op.
type Registry struct {
	recipes map[PackageID]Recipe
}

func NewRegistry() *Registry {
	return &Registry{recipes: make(map[PackageID]Recipe)}
}

// Register validates the recipe up front: unknown identifiers,
// duplicates and recipes without a build action are rejected here, not
// at dispatch time.
func (r *Registry) Register(rec Recipe) error {
	if !knownPackages[rec.ID] {
		return fmt.Errorf("cannot register recipe for unknown package %q", rec.ID)
	}
	if _, dup := r.recipes[rec.ID]; dup {
		return fmt.Errorf("duplicate recipe for package %q", rec.ID)
	}
	if rec.Source == "" {
		return fmt.Errorf("recipe for %q has no source archive prefix", rec.ID)
	}
	if rec.Build == nil || rec.Install == nil {
		return fmt.Errorf("recipe for %q is missing build or install action", rec.ID)
	}
	r.recipes[rec.ID] = rec
	return nil
}

// Dispatch returns the recipe for id, or errUnsupported.
func (r *Registry) Dispatch(id PackageID) (Recipe, error) {
	rec, ok := r.recipes[id]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %s", errUnsupported, id)
	}
	return rec, nil
}

// mustRegister is for the built-in recipe tables, which are validated
// by tests; a broken table is a programming error.
func mustRegister(r *Registry, rec Recipe) {
	if err := r.Register(rec); err != nil {
		panic(err)
	}
}

// numJobs bounds the parallelism inside one compile action. This is
// the only concurrency in the whole pipeline and it is invisible to
// the orchestrator.
func numJobs() int {
	return runtime.NumCPU()
}

// runScript executes a shell snippet in dir with the build environment,
// output captured by the step's log artifact.
func runScript(actx *ActionContext, dir, script string, env []string) error {
	cmd := exec.CommandContext(actx.Ctx, "sh", "-e", "-c", script)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = actx.Log
	cmd.Stderr = actx.Log
	if env != nil {
		cmd.Env = env
	}
	return actx.Exec.Run(cmd)
}

// buildAction wraps a recipe into a single step action: resolve the
// archive, verify it, extract into a scratch dir, then run the recipe's
// ordered actions with that dir as the explicit working directory.
func buildAction(rec Recipe) Action {
	return func(actx *ActionContext) error {
		archive, err := ResolveSource(SourcesDir, rec.Source)
		if err != nil {
			if rec.Optional {
				cPrintf(colWarn, "Optional package %s has no source archive, continuing\n", rec.ID)
				fmt.Fprintf(actx.Log, "optional source %s not found, skipped\n", rec.Source)
				return nil
			}
			return err
		}
		if err := VerifySource(archive); err != nil {
			return err
		}

		buildDir := filepath.Join(tmpDir, "subaru-build", string(rec.ID))
		if err := os.RemoveAll(buildDir); err != nil {
			return fmt.Errorf("failed to clean build dir: %w", err)
		}
		fmt.Fprintf(actx.Log, "extracting %s into %s\n", archive, buildDir)
		if err := ExtractSource(actx.Ctx, archive, buildDir); err != nil {
			return err
		}

		pkgActx := *actx
		pkgActx.WorkDir = buildDir

		if rec.Prepare != nil {
			if err := rec.Prepare(&pkgActx); err != nil {
				return fmt.Errorf("prepare: %w", err)
			}
		}
		if err := rec.Build(&pkgActx); err != nil {
			return fmt.Errorf("build: %w", err)
		}
		if err := rec.Install(&pkgActx); err != nil {
			return fmt.Errorf("install: %w", err)
		}
		return nil
	}
}
