package subaru

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// EnvKind selects which side of the environment boundary the
// orchestrator is driving.
type EnvKind string

const (
	EnvHost   EnvKind = "host"
	EnvTarget EnvKind = "target"
)

// PhaseState tracks one phase through the run. The overall position is
// not stored here; it is reconstructed from step markers, which is what
// lets a fresh process resume where the previous one stopped.
type PhaseState int

const (
	PhasePending PhaseState = iota
	PhaseRunning
	PhaseDone
	PhaseFailed
)

func (s PhaseState) String() string {
	switch s {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Phase is one top-level stage: either a fixed step list or a package
// loop dispatched through the registry. Exactly one of Steps/Loop is
// set.
type Phase struct {
	Name  string
	Steps []Step
	Loop  []PackageID
}

// Orchestrator drives the fixed phase sequence for one environment.
// Strictly sequential: no two phases, and no two steps within a phase,
// ever run concurrently. The first failed step halts everything.
type Orchestrator struct {
	Env    EnvKind
	Cfg    *Config
	Runner *Runner
	Reg    *Registry
	Exec   *Executor

	phases []Phase // overrides the built-in sequence when non-nil
	states []PhaseState
}

// NewOrchestrator wires the marker store (namespaced by environment
// kind), runner and recipe registry for the given side of the boundary.
func NewOrchestrator(env EnvKind, cfg *Config, execCtx *Executor) (*Orchestrator, error) {
	store := NewFSStore(MarkerBase, string(env))
	reg := NewRegistry()
	var err error
	switch env {
	case EnvHost:
		err = RegisterToolchainRecipes(reg)
	case EnvTarget:
		err = RegisterTargetRecipes(reg)
	default:
		err = fmt.Errorf("unknown environment kind %q", env)
	}
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Env:    env,
		Cfg:    cfg,
		Runner: NewRunner(store, LogDir),
		Reg:    reg,
		Exec:   execCtx,
	}, nil
}

// Phases returns the fixed ordered phase list for this environment.
func (o *Orchestrator) Phases() []Phase {
	if o.phases != nil {
		return o.phases
	}
	if o.Env == EnvTarget {
		return o.targetPhases()
	}
	return o.hostPhases()
}

// Run executes every phase in order. A phase may start only once its
// predecessor is done; the first unresolved failure surfaces the phase
// and step id and nothing ordered after it runs.
func (o *Orchestrator) Run(ctx context.Context) error {
	phases := o.Phases()
	o.states = make([]PhaseState, len(phases))

	actx := &ActionContext{
		Ctx:     ctx,
		Exec:    o.Exec,
		Cfg:     o.Cfg,
		WorkDir: rootDir,
	}

	for i, ph := range phases {
		o.states[i] = PhaseRunning
		colArrow.Print("-> ")
		colSuccess.Printf("Phase %s\n", ph.Name)

		var err error
		if len(ph.Loop) > 0 {
			err = o.runPackageLoop(ph, actx)
		} else {
			err = o.runSteps(ph, actx)
		}
		if err != nil {
			o.states[i] = PhaseFailed
			return fmt.Errorf("phase %s: %w", ph.Name, err)
		}
		o.states[i] = PhaseDone
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Bootstrap complete for %s stage\n", o.Env)
	return nil
}

func (o *Orchestrator) runSteps(ph Phase, actx *ActionContext) error {
	for _, st := range ph.Steps {
		if err := o.Runner.Run(ph.Name, st, actx); err != nil {
			return err
		}
	}
	return nil
}

// runPackageLoop builds each package in declared order. An id with no
// registered recipe is a visible gap, not a stop: the operator finishes
// those by hand and the loop moves on.
func (o *Orchestrator) runPackageLoop(ph Phase, actx *ActionContext) error {
	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(ph.Loop),
			progressbar.OptionSetDescription(ph.Name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}
	for _, id := range ph.Loop {
		rec, err := o.Reg.Dispatch(id)
		if err != nil {
			if errors.Is(err, errUnsupported) {
				cPrintf(colWarn, "No recipe for package %s, skipping (build it manually)\n", id)
				if bar != nil {
					bar.Add(1)
				}
				continue
			}
			return err
		}
		step := Step{ID: "pkg-" + string(id), Action: buildAction(rec)}
		if err := o.Runner.Run(ph.Name, step, actx); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return nil
}

// hostPhases is the pre-boundary sequence. Partitioning, formatting and
// mounting are opaque external commands; only their exit status matters
// to the orchestrator.
func (o *Orchestrator) hostPhases() []Phase {
	toolchain := []Step{}
	// Sub-sequence 1: linker/assembler toolchain.
	toolchain = append(toolchain, o.packageStep(PkgBinutilsPass1))
	// Sub-sequence 2: freestanding compiler.
	toolchain = append(toolchain, o.packageStep(PkgGCCPass1))

	phases := []Phase{
		{Name: "filesystem", Steps: []Step{
			{ID: "format-root", Action: rootCmd("mkfs.ext4", "-F", rootPart)},
			{ID: "format-home", Action: rootCmd("mkfs.ext4", "-F", homePart)},
			{ID: "make-swap", Action: rootCmd("mkswap", swapPart)},
			{ID: "mount-root", Action: mountPartition(rootPart, "")},
			{ID: "mount-home", Action: mountPartition(homePart, "home")},
			{ID: "enable-swap", Action: rootCmd("swapon", swapPart)},
		}},
		{Name: "setup", Steps: []Step{
			{ID: "create-layout", Action: createLayout},
			{ID: "create-sources", Action: createSourcesDir},
		}},
		{Name: "profile", Steps: []Step{
			{ID: "write-profile", Action: writeProfile},
			{ID: "write-hostname", Action: writeHostname},
		}},
		{Name: "mounts", Steps: pseudoMountSteps()},
		{Name: "toolchain", Steps: toolchain},
		{Name: "handoff", Steps: handoffSteps()},
	}

	if wantPkgMgr {
		phases = append(phases, Phase{Name: "pkgmgr", Steps: []Step{
			{ID: "bootstrap-pkgmgr", Action: bootstrapPkgMgr},
		}})
	}
	return phases
}

// targetPhases is the post-boundary sequence, run by the operator after
// chrooting into the target root.
func (o *Orchestrator) targetPhases() []Phase {
	return []Phase{
		{Name: "layout", Steps: []Step{
			{ID: "final-layout", Action: createLayout},
		}},
		{Name: "packages", Loop: targetPackages},
		{Name: "cleanup", Steps: []Step{
			{ID: "archive-logs", Action: archiveLogs},
		}},
	}
}

// packageStep wraps one registered package build as an orchestrator
// step. The recipe table is validated at registration, so a miss here
// is a programming error surfaced when the step runs.
func (o *Orchestrator) packageStep(id PackageID) Step {
	return Step{
		ID: "pkg-" + string(id),
		Action: func(actx *ActionContext) error {
			rec, err := o.Reg.Dispatch(id)
			if err != nil {
				return err
			}
			return buildAction(rec)(actx)
		},
	}
}

// rootCmd returns an action running one privileged external command
// with output captured by the step log.
func rootCmd(name string, args ...string) Action {
	return func(actx *ActionContext) error {
		cmd := exec.CommandContext(actx.Ctx, name, args...)
		cmd.Stdin = nil
		cmd.Stdout = actx.Log
		cmd.Stderr = actx.Log
		return actx.Exec.Run(cmd)
	}
}

func mountPartition(device, subdir string) Action {
	return func(actx *ActionContext) error {
		dest := rootDir
		if subdir != "" {
			dest = filepath.Join(rootDir, subdir)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("failed to create mount point %s: %w", dest, err)
		}
		return rootCmd("mount", device, dest)(actx)
	}
}

// createLayout builds the base directory tree under the root.
func createLayout(actx *ActionContext) error {
	dirs := []string{
		"etc", "var", "var/log", "var/db/subaru",
		"usr/bin", "usr/lib", "usr/sbin", "usr/share",
		"tools", "root", "home", "tmp",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(rootDir, d), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	if err := os.Chmod(filepath.Join(rootDir, "tmp"), 0o1777); err != nil {
		return fmt.Errorf("failed to chmod tmp: %w", err)
	}
	fmt.Fprintf(actx.Log, "created base layout under %s\n", rootDir)
	return nil
}

func createSourcesDir(actx *ActionContext) error {
	if err := os.MkdirAll(SourcesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create sources dir: %w", err)
	}
	fmt.Fprintf(actx.Log, "sources directory at %s\n", SourcesDir)
	return nil
}

// writeProfile generates the build environment profile inside the
// target root.
func writeProfile(actx *ActionContext) error {
	profile := fmt.Sprintf(`set +h
umask 022
SUBARU=%s
LC_ALL=POSIX
SUBARU_TGT=%s
PATH=/usr/bin:/bin
if [ ! -L /bin ]; then PATH=/bin:$PATH; fi
PATH=$SUBARU/tools/bin:$PATH
CONFIG_SITE=$SUBARU/usr/share/config.site
export SUBARU LC_ALL SUBARU_TGT PATH CONFIG_SITE
`, rootDir, crossTarget())
	dest := filepath.Join(rootDir, "etc/profile")
	if err := os.WriteFile(dest, []byte(profile), 0o644); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	fmt.Fprintf(actx.Log, "wrote %s\n", dest)
	return nil
}

func writeHostname(actx *ActionContext) error {
	if err := os.WriteFile(filepath.Join(rootDir, "etc/hostname"), []byte(hostName+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write hostname: %w", err)
	}
	hosts := fmt.Sprintf("127.0.0.1 localhost\n127.0.1.1 %s\n", hostName)
	if err := os.WriteFile(filepath.Join(rootDir, "etc/hosts"), []byte(hosts), 0o644); err != nil {
		return fmt.Errorf("failed to write hosts: %w", err)
	}
	osRelease := fmt.Sprintf("NAME=subaru\nVERSION=%s\nKERNEL=%s\n", version, kernelVer)
	if err := os.WriteFile(filepath.Join(rootDir, "etc/os-release"), []byte(osRelease), 0o644); err != nil {
		return fmt.Errorf("failed to write os-release: %w", err)
	}
	fmt.Fprintf(actx.Log, "hostname set to %s\n", hostName)
	return nil
}

// bootstrapPkgMgr runs the operator-supplied package manager bootstrap
// script, when one exists. The script's contents are none of our
// business; only its exit status is.
func bootstrapPkgMgr(actx *ActionContext) error {
	script := filepath.Join(SourcesDir, "pkgmgr-bootstrap.sh")
	if _, err := os.Stat(script); os.IsNotExist(err) {
		cPrintf(colWarn, "No package manager bootstrap script at %s, skipping\n", script)
		fmt.Fprintf(actx.Log, "no bootstrap script, skipped\n")
		return nil
	}
	return runScript(actx, rootDir, "sh "+script, nil)
}

// archiveLogs compresses finished build logs so a completed bootstrap
// does not leave gigabytes of plain text behind.
func archiveLogs(actx *ActionContext) error {
	entries, err := os.ReadDir(LogDir)
	if err != nil {
		return fmt.Errorf("failed to read log dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		// our own log artifact is still open for writing
		if strings.HasPrefix(name, "archive-logs-") {
			continue
		}
		src := filepath.Join(LogDir, name)
		if err := compressXZ(src, src+".xz"); err != nil {
			return fmt.Errorf("failed to compress %s: %w", name, err)
		}
		if err := os.Remove(src); err != nil {
			return err
		}
		fmt.Fprintf(actx.Log, "archived %s\n", name)
	}
	return nil
}
