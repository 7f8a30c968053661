package subaru

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Mount mounts source onto dest (creating dest first) via the external
// mount binary through e.Run() so privilege escalation applies.
func (e *Executor) Mount(source, dest, fsType, options string, isBind bool) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", dest, err)
	}

	var args []string
	if isBind {
		args = []string{source, dest, "--bind"}
	} else {
		args = append(args, source, dest)
		if fsType != "" {
			args = append(args, "-t", fsType)
		}
		if options != "" {
			args = append(args, "-o", options)
		}
	}

	cmd := exec.Command("mount", args...)
	debugf("[INFO] Running mount: %s\n", strings.Join(cmd.Args, " "))
	if err := e.Run(cmd); err != nil {
		return fmt.Errorf("mount failed for %s to %s: %w", source, dest, err)
	}
	return nil
}

// UnmountAll lazily unmounts the given paths in reverse order so mounts
// nested inside other mounts come off first.
func (e *Executor) UnmountAll(paths []string) error {
	var cleanupErrors []string
	for i := len(paths) - 1; i >= 0; i-- {
		path := paths[i]
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		debugf("[INFO] Unmounting: %s\n", path)
		cmd := exec.Command("umount", "-l", path)
		if err := e.Run(cmd); err != nil {
			cleanupErrors = append(cleanupErrors, fmt.Sprintf("failed to umount %s: %v", path, err))
		}
	}
	if len(cleanupErrors) > 0 {
		return fmt.Errorf("unmount errors:\n%s", strings.Join(cleanupErrors, "\n"))
	}
	return nil
}

// pseudoFS describes the virtual kernel filesystems mounted under the
// target root before the toolchain phase.
var pseudoFS = []struct {
	step    string
	source  string
	target  string
	fsType  string
	options string
}{
	{"mount-proc", "proc", "proc", "proc", "nosuid,noexec,nodev"},
	{"mount-sys", "sys", "sys", "sysfs", "nosuid,noexec,nodev,ro"},
	{"mount-dev", "udev", "dev", "devtmpfs", "mode=0755,nosuid"},
	{"mount-devpts", "devpts", "dev/pts", "devpts", "mode=0620,gid=5,nosuid,noexec"},
	{"mount-shm", "shm", "dev/shm", "tmpfs", "mode=1777,nosuid,nodev"},
	{"mount-run", "run", "run", "tmpfs", "mode=0755,nosuid,nodev"},
	{"mount-tmp", "tmp", "tmp", "tmpfs", "mode=1777,strictatime,nodev,nosuid"},
}

// UnmountPseudoFS lazily unmounts the virtual kernel filesystems from
// under the target root. Run by the operator before rebooting or
// re-formatting; mount markers are cleared separately with `clear`.
func UnmountPseudoFS(e *Executor) error {
	cPrintln(colInfo, "Unmounting virtual filesystems from", rootDir)
	paths := make([]string, 0, len(pseudoFS))
	for _, m := range pseudoFS {
		paths = append(paths, filepath.Join(rootDir, m.target))
	}
	return e.UnmountAll(paths)
}

// pseudoMountSteps builds one step per pseudo filesystem. Each mount is
// its own step so a resumed run re-checks exactly the mounts that have
// not been recorded as done.
func pseudoMountSteps() []Step {
	steps := make([]Step, 0, len(pseudoFS))
	for _, m := range pseudoFS {
		m := m
		steps = append(steps, Step{
			ID: m.step,
			Action: func(actx *ActionContext) error {
				dest := filepath.Join(rootDir, m.target)
				return actx.Exec.Mount(m.source, dest, m.fsType, m.options, false)
			},
		})
	}
	return steps
}
