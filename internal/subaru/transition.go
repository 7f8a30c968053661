package subaru

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// The boundary crossing replaces the running process image, so the
// post-boundary loop cannot be resumed in place. One binary serves both
// sides: the handoff phase installs this executable into the target
// root together with a target-side config, and the operator re-invokes
// it there with --stage target. Markers for the target stage live in
// their own namespace, so that run resumes independently of anything
// recorded on the host side.

const stage2Path = "usr/bin/subaru"

// installStage2 copies the running orchestrator binary into the target
// root.
func installStage2(actx *ActionContext) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}
	dest := filepath.Join(rootDir, stage2Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(self)
	if err != nil {
		return fmt.Errorf("failed to open own executable: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy orchestrator into target root: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(actx.Log, "installed orchestrator at %s\n", dest)
	return nil
}

// writeTargetConfig writes <root>/etc/subaru.conf for the target-side
// run. Paths are rewritten relative to the new root ("/" once the
// operator has chrooted); everything else on the configuration surface
// carries over unchanged.
func writeTargetConfig(actx *ActionContext) error {
	dest := filepath.Join(rootDir, "etc/subaru.conf")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	values := map[string]string{
		"SUBARU_ROOT":      "/",
		"SUBARU_SOURCES":   "/sources",
		"SUBARU_LOG_DIR":   "/var/log/subaru",
		"SUBARU_DISK":      diskDevice,
		"SUBARU_ROOT_PART": rootPart,
		"SUBARU_HOME_PART": homePart,
		"SUBARU_SWAP_PART": swapPart,
		"SUBARU_HOSTNAME":  hostName,
		"SUBARU_KERNEL":    kernelVer,
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# generated by subaru stage-two handoff\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	if err := os.WriteFile(dest, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write target config: %w", err)
	}
	fmt.Fprintf(actx.Log, "wrote target config at %s\n", dest)
	return nil
}

// handoffSteps is the stage-two handoff phase.
func handoffSteps() []Step {
	return []Step{
		{ID: "install-stage2", Action: installStage2},
		{ID: "write-target-config", Action: writeTargetConfig},
	}
}
