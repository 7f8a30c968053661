package subaru

import (
	"context"
	"testing"
)

// UnmountAll skips paths that do not exist, so tearing down a root that
// was never (or only partially) mounted is a clean no-op.
func TestUnmountAllSkipsMissingPaths(t *testing.T) {
	e := NewExecutor(context.Background())
	paths := []string{
		t.TempDir() + "/proc",
		t.TempDir() + "/sys",
	}
	if err := e.UnmountAll(paths); err != nil {
		t.Fatalf("UnmountAll: %v", err)
	}
}

func TestUnmountPseudoFSCoversNothingWhenUnmounted(t *testing.T) {
	restoreGlobals(t)
	rootDir = t.TempDir()

	// No mount points under a fresh root: nothing to do, no error.
	if err := UnmountPseudoFS(NewExecutor(context.Background())); err != nil {
		t.Fatalf("UnmountPseudoFS: %v", err)
	}
}

// The teardown list must cover every filesystem the mounts phase sets
// up, or a reboot leaves stale mounts behind.
func TestPseudoMountStepsMatchTeardownTable(t *testing.T) {
	steps := pseudoMountSteps()
	if len(steps) != len(pseudoFS) {
		t.Fatalf("mount steps (%d) and teardown table (%d) disagree", len(steps), len(pseudoFS))
	}
	for i, st := range steps {
		if st.ID != pseudoFS[i].step {
			t.Fatalf("step %d id %q, want %q", i, st.ID, pseudoFS[i].step)
		}
	}
}
