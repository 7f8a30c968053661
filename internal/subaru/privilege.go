package subaru

import (
	"fmt"
	"os"
)

// RequireRoot surfaces insufficient privilege before any phase starts.
// Bootstrap actions write directly into a root-owned tree (layout,
// profiles, markers, logs), so discovering a permission problem hours
// into the toolchain build is not acceptable; the whole process must
// run with an effective uid of 0.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("configuration error: this command must run as root (try sudo)")
	}
	return nil
}
