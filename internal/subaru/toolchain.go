package subaru

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// crossTarget is the triplet for the temporary cross toolchain. Using a
// vendor field that differs from the host's guarantees the host
// compiler is never picked up by accident.
func crossTarget() string {
	machine := arch
	switch machine {
	case "amd64":
		machine = "x86_64"
	case "arm64":
		machine = "aarch64"
	}
	return machine + "-subaru-linux-gnu"
}

// toolchainEnv is the environment every temporary-toolchain action runs
// under. The tools dir goes first in PATH so freshly built pieces are
// preferred over the host's.
func toolchainEnv() []string {
	env := []string{}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CFLAGS=") || strings.HasPrefix(e, "CXXFLAGS=") || strings.HasPrefix(e, "LDFLAGS=") {
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"SUBARU="+rootDir,
		"SUBARU_TGT="+crossTarget(),
		"LC_ALL=POSIX",
		"PATH="+filepath.Join(rootDir, "tools/bin")+":/usr/bin:/bin",
		fmt.Sprintf("MAKEFLAGS=-j%d", numJobs()),
		"CONFIG_SITE="+filepath.Join(rootDir, "usr/share/config.site"),
	)
}

// RegisterToolchainRecipes fills reg with the temporary-toolchain
// recipes built on the host side of the boundary. The configure flags
// themselves are opaque to the orchestrator; only the ordering and the
// success/failure result matter here.
func RegisterToolchainRecipes(reg *Registry) error {
	recipes := []Recipe{
		{
			ID:     PkgBinutilsPass1,
			Source: "binutils",
			Build: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, `
mkdir -p build && cd build
../configure --prefix="$SUBARU/tools" --with-sysroot="$SUBARU" \
    --target="$SUBARU_TGT" --disable-nls --disable-werror
make`, toolchainEnv())
			},
			Install: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, "make -C build install", toolchainEnv())
			},
		},
		{
			ID:     PkgGCCPass1,
			Source: "gcc",
			// gcc's in-tree deps (gmp, mpfr, mpc) come from the same
			// sources directory and must sit inside the gcc tree before
			// configure runs.
			Prepare: func(actx *ActionContext) error {
				for _, dep := range []string{"gmp", "mpfr", "mpc"} {
					archive, err := ResolveSource(SourcesDir, dep)
					if err != nil {
						return err
					}
					if err := VerifySource(archive); err != nil {
						return err
					}
					if err := ExtractSource(actx.Ctx, archive, filepath.Join(actx.WorkDir, dep)); err != nil {
						return err
					}
				}
				return nil
			},
			Build: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, `
mkdir -p build && cd build
../configure --prefix="$SUBARU/tools" --with-sysroot="$SUBARU" \
    --target="$SUBARU_TGT" --with-newlib --without-headers \
    --disable-nls --disable-shared --disable-multilib --disable-threads \
    --disable-libatomic --disable-libgomp --disable-libquadmath \
    --disable-libssp --disable-libvtv --disable-libstdcxx \
    --enable-languages=c,c++
make`, toolchainEnv())
			},
			Install: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, "make -C build install", toolchainEnv())
			},
		},
	}

	for _, rec := range recipes {
		if err := reg.Register(rec); err != nil {
			return err
		}
	}
	return nil
}
