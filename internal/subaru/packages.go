package subaru

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// targetPackages is the fixed build order for the post-boundary loop.
// Order is declared, not computed: this is not a dependency resolver.
// perl and python appear here without recipes on purpose; they are
// built manually by the operator and dispatch reports them as
// unsupported without halting the loop.
var targetPackages = []PackageID{
	PkgLinuxHeaders,
	PkgGlibc,
	PkgM4,
	PkgNcurses,
	PkgBash,
	PkgCoreutils,
	PkgDiffutils,
	PkgFile,
	PkgFindutils,
	PkgGawk,
	PkgGrep,
	PkgGzip,
	PkgMake,
	PkgPatch,
	PkgSed,
	PkgTar,
	PkgXz,
	PkgPerl,
	PkgPython,
}

// targetEnv is the environment for package builds inside the target
// root. PATH is minimal; the temporary toolchain has already been
// replaced by real tools at this point in the sequence.
func targetEnv() []string {
	env := []string{}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CFLAGS=") || strings.HasPrefix(e, "CXXFLAGS=") || strings.HasPrefix(e, "LDFLAGS=") {
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"LC_ALL=POSIX",
		fmt.Sprintf("MAKEFLAGS=-j%d", numJobs()),
	)
}

// autotoolsRecipe covers the common configure/make/make-install shape
// shared by most of the target list.
func autotoolsRecipe(id PackageID, source, configureArgs string) Recipe {
	return Recipe{
		ID:     id,
		Source: source,
		Build: func(actx *ActionContext) error {
			script := fmt.Sprintf("./configure --prefix=/usr %s\nmake", configureArgs)
			return runScript(actx, actx.WorkDir, script, targetEnv())
		},
		Install: func(actx *ActionContext) error {
			return runScript(actx, actx.WorkDir, "make install", targetEnv())
		},
	}
}

// RegisterTargetRecipes fills reg with the post-boundary package
// recipes. Package-specific flags are opaque build detail; the registry
// only cares about the ordered action sequence.
func RegisterTargetRecipes(reg *Registry) error {
	recipes := []Recipe{
		{
			ID:     PkgLinuxHeaders,
			Source: "linux",
			Build: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, "make mrproper\nmake headers", targetEnv())
			},
			Install: func(actx *ActionContext) error {
				return runScript(actx, actx.WorkDir, `
find usr/include -type f ! -name '*.h' -delete
cp -r usr/include /usr`, targetEnv())
			},
		},
		{
			ID:     PkgGlibc,
			Source: "glibc",
			Prepare: func(actx *ActionContext) error {
				// glibc refuses to configure in its source tree.
				return os.MkdirAll(filepath.Join(actx.WorkDir, "build"), 0o755)
			},
			Build: func(actx *ActionContext) error {
				return runScript(actx, filepath.Join(actx.WorkDir, "build"), `
../configure --prefix=/usr --disable-werror libc_cv_slibdir=/usr/lib
make`, targetEnv())
			},
			Install: func(actx *ActionContext) error {
				return runScript(actx, filepath.Join(actx.WorkDir, "build"), "make install", targetEnv())
			},
		},
		autotoolsRecipe(PkgM4, "m4", ""),
		autotoolsRecipe(PkgNcurses, "ncurses", "--with-shared --without-debug --enable-widec"),
		autotoolsRecipe(PkgBash, "bash", "--without-bash-malloc"),
		autotoolsRecipe(PkgCoreutils, "coreutils", "--enable-no-install-program=kill,uptime"),
		autotoolsRecipe(PkgDiffutils, "diffutils", ""),
		autotoolsRecipe(PkgFile, "file", ""),
		autotoolsRecipe(PkgFindutils, "findutils", "--localstatedir=/var/lib/locate"),
		autotoolsRecipe(PkgGawk, "gawk", ""),
		autotoolsRecipe(PkgGrep, "grep", ""),
		autotoolsRecipe(PkgGzip, "gzip", ""),
		autotoolsRecipe(PkgMake, "make", "--without-guile"),
		autotoolsRecipe(PkgPatch, "patch", ""),
		autotoolsRecipe(PkgSed, "sed", ""),
		autotoolsRecipe(PkgTar, "tar", ""),
		autotoolsRecipe(PkgXz, "xz", "--disable-static"),
	}

	for _, rec := range recipes {
		if err := reg.Register(rec); err != nil {
			return err
		}
	}
	return nil
}
