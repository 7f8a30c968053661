package subaru

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// archiveSuffixes is the fixed priority order for source resolution.
// The first suffix that yields an existing archive wins, independent of
// directory listing order or timestamps.
var archiveSuffixes = []string{
	".tar.xz",
	".tar.gz",
	".tar.bz2",
	".tgz",
	".tar.zst",
	".zip",
	".tar",
}

// ResolveSource locates the versioned archive for a logical package
// name inside dir. Entries must look like name-<version><suffix>; the
// exact version is not known in advance, so matching is prefix based
// with the version required to start with a digit (this keeps "gcc"
// from matching "gcc-libs-14.2.tar.xz").
func ResolveSource(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read sources dir %s: %w", dir, err)
	}

	prefix := name + "-"
	for _, suffix := range archiveSuffixes {
		for _, e := range entries {
			n := e.Name()
			if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, suffix) {
				continue
			}
			rest := strings.TrimPrefix(n, prefix)
			if len(rest) == 0 || rest[0] < '0' || rest[0] > '9' {
				continue
			}
			return filepath.Join(dir, n), nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", errSourceNotFound, name, dir)
}

// VerifySource checks the archive against a sibling <archive>.b3sum
// file when one exists. A missing sum file is not an error; a mismatch
// is fatal and distinct from NotFound.
func VerifySource(archivePath string) error {
	sumData, err := os.ReadFile(archivePath + ".b3sum")
	if os.IsNotExist(err) {
		debugf("No b3sum for %s, skipping verification\n", archivePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}
	want := strings.Fields(strings.TrimSpace(string(sumData)))
	if len(want) == 0 {
		return fmt.Errorf("empty checksum file for %s", archivePath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", archivePath, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want[0] {
		return fmt.Errorf("corrupt archive %s: blake3 mismatch (want %s, got %s)", archivePath, want[0], got)
	}
	return nil
}

// ExtractSource unpacks an archive into dest, stripping a single
// top-level directory when the archive has one. System tar is tried
// first; the pure-Go path handles the same formats when tar is absent.
func ExtractSource(ctx context.Context, archivePath, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extract dir %s: %w", dest, err)
	}
	if strings.HasSuffix(archivePath, ".zip") {
		return unzipGo(archivePath, dest)
	}

	if _, err := exec.LookPath("tar"); err == nil {
		args := []string{"xf", archivePath, "-C", dest, "--strip-components=1"}
		if err := exec.CommandContext(ctx, "tar", args...).Run(); err == nil {
			debugf("Extracted %s with system tar\n", archivePath)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// fall through to the pure-Go reader
	}
	return extractTar(archivePath, dest)
}

// extractTar extracts a tar archive (with possible compression) to
// dest, stripping the top-level directory while handling PAX headers.
func extractTar(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archivePath, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archivePath, err)
		}
		r = xzr
	case strings.HasSuffix(archivePath, ".tar.zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archivePath, err)
		}
		defer zst.Close()
		r = zst
	case strings.HasSuffix(archivePath, ".tar"):
		// No compression
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	tr := tar.NewReader(r)

	// Track the prefix for stripping (e.g., "binutils-2.42/")
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archivePath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archivePath, err)
			}
			continue
		}

		if prefix == "" && (hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg) {
			if slashIdx := strings.Index(hdr.Name, "/"); slashIdx != -1 {
				prefix = hdr.Name[:slashIdx+1]
				debugf("Detected tar prefix for stripping: %s\n", prefix)
			}
		}

		targetName := strings.TrimPrefix(hdr.Name, prefix)
		if targetName == "" {
			continue
		}
		targetPath := filepath.Join(dest, targetName)

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
			if os.Geteuid() == 0 {
				_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
			}
		case tar.TypeReg:
			out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			out.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				debugf("Warning: failed to set times for %s: %v\n", targetPath, err)
			}
			if os.Geteuid() == 0 {
				_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
			}
		case tar.TypeSymlink:
			_ = os.Remove(targetPath)
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			if os.Geteuid() == 0 {
				_ = unix.Lchown(targetPath, hdr.Uid, hdr.Gid)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	if prefix == "" {
		debugf("No top-level directory prefix found in %s; extracted without stripping\n", archivePath)
	}
	return nil
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Prevent Zip Slip path traversal.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)

		// Close inside the loop to avoid holding too many descriptors.
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// compressXZ compresses src into dest; used to archive build logs once
// a bootstrap run completes.
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	xzw, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	defer xzw.Close()

	_, err = io.Copy(xzw, src)
	return err
}
