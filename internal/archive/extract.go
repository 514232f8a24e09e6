package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dployr/internal/security"
	"dployr/pkg/fileutil"
)

// macMetadataDir is the resource-fork folder macOS adds to zip files.
const macMetadataDir = "__MACOSX"

// extract writes every regular entry of the archive below root and returns
// warnings for entries it skipped. Each entry is read through a limit at its
// declared size, and the running total is capped again at limits.MaxTotalSize
// so a lying central directory cannot expand past the validated budget.
func extract(ctx context.Context, archivePath, root string, limits Limits) ([]string, error) {
	r, err := openZip(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var warnings []string
	var total uint64

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}

		if f.Mode()&os.ModeSymlink != 0 {
			warnings = append(warnings, fmt.Sprintf("symlink skipped: %s", f.Name))
			continue
		}
		if unsafeEntryName(f.Name) {
			return warnings, fmt.Errorf("%w: path traversal detected: %s", ErrInvalidArchive, f.Name)
		}

		dest, err := security.WithinDir(root, filepath.FromSlash(f.Name))
		if err != nil {
			return warnings, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return warnings, err
			}
			continue
		}

		n, err := extractFile(f, dest)
		if err != nil {
			return warnings, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		total += n
		if total > limits.MaxTotalSize {
			return warnings, fmt.Errorf("%w: extracted size exceeds limit", ErrInvalidArchive)
		}
	}

	return warnings, nil
}

func extractFile(f *zip.File, dest string) (uint64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	perm := os.FileMode(0o644)
	if f.Mode().Perm()&0o111 != 0 {
		perm = 0o755
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	declared := f.UncompressedSize64
	n, err := io.Copy(out, io.LimitReader(rc, int64(declared)+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return uint64(n), err
	}
	if uint64(n) > declared {
		return uint64(n), fmt.Errorf("%w: entry larger than declared size", ErrInvalidArchive)
	}
	return uint64(n), nil
}

// flatten hoists the contents of a lone top-level directory into root, the
// usual shape of "repo-main/" downloads. Dot entries and macOS metadata are
// ignored when counting and the metadata folder is dropped. It reports
// whether a directory was hoisted.
func flatten(root string) (bool, error) {
	if err := os.RemoveAll(filepath.Join(root, macMetadataDir)); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return false, err
	}

	var visible []os.DirEntry
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		visible = append(visible, entry)
	}
	if len(visible) != 1 || !visible[0].IsDir() {
		return false, nil
	}

	// Park the wrapper under a name its children cannot collide with.
	wrapper := filepath.Join(root, fmt.Sprintf(".flatten-%d", time.Now().UnixNano()))
	if err := os.Rename(filepath.Join(root, visible[0].Name()), wrapper); err != nil {
		return false, err
	}
	if err := fileutil.MoveEntries(wrapper, root); err != nil {
		return false, err
	}
	return true, os.Remove(wrapper)
}
