package dataset

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks the zip archive at src into dest. Entries that would land
// outside dest and symbolic links are skipped.
func Extract(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("unable to open dataset archive %s: %w", src, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		name, ok := entryPath(root, f.Name)
		if !ok {
			slog.Warn("skipping archive entry outside destination", "entry", f.Name)
			continue
		}

		if f.Mode()&os.ModeSymlink != 0 {
			slog.Debug("skipping symlink", "entry", f.Name)
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(name, 0o755); err != nil {
				return fmt.Errorf("failed to mkdir %s: %w", name, err)
			}
			continue
		}

		if err := extractFile(f, name); err != nil {
			return err
		}
	}

	return nil
}

// entryPath resolves an archive entry name below root.
func entryPath(root, name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", false
	}

	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

func extractFile(f *zip.File, name string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to mkdir %s: %w", filepath.Dir(name), err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file %s: %w", name, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return dst.Close()
}
