package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxFileSize bounds a single extracted file
const maxFileSize = 64 << 20

// Archive writes the regular files directly inside dir to w as a tar.gz.
// Hidden files are skipped.
func Archive(dir string, w io.Writer) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			return count, err
		}
		count++
	}

	if err := tw.Close(); err != nil {
		return count, fmt.Errorf("failed to finish tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return count, fmt.Errorf("failed to finish gzip: %w", err)
	}
	return count, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", name, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}

// Extract unpacks a tar.gz produced by Archive into dir. Entries that are
// not plain files, or whose names would leave dir, are rejected.
func Extract(r io.Reader, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read archive: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			return count, fmt.Errorf("unexpected entry %q in archive", hdr.Name)
		}
		name := hdr.Name
		if name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
			return count, fmt.Errorf("unsafe path %q in archive", hdr.Name)
		}
		if hdr.Size > maxFileSize {
			return count, fmt.Errorf("entry %q too large", hdr.Name)
		}

		if err := writeFile(filepath.Join(dir, name), io.LimitReader(tr, maxFileSize)); err != nil {
			return count, err
		}
		count++
	}
}

func writeFile(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}
