package download

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks a .zip or .tar.gz artifact into dest. When
// every entry shares a single top-level directory it is stripped, so
// dest itself becomes the version root.
func extractArchive(archivePath, dest string) error {
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, dest)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTarGz(archivePath, dest)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	strip := commonTopDir(names)

	for _, f := range r.File {
		target, ok, err := entryTarget(dest, f.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	// The artifact sits on disk, so a header-only first pass is cheap.
	// The strip decision must see every entry before anything is
	// written, or a mixed-top-dir archive extracts inconsistently.
	names, err := tarEntryNames(archivePath)
	if err != nil {
		return err
	}
	strip := commonTopDir(names)

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		name := filepath.ToSlash(hdr.Name)
		target, ok, err := entryTarget(dest, name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "..") {
				return fmt.Errorf("archive entry %s: symlink escapes archive", name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// tarEntryNames reads just the headers of a tar.gz archive.
func tarEntryNames(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

// entryTarget resolves an archive entry name to a path under dest,
// rejecting entries that would escape it. ok is false for entries that
// collapse to nothing after stripping.
func entryTarget(dest, name, strip string) (string, bool, error) {
	name = filepath.ToSlash(name)
	if strip != "" {
		name = strings.TrimPrefix(strings.TrimPrefix(name, strip), "/")
	}
	name = strings.TrimPrefix(name, "./")
	if name == "" || name == "." {
		return "", false, nil
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false, fmt.Errorf("archive entry %s escapes destination", name)
	}
	return target, true, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// topDir returns the first path component of a slash path, "" when the
// entry is already at the top level.
func topDir(name string) string {
	name = strings.TrimPrefix(name, "./")
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[:i]
}

// commonTopDir returns the directory shared by every entry, "" when
// the archive has none.
func commonTopDir(names []string) string {
	strip := ""
	for i, n := range names {
		top := topDir(filepath.ToSlash(n))
		if top == "" {
			return ""
		}
		if i == 0 {
			strip = top
		} else if top != strip {
			return ""
		}
	}
	return strip
}
