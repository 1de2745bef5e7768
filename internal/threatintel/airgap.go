package threatintel

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// importAirgap unpacks an offline feed bundle (directory, zip, tar or
// tar.gz) into destDir.
func importAirgap(srcPath, destDir string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat airgap path: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if info.IsDir() {
		return copyDir(srcPath, destDir)
	}
	switch {
	case strings.HasSuffix(srcPath, ".zip"):
		return extractZip(srcPath, destDir)
	case strings.HasSuffix(srcPath, ".tar.gz"), strings.HasSuffix(srcPath, ".tgz"):
		return extractTarGz(srcPath, destDir)
	case strings.HasSuffix(srcPath, ".tar"):
		return extractTar(srcPath, destDir)
	default:
		return copyFile(srcPath, filepath.Join(destDir, filepath.Base(srcPath)))
	}
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(pathname string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, pathname)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(pathname, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeEntry(dest, in)
}

func extractZip(src, dest string) error {
	archive, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer archive.Close()
	for _, f := range archive.File {
		target, err := safeExtractPath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		in, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// writeEntry writes one archive member, creating parent directories.
func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func extractTarGz(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gz.Close()
	return extractTarReader(gz, dest)
}

func extractTar(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()
	return extractTarReader(file, dest)
}

func extractTarReader(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeExtractPath(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		}
	}
}

func safeExtractPath(dest, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path traversal: %s", name)
	}
	cleanDest := filepath.Clean(dest)
	target := filepath.Join(cleanDest, cleaned)
	prefix := cleanDest + string(filepath.Separator)
	if target != cleanDest && !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("invalid extract target: %s", target)
	}
	return target, nil
}
