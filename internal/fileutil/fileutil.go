package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// PublishFile copies src to dst through a temporary sibling and renames it
// into place, so readers of dst never observe a partial file. The copy is
// rejected when its size differs from src.
func PublishFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	_, err = writeAtomic(dst, in, func(n int64) error {
		if n != info.Size() {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), n)
		}
		return nil
	})
	return err
}

// WriteAtomic streams r into dst through a temporary sibling file and returns
// the number of bytes written. dst is left untouched when copying fails.
func WriteAtomic(dst string, r io.Reader) (int64, error) {
	return writeAtomic(dst, r, nil)
}

func writeAtomic(dst string, r io.Reader, check func(int64) error) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && check != nil {
		err = check(n)
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err != nil {
		return n, err
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return n, fmt.Errorf("publish %s: %w", dst, err)
	}
	return n, nil
}

// NewestFile returns the most recently modified regular file under dir whose
// base name matches pattern (filepath.Match syntax). Files modified before
// notBefore are ignored when notBefore is non-zero. It returns fs.ErrNotExist
// when nothing matches.
func NewestFile(dir, pattern string, recursive bool, notBefore time.Time) (string, error) {
	var (
		newest     string
		newestTime time.Time
	)
	consider := func(path string, info fs.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		ok, err := filepath.Match(pattern, filepath.Base(path))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		mod := info.ModTime()
		if !notBefore.IsZero() && mod.Before(notBefore) {
			return nil
		}
		if newest == "" || mod.After(newestTime) {
			newest, newestTime = path, mod
		}
		return nil
	}

	if recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return consider(path, info)
		})
		if err != nil {
			return "", err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				return "", err
			}
			if err := consider(filepath.Join(dir, entry.Name()), info); err != nil {
				return "", err
			}
		}
	}
	if newest == "" {
		return "", fs.ErrNotExist
	}
	return newest, nil
}

// NonEmpty reports whether path is a regular file with at least one byte.
// A missing file is not an error.
func NonEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}
