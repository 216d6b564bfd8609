package common

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Expand `target` relative to given path if its a relative path, else it will
// be returned unchanged. Empty string will be returned as empty string.
func ResolveRelativePath(target, relativeTo string) string {
	if target == "" {
		return target
	}

	if filepath.IsAbs(target) {
		return target
	}

	target = filepath.Join(relativeTo, target)
	target = filepath.Clean(target)

	return target
}

// FileExistsNonEmpty reports whether path points at a regular file with size
// greater than zero.
func FileExistsNonEmpty(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}

	return stat.Mode().IsRegular() && stat.Size() > 0
}

// EnsureDir creates a directory and all missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// WriteFileAtomic writes data to a temporary file next to `path` then renames
// it into place, creating parent directories if needed.
func WriteFileAtomic(path string, data []byte) error {
	return WriteFileAtomicFrom(path, bytes.NewReader(data))
}

// WriteFileAtomicFrom streams src into a temporary file next to `path` then
// renames it into place, creating parent directories if needed.
func WriteFileAtomicFrom(path string, src io.Reader) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}

	name := tmp.Name()
	if _, err = io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}

	if err = tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}

	return os.Rename(name, path)
}
