package fileops

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes content to path by first writing a sibling temp file
// in the same directory, then renaming it over path. A same-directory
// sibling keeps the rename on one filesystem, so the swap is atomic on the
// platforms this runtime targets. The temp file is removed if any step
// after its creation fails.
func WriteAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := tempSiblingPath(dir, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("fileops: create temp name: %w", err)
	}

	if err := os.WriteFile(tmp, content, perm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fileops: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fileops: rename temp file into place: %w", err)
	}
	return nil
}

// tempSiblingPath builds "<dir>/<stem>.tmp.<random>" where stem is the
// original file name, so the temp file sits next to its final destination.
func tempSiblingPath(dir, stem string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s.tmp.%s", stem, hex.EncodeToString(buf))), nil
}
