// Package file holds local filesystem helpers used by the copy and template
// modules when deciding whether a remote file is already up to date.
package file

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mensylisir/xmplay/common"
)

// PathExists checks if a path exists. It distinguishes "not exist" from other
// stat errors; only the latter are returned.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// IsDir checks if the given path is a directory. A missing path is not an error.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// CreateDir creates a directory and all its parents if they don't exist.
func CreateDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("path %s exists but is not a directory", path)
	}
	if os.IsNotExist(err) {
		return os.MkdirAll(path, common.FileMode0755)
	}
	return fmt.Errorf("failed to check directory %s: %w", path, err)
}

// CreateFileDir ensures the parent directory of filePath exists.
func CreateFileDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." || dir == "" {
		return nil
	}
	return CreateDir(dir)
}

// WriteFile writes content to a file, creating parent directories if necessary.
func WriteFile(filePath string, content []byte) error {
	if err := CreateFileDir(filePath); err != nil {
		return fmt.Errorf("failed to create directory for file %s: %w", filePath, err)
	}
	if err := os.WriteFile(filePath, content, common.FileMode0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	return nil
}

// SHA256 calculates the SHA-256 checksum of a local file.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash file %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// ContentSHA256 calculates the SHA-256 checksum of an in-memory payload.
func ContentSHA256(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
