package config

import (
	"os"
	"path/filepath"
)

const dataDirName = ".corebrain"

// FindDataRoot looks for the .corebrain directory starting from the current
// working directory and moving up the directory tree
func FindDataRoot() (string, error) {
	if home := os.Getenv("CORE_HOME"); home != "" {
		return home, nil
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := currentDir
	for {
		if _, err := os.Stat(filepath.Join(dir, dataDirName)); err == nil {
			return dir, nil
		}

		parentDir := filepath.Dir(dir)
		if parentDir == dir {
			break
		}
		dir = parentDir
	}

	return currentDir, nil
}

// GetDataDir returns the path to the .corebrain directory under root
func GetDataDir(root string) string {
	return filepath.Join(root, dataDirName)
}

// EnsureDataDirs creates the .corebrain subdirectories
func EnsureDataDirs(dataDir string) error {
	subdirs := []string{
		filepath.Join(dataDir, "logs"),
		filepath.Join(dataDir, "knowledge"),
	}

	for _, subdir := range subdirs {
		if err := os.MkdirAll(subdir, 0755); err != nil {
			return err
		}
	}

	return nil
}
