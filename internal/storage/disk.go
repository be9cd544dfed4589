package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/diaryrag/internal/config"
)

// DiskUsage returns the bytes the local backends of cfg occupy: the sqlite
// file with its -wal and -shm journals, the blob database when it is a
// different file, and the .json point files of the blob directory. Remote
// backends contribute nothing. Missing files count as zero.
func DiskUsage(cfg config.StoreConfig) (int64, error) {
	files := []string{}
	if cfg.Path != "" {
		files = append(files, cfg.Path, cfg.Path+"-wal", cfg.Path+"-shm")
	}
	if cfg.Blob.Path != "" && cfg.Blob.Path != cfg.Path {
		files = append(files, cfg.Blob.Path)
	}

	var total int64
	for _, p := range files {
		n, err := fileSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if cfg.Blob.Dir != "" {
		n, err := blobDirSize(cfg.Blob.Dir)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}

// blobDirSize sums the point files directly inside dir; nested directories
// are not read by the blob backend and are not counted.
func blobDirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
