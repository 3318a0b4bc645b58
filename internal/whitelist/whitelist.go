// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package whitelist manages the allow-list of usernames permitted to log in
// while whitelist mode is enabled. The list is a JSON array of strings on
// disk, shared by the server and the whitelist CLI.
package whitelist

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"
)

// DefaultPath is the whitelist location relative to the working directory.
const DefaultPath = "whitelist.json"

// ErrMissing is returned by Rename when the whitelist file does not exist.
var ErrMissing = errors.New("whitelist file does not exist")

// File is a file-backed whitelist. Every operation re-reads the file so
// edits made by other processes are seen. Writers hold an in-process mutex
// plus an exclusive flock on a sidecar lock file for the whole
// read-modify-write, and replace the file by renaming a temp file over it.
type File struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New returns a whitelist backed by path. It does not touch the disk.
func New(path string) *File {
	return NewWithLogger(path, nil)
}

// NewWithLogger is New with a logger. A nil logger discards output.
func NewWithLogger(path string, logger *slog.Logger) *File {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &File{path: path, logger: logger}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load returns the whitelisted names, creating an empty file if none exists.
func (f *File) Load() ([]string, error) {
	var names []string
	err := f.locked(func() error {
		var err error
		names, err = f.read()
		if errors.Is(err, fs.ErrNotExist) {
			f.logger.Info("whitelist file not found, creating empty whitelist", "path", f.path)
			names = []string{}
			return f.write(names)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Contains reports whether name is whitelisted. Matching is exact.
func (f *File) Contains(name string) (bool, error) {
	names, err := f.Load()
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// List returns the whitelisted names without creating a missing file.
func (f *File) List() ([]string, error) {
	var names []string
	err := f.locked(func() error {
		var err error
		names, err = f.read()
		if errors.Is(err, fs.ErrNotExist) {
			names, err = []string{}, nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Rename replaces oldName with newName in place. It is a no-op when
// oldName is not listed and fails with ErrMissing when the file is absent.
func (f *File) Rename(oldName, newName string) error {
	return f.locked(func() error {
		names, err := f.read()
		if errors.Is(err, fs.ErrNotExist) {
			return oops.Code("WHITELIST_MISSING").
				With("path", f.path).
				With("old_name", oldName).
				With("new_name", newName).
				Wrap(ErrMissing)
		}
		if err != nil {
			return err
		}
		i := slices.Index(names, oldName)
		if i < 0 {
			return nil
		}
		names[i] = newName
		return f.write(names)
	})
}

// Add appends name if it is not already listed. Reports whether the list
// changed.
func (f *File) Add(name string) (bool, error) {
	added := false
	err := f.locked(func() error {
		names, err := f.read()
		if errors.Is(err, fs.ErrNotExist) {
			names, err = []string{}, nil
		}
		if err != nil {
			return err
		}
		if slices.Contains(names, name) {
			return nil
		}
		added = true
		return f.write(append(names, name))
	})
	return added, err
}

// Remove deletes every occurrence of name. Reports whether the list changed.
func (f *File) Remove(name string) (bool, error) {
	removed := false
	err := f.locked(func() error {
		names, err := f.read()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		kept := slices.DeleteFunc(names, func(n string) bool { return n == name })
		if removed = len(kept) != len(names); !removed {
			return nil
		}
		return f.write(kept)
	})
	return removed, err
}

// locked runs fn holding both the in-process mutex and the file lock.
func (f *File) locked(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockPath := f.path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // operator-configured path
	if err != nil {
		return oops.Code("WHITELIST_LOCK_FAILED").With("path", lockPath).Wrap(err)
	}
	defer func() { _ = lf.Close() }()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil { //nolint:gosec // fd fits in int
		return oops.Code("WHITELIST_LOCK_FAILED").With("path", lockPath).Wrap(err)
	}
	defer func() { _ = unix.Flock(int(lf.Fd()), unix.LOCK_UN) }() //nolint:gosec // fd fits in int

	return fn()
}

// read parses the file. A missing file is returned as fs.ErrNotExist
// unwrapped so callers can decide whether that is an error.
func (f *File) read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err //nolint:wrapcheck // sentinel checked by callers
		}
		return nil, oops.Code("WHITELIST_READ_FAILED").With("path", f.path).Wrap(err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, oops.Code("WHITELIST_INVALID").With("path", f.path).Wrap(err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// write atomically replaces the file with names.
func (f *File) write(names []string) error {
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".whitelist-*.tmp")
	if err != nil {
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return oops.Code("WHITELIST_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	success = true
	return nil
}
