package scanner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInputDir is returned when the input directory is missing or unreadable.
var ErrInputDir = errors.New("input directory is not readable")

// Options controls which files are enumerated.
type Options struct {
	Root      string
	Extension string
	Recursive bool
	// Exclude lists files and directories that are never returned or
	// descended into, such as the tool's own output locations.
	Exclude []string
	Logger  *slog.Logger
}

// List returns the absolute paths of all regular files below Root whose
// extension matches Extension (case insensitive). Paths are sorted so that
// repeated runs see the same order. Only an unreadable Root is an error;
// unreadable entries below it are logged and skipped.
func List(opts Options) ([]string, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrInputDir)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInputDir, absRoot)
	}

	w := &walker{
		root:    absRoot,
		ext:     NormalizeExtension(opts.Extension),
		exclude: make(map[string]struct{}),
		logger:  opts.Logger,
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, p := range opts.Exclude {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			w.exclude[abs] = struct{}{}
		}
	}

	if opts.Recursive {
		if err := filepath.WalkDir(absRoot, w.visit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
		}
	} else {
		entries, err := os.ReadDir(absRoot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := w.visit(filepath.Join(absRoot, entry.Name()), entry, nil); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
			}
		}
	}

	sort.Strings(w.files)
	return w.files, nil
}

type walker struct {
	root    string
	ext     string
	exclude map[string]struct{}
	logger  *slog.Logger
	files   []string
}

func (w *walker) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		if path == w.root {
			return err
		}
		w.logger.Warn("skipping unreadable path", "path", path, "err", err)
		if d != nil && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}

	if _, ok := w.exclude[path]; ok && path != w.root {
		w.logger.Debug("skipping excluded path", "path", path)
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}

	if d.Type().IsRegular() && matches(path, w.ext) {
		w.files = append(w.files, path)
	}
	return nil
}

// NormalizeExtension lowercases ext and guarantees a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func matches(path, ext string) bool {
	if ext == "" {
		return true
	}
	return strings.ToLower(filepath.Ext(path)) == ext
}
