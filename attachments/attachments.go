// Package attachments writes message attachments into a flat folder.
package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/state"
)

const (
	// FallbackName is used when an attachment carries no usable name.
	FallbackName = "unnamed_attachment"
	maxNameBytes = 200
	maxExtBytes  = 16
)

var forbidden = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// Options configures a Writer.
type Options struct {
	// Dir receives the attachment files.
	Dir string
	// BaseDir is the directory recorded paths are relative to, normally the
	// folder of the JSON output file.
	BaseDir string
}

// Writer stores attachments and registers their names with a state.Tracker.
type Writer struct {
	dir      string
	baseDir  string
	registry state.Tracker
	logger   *slog.Logger
}

// NewWriter creates the attachment folder and returns a Writer for it.
func NewWriter(opts Options, registry state.Tracker, logger *slog.Logger) (*Writer, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("attachment directory is empty")
	}
	if registry == nil {
		registry = state.NewMemoryTracker()
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve attachment directory: %w", err)
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(dir)
	}
	if baseDir, err = filepath.Abs(baseDir); err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}

	return &Writer{dir: dir, baseDir: baseDir, registry: registry, logger: logger}, nil
}

// Dir returns the absolute attachment folder.
func (w *Writer) Dir() string {
	return w.dir
}

// Write stores att under "<source stem>_<safe name>" and returns the reference
// for the output record.
func (w *Writer) Write(sourcePath string, att model.Attachment) (model.AttachmentRef, error) {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	name := w.registry.Claim(capLength(stem+"_"+SafeName(att), maxNameBytes))
	full := filepath.Join(w.dir, name)

	if err := os.WriteFile(full, att.Data, 0o644); err != nil {
		return model.AttachmentRef{}, fmt.Errorf("write attachment %s: %w", name, err)
	}

	sum := sha256.Sum256(att.Data)
	ref := model.AttachmentRef{
		Name:   name,
		Path:   w.relative(full),
		Size:   int64(len(att.Data)),
		SHA256: hex.EncodeToString(sum[:]),
	}

	entry := state.Entry{SHA256: ref.SHA256, Path: ref.Path, Source: sourcePath, Size: ref.Size}
	if err := w.registry.Record(entry); err != nil {
		return model.AttachmentRef{}, fmt.Errorf("record attachment %s: %w", name, err)
	}

	if w.logger != nil {
		w.logger.Debug("attachment written", "file", sourcePath, "name", name, "size", ref.Size)
	}
	return ref, nil
}

func (w *Writer) relative(full string) string {
	rel, err := filepath.Rel(w.baseDir, full)
	if err != nil {
		rel = full
	}
	return filepath.ToSlash(rel)
}

// SafeName picks the long, short or display name of att, sanitizes it and
// appends the extension property when the name has none.
func SafeName(att model.Attachment) string {
	name := ""
	for _, candidate := range []string{att.LongName, att.ShortName, att.DisplayName} {
		if name = Sanitize(candidate); name != "" {
			break
		}
	}
	if name == "" {
		name = FallbackName
	}

	if filepath.Ext(name) == "" {
		if ext := Sanitize(att.Extension); ext != "" && ext != "." {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			name += ext
		}
	}

	return capLength(name, maxNameBytes)
}

// Sanitize removes control characters, replaces characters that are invalid
// in Windows file names and trims trailing dots and spaces.
func Sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = forbidden.Replace(name)
	name = strings.TrimLeft(name, " ")
	return strings.TrimRight(name, ". ")
}

// capLength shortens name to max bytes, keeping a short extension intact.
func capLength(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes {
		ext = ""
	}
	return truncate(strings.TrimSuffix(name, ext), max-len(ext)) + ext
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
