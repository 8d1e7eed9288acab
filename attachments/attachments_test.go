package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/state"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{`a\b/c:d*e?f"g<h>i|j.txt`, "a_b_c_d_e_f_g_h_i_j.txt"},
		{"bad\x00name\x1f.doc", "badname.doc"},
		{"trailing. . ", "trailing"},
		{"  leading.txt", "leading.txt"},
		{"..", ""},
		{"", ""},
		{"résumé.docx", "résumé.docx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "Sanitize(%q)", tt.in)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		att  model.Attachment
		want string
	}{
		{"long name wins", model.Attachment{LongName: "Quarterly Report.xlsx", ShortName: "QUART~1.XLS"}, "Quarterly Report.xlsx"},
		{"short name fallback", model.Attachment{ShortName: "IMAGE~1.PNG"}, "IMAGE~1.PNG"},
		{"display name fallback", model.Attachment{DisplayName: "notes.txt"}, "notes.txt"},
		{"unnamed", model.Attachment{}, FallbackName},
		{"unnamed with extension", model.Attachment{Extension: ".bin"}, FallbackName + ".bin"},
		{"extension without dot", model.Attachment{LongName: "scan", Extension: "pdf"}, "scan.pdf"},
		{"existing extension kept", model.Attachment{LongName: "scan.tif", Extension: ".pdf"}, "scan.tif"},
		{"only forbidden chars", model.Attachment{LongName: "..."}, FallbackName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.att))
		})
	}
}

func TestSafeName_CapsLength(t *testing.T) {
	long := strings.Repeat("é", 150) + ".pdf"
	got := SafeName(model.Attachment{LongName: long})

	assert.LessOrEqual(t, len(got), maxNameBytes)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
	assert.True(t, strings.HasPrefix(got, "é"))
	assert.NotContains(t, got, "�")
}

func TestWriter_Write(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(Options{Dir: filepath.Join(root, "Attachments"), BaseDir: root}, nil, nil)
	require.NoError(t, err)

	data := []byte("hello attachment")
	ref, err := w.Write(filepath.Join(root, "in", "mail one.msg"), model.Attachment{LongName: "hello.txt", Data: data})
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, "mail one_hello.txt", ref.Name)
	assert.Equal(t, "Attachments/mail one_hello.txt", ref.Path)
	assert.Equal(t, int64(len(data)), ref.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), ref.SHA256)

	onDisk, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ref.Path)))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(ref.Path)))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm()&0o644)
}

func TestWriter_SameNameDifferentMessages(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(Options{Dir: filepath.Join(root, "out"), BaseDir: root}, state.NewMemoryTracker(), nil)
	require.NoError(t, err)

	first, err := w.Write("/mail/a.msg", model.Attachment{LongName: "image.png", Data: []byte("one")})
	require.NoError(t, err)
	second, err := w.Write("/mail/b.msg", model.Attachment{LongName: "image.png", Data: []byte("two")})
	require.NoError(t, err)

	assert.Equal(t, "a_image.png", first.Name)
	assert.Equal(t, "b_image.png", second.Name)
	assert.NotEqual(t, first.Path, second.Path)
}

func TestWriter_CollisionCounter(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(Options{Dir: root, BaseDir: root}, nil, nil)
	require.NoError(t, err)

	var names []string
	for _, n := range []string{"image.png", "image.png", "IMAGE.PNG"} {
		ref, err := w.Write("/mail/a.msg", model.Attachment{LongName: n, Data: []byte(n)})
		require.NoError(t, err)
		names = append(names, ref.Name)
	}

	assert.Equal(t, []string{"a_image.png", "a_image_1.png", "a_IMAGE_2.PNG"}, names)
	for _, n := range names {
		assert.FileExists(t, filepath.Join(root, n))
	}
}

func TestWriter_RecordsIndex(t *testing.T) {
	root := t.TempDir()
	index, err := state.NewFileTracker(filepath.Join(root, "index.jsonl"))
	require.NoError(t, err)

	w, err := NewWriter(Options{Dir: filepath.Join(root, "att"), BaseDir: root}, index, nil)
	require.NoError(t, err)

	_, err = w.Write("/mail/a.msg", model.Attachment{LongName: "x.bin", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, index.Close())

	content, err := os.ReadFile(filepath.Join(root, "index.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"path":"att/a_x.bin"`)
	assert.Contains(t, string(content), `"source":"/mail/a.msg"`)
	assert.Equal(t, 1, index.Snapshot().Recorded)
}

func TestNewWriter_Errors(t *testing.T) {
	_, err := NewWriter(Options{Dir: " "}, nil, nil)
	assert.Error(t, err)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	_, err = NewWriter(Options{Dir: filepath.Join(blocker, "sub")}, nil, nil)
	assert.Error(t, err)
}
