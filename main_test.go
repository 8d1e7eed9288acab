package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/msg-to-json/config"
	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/msgfile"
	"github.com/dhcgn/msg-to-json/normalize"
	"github.com/dhcgn/msg-to-json/output"
	"github.com/dhcgn/msg-to-json/scanner"
)

var errCorrupt = errors.New("not a compound file")

// fakeParse treats files whose content is "corrupt" as unreadable and builds
// a message with one image.png attachment from everything else. Content
// "forward" yields a fwd.msg attachment instead.
func fakeParse(path string) (model.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Message{}, &msgfile.ParseError{Path: path, Err: err}
	}
	if string(data) == "corrupt" {
		return model.Message{}, &msgfile.ParseError{Path: path, Err: errCorrupt}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	attachment := "image.png"
	if string(data) == "forward" {
		attachment = "fwd.msg"
	}
	return model.Message{
		SourcePath: path,
		MessageID:  "<" + stem + "@example.com>",
		Sender:     model.Sender{Name: "Alice", SMTP: "alice@example.com"},
		Recipients: []model.Recipient{{Name: "Bob", SMTP: "bob@example.com", Kind: model.RecipientTo}},
		Subject:    "Report " + stem,
		Body:       string(data),
		SentAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Attachments: []model.Attachment{
			{LongName: attachment, Data: []byte("png-" + stem)},
		},
	}, nil
}

func writeInputs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func testConfig(inputDir, outDir string) config.Config {
	return config.Config{
		InputDir:       inputDir,
		OutputPath:     filepath.Join(outDir, "parsed_messages.json"),
		AttachmentsDir: filepath.Join(outDir, "Attachments"),
		Extension:      ".msg",
		Format:         output.FormatJSON,
		SortOrder:      output.OrderNone,
		LogLevel:       "info",
		NoProgress:     true,
		Policy:         normalize.DefaultPolicy(),
	}
}

func readRecords(t *testing.T, path string) []model.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []model.Record
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestRun_SkipsCorruptFile(t *testing.T) {
	input := writeInputs(t, map[string]string{
		"a.msg":     "first",
		"b.msg":     "corrupt",
		"c.msg":     "third",
		"notes.txt": "ignored",
	})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	summary, err := run(cfg, logger, fakeParse)
	require.NoError(t, err)

	records := readRecords(t, cfg.OutputPath)
	require.Len(t, records, 2)
	assert.Equal(t, "a.msg", records[0].SourceFile)
	assert.Equal(t, "c.msg", records[1].SourceFile)
	assert.Equal(t, "a@example.com", records[0].MessageID)
	assert.Equal(t, "alice@example.com", records[0].Sender)
	assert.Equal(t, []string{"bob@example.com"}, records[0].Recipients)
	require.NotNil(t, records[0].Timestamp)
	assert.Equal(t, "2024-01-02T03:04:05Z", *records[0].Timestamp)
	assert.Nil(t, records[0].Received)

	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.Errors)
	assert.ErrorIs(t, summary.LastError, errCorrupt)

	assert.Contains(t, logs.String(), "skipping unreadable message")
	assert.Contains(t, logs.String(), filepath.Join(input, "b.msg"))
}

func TestRun_EmptyDirectory(t *testing.T) {
	input := writeInputs(t, map[string]string{"readme.txt": "no messages here"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)

	summary, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))

	entries, err := os.ReadDir(cfg.AttachmentsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_MissingInputDir(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"), t.TempDir())

	_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	assert.ErrorIs(t, err, scanner.ErrInputDir)

	_, statErr := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_AttachmentsDoNotCollide(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "first", "b.msg": "second"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)

	_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)

	records := readRecords(t, cfg.OutputPath)
	require.Len(t, records, 2)

	seen := map[string]bool{}
	for _, rec := range records {
		require.Len(t, rec.Attachments, 1)
		ref := rec.Attachments[0]
		assert.False(t, seen[ref.Path], "duplicate attachment path %s", ref.Path)
		seen[ref.Path] = true

		data, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(ref.Path)))
		require.NoError(t, err)
		assert.Equal(t, ref.Size, int64(len(data)))
	}
	assert.Equal(t, "Attachments/a_image.png", records[0].Attachments[0].Path)
	assert.Equal(t, "Attachments/b_image.png", records[1].Attachments[0].Path)
}

func TestRun_Deterministic(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "first", "b.msg": "second", "c.msg": "corrupt"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)

	_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)

	_, err = run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))

	entries, err := os.ReadDir(cfg.AttachmentsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRun_FilterAndIndex(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "keep me", "b.msg": "drop me"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)
	cfg.ExcludeBody = []string{"drop"}
	cfg.AttachmentIndex = filepath.Join(outDir, "index.jsonl")
	cfg.Format = output.FormatJSONL

	summary, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.Written)

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"source_file":"a.msg"`)

	index, err := os.ReadFile(cfg.AttachmentIndex)
	require.NoError(t, err)
	assert.Contains(t, string(index), `"path":"Attachments/a_image.png"`)
}

func TestRun_MboxExport(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "first", "b.msg": "second"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)
	cfg.MboxPath = filepath.Join(outDir, "export.mbox")

	_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.MboxPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: Report a")
	assert.Contains(t, string(data), "Subject: Report b")
}

func TestRun_RecursiveRerunSkipsOwnOutput(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "forward"})
	cfg := testConfig(input, input)
	cfg.Recursive = true
	cfg.MboxPath = filepath.Join(input, "export.msg")

	for i := 0; i < 3; i++ {
		_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
		require.NoError(t, err)

		records := readRecords(t, cfg.OutputPath)
		require.Len(t, records, 1, "run %d", i+1)
		assert.Equal(t, "a.msg", records[0].SourceFile)
		require.Len(t, records[0].Attachments, 1)
		assert.Equal(t, "Attachments/a_fwd.msg", records[0].Attachments[0].Path)
	}
}

func TestRun_ConfirmDeclined(t *testing.T) {
	orig := confirm
	t.Cleanup(func() { confirm = orig })

	var asked string
	confirm = func(prompt string) (bool, error) {
		asked = prompt
		return false, nil
	}

	input := writeInputs(t, map[string]string{"a.msg": "first"})
	cfg := testConfig(input, t.TempDir())
	cfg.Confirm = true

	_, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, asked, "Convert 1 files")

	_, statErr := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(statErr))

	confirm = func(string) (bool, error) { return true, nil }
	_, err = run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fakeParse)
	require.NoError(t, err)
	assert.Len(t, readRecords(t, cfg.OutputPath), 1)
}

func TestRun_OutlookFixture(t *testing.T) {
	fixture, err := os.ReadFile(filepath.Join("msgfile", "testdata", "test.msg"))
	require.NoError(t, err)

	input := writeInputs(t, map[string]string{"report.msg": string(fixture), "broken.msg": "corrupt"})
	outDir := t.TempDir()
	cfg := testConfig(input, outDir)

	summary, err := run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), msgfile.Parse)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Errors)

	records := readRecords(t, cfg.OutputPath)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "report.msg", rec.SourceFile)
	assert.Equal(t, "3031EDB65352F345AF0723D0EBAAAE463A3D90@EXCHANGE.records.nsw.gov.au", rec.MessageID)
	assert.Equal(t, "Richard.Lehane@records.nsw.gov.au", rec.Sender)
	assert.Equal(t, []string{"Richard.Lehane@records.nsw.gov.au"}, rec.Recipients)
	assert.Equal(t, "test", rec.Subject)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, "2013-11-17T21:26:09Z", *rec.Timestamp)

	msg, err := msgfile.Parse(filepath.Join(input, "report.msg"))
	require.NoError(t, err)
	require.Len(t, rec.Attachments, len(msg.Attachments))

	names := []string{"report_test.doc", "report_image001.gif"}
	for i, ref := range rec.Attachments {
		assert.Equal(t, names[i], ref.Name)
		assert.Equal(t, "Attachments/"+names[i], ref.Path)

		written, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(ref.Path)))
		require.NoError(t, err)
		assert.Equal(t, msg.Attachments[i].Data, written, ref.Name)
		assert.Equal(t, int64(len(written)), ref.Size)

		sum := sha256.Sum256(msg.Attachments[i].Data)
		assert.Equal(t, hex.EncodeToString(sum[:]), ref.SHA256)
	}
}

func TestRootCommand(t *testing.T) {
	input := writeInputs(t, map[string]string{"a.msg": "first", "b.msg": "corrupt"})
	outDir := t.TempDir()
	out := filepath.Join(outDir, "result.json")

	rootCmd, err := newRootCmd(fakeParse)
	require.NoError(t, err)

	var console bytes.Buffer
	rootCmd.SetOut(&console)
	rootCmd.SetErr(&console)
	rootCmd.SetArgs([]string{input, "-o", out, "-a", filepath.Join(outDir, "att"), "--no-progress", "-s", "desc"})
	require.NoError(t, rootCmd.Execute())

	records := readRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "att/a_image.png", records[0].Attachments[0].Path)
	assert.Contains(t, console.String(), "b.msg")
}

func TestRootCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		is   error
	}{
		{name: "missing input dir", args: []string{filepath.Join(t.TempDir(), "missing"), "--no-progress"}, is: scanner.ErrInputDir},
		{name: "no arguments", args: []string{}},
		{name: "bad format", args: []string{t.TempDir(), "--format", "xml"}},
		{name: "bad sort order", args: []string{t.TempDir(), "-s", "sideways"}},
		{name: "include and exclude", args: []string{t.TempDir(), "--include-body", "a", "--exclude-body", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd, err := newRootCmd(fakeParse)
			require.NoError(t, err)

			var console bytes.Buffer
			rootCmd.SetOut(&console)
			rootCmd.SetErr(&console)
			rootCmd.SetArgs(tt.args)

			err = rootCmd.Execute()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}
