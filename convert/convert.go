// Package convert is the consumer stage: it turns accepted messages into
// output records and writes their attachments.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/dhcgn/msg-to-json/attachments"
	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/normalize"
	"github.com/dhcgn/msg-to-json/output"
	"github.com/dhcgn/msg-to-json/runner"
	"github.com/dhcgn/msg-to-json/stats"
)

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dhcgn/msg-to-json/record"))

type Options struct {
	// InputDir is the scanned root; source_file and id are derived from the
	// path relative to it.
	InputDir    string
	Normalizer  *normalize.Normalizer
	Attachments *attachments.Writer
	// Exporter is optional.
	Exporter *output.MboxExporter
}

type Stage struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger

	mu      sync.Mutex
	records []model.Record
}

func NewStage(opts Options, r *runner.Runner, logger *slog.Logger) (*Stage, error) {
	if opts.Normalizer == nil {
		return nil, fmt.Errorf("convert: normalizer is required")
	}
	if opts.Attachments == nil {
		return nil, fmt.Errorf("convert: attachment writer is required")
	}
	if logger == nil {
		logger = r.Logger()
	}

	s := &Stage{opts: opts, runner: r, logger: logger, records: []model.Record{}}
	r.AddStage("convert", s.run)
	return s, nil
}

// Records returns the converted records in the order they were received.
func (s *Stage) Records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record{}, s.records...)
}

func (s *Stage) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.runner.Accepted():
			if !ok {
				return nil
			}

			rec, err := s.Convert(env.Message)
			if err != nil {
				s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, File: env.Path, Err: err})
				return err
			}

			s.mu.Lock()
			s.records = append(s.records, rec)
			s.mu.Unlock()

			s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeWritten, File: env.Path})
		}
	}
}

// Convert normalizes msg, writes its attachments and returns the record.
// Errors are output failures and abort the run.
func (s *Stage) Convert(msg model.Message) (model.Record, error) {
	norm := s.opts.Normalizer
	rec := norm.Message(msg)

	source := s.sourceFile(msg.SourcePath)
	rec.SourceFile = source
	rec.ID = uuid.NewSHA1(recordNamespace, []byte(source)).String()

	for _, att := range msg.Attachments {
		att.LongName = norm.Text(att.LongName)
		att.ShortName = norm.Text(att.ShortName)
		att.DisplayName = norm.Text(att.DisplayName)

		ref, err := s.opts.Attachments.Write(msg.SourcePath, att)
		if err != nil {
			return model.Record{}, err
		}
		rec.Attachments = append(rec.Attachments, ref)
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeAttachment, File: msg.SourcePath, Detail: ref.Name})
	}

	if s.opts.Exporter != nil {
		if err := s.opts.Exporter.Add(rec); err != nil {
			return model.Record{}, err
		}
	}

	s.logger.Debug("message converted", "file", source, "attachments", len(rec.Attachments))
	return rec, nil
}

func (s *Stage) sourceFile(path string) string {
	if s.opts.InputDir != "" {
		if rel, err := filepath.Rel(s.opts.InputDir, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}
