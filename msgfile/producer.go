package msgfile

import (
	"context"
	"log/slog"

	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/runner"
)

type Options struct {
	Paths  []string
	Parser Parser
}

// Producer is the runner stage that parses files in the given order.
type Producer struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) *Producer {
	if opts.Parser == nil {
		opts.Parser = Parse
	}
	if logger == nil {
		logger = r.Logger()
	}
	p := &Producer{opts: opts, runner: r, logger: logger}
	r.AddStage("msgfile", p.run)
	return p
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseEnvelopes()

	out := p.runner.EnvelopeWriter()
	for _, path := range p.opts.Paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		env := model.Envelope{Path: path}
		msg, err := p.opts.Parser(path)
		if err != nil {
			p.logger.Warn("skipping unreadable message", "file", path, "err", err)
			env.Err = err
		} else {
			env.Message = msg
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- env:
		}
	}
	return nil
}
