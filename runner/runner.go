package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/msg-to-json/config"
	"github.com/dhcgn/msg-to-json/filter"
	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/state"
	"github.com/dhcgn/msg-to-json/stats"
)

type StageFunc func(context.Context) error

type StatsFunc func(context.Context, <-chan stats.Event) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name string
	fn   StatsFunc
}

// Runner wires the pipeline: producer stages write envelopes, the bridge
// counts and filters them, and consumer stages read the accepted ones.
// Stages and stats subscribers are registered first and launched by Start.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	envelopes chan model.Envelope
	accepted  chan model.Envelope
	events    chan stats.Event

	filter   *filter.Filter
	registry state.Tracker

	stages      []stage
	subscribers []subscriber

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEnvelopesOnce sync.Once
	closeAcceptedOnce  sync.Once
	closeEventsOnce    sync.Once
	since              time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	f, err := filter.New(cfg.FilterOptions())
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	var registry state.Tracker = state.NewMemoryTracker()
	if cfg.AttachmentIndex != "" {
		if registry, err = state.NewFileTracker(cfg.AttachmentIndex); err != nil {
			return nil, fmt.Errorf("attachment index: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		envelopes: make(chan model.Envelope, 32),
		accepted:  make(chan model.Envelope, 32),
		events:    make(chan stats.Event, 128),
		filter:    f,
		registry:  registry,
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// Registry returns the attachment name registry for this run.
func (r *Runner) Registry() state.Tracker {
	return r.registry
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) EnvelopeWriter() chan<- model.Envelope {
	return r.envelopes
}

func (r *Runner) CloseEnvelopes() {
	r.closeEnvelopesOnce.Do(func() {
		close(r.envelopes)
	})
}

// Accepted yields the envelopes that parsed cleanly and passed the filter,
// in the order they were produced.
func (r *Runner) Accepted() <-chan model.Envelope {
	return r.accepted
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers fn to receive every event emitted during the run.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, subscriber{name: name, fn: fn})
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start launches all subscribers and stages and blocks until every stage has
// returned. The first stage error cancels the run and is returned.
func (r *Runner) Start() error {
	r.since = time.Now()

	feeds := make([]chan stats.Event, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		feed := make(chan stats.Event, cap(r.events))
		feeds = append(feeds, feed)

		r.statsWG.Add(1)
		go func(sub subscriber, feed <-chan stats.Event) {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}(sub, feed)
	}

	r.statsWG.Add(1)
	go r.dispatch(feeds)

	for _, st := range r.stages {
		r.workWG.Add(1)
		go func(st stage) {
			defer r.workWG.Done()
			if err := st.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", st.name, err))
			}
		}(st)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	if err := r.registry.Close(); err != nil {
		r.fail(fmt.Errorf("attachment index: %w", err))
	}
	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// dispatch copies every event to each subscriber feed.
func (r *Runner) dispatch(feeds []chan stats.Event) {
	defer r.statsWG.Done()
	defer func() {
		for _, feed := range feeds {
			close(feed)
		}
	}()

	for evt := range r.events {
		for _, feed := range feeds {
			select {
			case feed <- evt:
			case <-r.ctx.Done():
			}
		}
	}
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeAccepted()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.envelopes:
			if !ok {
				return nil
			}

			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeScanned, File: envelope.Path})

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, File: envelope.Path, Err: envelope.Err})
				continue
			}
			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, File: envelope.Path})

			if r.filter.Active() && !r.filter.AllowsMessage(envelope.Message) {
				r.logger.Debug("message filtered", "file", envelope.Path)
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFiltered, File: envelope.Path})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.accepted <- envelope:
			}
		}
	}
}

func (r *Runner) closeAccepted() {
	r.closeAcceptedOnce.Do(func() {
		close(r.accepted)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
