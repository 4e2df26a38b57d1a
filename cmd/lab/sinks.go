package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chemlab/internal/logging"
	"chemlab/internal/progress"
	"chemlab/internal/store"
)

// sinkStack is where a session's progress goes: the local store, the remote
// endpoint, or both. Close drains the async queue before the store closes.
type sinkStack struct {
	progress.Sink
	store  *store.ProgressStore
	remote *progress.AsyncSink
}

func (s *sinkStack) Close() error {
	var errs []error
	if s.remote != nil {
		errs = append(errs, s.remote.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// openSinks wires the configured progress sinks. With noStore the local
// database is skipped.
func openSinks(noStore bool) (*sinkStack, error) {
	stack := &sinkStack{}
	var sinks progress.MultiSink

	if !noStore {
		s, err := store.Open(cfg.Store.Driver, cfg.Store.Path, loggers.Get(logging.CategoryStore))
		if err != nil {
			return nil, fmt.Errorf("failed to open progress store: %w", err)
		}
		stack.store = s
		sinks = append(sinks, s)
	}

	if cfg.IsRemoteProgressEnabled() {
		httpSink := progress.NewHTTPSink(cfg.Progress.URL, cfg.GetProgressTimeout())
		httpSink.Token = cfg.Progress.Token
		stack.remote = progress.NewAsyncSink(httpSink, cfg.Progress.QueueSize, cfg.GetProgressTimeout(),
			loggers.Get(logging.CategoryProgress))
		sinks = append(sinks, stack.remote)
		loggers.Get(logging.CategoryBoot).Info("remote progress enabled", zap.String("url", cfg.Progress.URL))
	}

	switch len(sinks) {
	case 0:
		stack.Sink = progress.NopSink{}
	case 1:
		stack.Sink = sinks[0]
	default:
		stack.Sink = sinks
	}
	return stack, nil
}
