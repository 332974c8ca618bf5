package composite

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentsh/shellgate/internal/store"
	"github.com/agentsh/shellgate/pkg/types"
)

var errNoOutputStore = errors.New("output store not configured")

// Store fans events out to every sink and answers queries from the primary.
type Store struct {
	primary store.EventStore
	output  store.OutputStore
	sinks   []store.EventStore
}

func New(primary store.EventStore, output store.OutputStore, sinks ...store.EventStore) *Store {
	return &Store{primary: primary, output: output, sinks: sinks}
}

// AppendEvent writes to the primary and every sink; one failing sink does not
// starve the others. All failures are returned joined.
func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	var errs []error
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	for i, o := range s.sinks {
		if err := o.AppendEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.primary.QueryEvents(ctx, q)
}

func (s *Store) SaveOutput(ctx context.Context, sessionID, commandID string, stdout, stderr []byte, stdoutTotal, stderrTotal int64, stdoutTrunc, stderrTrunc bool) error {
	if s.output == nil {
		return errNoOutputStore
	}
	return s.output.SaveOutput(ctx, sessionID, commandID, stdout, stderr, stdoutTotal, stderrTotal, stdoutTrunc, stderrTrunc)
}

func (s *Store) ReadOutputChunk(ctx context.Context, commandID string, stream string, offset, limit int64) ([]byte, int64, bool, error) {
	if s.output == nil {
		return nil, 0, false, errNoOutputStore
	}
	return s.output.ReadOutputChunk(ctx, commandID, stream, offset, limit)
}

// Close closes sinks first so buffered exporters flush before the primary
// goes away.
func (s *Store) Close() error {
	var errs []error
	for _, o := range s.sinks {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
