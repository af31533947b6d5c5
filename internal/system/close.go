package system

import (
	"errors"

	"github.com/sourcegraph/conc"

	"ragcore/internal/logging"
)

// Close stops every component. The orchestrator goes first so in-flight turns
// finish against live generation and retrieval actors; the store closes last.
func (s *System) Close() error {
	if s == nil {
		return nil
	}

	if s.Orchestrator != nil {
		s.Orchestrator.Close()
	}

	var wg conc.WaitGroup
	if s.Generation != nil {
		wg.Go(s.Generation.Close)
	}
	if s.Retrieval != nil {
		wg.Go(s.Retrieval.Close)
	}
	wg.Wait()

	var errs []error
	if err := s.Usage.Close(); err != nil {
		errs = append(errs, err)
	}
	s.Usage = nil
	if s.Sessions != nil {
		if err := s.Sessions.Close(); err != nil {
			errs = append(errs, err)
		}
		s.Sessions = nil
	}

	logging.Boot("Core stopped")
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
