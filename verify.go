package dirgo

import "context"

// Verify checks the consistency of the current snapshot and reports every
// problem found: storage index divergence first, then schema coherence,
// then each plugin's invariant over the stored entries. A healthy server
// yields an empty slice.
//
// Index findings suppress the later stages; the invariant checks search
// through the very indexes under suspicion.
func (s *Server) Verify(ctx context.Context) []error {
	r := s.be.Read()

	if errs := r.Verify(ctx); len(errs) > 0 {
		return errs
	}
	if errs := r.Schema().SelfCheck(); len(errs) > 0 {
		return errs
	}
	return s.pipeline.Verify(ctx, r)
}
