package dirgo

// Close stops background maintenance, waits for an in-flight write to
// finish and releases the underlying store. Close is idempotent;
// operations after it return ErrClosed.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}

	s.maintMu.Lock()
	h := s.maint
	s.maint = nil
	s.maintMu.Unlock()
	if h != nil {
		h.cancel()
		<-h.done
	}

	return s.be.Close()
}
