package game

// PendingTimers returns the keys of the session's pending timers.
func (s *Session) PendingTimers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timers.Keys()
}
