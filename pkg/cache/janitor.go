package cache

// startSweeper launches the background expiry loop. Expired entries are
// also dropped lazily on read, so the sweeper only reclaims memory held by
// keys nobody asks for anymore.
func (m *Manager[T]) startSweeper() {
	if m.sweepInterval <= 0 {
		close(m.done)
		return
	}

	ticker := m.clock.Ticker(m.sweepInterval)
	go func() {
		defer close(m.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}
