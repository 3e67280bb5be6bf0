package pcsc

// Tracked reports how many sessions and channels b still holds.
func Tracked(b *Backend) (sessions, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions), len(b.channels)
}
