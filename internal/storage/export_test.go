package storage

// SetBeforeCommit installs a hook that runs between flushing the temp file
// and renaming it over the store.
func (s *FileStore) SetBeforeCommit(fn func(tempPath string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}
