package credentials

// SetWriteHook installs fn to run before each file entry is written
func SetWriteHook(f *FileStore, fn func(suffix string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeHook = fn
}
