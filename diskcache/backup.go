package diskcache

// excludeFromBackup is a best-effort, platform-specific hint. Apple
// platforms expose NSURLIsExcludedFromBackupKey for this; there is no
// portable Go equivalent, so this is a documented no-op everywhere
// else, following the nil-safe-and-never-fail style used for other
// optional hints (metrics.go's OnFlushError-style callbacks).
func excludeFromBackup(path string) {
	_ = path
}
