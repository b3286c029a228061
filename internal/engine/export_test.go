package engine

// LockCount exposes the number of live lock keys to tests.
func LockCount(e Engine) int {
	if e.locks == nil {
		return 0
	}
	return e.locks.size()
}
