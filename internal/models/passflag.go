package models

// PassFlag gates whether fragments of a fresh run reach the caller. It flips each time a worker marker is
// observed, so the worker trace and the visible answer alternate.
//
// A PassFlag belongs to a single streaming session and is only touched by the loop consuming that
// session, so it carries no locking.
type PassFlag struct {
	on bool
}

// Reset closes the flag.
func (f *PassFlag) Reset() {
	f.on = false
}

// Toggle flips the flag.
func (f *PassFlag) Toggle() {
	f.on = !f.on
}

// On reports whether fragments currently pass through.
func (f *PassFlag) On() bool {
	return f.on
}
