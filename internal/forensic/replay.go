package forensic

// Replay is a read-only, position-indexed traversal over a stored session.
// It never mutates the underlying events.
type Replay struct {
	session *Session
	events  []*Event
	pos     int
}

// NewReplay wraps a session and its ordered events for traversal.
func NewReplay(session *Session, events []*Event) *Replay {
	return &Replay{session: session, events: events}
}

// Session returns the session under replay.
func (r *Replay) Session() *Session { return r.session }

// Len returns the number of events.
func (r *Replay) Len() int { return len(r.events) }

// Position returns the current cursor position (0-based).
func (r *Replay) Position() int { return r.pos }

// Current returns the event at the cursor, or nil on an empty session.
func (r *Replay) Current() *Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[r.pos]
}

// Next advances the cursor and returns the new current event. At the end
// it stays put and returns nil.
func (r *Replay) Next() *Event {
	if r.pos+1 >= len(r.events) {
		return nil
	}
	r.pos++
	return r.events[r.pos]
}

// Prev moves the cursor back and returns the new current event. At the
// start it stays put and returns nil.
func (r *Replay) Prev() *Event {
	if r.pos == 0 {
		return nil
	}
	r.pos--
	return r.events[r.pos]
}

// Seek moves the cursor to the given position if it is in range.
func (r *Replay) Seek(pos int) bool {
	if pos < 0 || pos >= len(r.events) {
		return false
	}
	r.pos = pos
	return true
}

// Context returns up to n events before and after the cursor, plus the
// current event, in order.
func (r *Replay) Context(n int) (before, current, after []*Event) {
	if len(r.events) == 0 {
		return nil, nil, nil
	}
	lo := r.pos - n
	if lo < 0 {
		lo = 0
	}
	hi := r.pos + n + 1
	if hi > len(r.events) {
		hi = len(r.events)
	}
	return r.events[lo:r.pos], r.events[r.pos : r.pos+1], r.events[r.pos+1 : hi]
}
