package sync

// ViewState is the read state of one open conversation view.
type ViewState int

const (
	ViewClosed ViewState = iota
	ViewUnread
	ViewRead
)

func (s ViewState) String() string {
	switch s {
	case ViewUnread:
		return "unread"
	case ViewRead:
		return "read"
	default:
		return "closed"
	}
}

// ThreadTracker follows a conversation view through
// closed -> unread -> read -> unread ... -> closed.
// It is not safe for concurrent use; views drive it from their update loop.
type ThreadTracker struct {
	state ViewState
}

// State returns the current state.
func (t *ThreadTracker) State() ViewState { return t.state }

// Open moves a closed view to unread when there is something unread for the
// viewer, or straight to read otherwise. Opening an open view changes nothing.
func (t *ThreadTracker) Open(unread int) ViewState {
	if t.state != ViewClosed {
		return t.state
	}
	if unread > 0 {
		t.state = ViewUnread
	} else {
		t.state = ViewRead
	}
	return t.state
}

// MarkRead applies the read transition locally. Views call it as soon as
// they issue the mark-read request, before the store confirms.
func (t *ThreadTracker) MarkRead() ViewState {
	t.state = ViewRead
	return t.state
}

// Observe feeds the unread counter from a poll. A focused view that sees new
// inbound messages stays read and asks to re-acknowledge them; a backgrounded
// one falls back to unread.
func (t *ThreadTracker) Observe(unread int, focused bool) (state ViewState, ack bool) {
	switch t.state {
	case ViewRead:
		if unread > 0 {
			if focused {
				return t.state, true
			}
			t.state = ViewUnread
		}
	case ViewUnread:
		if focused && unread > 0 {
			return t.state, true
		}
		if unread == 0 {
			t.state = ViewRead
		}
	}
	return t.state, false
}

// Close tears the view down.
func (t *ThreadTracker) Close() {
	t.state = ViewClosed
}
