package realtime

// gateState tracks whether a spoken user turn is still waiting for its
// transcript. Assistant output is held back while it is.
type gateState int

const (
	gateIdle gateState = iota
	gateAwaitingTranscript
)

func (g gateState) String() string {
	if g == gateAwaitingTranscript {
		return "awaiting_transcript"
	}
	return "idle"
}

// actionQueue is a FIFO of deferred render actions.
type actionQueue struct {
	items []func()
}

func (q *actionQueue) push(fn func()) {
	q.items = append(q.items, fn)
}

func (q *actionQueue) len() int {
	return len(q.items)
}

// drain runs every queued action in submission order and leaves the queue
// empty. Actions pushed while draining run in the same pass.
func (q *actionQueue) drain() int {
	n := 0
	for len(q.items) > 0 {
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		fn()
		n++
	}
	q.items = nil
	return n
}

func (q *actionQueue) reset() {
	q.items = nil
}
