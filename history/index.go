package history

const (
	noPrevious = -1
	dangling   = -2
)

// index is the history as an arena: each event's previousEventId is resolved
// once into a slice position so walking the chain never searches by ID.
type index struct {
	events []Event
	prev   []int
}

func newIndex(events []Event) *index {
	pos := make(map[int64]int, len(events))
	for i, e := range events {
		// First event in storage order wins when IDs collide.
		if _, ok := pos[e.ID]; !ok {
			pos[e.ID] = i
		}
	}
	prev := make([]int, len(events))
	for i, e := range events {
		j, ok := pos[e.PreviousEventID]
		switch {
		case !e.HasPrevious():
			prev[i] = noPrevious
		case !ok:
			prev[i] = dangling
		default:
			prev[i] = j
		}
	}
	return &index{events: events, prev: prev}
}

func (x *index) last() int { return len(x.events) - 1 }

// walkBack returns the first position at or before start, following previous
// links, whose event type satisfies match.
func (x *index) walkBack(start int, want string, match func(EventType) bool) (int, error) {
	cur := start
	for steps := 0; ; steps++ {
		ev := x.events[cur]
		if match(ev.Type) {
			return cur, nil
		}
		// A well-formed chain has fewer hops than events.
		if steps >= len(x.events) {
			return 0, &ChainExhaustedError{EventID: ev.ID, Want: want, Cycle: true}
		}
		switch p := x.prev[cur]; p {
		case noPrevious:
			return 0, &ChainExhaustedError{EventID: ev.ID, Want: want}
		case dangling:
			return 0, &LookupError{EventID: ev.ID, PreviousEventID: ev.PreviousEventID}
		default:
			cur = p
		}
	}
}
