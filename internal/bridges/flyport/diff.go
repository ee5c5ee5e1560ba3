package flyport

// Snapshot is the set of line readings obtained in one fetch, keyed by line
// index. Lines that could not be read are absent.
type Snapshot map[int]Value

// Change is one line whose reading differs from the last recorded one.
type Change struct {
	Line int
	Old  Value
	New  Value
}

// LineState is the last recorded reading of each monitored line. It belongs
// to the polling goroutine and must not be shared.
type LineState struct {
	start  int
	values []Value
}

// NewLineState returns a state for lines [start, start+count) with every
// line set to Unknown.
func NewLineState(start, count int) *LineState {
	values := make([]Value, count)
	for i := range values {
		values[i] = Unknown
	}
	return &LineState{start: start, values: values}
}

// Get returns the recorded reading of line, and false if line is outside
// the monitored range.
func (s *LineState) Get(line int) (Value, bool) {
	i := line - s.start
	if i < 0 || i >= len(s.values) {
		return Unknown, false
	}
	return s.values[i], true
}

// Len returns the number of monitored lines.
func (s *LineState) Len() int {
	return len(s.values)
}

// Diff compares snap with state, records every changed reading in state and
// returns the changes in ascending line order. Lines absent from snap and
// readings outside the monitored range are ignored.
func Diff(state *LineState, snap Snapshot) []Change {
	var changes []Change
	for i, old := range state.values {
		line := state.start + i
		v, ok := snap[line]
		if !ok || v == old {
			continue
		}
		changes = append(changes, Change{Line: line, Old: old, New: v})
		state.values[i] = v
	}
	return changes
}
