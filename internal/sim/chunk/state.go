package chunk

// State is a chunk's position in the load lifecycle.
type State uint8

const (
	Unloaded State = iota
	Queued
	Generating
	Generated
	Meshed
	Unloading
)

var stateNames = [...]string{
	Unloaded:   "UNLOADED",
	Queued:     "QUEUED",
	Generating: "GENERATING",
	Generated:  "GENERATED",
	Meshed:     "MESHED",
	Unloading:  "UNLOADING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// States lists every lifecycle state in machine order.
func States() []State {
	return []State{Unloaded, Queued, Generating, Generated, Meshed, Unloading}
}

// CanTransition reports whether to is reachable from s in one step.
//
// The forward path is Unloaded→Queued→Generating→Generated→Meshed→Unloading.
// Any loaded state may jump to Unloading, and a failed generation drops back
// to Unloaded so discovery can queue it again.
func (s State) CanTransition(to State) bool {
	switch s {
	case Unloaded:
		return to == Queued
	case Queued:
		return to == Generating || to == Unloading
	case Generating:
		return to == Generated || to == Unloading || to == Unloaded
	case Generated:
		return to == Meshed || to == Unloading
	case Meshed:
		return to == Unloading
	default:
		return false
	}
}

// Loaded reports whether the state counts toward the loaded set.
func (s State) Loaded() bool {
	return s >= Queued && s <= Meshed
}
