package task

// Priority is a totally ordered discrete level, URGENT being the highest
// (spec.md §3). Five levels are required even though the system this spec
// was distilled from only modelled four (LOW..URGENT) — BACKGROUND is the
// floor used by, e.g., a fully-charged EV or a water heater whose tank is
// full and hot (see DESIGN.md resolution #1).
type Priority int

const (
	Background Priority = iota
	Low
	Medium
	High
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Background:
		return "BACKGROUND"
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Urgent:
		return "URGENT"
	default:
		return "UNKNOWN"
	}
}
