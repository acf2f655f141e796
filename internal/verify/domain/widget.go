package domain

import "time"

// WidgetState tracks the lifecycle of the anti-automation widget.
// Transitions: absent -> active -> (solved | expired) -> absent.
type WidgetState int

const (
	WidgetAbsent WidgetState = iota
	WidgetActive
	WidgetSolved
	WidgetExpired
)

func (s WidgetState) String() string {
	switch s {
	case WidgetAbsent:
		return "absent"
	case WidgetActive:
		return "active"
	case WidgetSolved:
		return "solved"
	case WidgetExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Widget is the anti-automation token bound to a UI container. At most one
// live instance exists process-wide; the widget manager enforces that.
type Widget struct {
	ID          string
	ContainerID string
	State       WidgetState
	CreatedAt   time.Time
}

// Usable reports whether the widget may back a challenge issuance call.
// Expired widgets must never be reused.
func (w *Widget) Usable() bool {
	if w == nil {
		return false
	}
	return w.State == WidgetActive || w.State == WidgetSolved
}
