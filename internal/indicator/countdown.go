package indicator

import "fmt"

// Level is the urgency of a recording countdown.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Urgency is warning from 70% of limit and critical from 90%.
func Urgency(elapsed, limit int) Level {
	if limit <= 0 {
		return LevelNormal
	}
	switch {
	case elapsed*10 >= limit*9:
		return LevelCritical
	case elapsed*10 >= limit*7:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Clock renders seconds as m:ss. Negative input clamps to 0:00.
func Clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
