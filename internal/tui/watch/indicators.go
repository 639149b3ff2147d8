package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Pulse advances one frame per UI tick. A frozen frame means the UI loop
// itself has stalled.
type Pulse struct {
	frames []string
	index  int
}

func NewPulse() Pulse {
	return Pulse{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (p *Pulse) Advance() {
	p.index = (p.index + 1) % len(p.frames)
}

func (p Pulse) Frame() string {
	return p.frames[p.index]
}

// Activity lights up when an event arrives and loses one dot for every two
// seconds of silence.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) Mark(at time.Time) {
	a.dots = activityDots
	a.lastEvent = at
}

func (a *Activity) Fade(now time.Time) {
	if a.lastEvent.IsZero() {
		return
	}
	lit := activityDots - int(now.Sub(a.lastEvent)/(2*time.Second))
	a.dots = max(0, min(activityDots, lit))
}

func (a Activity) Dots() int {
	return a.dots
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < activityDots; i++ {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
