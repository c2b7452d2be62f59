package mqtt

import (
	"sync"
	"time"
)

// DailyTurns counts answered and busy-rejected turns, resetting at
// local midnight.
type DailyTurns struct {
	mu      sync.Mutex
	turns   int64
	busy    int64
	day     int
	loc     *time.Location
	nowFunc func() time.Time
}

// NewDailyTurns returns a counter using loc for midnight. A nil loc
// means [time.Local].
func NewDailyTurns(loc *time.Location) *DailyTurns {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTurns{loc: loc, nowFunc: time.Now}
	d.day = d.today()
	return d
}

func (d *DailyTurns) today() int {
	return d.nowFunc().In(d.loc).YearDay()
}

// Record counts one turn.
func (d *DailyTurns) Record(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()
	d.turns++
	if busy {
		d.busy++
	}
}

// Snapshot returns today's totals.
func (d *DailyTurns) Snapshot() (turns, busy int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover()
	return d.turns, d.busy
}

func (d *DailyTurns) rollover() {
	if today := d.today(); today != d.day {
		d.turns, d.busy, d.day = 0, 0, today
	}
}
