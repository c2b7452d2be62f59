package actions

import (
	"context"
	"time"

	"github.com/nugget/dazzy/internal/intent"
)

// Reply layouts.
const (
	TimeLayout = "03:04 PM"
	DateLayout = "Monday, January 02, 2006"
)

// Clock answers time and date questions from an injectable clock.
type Clock struct {
	Now func() time.Time
}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Time returns the current-time handler.
func (c Clock) Time() intent.Handler {
	return intent.HandlerFunc(func(context.Context, string) (intent.Result, error) {
		return intent.Reply("Time: " + c.now().Format(TimeLayout)), nil
	})
}

// Date returns the current-date handler.
func (c Clock) Date() intent.Handler {
	return intent.HandlerFunc(func(context.Context, string) (intent.Result, error) {
		return intent.Reply("Date: " + c.now().Format(DateLayout)), nil
	})
}
