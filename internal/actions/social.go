package actions

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/nugget/dazzy/internal/intent"
)

// Greeting answers hellos, addressing the user by name once known.
type Greeting struct {
	Assistant string
}

// Handle implements [intent.Handler].
func (g Greeting) Handle(ctx context.Context, _ string) (intent.Result, error) {
	name := g.Assistant
	if name == "" {
		name = "Dazzy"
	}
	if user := intent.UserName(ctx); user != "" {
		return intent.Reply("Hello, " + user + ". " + name + " online. Speak."), nil
	}
	return intent.Reply("Hello. " + name + " online. Speak."), nil
}

// Farewell ends the session.
type Farewell struct {
	Assistant string
}

// Handle implements [intent.Handler].
func (f Farewell) Handle(context.Context, string) (intent.Result, error) {
	name := f.Assistant
	if name == "" {
		name = "Dazzy"
	}
	return intent.Result{
		Reply:     "Thank you for using " + name + ". Goodbye!",
		Handled:   true,
		Terminate: true,
	}, nil
}

// DefaultJokes is the built-in joke list.
var DefaultJokes = []string{
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"I told my computer I needed a break, and it said no problem, it would go to sleep.",
	"There are 10 kinds of people: those who understand binary and those who don't.",
	"Why did the developer go broke? Because he used up all his cache.",
	"A SQL query walks into a bar, walks up to two tables and asks: may I join you?",
	"Why was the math book sad? It had too many problems.",
	"I would tell you a UDP joke, but you might not get it.",
	"Why don't skeletons fight each other? They don't have the guts.",
}

// Jokes tells a joke from a fixed list.
type Jokes struct {
	List []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJokes returns a joke teller. A nil rng uses a random seed; tests
// pass a seeded source for determinism.
func NewJokes(list []string, rng *rand.Rand) *Jokes {
	if len(list) == 0 {
		list = DefaultJokes
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Jokes{List: list, rng: rng}
}

// Handle implements [intent.Handler].
func (j *Jokes) Handle(context.Context, string) (intent.Result, error) {
	j.mu.Lock()
	i := j.rng.IntN(len(j.List))
	j.mu.Unlock()
	return intent.Reply(j.List[i]), nil
}
