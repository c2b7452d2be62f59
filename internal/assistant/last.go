package assistant

import "sync"

type lastTurn struct {
	mu      sync.Mutex
	channel string
	reply   string
}

func (l *lastTurn) set(channel, reply string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channel, l.reply = channel, reply
}

func (l *lastTurn) get() (string, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channel, l.reply
}
