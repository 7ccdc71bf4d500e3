package store

import "github.com/fiffu/feedrelay/lib/models"

// signals holds one coalescing single-shot channel per source kind.
// A pending signal absorbs further notifications until it is received.
type signals map[models.SourceKind]chan struct{}

func newSignals() signals {
	return signals{
		models.SourceFeed:   make(chan struct{}, 1),
		models.SourceStream: make(chan struct{}, 1),
	}
}

func (s signals) notify(kinds ...models.SourceKind) {
	for _, kind := range kinds {
		c, ok := s[kind]
		if !ok {
			continue
		}
		select {
		case c <- struct{}{}:
		default:
		}
	}
}
