package main

import (
	"sync"

	"github.com/soltixdb/historian/internal/archive"
	"github.com/soltixdb/historian/internal/logging"
)

// eventCounter tallies archive events for the shutdown summary. The archive
// logs each event itself.
type eventCounter struct {
	mu     sync.Mutex
	counts map[archive.EventKind]int
}

func newEventCounter() *eventCounter {
	return &eventCounter{counts: make(map[archive.EventKind]int)}
}

func (c *eventCounter) OnEvent(ev archive.Event) {
	c.mu.Lock()
	c.counts[ev.Kind]++
	c.mu.Unlock()
}

func (c *eventCounter) log(logger *logging.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := make([]interface{}, 0, 2*len(c.counts))
	for kind, n := range c.counts {
		fields = append(fields, kind.String(), n)
	}
	logger.Info("Archive events", fields...)
}
