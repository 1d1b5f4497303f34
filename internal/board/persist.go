package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/store"
)

// MemoryWriter is the slice of the durable store the board needs for its
// shadow writes.
type MemoryWriter interface {
	SaveMemory(ctx context.Context, entry store.MemoryEntry, sessionID string) (string, error)
}

// persister mirrors published signals into the durable store from a single
// background consumer fed by a bounded queue. Backpressure is explicit:
// when the queue is full the newest write is dropped and counted, never
// blocking a publishing agent.
type persister struct {
	writer    MemoryWriter
	sessionID string
	timeout   time.Duration
	logger    *zap.Logger

	queue chan store.MemoryEntry
	done  chan struct{}
	once  sync.Once
}

func newPersister(w MemoryWriter, sessionID string, queueSize int, timeout time.Duration, logger *zap.Logger) *persister {
	if queueSize <= 0 {
		queueSize = 128
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &persister{
		writer:    w,
		sessionID: sessionID,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan store.MemoryEntry, queueSize),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(entry store.MemoryEntry) {
	select {
	case p.queue <- entry:
	default:
		PersistDroppedTotal.Inc()
		p.logger.Debug("persist queue full, dropping write",
			zap.String("subject", entry.Subject),
			zap.String("agent_id", entry.AgentID))
	}
}

func (p *persister) run() {
	defer close(p.done)
	for entry := range p.queue {
		p.write(entry)
	}
}

func (p *persister) write(entry store.MemoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.writer.SaveMemory(ctx, entry, p.sessionID)
	switch {
	case err == nil:
		PersistsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, store.ErrDuplicateKey):
		// Already recorded; a republish raced an earlier write.
		PersistsTotal.WithLabelValues("duplicate").Inc()
	default:
		PersistsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("background memory write failed",
			zap.String("subject", entry.Subject),
			zap.String("agent_id", entry.AgentID),
			zap.Error(err))
	}
}

// close stops accepting writes and waits up to the write timeout for the
// queue to drain. Writes still pending after that are abandoned; rows are
// independently keyed so a lost shadow write has no correctness impact.
func (p *persister) close() {
	p.once.Do(func() {
		close(p.queue)
		select {
		case <-p.done:
		case <-time.After(p.timeout):
			p.logger.Warn("abandoning pending background writes on close")
		}
	})
}
