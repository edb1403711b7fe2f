// Package outbox keeps stage reports of a node until dpservice accepts them.
//
// A worker puts a report into the outbox before sending it,
// and acknowledges the entry after the service answers.
// Entries left by a crashed node are delivered on the next start.
package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
)

// Entry is a report waiting for delivery.
type Entry struct {
	// Seq orders entries. It is given by Put.
	Seq uint64 `json:"seq"`

	JobId    string             `json:"job_id"`
	Token    string             `json:"token"`
	Result   domain.StageResult `json:"result"`
	QueuedAt time.Time          `json:"queued_at"`
}

type Outbox interface {
	// Put stores an entry, and returns its sequence number.
	Put(ctx context.Context, e Entry) (uint64, error)

	// Pending returns stored entries in the order they are put.
	Pending(ctx context.Context) ([]Entry, error)

	// Ack removes the entry. Acknowledging an unknown entry is not an error.
	Ack(ctx context.Context, seq uint64) error

	Close() error
}

type memoryOutbox struct {
	mu      sync.Mutex
	seq     uint64
	entries []Entry
}

// Memory creates an Outbox which does not survive restarts.
func Memory() Outbox {
	return &memoryOutbox{}
}

func (m *memoryOutbox) Put(_ context.Context, e Entry) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq += 1
	e.Seq = m.seq
	m.entries = append(m.entries, e)
	return e.Seq, nil
}

func (m *memoryOutbox) Pending(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), nil
}

func (m *memoryOutbox) Ack(_ context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e Entry) bool { return e.Seq == seq })
	return nil
}

func (m *memoryOutbox) Close() error {
	return nil
}
