// Package status carries one short status text from a single producer task to
// a polling consumer task.
//
// Delivery is latest-value-wins: a consumer that polls after two publishes
// sees only the second one. The producer writes with Publish, the consumer
// clears the pending flag with PollAndTake. Other readers may use Latest.
package status

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultCapacity = 20

var ErrOverflow = errors.New("status: text exceeds channel capacity")

type OverflowError struct {
	Length   int
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("status: text of %d bytes exceeds capacity of %d", e.Length, e.Capacity)
}

func (e *OverflowError) Unwrap() error {
	return ErrOverflow
}

type Snapshot struct {
	Text        string
	Seq         uint64
	PublishedAt time.Time
}

type Channel struct {
	// dirty is set by Publish and cleared by PollAndTake, both under lock, so
	// a publish racing a take is never lost. Reading it needs no lock.
	dirty atomic.Bool

	lock        sync.Mutex
	buf         []byte
	length      int
	seq         uint64
	publishedAt time.Time
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{buf: make([]byte, capacity)}
}

func (c *Channel) Capacity() int {
	return len(c.buf)
}

// Publish replaces the stored text and marks it pending. Text longer than the
// capacity is rejected with an *OverflowError and the stored text is kept.
func (c *Channel) Publish(text string) error {
	if len(text) > len(c.buf) {
		return &OverflowError{Length: len(text), Capacity: len(c.buf)}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	clear(c.buf)
	c.length = copy(c.buf, text)
	c.seq++
	c.publishedAt = time.Now()
	c.dirty.Store(true)
	return nil
}

// PollAndTake returns the pending text and clears the pending flag. When
// nothing is pending it returns false without locking.
func (c *Channel) PollAndTake() (Snapshot, bool) {
	if !c.dirty.Load() {
		return Snapshot{}, false
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	snap := c.snapshot()
	c.dirty.Store(false)
	return snap, true
}

// Pending reports whether a published text has not been taken yet.
func (c *Channel) Pending() bool {
	return c.dirty.Load()
}

// Latest returns the stored text without consuming it.
func (c *Channel) Latest() Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.snapshot()
}

func (c *Channel) snapshot() Snapshot {
	return Snapshot{
		Text:        string(c.buf[:c.length]),
		Seq:         c.seq,
		PublishedAt: c.publishedAt,
	}
}
