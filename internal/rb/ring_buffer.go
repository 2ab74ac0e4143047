// Package rb provides a lock-free generic multiple producer/single
// consumer ring buffer.
package rb

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var maxSpins = runtime.NumCPU() * 32

// ErrClosed is returned when the buffer is closed.
var ErrClosed = errors.New("ring buffer: buffer is closed")

type slot[T any] struct {
	dataReady atomic.Bool
	data      T
}

// RingBuffer is a lock-free generic multiple producer/single consumer
// ring buffer. Writes never block, a write against a full buffer
// fails. Reads are served by exactly one consumer goroutine.
type RingBuffer[T any] struct {
	head atomic.Uint64

	// used to avoid false sharing
	_ cpu.CacheLinePad

	tail atomic.Uint64

	_ cpu.CacheLinePad

	capacity uint64
	capMask  uint64

	// buffer is a ring buffer of slots
	buffer []slot[T]

	_ cpu.CacheLinePad

	// isClosed states whether the buffer is closed.
	isClosed atomic.Bool

	// isEmpty states whether the consumer is waiting for data.
	isEmpty atomic.Bool

	// notEmpty signals the waiting consumer that data arrived.
	notEmpty *sync.Cond
	mux      *sync.Mutex
}

// NewRingBuffer returns a new ring buffer. The capacity is rounded up
// to the next power of 2.
func NewRingBuffer[T any](capacity uint64) *RingBuffer[T] {
	mux := &sync.Mutex{}

	parsedCapacity := roundToPowerOf2(capacity)

	return &RingBuffer[T]{
		capacity: parsedCapacity,
		capMask:  parsedCapacity - 1,

		buffer: make([]slot[T], parsedCapacity),

		mux:      mux,
		notEmpty: sync.NewCond(mux),
	}
}

func roundToPowerOf2(v uint64) uint64 {
	if v == 0 {
		return 1
	}

	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++

	return v
}

func (rb *RingBuffer[T]) push(item T) bool {
	for {
		head := rb.head.Load()
		tail := rb.tail.Load()

		// Check if the buffer is full
		if head-tail >= rb.capacity {
			return false
		}

		slotIndex := head & rb.capMask
		slot := &rb.buffer[slotIndex]

		if slot.dataReady.Load() {
			runtime.Gosched()
			continue
		}

		// Claim the slot by advancing head
		if !rb.head.CompareAndSwap(head, head+1) {
			runtime.Gosched()
			continue
		}

		// Write data
		slot.data = item
		slot.dataReady.Store(true)

		return true
	}
}

func (rb *RingBuffer[T]) pop() (T, bool) {
	tail := rb.tail.Load()

	slotIndex := tail & rb.capMask
	slot := &rb.buffer[slotIndex]

	if slot.dataReady.Load() {
		item := slot.data
		slot.dataReady.Store(false)

		rb.tail.Add(1)
		return item, true
	}

	// A claimed but not yet written slot reads as empty, the producer
	// finishes it shortly.
	return *new(T), false
}

// TryWrite pushes the item without blocking. It fails when the buffer
// is full or closed.
func (rb *RingBuffer[T]) TryWrite(item T) bool {
	if rb.isClosed.Load() {
		return false
	}

	if !rb.push(item) {
		return false
	}

	// Wake up the consumer if it went to sleep
	if rb.isEmpty.CompareAndSwap(true, false) {
		rb.mux.Lock()
		rb.notEmpty.Broadcast()
		rb.mux.Unlock()
	}

	return true
}

// TryRead pops the next item without blocking.
func (rb *RingBuffer[T]) TryRead() (T, bool) {
	return rb.pop()
}

// Read pops the next item, blocking until data arrives, the buffer is
// closed or the context is done.
func (rb *RingBuffer[T]) Read(ctx context.Context) (T, error) {
	var item T
	var popOk bool

	for range maxSpins {
		// Try to pop an item
		item, popOk = rb.pop()
		if popOk {
			return item, nil
		}

		// The buffer is empty, yield to other goroutines
		runtime.Gosched()
	}

	for {
		item, popOk = rb.pop()
		if popOk {
			return item, nil
		}

		// Buffer is empty, wait for data
		rb.mux.Lock()

		rb.isEmpty.Store(true)

		// Re-check after publishing the empty flag, a producer may
		// have pushed in between without signaling.
		if item, popOk = rb.pop(); popOk {
			rb.isEmpty.Store(false)
			rb.mux.Unlock()
			return item, nil
		}

		if rb.isClosed.Load() {
			rb.mux.Unlock()
			return item, ErrClosed
		}

		if err := rb.wait(ctx, rb.notEmpty); err != nil {
			rb.mux.Unlock()
			return item, err
		}

		// Someone signaled the buffer as not empty
		rb.mux.Unlock()
	}
}

func (rb *RingBuffer[T]) wait(ctx context.Context, cond *sync.Cond) error {
	done := make(chan struct{})

	go func() {
		defer close(done)
		cond.Wait()
	}()

	select {
	case <-done:
		return nil

	case <-ctx.Done():
		// Wake up the waiting goroutine
		cond.Broadcast()
		<-done
		return ctx.Err()
	}
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() uint64 {
	tail := rb.tail.Load()
	head := rb.head.Load()

	if head < tail {
		return head + rb.capacity - tail
	}

	return head - tail
}

// Close closes the buffer. Following writes fail and a blocked Read
// returns ErrClosed once the buffer drains.
func (rb *RingBuffer[T]) Close() {
	if !rb.isClosed.CompareAndSwap(false, true) {
		return
	}

	rb.mux.Lock()
	rb.notEmpty.Broadcast()
	rb.mux.Unlock()
}
