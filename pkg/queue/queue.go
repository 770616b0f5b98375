// Package queue hands out hosts to assess and takes them back once they
// are done. Every received item must be deleted exactly once.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Receive when nothing is waiting.
	ErrEmpty = errors.New("queue is empty")
	// ErrUnknownItem is returned by Delete for an item that is not in
	// flight, such as one deleted twice.
	ErrUnknownItem = errors.New("item is not in flight")
)

// Item is one queued host.
type Item struct {
	ID         string    `json:"id"`
	Host       string    `json:"host"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// receipt identifies the in-flight copy for Delete.
	receipt string
}

// Queue is the consumer side.
type Queue interface {
	// Receive claims the next host. It returns ErrEmpty without blocking
	// when nothing is waiting.
	Receive(ctx context.Context) (Item, error)
	// Delete acknowledges a claimed item.
	Delete(ctx context.Context, item Item) error
}

// Producer adds hosts to the queue.
type Producer interface {
	Enqueue(ctx context.Context, host string) (Item, error)
}
