// Package storage keeps the latest value received for every live topic.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("storage: no value for topic")
	ErrClosed   = errors.New("storage: store is closed")
)

// Update is sent to listeners whenever a value changes. Value holds the new
// value as JSON and is nil when the topic was deleted.
type Update struct {
	Name  string
	Value []byte
}

type Store interface {
	Set(ctx context.Context, name string, value interface{}) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
