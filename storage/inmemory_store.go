package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpdateBufferSize is the capacity of each listener channel. Updates to a
// listener that is not keeping up are dropped.
const UpdateBufferSize = 255

// InmemoryStore holds every value in a single JSON object keyed by topic name.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	listenMu    sync.Mutex
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() {
		close(i.stop)

		i.listenMu.Lock()
		defer i.listenMu.Unlock()

		for _, updateChan := range i.updateChans {
			close(updateChan)
		}

		i.updateChans = nil
	})

	return nil
}

// Set stores value under name. Byte slices are stored as base64 strings and
// json.RawMessage values are stored verbatim.
func (i *InmemoryStore) Set(ctx context.Context, name string, value interface{}) error {
	if !i.isRunning() {
		return ErrClosed
	}

	if b, ok := value.([]byte); ok {
		value = base64.StdEncoding.EncodeToString(b)
	}

	i.mu.Lock()
	values, err := sjson.SetBytes(i.values, escapePath(name), value)
	if err != nil {
		i.mu.Unlock()
		return err
	}

	i.values = values
	raw := []byte(gjson.GetBytes(values, escapePath(name)).Raw)
	i.mu.Unlock()

	i.notify(&Update{Name: name, Value: raw})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, escapePath(name))
	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, name string) error {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	if !gjson.GetBytes(i.values, escapePath(name)).Exists() {
		i.mu.Unlock()
		return nil
	}

	values, err := sjson.DeleteBytes(i.values, escapePath(name))
	if err != nil {
		i.mu.Unlock()
		return err
	}

	i.values = values
	i.mu.Unlock()

	i.notify(&Update{Name: name})

	return nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Restore replaces every value with the JSON object in values.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return errors.New("storage: backup is not a json object")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) notify(update *Update) {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
	`!`, `\!`,
	`=`, `\=`,
	`<`, `\<`,
	`>`, `\>`,
	`%`, `\%`,
)

// escapePath turns a topic name into a gjson/sjson path addressing a single
// top level key.
func escapePath(name string) string {
	return pathEscaper.Replace(name)
}

var _ Store = (*InmemoryStore)(nil)
