package cache

import (
	"context"
	"strings"

	"github.com/jellydator/ttlcache/v3"
)

// Memory хранит записи в памяти процесса и теряет их при рестарте.
type Memory struct {
	items *ttlcache.Cache[string, Entry]
}

// NewMemory создаёт кэш в памяти и запускает вытеснение истёкших записей.
func NewMemory() *Memory {
	items := ttlcache.New[string, Entry](
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go items.Start()
	return &Memory{items: items}
}

func (m *Memory) Name() string { return "memory" }

// Close останавливает фоновое вытеснение.
func (m *Memory) Close() {
	m.items.Stop()
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return Entry{}, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Set(_ context.Context, entry Entry) error {
	m.items.Set(entry.Key, entry, entry.ExpiresAt.Sub(entry.CreatedAt))
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.items.DeleteAll()
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, key := range m.items.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.items.Delete(key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Entries(_ context.Context) ([]EntryInfo, error) {
	items := m.items.Items()
	out := make([]EntryInfo, 0, len(items))
	for key, item := range items {
		e := item.Value()
		out = append(out, EntryInfo{
			Key:       key,
			Size:      int64(len(e.Value)),
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
		})
	}
	return out, nil
}
