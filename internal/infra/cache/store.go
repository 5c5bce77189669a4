package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rsywx-api/internal/infra/metrics"
)

// Store надстройка над бэкендом: сроки жизни, JSON и fail-open чтение.
type Store struct {
	backend    Backend
	log        zerolog.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет часы, используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaultTTL задаёт TTL по умолчанию.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.log = logger }
}

// NewStore создаёт кэш поверх бэкенда.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		log:        zerolog.Nop(),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend возвращает имя бэкенда.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Get возвращает значение; ошибки бэкенда считаются промахом.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.IncCacheError(s.backend.Name(), "get")
		s.log.Warn().Err(err).Str("key", key).Msg("cache: чтение не удалось, считаем промахом")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.Expired(s.now()) {
		if err := s.backend.Delete(ctx, key); err != nil {
			metrics.IncCacheError(s.backend.Name(), "delete")
			s.log.Warn().Err(err).Str("key", key).Msg("cache: не удалось удалить истёкшую запись")
		}
		return nil, false
	}
	return entry.Value, true
}

// Set перезаписывает значение. ttl <= 0 означает TTL по умолчанию.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	entry := Entry{
		Key:       key,
		Value:     json.RawMessage(value),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.backend.Set(ctx, entry); err != nil {
		metrics.IncCacheError(s.backend.Name(), "set")
		return fmt.Errorf("запись %s: %w", key, err)
	}
	return nil
}

// Has эквивалентно успешному Get.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Delete удаляет запись; отсутствие ключа не ошибка.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		metrics.IncCacheError(s.backend.Name(), "delete")
		return fmt.Errorf("удаление %s: %w", key, err)
	}
	return nil
}

// DeletePrefix удаляет все варианты операции.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := s.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		metrics.IncCacheError(s.backend.Name(), "delete_prefix")
		return n, fmt.Errorf("удаление по префиксу %s: %w", prefix, err)
	}
	return n, nil
}

// Clear очищает кэш полностью.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		metrics.IncCacheError(s.backend.Name(), "clear")
		return fmt.Errorf("очистка кэша: %w", err)
	}
	return nil
}

// GetJSON читает и декодирует значение. Битая запись считается промахом.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) bool {
	data, ok := s.Get(ctx, key)
	if ok {
		if err := json.Unmarshal(data, dst); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache: не удалось декодировать запись")
			ok = false
		}
	}
	metrics.ObserveCache(operationOf(key), ok)
	return ok
}

// SetJSON кодирует и сохраняет значение.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("кодирование %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// Stats собирает статистику по записям.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	infos, err := s.backend.Entries(ctx)
	if err != nil {
		metrics.IncCacheError(s.backend.Name(), "stats")
		return Stats{}, fmt.Errorf("статистика кэша: %w", err)
	}
	now := s.now()
	st := Stats{Backend: s.backend.Name(), Entries: make([]EntryInfo, 0, len(infos))}
	for _, info := range infos {
		info.Expired = now.After(info.ExpiresAt)
		if info.Expired {
			st.Expired++
		}
		st.TotalSize += info.Size
		st.Entries = append(st.Entries, info)
	}
	st.TotalEntries = len(st.Entries)
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Key < st.Entries[j].Key })
	return st, nil
}
