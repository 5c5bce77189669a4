package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL время жизни записи, если вызывающий не указал своё.
const DefaultTTL = 24 * time.Hour

// KeySeparator разделяет имя операции и параметры в ключе.
const KeySeparator = "::"

var ErrInvalidValue = errors.New("значение кэша должно быть валидным JSON")

// Entry запись кэша вместе со сроком жизни.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired сообщает, истекла ли запись к моменту now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Backend хранилище записей. Срок жизни проверяет Store.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Entries(ctx context.Context) ([]EntryInfo, error)
}

// EntryInfo метаданные записи для статистики.
type EntryInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// Stats сводка по содержимому кэша.
type Stats struct {
	Backend      string      `json:"backend"`
	TotalEntries int         `json:"total_entries"`
	Expired      int         `json:"expired"`
	TotalSize    int64       `json:"total_size"`
	Entries      []EntryInfo `json:"entries"`
}

// Key собирает ключ вида op::part::part.
func Key(op string, parts ...any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range parts {
		b.WriteString(KeySeparator)
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}

// Prefix возвращает префикс всех ключей операции.
func Prefix(op string) string {
	return op + KeySeparator
}

func operationOf(key string) string {
	if i := strings.Index(key, KeySeparator); i >= 0 {
		return key[:i]
	}
	return key
}
