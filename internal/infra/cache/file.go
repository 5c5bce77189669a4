package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	fileExt         = ".cache"
	maxReadableName = 64
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// File хранит каждую запись отдельным JSON файлом и переживает рестарт.
type File struct {
	dir string
}

// NewFile создаёт файловый кэш в каталоге dir.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("каталог кэша: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Name() string { return "file" }

// FileName переводит произвольный ключ в безопасное имя файла.
// Хэш ключа исключает коллизии после замены символов.
func FileName(key string) string {
	readable := unsafeKeyChars.ReplaceAllString(key, "_")
	if len(readable) > maxReadableName {
		readable = readable[:maxReadableName]
	}
	return fmt.Sprintf("%s-%016x%s", readable, xxhash.Sum64String(key), fileExt)
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, FileName(key))
}

func (f *File) read(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = os.Remove(path)
		return Entry{}, fmt.Errorf("битая запись %s: %w", filepath.Base(path), err)
	}
	return entry, nil
}

func (f *File) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, err := f.read(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if entry.Key != key {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set пишет во временный файл и переименовывает его, чтобы читатели
// не видели недописанную запись.
func (f *File) Set(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := filepath.Join(f.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path(entry.Key)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *File) files() ([]string, error) {
	return filepath.Glob(filepath.Join(f.dir, "*"+fileExt))
}

func (f *File) Clear(_ context.Context) error {
	paths, err := f.files()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *File) DeletePrefix(_ context.Context, prefix string) (int, error) {
	paths, err := f.files()
	if err != nil {
		return 0, err
	}
	// Быстрый отсев по читаемой части имени, точная проверка по ключу в записи.
	namePrefix := unsafeKeyChars.ReplaceAllString(prefix, "_")
	if len(namePrefix) > maxReadableName {
		namePrefix = namePrefix[:maxReadableName]
	}
	n := 0
	for _, p := range paths {
		if !strings.HasPrefix(filepath.Base(p), namePrefix) {
			continue
		}
		entry, err := f.read(p)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(entry.Key, prefix) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *File) Entries(_ context.Context) ([]EntryInfo, error) {
	paths, err := f.files()
	if err != nil {
		return nil, err
	}
	out := make([]EntryInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		entry, err := f.read(p)
		if err != nil {
			continue
		}
		out = append(out, EntryInfo{
			Key:       entry.Key,
			Size:      st.Size(),
			CreatedAt: entry.CreatedAt,
			ExpiresAt: entry.ExpiresAt,
		})
	}
	return out, nil
}
