// Package librarydb поднимает временную SQLite базу библиотеки для тестов.
package librarydb

import (
	_ "embed"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"rsywx-api/internal/infra/db"
)

//go:embed schema.sql
var schema string

// Open создаёт файл базы во временном каталоге теста и накатывает схему.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "library.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := db.Connect(db.DriverSQLite, dsn, 1)
	if err != nil {
		t.Fatalf("librarydb: открытие: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("librarydb: схема: %v", err)
		}
	}
	return conn
}

// Book строка book_book для посева.
type Book struct {
	BookID      string
	Title       string
	Author      string
	Region      string
	Copyrighter string
	Translated  bool
	PurchDate   string
	Price       float64
	Category    string
	Page        int
	KWord       int
	ISBN        string
	Location    string
	Place       string
	Publisher   string
}

func lookupOrInsert(t testing.TB, conn *sqlx.DB, table, name string) any {
	t.Helper()
	if name == "" {
		return nil
	}
	var id int64
	if err := conn.Get(&id, "SELECT id FROM "+table+" WHERE name = ?", name); err == nil {
		return id
	}
	res, err := conn.Exec("INSERT INTO "+table+" (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("librarydb: %s: %v", table, err)
	}
	id, _ = res.LastInsertId()
	return id
}

// InsertBook добавляет книгу и возвращает её внутренний id.
func InsertBook(t testing.TB, conn *sqlx.DB, b Book) int64 {
	t.Helper()
	if b.Location == "" {
		b.Location = "A1"
	}
	if b.PurchDate == "" {
		b.PurchDate = "2020-01-01"
	}
	translated := 0
	if b.Translated {
		translated = 1
	}
	res, err := conn.Exec(`
INSERT INTO book_book (place, publisher, bookid, title, author, region, copyrighter, translated,
    purchdate, price, category, page, kword, isbn, location)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lookupOrInsert(t, conn, "book_place", b.Place),
		lookupOrInsert(t, conn, "book_publisher", b.Publisher),
		b.BookID, b.Title, b.Author, b.Region, b.Copyrighter, translated,
		b.PurchDate, b.Price, b.Category, b.Page, b.KWord, b.ISBN, b.Location)
	if err != nil {
		t.Fatalf("librarydb: книга %s: %v", b.BookID, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// InsertVisit добавляет посещение книги.
func InsertVisit(t testing.TB, conn *sqlx.DB, bookID int64, when time.Time, country string) {
	t.Helper()
	_, err := conn.Exec("INSERT INTO book_visit (bookid, visitwhen, country) VALUES (?, ?, ?)",
		bookID, when.UTC().Format("2006-01-02 15:04:05"), country)
	if err != nil {
		t.Fatalf("librarydb: посещение: %v", err)
	}
}

// InsertTags привязывает теги к книге.
func InsertTags(t testing.TB, conn *sqlx.DB, bookID int64, tags ...string) {
	t.Helper()
	for _, tag := range tags {
		if _, err := conn.Exec("INSERT INTO book_taglist (bid, tag) VALUES (?, ?)", bookID, tag); err != nil {
			t.Fatalf("librarydb: тег: %v", err)
		}
	}
}

// Review рецензия для посева.
type Review struct {
	Title    string
	DateIn   string
	URI      string
	Feature  string
	CreateAt string
	Hidden   bool
}

// InsertReview добавляет заголовок и рецензию к книге.
func InsertReview(t testing.TB, conn *sqlx.DB, bookID int64, r Review) {
	t.Helper()
	if r.CreateAt == "" {
		r.CreateAt = r.DateIn
	}
	display := 1
	if r.Hidden {
		display = 0
	}
	res, err := conn.Exec("INSERT INTO book_headline (bid, reviewtitle, create_at, display) VALUES (?, ?, ?, ?)",
		bookID, r.Title, r.CreateAt, display)
	if err != nil {
		t.Fatalf("librarydb: заголовок: %v", err)
	}
	hid, _ := res.LastInsertId()
	if _, err := conn.Exec("INSERT INTO book_review (hid, title, datein, uri, feature) VALUES (?, ?, ?, ?, ?)",
		hid, r.Title, r.DateIn, r.URI, r.Feature); err != nil {
		t.Fatalf("librarydb: рецензия: %v", err)
	}
}

// InsertQuote добавляет цитату.
func InsertQuote(t testing.TB, conn *sqlx.DB, quote, source string) {
	t.Helper()
	if _, err := conn.Exec("INSERT INTO qotd (quote, source) VALUES (?, ?)", quote, source); err != nil {
		t.Fatalf("librarydb: цитата: %v", err)
	}
}

// InsertWord добавляет слово.
func InsertWord(t testing.TB, conn *sqlx.DB, word, meaning, sentence, typ string) {
	t.Helper()
	if _, err := conn.Exec("INSERT INTO wotd (word, meaning, sentence, type) VALUES (?, ?, ?, ?)",
		word, meaning, sentence, typ); err != nil {
		t.Fatalf("librarydb: слово: %v", err)
	}
}
