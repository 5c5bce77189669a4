package domain

import "time"

// Envelope результат операции с признаком попадания в кэш.
type Envelope[T any] struct {
	Data      T
	FromCache bool
}

// VisitStats волатильная статистика посещений книги.
type VisitStats struct {
	TotalVisits int64
	LastVisited *time.Time
}

// DayCount количество посещений за день.
type DayCount struct {
	Date   string `json:"date" db:"day"`
	Visits int64  `json:"visits" db:"visits"`
}

// Pagination описывает страницу выдачи.
type Pagination struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	PerPage      int `json:"per_page"`
}

// NewPagination считает число страниц.
func NewPagination(page, perPage, total int) Pagination {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Pagination{CurrentPage: page, TotalPages: pages, TotalResults: total, PerPage: perPage}
}

// DateInfo сопровождает выдачу "в этот день".
type DateInfo struct {
	RequestedDate string `json:"requested_date"`
	MonthDay      string `json:"month_day"`
	IsToday       bool   `json:"is_today"`
}

// PeriodInfo сопровождает историю посещений.
type PeriodInfo struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	TotalDays   int    `json:"total_days"`
	TotalVisits int64  `json:"total_visits"`
}

// CollectionStatus агрегаты по коллекции.
type CollectionStatus struct {
	TotalBooks  int64 `json:"total_books"`
	TotalPages  int64 `json:"total_pages"`
	TotalKWords int64 `json:"total_kwords"`
	TotalVisits int64 `json:"total_visits"`
}

// TagsResult итог добавления тегов.
type TagsResult struct {
	Added      []string `json:"added"`
	Duplicates []string `json:"duplicates"`
}

// ReadingPeriod период чтения по заголовкам рецензий.
type ReadingPeriod struct {
	EarliestDate *string `json:"earliest_date"`
	LatestDate   *string `json:"latest_date"`
	TotalDays    int     `json:"total_days"`
}

// ReadingSummary сводка по прочитанному.
type ReadingSummary struct {
	BooksRead      int64         `json:"books_read"`
	ReviewsWritten int64         `json:"reviews_written"`
	ReadingPeriod  ReadingPeriod `json:"reading_period"`
}

// Reading рецензия вместе с книгой.
type Reading struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	DateIn    string `json:"datein"`
	URI       string `json:"uri"`
	Feature   string `json:"feature"`
	BookID    string `json:"bookid"`
	BookTitle string `json:"book_title"`
	CoverURI  string `json:"cover_uri"`
}

// Quote цитата дня.
type Quote struct {
	ID        int64  `json:"id"`
	Quote     string `json:"quote"`
	Source    string `json:"source"`
	Date      string `json:"date"`
	DayOfYear int    `json:"day_of_year"`
}

// Word слово дня.
type Word struct {
	ID        int64  `json:"id"`
	Word      string `json:"word"`
	Meaning   string `json:"meaning"`
	Sentence  string `json:"sentence"`
	Type      string `json:"type"`
	Date      string `json:"date"`
	DayOfYear int    `json:"day_of_year"`
}
