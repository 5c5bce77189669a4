package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CoverBaseURL базовый адрес обложек.
const CoverBaseURL = "https://api.rsywx.com/covers"

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// CoverURI строит адрес обложки по внешнему идентификатору книги.
func CoverURI(bookID string) string {
	return CoverBaseURL + "/" + bookID + ".jpg"
}

// Field обозначает необязательное поле BookResult.
type Field uint32

const (
	FieldPurchDate Field = 1 << iota
	FieldPrice
	FieldPlaceName
	FieldPublisherName
	FieldTotalVisits
	FieldLastVisited
	FieldVisitCountry
	FieldDaysSinceVisit
	FieldYearsAgo
	FieldISBN
	FieldCategory
	FieldPubDate
	FieldPage
	FieldKWord
	FieldIntro
	FieldTags
	FieldReviews
)

// VisitFields поля, которые пересчитываются при каждом запросе.
const VisitFields = FieldTotalVisits | FieldLastVisited

// Review краткая рецензия на книгу.
type Review struct {
	Title   string `json:"title"`
	DateIn  string `json:"datein"`
	URI     string `json:"uri"`
	Feature string `json:"feature"`
}

// BookResult книга в ответе API: ядро всегда присутствует,
// необязательные поля сериализуются только если были заданы.
type BookResult struct {
	ID          int64
	BookID      string
	Title       string
	Author      string
	Translated  bool
	Copyrighter string
	Region      string
	Location    string

	PurchDate      *time.Time
	Price          *float64
	PlaceName      *string
	PublisherName  *string
	TotalVisits    *int64
	LastVisited    *time.Time
	VisitCountry   *string
	DaysSinceVisit *int64
	YearsAgo       *int64
	ISBN           *string
	Category       *string
	PubDate        *string
	Page           *int64
	KWord          *int64
	Intro          *string
	Tags           []string
	Reviews        []Review

	set Field
}

// CoverURI адрес обложки, всегда выводится из BookID.
func (b BookResult) CoverURI() string {
	return CoverURI(b.BookID)
}

// Has сообщает, было ли поле задано явно.
func (b BookResult) Has(f Field) bool {
	return b.set&f == f
}

// Fields возвращает маску заданных полей.
func (b BookResult) Fields() Field {
	return b.set
}

// SetNull помечает поля как заданные и обнуляет их значения.
func (b *BookResult) SetNull(f Field) {
	b.set |= f
	if f&FieldPurchDate != 0 {
		b.PurchDate = nil
	}
	if f&FieldPrice != 0 {
		b.Price = nil
	}
	if f&FieldPlaceName != 0 {
		b.PlaceName = nil
	}
	if f&FieldPublisherName != 0 {
		b.PublisherName = nil
	}
	if f&FieldTotalVisits != 0 {
		b.TotalVisits = nil
	}
	if f&FieldLastVisited != 0 {
		b.LastVisited = nil
	}
	if f&FieldVisitCountry != 0 {
		b.VisitCountry = nil
	}
	if f&FieldDaysSinceVisit != 0 {
		b.DaysSinceVisit = nil
	}
	if f&FieldYearsAgo != 0 {
		b.YearsAgo = nil
	}
	if f&FieldISBN != 0 {
		b.ISBN = nil
	}
	if f&FieldCategory != 0 {
		b.Category = nil
	}
	if f&FieldPubDate != 0 {
		b.PubDate = nil
	}
	if f&FieldPage != 0 {
		b.Page = nil
	}
	if f&FieldKWord != 0 {
		b.KWord = nil
	}
	if f&FieldIntro != 0 {
		b.Intro = nil
	}
	if f&FieldTags != 0 {
		b.Tags = nil
	}
	if f&FieldReviews != 0 {
		b.Reviews = nil
	}
}

func (b *BookResult) SetPurchDate(t time.Time) {
	b.PurchDate = &t
	b.set |= FieldPurchDate
}

func (b *BookResult) SetPrice(v float64) {
	b.Price = &v
	b.set |= FieldPrice
}

func (b *BookResult) SetPlaceName(v string) {
	b.PlaceName = &v
	b.set |= FieldPlaceName
}

func (b *BookResult) SetPublisherName(v string) {
	b.PublisherName = &v
	b.set |= FieldPublisherName
}

func (b *BookResult) SetTotalVisits(v int64) {
	b.TotalVisits = &v
	b.set |= FieldTotalVisits
}

func (b *BookResult) SetLastVisited(t time.Time) {
	b.LastVisited = &t
	b.set |= FieldLastVisited
}

func (b *BookResult) SetVisitCountry(v string) {
	b.VisitCountry = &v
	b.set |= FieldVisitCountry
}

func (b *BookResult) SetDaysSinceVisit(v int64) {
	b.DaysSinceVisit = &v
	b.set |= FieldDaysSinceVisit
}

func (b *BookResult) SetYearsAgo(v int64) {
	b.YearsAgo = &v
	b.set |= FieldYearsAgo
}

func (b *BookResult) SetISBN(v string) {
	b.ISBN = &v
	b.set |= FieldISBN
}

func (b *BookResult) SetCategory(v string) {
	b.Category = &v
	b.set |= FieldCategory
}

func (b *BookResult) SetPubDate(v string) {
	b.PubDate = &v
	b.set |= FieldPubDate
}

func (b *BookResult) SetPage(v int64) {
	b.Page = &v
	b.set |= FieldPage
}

func (b *BookResult) SetKWord(v int64) {
	b.KWord = &v
	b.set |= FieldKWord
}

func (b *BookResult) SetIntro(v string) {
	b.Intro = &v
	b.set |= FieldIntro
}

// SetTags сохраняет теги как отсортированное множество.
func (b *BookResult) SetTags(tags []string) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	b.Tags = out
	b.set |= FieldTags
}

func (b *BookResult) SetReviews(reviews []Review) {
	if reviews == nil {
		reviews = []Review{}
	}
	b.Reviews = reviews
	b.set |= FieldReviews
}

type jsonWriter struct {
	buf bytes.Buffer
	err error
}

func (w *jsonWriter) field(name string, v any) {
	if w.err != nil {
		return
	}
	if w.buf.Len() > 1 {
		w.buf.WriteByte(',')
	}
	w.buf.WriteByte('"')
	w.buf.WriteString(name)
	w.buf.WriteString(`":`)
	data, err := json.Marshal(v)
	if err != nil {
		w.err = fmt.Errorf("поле %s: %w", name, err)
		return
	}
	w.buf.Write(data)
}

func formatTime(t *time.Time, layout string) any {
	if t == nil {
		return nil
	}
	return t.Format(layout)
}

// include: ядро всегда, остальные поля если заданы явно или не пусты.
func (b BookResult) include(f Field, nonNull bool) bool {
	return b.Has(f) || nonNull
}

// MarshalJSON сериализует книгу поле за полем.
func (b BookResult) MarshalJSON() ([]byte, error) {
	w := &jsonWriter{}
	w.buf.WriteByte('{')
	w.field("id", b.ID)
	w.field("bookid", b.BookID)
	w.field("title", b.Title)
	w.field("author", b.Author)
	w.field("cover_uri", b.CoverURI())
	w.field("translated", b.Translated)
	w.field("copyrighter", b.Copyrighter)
	w.field("region", b.Region)
	w.field("location", b.Location)

	if b.include(FieldPurchDate, b.PurchDate != nil) {
		w.field("purchdate", formatTime(b.PurchDate, DateLayout))
	}
	if b.include(FieldPrice, b.Price != nil) {
		w.field("price", b.Price)
	}
	if b.include(FieldPlaceName, b.PlaceName != nil) {
		w.field("place_name", b.PlaceName)
	}
	if b.include(FieldPublisherName, b.PublisherName != nil) {
		w.field("publisher_name", b.PublisherName)
	}
	if b.include(FieldTotalVisits, b.TotalVisits != nil) {
		w.field("total_visits", b.TotalVisits)
	}
	if b.include(FieldLastVisited, b.LastVisited != nil) {
		w.field("last_visited", formatTime(b.LastVisited, DateTimeLayout))
	}
	if b.include(FieldVisitCountry, b.VisitCountry != nil) {
		w.field("visit_country", b.VisitCountry)
	}
	if b.include(FieldDaysSinceVisit, b.DaysSinceVisit != nil) {
		w.field("days_since_visit", b.DaysSinceVisit)
	}
	if b.include(FieldYearsAgo, b.YearsAgo != nil) {
		w.field("years_ago", b.YearsAgo)
	}
	if b.include(FieldISBN, b.ISBN != nil) {
		w.field("isbn", b.ISBN)
	}
	if b.include(FieldCategory, b.Category != nil) {
		w.field("category", b.Category)
	}
	if b.include(FieldPubDate, b.PubDate != nil) {
		w.field("pubdate", b.PubDate)
	}
	if b.include(FieldPage, b.Page != nil) {
		w.field("page", b.Page)
	}
	if b.include(FieldKWord, b.KWord != nil) {
		w.field("kword", b.KWord)
	}
	if b.include(FieldIntro, b.Intro != nil) {
		w.field("intro", b.Intro)
	}
	if b.include(FieldTags, b.Tags != nil) {
		w.field("tags", b.Tags)
	}
	if b.include(FieldReviews, b.Reviews != nil) {
		w.field("reviews", b.Reviews)
	}
	w.buf.WriteByte('}')
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// UnmarshalJSON восстанавливает книгу из кэша; каждый присутствующий ключ
// помечается как заданный.
func (b *BookResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BookResult{}
	core := []struct {
		key string
		dst any
	}{
		{"id", &b.ID},
		{"bookid", &b.BookID},
		{"title", &b.Title},
		{"author", &b.Author},
		{"translated", &b.Translated},
		{"copyrighter", &b.Copyrighter},
		{"region", &b.Region},
		{"location", &b.Location},
	}
	for _, c := range core {
		if v, ok := raw[c.key]; ok {
			if err := json.Unmarshal(v, c.dst); err != nil {
				return fmt.Errorf("поле %s: %w", c.key, err)
			}
		}
	}

	optional := []struct {
		key   string
		field Field
		dst   any
	}{
		{"price", FieldPrice, &b.Price},
		{"place_name", FieldPlaceName, &b.PlaceName},
		{"publisher_name", FieldPublisherName, &b.PublisherName},
		{"total_visits", FieldTotalVisits, &b.TotalVisits},
		{"visit_country", FieldVisitCountry, &b.VisitCountry},
		{"days_since_visit", FieldDaysSinceVisit, &b.DaysSinceVisit},
		{"years_ago", FieldYearsAgo, &b.YearsAgo},
		{"isbn", FieldISBN, &b.ISBN},
		{"category", FieldCategory, &b.Category},
		{"pubdate", FieldPubDate, &b.PubDate},
		{"page", FieldPage, &b.Page},
		{"kword", FieldKWord, &b.KWord},
		{"intro", FieldIntro, &b.Intro},
		{"tags", FieldTags, &b.Tags},
		{"reviews", FieldReviews, &b.Reviews},
	}
	for _, o := range optional {
		v, ok := raw[o.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, o.dst); err != nil {
			return fmt.Errorf("поле %s: %w", o.key, err)
		}
		b.set |= o.field
	}

	times := []struct {
		key    string
		field  Field
		layout string
		dst    **time.Time
	}{
		{"purchdate", FieldPurchDate, DateLayout, &b.PurchDate},
		{"last_visited", FieldLastVisited, DateTimeLayout, &b.LastVisited},
	}
	for _, tf := range times {
		v, ok := raw[tf.key]
		if !ok {
			continue
		}
		b.set |= tf.field
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("поле %s: %w", tf.key, err)
		}
		if s == nil {
			continue
		}
		t, err := time.Parse(tf.layout, *s)
		if err != nil {
			return fmt.Errorf("поле %s: %w", tf.key, err)
		}
		*tf.dst = &t
	}
	return nil
}
