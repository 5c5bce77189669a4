package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rsywx-api/internal/domain"
)

var timeLayouts = []string{
	domain.DateTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	domain.DateLayout,
}

// AsString приводит значение колонки к строке; NULL даёт "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(domain.DateTimeLayout)
	default:
		return fmt.Sprint(x)
	}
}

// AsInt64 приводит значение колонки к целому.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case []byte:
		return AsInt64(string(x))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

// AsFloat приводит значение колонки к числу с плавающей точкой.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case []byte:
		return AsFloat(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsTime разбирает дату или время из колонки.
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case []byte:
		return AsTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// AsBool приводит флаг к bool.
func AsBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	n, ok := AsInt64(v)
	return ok && n != 0
}

// MapBook собирает BookResult из строки по именам колонок. Присутствующая
// колонка помечает поле как заданное даже при NULL.
func MapBook(row map[string]any) domain.BookResult {
	var b domain.BookResult
	b.ID, _ = AsInt64(row["id"])
	b.BookID = AsString(row["bookid"])
	b.Title = AsString(row["title"])
	b.Author = AsString(row["author"])
	b.Translated = AsBool(row["translated"])
	b.Copyrighter = AsString(row["copyrighter"])
	b.Region = AsString(row["region"])
	b.Location = AsString(row["location"])

	if v, ok := row["purchdate"]; ok {
		if t, ok := AsTime(v); ok {
			b.SetPurchDate(t)
		} else {
			b.SetNull(domain.FieldPurchDate)
		}
	}
	if v, ok := row["last_visited"]; ok {
		if t, ok := AsTime(v); ok {
			b.SetLastVisited(t)
		} else {
			b.SetNull(domain.FieldLastVisited)
		}
	}
	if v, ok := row["price"]; ok {
		if f, ok := AsFloat(v); ok {
			b.SetPrice(f)
		} else {
			b.SetNull(domain.FieldPrice)
		}
	}

	ints := []struct {
		col   string
		field domain.Field
		set   func(int64)
	}{
		{"total_visits", domain.FieldTotalVisits, b.SetTotalVisits},
		{"days_since_visit", domain.FieldDaysSinceVisit, b.SetDaysSinceVisit},
		{"years_ago", domain.FieldYearsAgo, b.SetYearsAgo},
		{"page", domain.FieldPage, b.SetPage},
		{"kword", domain.FieldKWord, b.SetKWord},
	}
	for _, c := range ints {
		v, ok := row[c.col]
		if !ok {
			continue
		}
		if n, ok := AsInt64(v); ok {
			c.set(n)
		} else {
			b.SetNull(c.field)
		}
	}

	strs := []struct {
		col   string
		field domain.Field
		set   func(string)
	}{
		{"place_name", domain.FieldPlaceName, b.SetPlaceName},
		{"publisher_name", domain.FieldPublisherName, b.SetPublisherName},
		{"visit_country", domain.FieldVisitCountry, b.SetVisitCountry},
		{"isbn", domain.FieldISBN, b.SetISBN},
		{"category", domain.FieldCategory, b.SetCategory},
		{"pubdate", domain.FieldPubDate, b.SetPubDate},
		{"intro", domain.FieldIntro, b.SetIntro},
	}
	for _, c := range strs {
		v, ok := row[c.col]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case nil:
			b.SetNull(c.field)
		case time.Time:
			c.set(x.Format(domain.DateLayout))
		default:
			c.set(AsString(x))
		}
	}
	return b
}
