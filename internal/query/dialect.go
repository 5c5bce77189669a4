package query

import (
	"fmt"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

// Dialect описывает различия SQL между поддерживаемыми СУБД.
type Dialect struct {
	// Name имя диалекта goqu.
	Name string
	// BindType тип плейсхолдеров sqlx.
	BindType int

	monthDay  string
	year      string
	daysSince string
	day       string
}

var (
	Postgres = Dialect{
		Name:      "postgres",
		BindType:  sqlx.DOLLAR,
		monthDay:  "to_char(%s, 'MM-DD')",
		year:      "CAST(EXTRACT(YEAR FROM %s) AS INTEGER)",
		daysSince: "(CURRENT_DATE - CAST(%s AS DATE))",
		day:       "to_char(%s, 'YYYY-MM-DD')",
	}
	SQLite = Dialect{
		Name:      "sqlite3",
		BindType:  sqlx.QUESTION,
		monthDay:  "strftime('%%m-%%d', %s)",
		year:      "CAST(strftime('%%Y', %s) AS INTEGER)",
		daysSince: "CAST(julianday('now') - julianday(%s) AS INTEGER)",
		day:       "strftime('%%Y-%%m-%%d', %s)",
	}
)

// DialectFor подбирает диалект по имени драйвера database/sql.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("нет SQL диалекта для драйвера %q", driver)
	}
}

// MonthDay выражение "MM-DD" для колонки с датой.
func (d Dialect) MonthDay(col string) string { return fmt.Sprintf(d.monthDay, col) }

// Year год колонки с датой как целое.
func (d Dialect) Year(col string) string { return fmt.Sprintf(d.year, col) }

// DaysSince число дней от даты до сегодня.
func (d Dialect) DaysSince(col string) string { return fmt.Sprintf(d.daysSince, col) }

// Day дата "YYYY-MM-DD" колонки с временем.
func (d Dialect) Day(col string) string { return fmt.Sprintf(d.day, col) }

// Rebind переводит запрос с ? в плейсхолдеры диалекта.
func (d Dialect) Rebind(query string) string { return sqlx.Rebind(d.BindType, query) }
