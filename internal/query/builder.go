package query

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

const (
	baseTable = "book_book"
	baseAlias = "b"
)

// InvalidLocations полки, книги с которых не попадают ни в одну выдачу.
var InvalidLocations = []any{"na", "--"}

var (
	ErrModeConflict       = errors.New("режим запроса уже задан")
	ErrBuildingQuery      = errors.New("не удалось построить запрос")
	ErrExecutingQuery     = errors.New("не удалось выполнить запрос")
	ErrScanningQueryRow   = errors.New("не удалось прочитать строку запроса")
	ErrInvalidQueryParams = errors.New("некорректные параметры запроса")
)

// FieldGroup набор дополнительных колонок.
type FieldGroup string

const (
	GroupPurchase    FieldGroup = "purchase"
	GroupPublication FieldGroup = "publication"
	GroupVisitStats  FieldGroup = "visit_stats"
	GroupComputed    FieldGroup = "computed"
	GroupDetails     FieldGroup = "details"
	// GroupTags и GroupRich не добавляют колонок: теги и рецензии
	// догружаются вторым проходом, чтобы не размножать строки join-ом.
	GroupTags FieldGroup = "tags"
	GroupRich FieldGroup = "rich"
)

// Mode именованная форма запроса.
type Mode string

const (
	ModeNone        Mode = ""
	ModeLatest      Mode = "latest"
	ModeRandom      Mode = "random"
	ModeLastVisited Mode = "last_visited"
	ModeForgotten   Mode = "forgotten"
	ModeToday       Mode = "today"
)

type field struct {
	expr  string
	alias string
}

type joinKind int

const (
	leftJoin joinKind = iota
	innerJoin
)

type join struct {
	key   string
	kind  joinKind
	table exp.Expression
	on    string
}

type condition struct {
	sql  string
	args []any
}

// Builder собирает SELECT по book_book из полей, join-ов, условий,
// сортировки и лимитов. Рендеринг выполняет goqu.
type Builder struct {
	dialect    Dialect
	now        func() time.Time
	fields     []field
	joins      []join
	conditions []condition
	order      []exp.OrderedExpression
	limit      uint
	offset     uint
	groups     map[FieldGroup]bool
	mode       Mode
	err        error
}

// Option настраивает Builder.
type Option func(*Builder)

// WithClock задаёт часы для расчёта текущего года.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// New создаёт построитель с базовыми полями книги.
func New(d Dialect, opts ...Option) *Builder {
	b := &Builder{
		dialect: d,
		now:     time.Now,
		groups:  make(map[FieldGroup]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Field("b.id", "id").
		Field("b.bookid", "bookid").
		Field("b.title", "title").
		Field("b.author", "author").
		Field("b.translated", "translated").
		Field("b.copyrighter", "copyrighter").
		Field("b.region", "region").
		Field("b.location", "location")
	return b
}

// Dialect возвращает диалект построителя.
func (b *Builder) Dialect() Dialect { return b.dialect }

// Mode возвращает заданный режим.
func (b *Builder) Mode() Mode { return b.mode }

// Err возвращает отложенную ошибку построения.
func (b *Builder) Err() error { return b.err }

// Includes сообщает, подключена ли группа полей.
func (b *Builder) Includes(g FieldGroup) bool { return b.groups[g] }

// Field добавляет колонку; повторный псевдоним заменяет выражение.
func (b *Builder) Field(expr, alias string) *Builder {
	for i := range b.fields {
		if b.fields[i].alias == alias {
			b.fields[i].expr = expr
			return b
		}
	}
	b.fields = append(b.fields, field{expr: expr, alias: alias})
	return b
}

func (b *Builder) addJoin(j join) {
	for _, existing := range b.joins {
		if existing.key == j.key {
			return
		}
	}
	b.joins = append(b.joins, j)
}

// Where добавляет условие с позиционными параметрами.
func (b *Builder) Where(sql string, args ...any) *Builder {
	b.conditions = append(b.conditions, condition{sql: sql, args: args})
	return b
}

// Limit ограничивает число строк.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: limit %d", ErrInvalidQueryParams, n))
		return b
	}
	b.limit = uint(n)
	return b
}

// Page задаёт страницу выдачи, нумерация с 1.
func (b *Builder) Page(page, perPage int) *Builder {
	if page < 1 || perPage < 1 {
		b.fail(fmt.Errorf("%w: page %d per_page %d", ErrInvalidQueryParams, page, perPage))
		return b
	}
	if page-1 > math.MaxInt32/perPage {
		b.fail(fmt.Errorf("%w: page %d per_page %d", ErrInvalidQueryParams, page, perPage))
		return b
	}
	b.limit = uint(perPage)
	b.offset = uint((page - 1) * perPage)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) setMode(m Mode) bool {
	if b.mode != ModeNone && b.mode != m {
		b.fail(fmt.Errorf("%w: %s после %s", ErrModeConflict, m, b.mode))
		return false
	}
	b.mode = m
	return true
}

// IncludeFields подключает группы полей; повторное подключение ничего не меняет.
func (b *Builder) IncludeFields(groups ...FieldGroup) *Builder {
	for _, g := range groups {
		if b.groups[g] {
			continue
		}
		b.groups[g] = true
		switch g {
		case GroupPurchase:
			b.Field("b.purchdate", "purchdate").
				Field("b.price", "price")
			b.includePublication()
		case GroupPublication:
			b.includePublication()
		case GroupVisitStats:
			b.includeVisitStats()
		case GroupComputed:
			b.IncludeFields(GroupVisitStats)
			b.Field(b.dialect.DaysSince("visit_stats.last_visited"), "days_since_visit")
		case GroupDetails:
			b.Field("b.isbn", "isbn").
				Field("b.category", "category").
				Field("b.pubdate", "pubdate").
				Field("b.page", "page").
				Field("b.kword", "kword").
				Field("b.intro", "intro")
		case GroupTags, GroupRich:
		default:
			b.fail(fmt.Errorf("%w: неизвестная группа полей %q", ErrInvalidQueryParams, g))
		}
	}
	return b
}

func (b *Builder) includePublication() {
	b.Field("p.name", "place_name").
		Field("pub.name", "publisher_name")
	b.addJoin(join{key: "place", kind: leftJoin, table: goqu.T("book_place").As("p"), on: "b.place = p.id"})
	b.addJoin(join{key: "publisher", kind: leftJoin, table: goqu.T("book_publisher").As("pub"), on: "b.publisher = pub.id"})
}

func (b *Builder) includeVisitStats() {
	b.addJoin(join{
		key:   "visit_stats",
		kind:  leftJoin,
		table: goqu.L("(SELECT bookid, COUNT(*) AS total_visits, MAX(visitwhen) AS last_visited FROM book_visit GROUP BY bookid)").As("visit_stats"),
		on:    "visit_stats.bookid = b.id",
	})
	b.Field("COALESCE(visit_stats.total_visits, 0)", "total_visits").
		Field("visit_stats.last_visited", "last_visited")
}

// Latest последние купленные книги.
func (b *Builder) Latest(n int) *Builder {
	if !b.setMode(ModeLatest) {
		return b
	}
	b.order = append(b.order, goqu.L("b.purchdate").Desc(), goqu.L("b.id").Desc())
	return b.Limit(n)
}

// Random случайные книги. Сортировка по RANDOM() проходит по всей таблице,
// что допустимо для библиотеки в несколько тысяч книг.
func (b *Builder) Random(n int) *Builder {
	if !b.setMode(ModeRandom) {
		return b
	}
	b.order = append(b.order, goqu.L("RANDOM()").Asc())
	return b.Limit(n)
}

// LastVisited книги из n последних посещений. Повторные посещения одной
// книги схлопываются, поэтому строк может быть меньше n.
func (b *Builder) LastVisited(n int) *Builder {
	if !b.setMode(ModeLastVisited) {
		return b
	}
	b.addJoin(join{
		key:  "recent_visits",
		kind: innerJoin,
		table: goqu.L(
			"(SELECT rv.bookid, MAX(rv.visitwhen) AS visitwhen FROM "+
				"(SELECT bookid, visitwhen FROM book_visit ORDER BY visitwhen DESC LIMIT ?) rv "+
				"GROUP BY rv.bookid)", n,
		).As("recent_visits"),
		on: "recent_visits.bookid = b.id",
	})
	b.Field("recent_visits.visitwhen", "last_visited").
		Field("(SELECT v2.country FROM book_visit v2 WHERE v2.bookid = b.id ORDER BY v2.visitwhen DESC LIMIT 1)", "visit_country")
	b.order = append(b.order, goqu.L("recent_visits.visitwhen").Desc(), goqu.L("b.id").Desc())
	return b.Limit(n)
}

// Forgotten книги, которые дольше всех не посещали.
func (b *Builder) Forgotten(n int) *Builder {
	if !b.setMode(ModeForgotten) {
		return b
	}
	b.addJoin(join{
		key:  "forgotten_visits",
		kind: innerJoin,
		table: goqu.L(
			"(SELECT v.bookid, MAX(v.visitwhen) AS last_visited FROM book_visit v "+
				"INNER JOIN book_book b2 ON v.bookid = b2.id "+
				"WHERE b2.location NOT IN (?, ?) "+
				"GROUP BY v.bookid ORDER BY last_visited ASC, v.bookid ASC LIMIT ?)",
			InvalidLocations[0], InvalidLocations[1], n,
		).As("forgotten_visits"),
		on: "forgotten_visits.bookid = b.id",
	})
	b.Field("forgotten_visits.last_visited", "last_visited")
	b.order = append(b.order, goqu.L("forgotten_visits.last_visited").Asc(), goqu.L("b.id").Asc())
	return b.Limit(n)
}

// TodaysBooks книги, купленные в этот день в прошлые годы.
func (b *Builder) TodaysBooks(month, day int) *Builder {
	if !b.setMode(ModeToday) {
		return b
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		b.fail(fmt.Errorf("%w: дата %d-%d", ErrInvalidQueryParams, month, day))
		return b
	}
	year := b.now().Year()
	b.Where(b.dialect.MonthDay("b.purchdate")+" = ?", fmt.Sprintf("%02d-%02d", month, day))
	b.Where(b.dialect.Year("b.purchdate")+" < ?", year)
	b.Field(fmt.Sprintf("(%d - %s)", year, b.dialect.Year("b.purchdate")), "years_ago")
	b.order = append(b.order, goqu.L("b.purchdate").Desc(), goqu.L("b.id").Desc())
	return b
}

// ByID фильтр по внутреннему идентификатору.
func (b *Builder) ByID(id int64) *Builder {
	return b.Where("b.id = ?", id)
}

// ByBookID фильтр по внешнему идентификатору.
func (b *Builder) ByBookID(bookID string) *Builder {
	return b.Where("b.bookid = ?", bookID)
}

// ExcludeID исключает книгу из выдачи.
func (b *Builder) ExcludeID(id int64) *Builder {
	return b.Where("b.id <> ?", id)
}

func contains(v string) string {
	return "%" + v + "%"
}

func (b *Builder) SearchByAuthor(v string) *Builder {
	return b.Where("b.author LIKE ?", contains(v))
}

func (b *Builder) SearchByTitle(v string) *Builder {
	return b.Where("b.title LIKE ?", contains(v))
}

func (b *Builder) SearchByTag(tag string) *Builder {
	b.addJoin(join{key: "tags", kind: innerJoin, table: goqu.T("book_taglist").As("t"), on: "t.bid = b.id"})
	return b.Where("t.tag = ?", tag)
}

// SearchMisc ищет подстроку в названии или авторе.
func (b *Builder) SearchMisc(v string) *Builder {
	return b.Where("(b.title LIKE ? OR b.author LIKE ?)", contains(v), contains(v))
}

// OrderByIDDesc сортировка для постраничных выдач.
func (b *Builder) OrderByIDDesc() *Builder {
	b.order = append(b.order, goqu.L("b.id").Desc())
	return b
}

func (b *Builder) filtered(ds *goqu.SelectDataset) *goqu.SelectDataset {
	for _, j := range b.joins {
		on := goqu.On(goqu.L(j.on))
		switch j.kind {
		case innerJoin:
			ds = ds.InnerJoin(j.table, on)
		default:
			ds = ds.LeftJoin(j.table, on)
		}
	}
	where := make([]exp.Expression, 0, len(b.conditions)+1)
	for _, c := range b.conditions {
		where = append(where, goqu.L(c.sql, c.args...))
	}
	where = append(where, goqu.L("b.location NOT IN (?, ?)", InvalidLocations...))
	return ds.Where(where...)
}

func (b *Builder) from() *goqu.SelectDataset {
	return goqu.Dialect(b.dialect.Name).
		From(goqu.T(baseTable).As(baseAlias)).
		Prepared(true)
}

// ToSQL рендерит SELECT и параметры в порядке появления в запросе.
func (b *Builder) ToSQL() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	cols := make([]any, 0, len(b.fields))
	for _, f := range b.fields {
		cols = append(cols, goqu.L(f.expr).As(f.alias))
	}
	ds := b.filtered(b.from().Select(cols...))
	if len(b.order) > 0 {
		ds = ds.Order(b.order...)
	}
	if b.limit > 0 {
		ds = ds.Limit(b.limit)
	}
	if b.offset > 0 {
		ds = ds.Offset(b.offset)
	}
	sql, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQuery, err)
	}
	return sql, args, nil
}

// CountSQL рендерит COUNT(DISTINCT b.id) с теми же join-ами и условиями,
// без сортировки и лимитов.
func (b *Builder) CountSQL() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	ds := b.filtered(b.from().Select(goqu.L("COUNT(DISTINCT b.id)").As("total")))
	sql, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQuery, err)
	}
	return sql, args, nil
}
