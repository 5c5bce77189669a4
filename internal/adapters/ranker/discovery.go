package ranker

import (
	"math"
	"sort"
	"strings"

	"rsywx-api/internal/domain"
)

// Category категория рекомендации.
type Category string

const (
	CategorySimilar     Category = "similar_recommendation"
	CategoryAuthor      Category = "author_exploration"
	CategoryCultural    Category = "cultural_bridge"
	CategoryGenre       Category = "genre_discovery"
	CategorySerendipity Category = "serendipity"
)

// categoryOrder порядок заполнения квот; обрезка идёт с конца.
var categoryOrder = []Category{
	CategorySimilar,
	CategoryAuthor,
	CategoryCultural,
	CategoryGenre,
	CategorySerendipity,
}

const (
	// AdmissionThreshold кандидаты с итогом не выше порога отбрасываются.
	AdmissionThreshold = 0.15

	weightTags     = 0.4
	weightAuthor   = 0.25
	weightCategory = 0.2
	weightDate     = 0.15

	similarityShare = 0.7
	discoveryShare  = 0.3

	bonusAuthor      = 0.3
	bonusCultural    = 0.25
	bonusGenre       = 0.2
	bonusPopular     = 0.05
	bonusSerendipity = 0.4

	popularVisits     = 100
	serendipityVisits = 500
	dateDecayDays     = 365.0
)

// DefaultGenreMap соседние жанры по тегам.
var DefaultGenreMap = map[string][]string{
	"武侠": {"历史", "传奇"},
	"历史": {"传记", "政治", "武侠"},
	"科幻": {"奇幻", "科普", "哲学"},
	"奇幻": {"科幻", "神话"},
	"文学": {"诗歌", "散文", "传记"},
	"经典": {"哲学", "历史"},
	"推理": {"悬疑", "犯罪"},
	"悬疑": {"推理", "恐怖"},
	"哲学": {"宗教", "心理学", "科普"},
	"经济": {"管理", "政治"},
	"诗歌": {"散文", "文学"},
}

// Candidate оценённая книга-кандидат.
type Candidate struct {
	Book       domain.BookResult `json:"book"`
	Similarity float64           `json:"similarity_score"`
	Discovery  float64           `json:"discovery_score"`
	Total      float64           `json:"total_score"`
	Category   Category          `json:"category"`
	Reasons    []string          `json:"reasons"`
	Factors    []string          `json:"factors"`
}

// Result итог ранжирования.
type Result struct {
	Books      []Candidate      `json:"books"`
	Categories map[Category]int `json:"categories"`
	PoolSize   int              `json:"pool_size"`
	Qualified  int              `json:"qualified"`
}

// DiscoveryRanker ранжирует книги по сходству с источником и
// добавляет бонусы за неожиданные находки.
type DiscoveryRanker struct {
	GenreMap map[string][]string
}

// NewDiscovery создаёт ранжировщик.
func NewDiscovery(genreMap map[string][]string) *DiscoveryRanker {
	if genreMap == nil {
		genreMap = DefaultGenreMap
	}
	return &DiscoveryRanker{GenreMap: genreMap}
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t = norm(t); t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

func sharedTags(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// Jaccard сходство множеств тегов.
func Jaccard(a, b []string) float64 {
	sa, sb := tagSet(a), tagSet(b)
	shared := sharedTags(sa, sb)
	union := len(sa) + len(sb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func sameNonEmpty(a, b string) bool {
	a, b = norm(a), norm(b)
	return a != "" && a == b
}

func differentNonEmpty(a, b string) bool {
	a, b = norm(a), norm(b)
	return a != "" && b != "" && a != b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func topCategory(c string) string {
	c = norm(c)
	if i := strings.IndexAny(c, "/-"); i >= 0 {
		return c[:i]
	}
	return c
}

// CategorySimilarity 1 при совпадении, 0.6 при общем разделе до разделителя.
func CategorySimilarity(a, b string) float64 {
	if norm(a) == "" || norm(b) == "" {
		return 0
	}
	if norm(a) == norm(b) {
		return 1
	}
	ta, tb := topCategory(a), topCategory(b)
	if ta != "" && ta == tb && (ta != norm(a) || tb != norm(b)) {
		return 0.6
	}
	return 0
}

func authorSimilarity(src, cand domain.BookResult) float64 {
	score := 0.0
	if sameNonEmpty(src.Author, cand.Author) {
		score += 0.7
	}
	if sameNonEmpty(src.Region, cand.Region) {
		score += 0.2
	}
	if src.Translated && cand.Translated && sameNonEmpty(src.Copyrighter, cand.Copyrighter) {
		score += 0.2
	}
	return math.Min(score, 1)
}

func dateProximity(src, cand domain.BookResult) float64 {
	if src.PurchDate == nil || cand.PurchDate == nil {
		return 0
	}
	days := math.Abs(src.PurchDate.Sub(*cand.PurchDate).Hours() / 24)
	return math.Max(0, 1-days/dateDecayDays)
}

func (r *DiscoveryRanker) adjacentGenre(srcTags, candTags map[string]struct{}) (string, bool) {
	for t := range srcTags {
		for _, adj := range r.GenreMap[t] {
			if _, ok := candTags[norm(adj)]; ok {
				return adj, true
			}
		}
	}
	return "", false
}

// Score считает сходство и бонусы кандидата относительно источника.
func (r *DiscoveryRanker) Score(src, cand domain.BookResult) Candidate {
	srcTags, candTags := tagSet(src.Tags), tagSet(cand.Tags)
	shared := sharedTags(srcTags, candTags)

	c := Candidate{Book: cand, Category: CategorySimilar}
	jac := Jaccard(src.Tags, cand.Tags)
	auth := authorSimilarity(src, cand)
	cat := CategorySimilarity(deref(src.Category), deref(cand.Category))
	date := dateProximity(src, cand)
	c.Similarity = weightTags*jac + weightAuthor*auth + weightCategory*cat + weightDate*date

	if jac > 0 {
		c.Factors = append(c.Factors, "tags")
	}
	if sameNonEmpty(src.Author, cand.Author) {
		c.Factors = append(c.Factors, "author")
	}
	if sameNonEmpty(src.Region, cand.Region) {
		c.Factors = append(c.Factors, "region")
	}
	if src.Translated && cand.Translated && sameNonEmpty(src.Copyrighter, cand.Copyrighter) {
		c.Factors = append(c.Factors, "translator")
	}
	if cat > 0 {
		c.Factors = append(c.Factors, "category")
	}
	if date > 0 {
		c.Factors = append(c.Factors, "purchase_date")
	}

	var labels []Category
	if differentNonEmpty(src.Author, cand.Author) && shared >= 1 && shared <= 2 {
		c.Discovery += bonusAuthor
		labels = append(labels, CategoryAuthor)
		c.Reasons = append(c.Reasons, "другой автор на близкую тему")
	}
	if differentNonEmpty(src.Region, cand.Region) && shared >= 1 {
		c.Discovery += bonusCultural
		labels = append(labels, CategoryCultural)
		c.Reasons = append(c.Reasons, "та же тема из другой культуры")
	}
	if adj, ok := r.adjacentGenre(srcTags, candTags); ok {
		c.Discovery += bonusGenre
		labels = append(labels, CategoryGenre)
		c.Reasons = append(c.Reasons, "соседний жанр: "+adj)
	}
	var visits int64
	if cand.TotalVisits != nil {
		visits = *cand.TotalVisits
	}
	if visits > popularVisits {
		c.Discovery += bonusPopular
		c.Reasons = append(c.Reasons, "популярная книга")
	}
	if visits > serendipityVisits && c.Similarity > 0.05 && c.Similarity < 0.2 {
		c.Discovery += bonusSerendipity
		labels = append(labels, CategorySerendipity)
		c.Reasons = append(c.Reasons, "неожиданная находка")
	}
	c.Category = pickLabel(labels)
	if c.Category == CategorySimilar {
		c.Reasons = append(c.Reasons, "похожая книга")
	}
	c.Total = similarityShare*c.Similarity + discoveryShare*c.Discovery
	return c
}

func pickLabel(labels []Category) Category {
	priority := []Category{CategorySerendipity, CategoryGenre, CategoryCultural, CategoryAuthor}
	for _, p := range priority {
		for _, l := range labels {
			if l == p {
				return p
			}
		}
	}
	return CategorySimilar
}

// Quotas распределяет count мест по категориям в зависимости от размера выдачи.
func Quotas(count int) map[Category]int {
	var shares map[Category]float64
	switch {
	case count <= 3:
		shares = map[Category]float64{CategorySimilar: 0.67, CategoryAuthor: 0.33}
	case count <= 5:
		shares = map[Category]float64{CategorySimilar: 0.4, CategoryAuthor: 0.2, CategoryCultural: 0.2, CategoryGenre: 0.2}
	default:
		shares = map[Category]float64{CategorySimilar: 0.3, CategoryAuthor: 0.2, CategoryCultural: 0.2, CategoryGenre: 0.15, CategorySerendipity: 0.15}
	}
	quotas := make(map[Category]int, len(categoryOrder))
	sum := 0
	for _, c := range categoryOrder {
		quotas[c] = int(math.Round(shares[c] * float64(count)))
		sum += quotas[c]
	}
	for i := len(categoryOrder) - 1; sum > count && i >= 0; {
		c := categoryOrder[i]
		if quotas[c] == 0 {
			i--
			continue
		}
		quotas[c]--
		sum--
	}
	if sum < count {
		quotas[CategorySimilar] += count - sum
	}
	return quotas
}

func sortByTotal(items []Candidate) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Total != items[j].Total {
			return items[i].Total > items[j].Total
		}
		return items[i].Book.ID < items[j].Book.ID
	})
}

// Rank оценивает пул и отбирает до count книг с учётом квот категорий.
func (r *DiscoveryRanker) Rank(src domain.BookResult, pool []domain.BookResult, count int) Result {
	res := Result{Categories: make(map[Category]int), PoolSize: len(pool), Books: []Candidate{}}
	if count <= 0 {
		return res
	}
	qualified := make([]Candidate, 0, len(pool))
	for _, book := range pool {
		if book.ID == src.ID {
			continue
		}
		c := r.Score(src, book)
		if c.Total <= AdmissionThreshold {
			continue
		}
		qualified = append(qualified, c)
	}
	res.Qualified = len(qualified)
	sortByTotal(qualified)

	byCategory := make(map[Category][]Candidate)
	for _, c := range qualified {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	selected := make(map[int64]struct{}, count)
	quotas := Quotas(count)
	for _, cat := range categoryOrder {
		for _, c := range byCategory[cat] {
			if quotas[cat] == 0 || len(res.Books) == count {
				break
			}
			res.Books = append(res.Books, c)
			selected[c.Book.ID] = struct{}{}
			quotas[cat]--
		}
	}
	for _, c := range qualified {
		if len(res.Books) == count {
			break
		}
		if _, ok := selected[c.Book.ID]; ok {
			continue
		}
		res.Books = append(res.Books, c)
		selected[c.Book.ID] = struct{}{}
	}
	sortByTotal(res.Books)
	for _, c := range res.Books {
		res.Categories[c.Category]++
	}
	return res
}
