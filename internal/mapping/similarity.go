package mapping

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"silver/internal/expr"
	"silver/internal/schema"
)

// Similarity proposes ML_PATTERN candidates by fuzzy name matching.
//
// A pair scores 0.4 * edit ratio + 0.6 * token overlap, where the edit
// ratio is the better Levenshtein ratio of the raw and the
// abbreviation-expanded names, and token overlap is the overlap
// coefficient of the expanded token sets. An active known mapping lifts a
// pair to at least 0.95.
type Similarity struct {
	TopN          int
	MinConfidence float64
	// Known holds active known-mapping pairs.
	Known map[pairKey]bool
	// Skip holds pairs already mapped for the same source and target table.
	Skip map[pairKey]bool
}

// KnownBoost is the minimum confidence of a pair named by a known mapping.
const KnownBoost = 0.95

// Propose implements Generator.
func (g Similarity) Propose(_ context.Context, sourceFields []string, target schema.Table) ([]Candidate, error) {
	topN := g.TopN
	if topN <= 0 {
		topN = 3
	}
	cols := target.Names()
	sort.Strings(cols)

	var out []Candidate
	for _, field := range sourceFields {
		var scored []Candidate
		for _, col := range cols {
			k := keyOf(field, col)
			if g.Skip[k] {
				continue
			}
			score := Score(field, col)
			if g.Known[k] {
				score = math.Max(score, KnownBoost)
			}
			if score < g.MinConfidence {
				continue
			}
			scored = append(scored, Candidate{
				SourceField:  field,
				TargetColumn: col,
				Confidence:   score,
				Method:       MethodSimilarity,
			})
		}
		// cols is sorted, so a stable sort keeps ties in column order.
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Confidence > scored[j].Confidence })
		if len(scored) > topN {
			scored = scored[:topN]
		}
		out = append(out, scored...)
	}
	return out, nil
}

// Score returns the similarity of a source field and a target column in
// [0,1], rounded to four decimals.
func Score(field, column string) float64 {
	a, b := fold(splitCamel(field)), fold(splitCamel(column))
	if a == "" || b == "" {
		return 0
	}
	ta, tb := expand(tokens(a)), expand(tokens(b))
	edit := math.Max(ratio(a, b), ratio(strings.Join(ta, " "), strings.Join(tb, " ")))
	s := 0.4*edit + 0.6*overlap(ta, tb)
	s = math.Min(1, math.Max(0, s))
	return math.Round(s*10000) / 10000
}

// fold case-folds s and strips diacritics. A Caser is stateful, so each
// call gets its own.
func fold(s string) string {
	return expr.Unaccent(cases.Fold().String(strings.TrimSpace(s)))
}

// splitCamel inserts '_' at lower-to-upper boundaries: custName -> cust_Name.
func splitCamel(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// tokens splits a folded name on '_', '-', dots and spaces.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
}

var abbreviations = map[string]string{
	"nm": "name", "dt": "date", "no": "number", "num": "number", "cd": "code",
	"desc": "description", "amt": "amount", "cnt": "count", "qty": "quantity",
	"addr": "address", "tel": "phone", "ph": "phone",
	"biz": "business", "pwd": "password", "passwd": "password",
	"img": "image", "zip": "zipcode", "msg": "message", "txt": "text",
	"subj": "subject", "doc": "document", "usr": "user", "emp": "employee",
	"dept": "department", "grp": "group", "cat": "category",
	"loc": "location", "lat": "latitude", "lng": "longitude", "lon": "longitude",
	"st": "street", "bal": "balance", "avg": "average",
	"reg": "registered", "mod": "modified", "del": "deleted",
	"upd": "updated", "stat": "status", "sts": "status",
	"typ": "type", "val": "value", "ord": "order", "seq": "sequence", "idx": "index",
	"flg": "flag", "cust": "customer", "acct": "account", "txn": "transaction",
	"prod": "product", "ts": "timestamp", "fname": "firstname", "lname": "lastname",
}

func expand(toks []string) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		if full, ok := abbreviations[t]; ok {
			out[i] = full
			continue
		}
		out[i] = t
	}
	return out
}

// overlap is |A∩B| / min(|A|,|B|) over distinct tokens.
func overlap(a, b []string) float64 {
	sa, sb := set(a), set(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	n := 0
	for t := range sa {
		if sb[t] {
			n++
		}
	}
	return float64(n) / float64(min(len(sa), len(sb)))
}

func set(toks []string) map[string]bool {
	m := make(map[string]bool, len(toks))
	for _, t := range toks {
		m[t] = true
	}
	return m
}

// ratio is 1 - levenshtein(a,b) / max(len(a), len(b)), over runes.
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	n := max(len(ra), len(rb))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(n)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
