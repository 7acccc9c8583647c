package rules

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"silver/pkg/records"
)

// dedup groups the rows still accepted by the rule's key columns and
// applies its strategy. Rows with a NULL key column are never duplicates.
func (a *applier) dedup(j int, st *step) {
	groups := map[xxh3.Uint128][]int{}
	var order []xxh3.Uint128

	o := &a.outcomes[j]
	for i, row := range a.rows {
		if a.removed[i] {
			continue
		}
		o.Evaluated++
		h, ok := groupKey(st.keys, row)
		if !ok {
			continue
		}
		if _, seen := groups[h]; !seen {
			order = append(order, h)
		}
		groups[h] = append(groups[h], i)
	}

	failed := map[int]bool{}
	for _, h := range order {
		m := groups[h]
		if len(m) < 2 {
			continue
		}
		switch st.strategy {
		case KeepLast:
			for _, i := range m[:len(m)-1] {
				failed[i] = true
			}
		case QuarantineAll:
			for _, i := range m {
				failed[i] = true
			}
		default:
			for _, i := range m[1:] {
				failed[i] = true
			}
		}
	}

	for i, row := range a.rows {
		if a.removed[i] {
			continue
		}
		if !failed[i] {
			o.Passed++
			continue
		}
		detail := fmt.Sprintf("rule %s duplicate key (%s) [%s]", st.rule.ID, keyText(st.keys, row), st.strategy)
		a.violate(j, st, i, row, detail)
	}
}

// groupKey hashes the key column values. Each value is prefixed with its
// kind so "1" and 1 stay distinct.
func groupKey(keys []string, row *records.Record) (xxh3.Uint128, bool) {
	h := xxh3.New()
	for _, k := range keys {
		v := row.Value(k)
		if v.IsNull() {
			return xxh3.Uint128{}, false
		}
		_, _ = h.WriteString(v.Kind().String() + "\x1f" + v.Text() + "\x1e")
	}
	return h.Sum128(), true
}

func keyText(keys []string, row *records.Record) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + row.Value(k).Text()
	}
	return strings.Join(parts, ", ")
}
