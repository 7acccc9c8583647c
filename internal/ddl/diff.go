package ddl

import "strings"

// Retype is a column whose live type differs from its declared type.
type Retype struct {
	Column ColumnDef // declared
	From   string    // live SQL type
}

// Plan is the column-set difference between a live table and its declared
// schema. Add is always safe to apply; Drop and Retype are destructive.
type Plan struct {
	Add    []ColumnDef
	Drop   []ColumnDef
	Retype []Retype
}

// Empty reports whether live and declared already agree.
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Drop) == 0 && len(p.Retype) == 0
}

// Destructive reports whether applying p would drop or retype a column.
func (p Plan) Destructive() bool {
	return len(p.Drop) > 0 || len(p.Retype) > 0
}

// Diff compares declared columns against live ones. Column names match
// case-insensitively. Types are compared after normalize, which the backend
// supplies so its MapType output and introspected names agree; a nil
// normalize compares upper-cased, whitespace-free strings.
//
// Add and Retype follow declared order; Drop follows live order.
func Diff(declared, live []ColumnDef, normalize func(string) string) Plan {
	if normalize == nil {
		normalize = defaultNormalize
	}
	liveBy := make(map[string]ColumnDef, len(live))
	for _, c := range live {
		liveBy[strings.ToUpper(c.Name)] = c
	}
	declBy := make(map[string]struct{}, len(declared))

	var p Plan
	for _, c := range declared {
		k := strings.ToUpper(c.Name)
		declBy[k] = struct{}{}
		l, ok := liveBy[k]
		if !ok {
			p.Add = append(p.Add, c)
			continue
		}
		if normalize(l.SQLType) != normalize(c.SQLType) {
			p.Retype = append(p.Retype, Retype{Column: c, From: l.SQLType})
		}
	}
	for _, c := range live {
		if _, ok := declBy[strings.ToUpper(c.Name)]; !ok {
			p.Drop = append(p.Drop, c)
		}
	}
	return p
}

func defaultNormalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
