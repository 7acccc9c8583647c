package expr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"silver/pkg/records"
)

type function struct {
	min, max int  // max < 0: variadic
	strict   bool // any NULL argument yields NULL
	unitArg  bool // first argument is a date part
	call     func(env *Env, args []records.Value) (records.Value, error)
	lazy     func(env *Env, args []node) (records.Value, error)
}

// Functions lists the names callable from expressions, sorted.
func Functions() []string {
	out := make([]string, 0, len(functions))
	for k := range functions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var functions = map[string]*function{
	"UPPER":    {min: 1, max: 1, strict: true, call: strFn(strings.ToUpper)},
	"LOWER":    {min: 1, max: 1, strict: true, call: strFn(strings.ToLower)},
	"INITCAP":  {min: 1, max: 1, strict: true, call: strFn(initcap)},
	"UNACCENT": {min: 1, max: 1, strict: true, call: strFn(Unaccent)},
	"TRIM":     {min: 1, max: 2, strict: true, call: trimFn(strings.Trim, strings.TrimSpace)},
	"LTRIM": {min: 1, max: 2, strict: true, call: trimFn(strings.TrimLeft, func(s string) string {
		return strings.TrimLeftFunc(s, unicode.IsSpace)
	})},
	"RTRIM": {min: 1, max: 2, strict: true, call: trimFn(strings.TrimRight, func(s string) string {
		return strings.TrimRightFunc(s, unicode.IsSpace)
	})},
	"LENGTH":         {min: 1, max: 1, strict: true, call: length},
	"LEN":            {min: 1, max: 1, strict: true, call: length},
	"SUBSTR":         {min: 2, max: 3, strict: true, call: substr},
	"SUBSTRING":      {min: 2, max: 3, strict: true, call: substr},
	"REPLACE":        {min: 2, max: 3, strict: true, call: replace},
	"REGEXP_REPLACE": {min: 2, max: 3, strict: true, call: regexpReplace},
	"CONCAT":         {min: 1, max: -1, strict: true, call: concat},
	"COALESCE":       {min: 1, max: -1, lazy: coalesce},
	"NVL":            {min: 2, max: 2, lazy: coalesce},
	"IFF":            {min: 3, max: 3, lazy: iff},
	"NULLIF":         {min: 2, max: 2, call: nullif},
	"ABS":            {min: 1, max: 1, strict: true, call: numFn(decimal.Decimal.Abs)},
	"FLOOR":          {min: 1, max: 1, strict: true, call: numFn(decimal.Decimal.Floor)},
	"CEIL":           {min: 1, max: 1, strict: true, call: numFn(decimal.Decimal.Ceil)},
	"CEILING":        {min: 1, max: 1, strict: true, call: numFn(decimal.Decimal.Ceil)},
	"ROUND":          {min: 1, max: 2, strict: true, call: round},
	"TO_NUMBER":      {min: 1, max: 3, strict: true, call: toNumber},
	"TO_DECIMAL":     {min: 1, max: 3, strict: true, call: toNumber},
	"TO_VARCHAR":     {min: 1, max: 2, strict: true, call: toVarchar},
	"TO_CHAR":        {min: 1, max: 2, strict: true, call: toVarchar},
	"TO_BOOLEAN":     {min: 1, max: 1, strict: true, call: toBoolean},
	"TO_DATE":        {min: 1, max: 2, strict: true, call: toTime(records.TypeDate)},
	"TO_TIMESTAMP":   {min: 1, max: 2, strict: true, call: toTime(records.TypeTimestamp)},
	"DATEDIFF":       {min: 3, max: 3, strict: true, unitArg: true, call: dateDiff},
	"DATEADD":        {min: 3, max: 3, strict: true, unitArg: true, call: dateAdd},
	"CURRENT_DATE": {min: 0, max: 0, call: func(env *Env, _ []records.Value) (records.Value, error) {
		y, m, d := env.now().Date()
		return records.Time(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)), nil
	}},
	"CURRENT_TIMESTAMP": {min: 0, max: 0, call: func(env *Env, _ []records.Value) (records.Value, error) {
		return records.Time(env.now()), nil
	}},
	"CURRENT_USER": {min: 0, max: 0, call: func(env *Env, _ []records.Value) (records.Value, error) {
		if env.User == "" {
			return records.Null, nil
		}
		return records.String(env.User), nil
	}},
}

func strFn(f func(string) string) func(*Env, []records.Value) (records.Value, error) {
	return func(_ *Env, a []records.Value) (records.Value, error) {
		return records.String(f(a[0].Text())), nil
	}
}

func numFn(f func(decimal.Decimal) decimal.Decimal) func(*Env, []records.Value) (records.Value, error) {
	return func(_ *Env, a []records.Value) (records.Value, error) {
		d, err := records.ToDecimal(a[0])
		if err != nil {
			return records.Null, err
		}
		return records.Number(f(d)), nil
	}
}

func trimFn(withSet func(string, string) string, plain func(string) string) func(*Env, []records.Value) (records.Value, error) {
	return func(_ *Env, a []records.Value) (records.Value, error) {
		if len(a) == 2 {
			return records.String(withSet(a[0].Text(), a[1].Text())), nil
		}
		return records.String(plain(a[0].Text())), nil
	}
}

// Unaccent strips combining diacritics ("Jiří Novák" -> "Jiri Novak").
func Unaccent(s string) string {
	// A Chain holds buffers, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func initcap(s string) string {
	var sb strings.Builder
	start := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start {
				sb.WriteRune(unicode.ToUpper(r))
			} else {
				sb.WriteRune(unicode.ToLower(r))
			}
			start = false
			continue
		}
		sb.WriteRune(r)
		start = true
	}
	return sb.String()
}

func length(_ *Env, a []records.Value) (records.Value, error) {
	return records.Int(int64(utf8.RuneCountInString(a[0].Text()))), nil
}

func intArg(v records.Value) (int, error) {
	d, err := records.ToDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%s is not an integer", d)
	}
	return int(d.IntPart()), nil
}

// substr is 1-based; a start of 0 behaves like 1, negative counts from the end.
func substr(_ *Env, a []records.Value) (records.Value, error) {
	rs := []rune(a[0].Text())
	start, err := intArg(a[1])
	if err != nil {
		return records.Null, err
	}
	switch {
	case start > 0:
		start--
	case start < 0:
		start = len(rs) + start
		if start < 0 {
			start = 0
		}
	}
	if start > len(rs) {
		return records.String(""), nil
	}
	end := len(rs)
	if len(a) == 3 {
		n, err := intArg(a[2])
		if err != nil {
			return records.Null, err
		}
		if n < 0 {
			n = 0
		}
		if n < end-start {
			end = start + n
		}
	}
	return records.String(string(rs[start:end])), nil
}

func replace(_ *Env, a []records.Value) (records.Value, error) {
	to := ""
	if len(a) == 3 {
		to = a[2].Text()
	}
	return records.String(strings.ReplaceAll(a[0].Text(), a[1].Text(), to)), nil
}

var backref = regexp.MustCompile(`\\(\d)`)

func regexpReplace(_ *Env, a []records.Value) (records.Value, error) {
	re, err := regexp.Compile(a[1].Text())
	if err != nil {
		return records.Null, err
	}
	repl := ""
	if len(a) == 3 {
		repl = backref.ReplaceAllString(a[2].Text(), "$${$1}")
	}
	return records.String(re.ReplaceAllString(a[0].Text(), repl)), nil
}

func concat(_ *Env, a []records.Value) (records.Value, error) {
	var sb strings.Builder
	for _, v := range a {
		sb.WriteString(v.Text())
	}
	return records.String(sb.String()), nil
}

func coalesce(env *Env, args []node) (records.Value, error) {
	for _, a := range args {
		v, err := a.eval(env)
		if err != nil {
			return records.Null, err
		}
		if !v.IsNull() {
			return v, nil
		}
	}
	return records.Null, nil
}

func iff(env *Env, args []node) (records.Value, error) {
	c, err := args[0].eval(env)
	if err != nil {
		return records.Null, err
	}
	b, known, err := truth(c)
	if err != nil {
		return records.Null, err
	}
	if known && b {
		return args[1].eval(env)
	}
	return args[2].eval(env)
}

func nullif(env *Env, a []records.Value) (records.Value, error) {
	if a[0].IsNull() || a[1].IsNull() {
		return a[0], nil
	}
	c, err := compare(a[0], a[1], env)
	if err != nil {
		return records.Null, err
	}
	if c == 0 {
		return records.Null, nil
	}
	return a[0], nil
}

func round(_ *Env, a []records.Value) (records.Value, error) {
	d, err := records.ToDecimal(a[0])
	if err != nil {
		return records.Null, err
	}
	places := 0
	if len(a) == 2 {
		if places, err = intArg(a[1]); err != nil {
			return records.Null, err
		}
	}
	return records.Number(d.Round(int32(places))), nil
}

func toNumber(_ *Env, a []records.Value) (records.Value, error) {
	if len(a) == 1 {
		d, err := records.ToDecimal(a[0])
		if err != nil {
			return records.Null, err
		}
		return records.Number(d), nil
	}
	p, err := intArg(a[1])
	if err != nil {
		return records.Null, err
	}
	s := 0
	if len(a) == 3 {
		if s, err = intArg(a[2]); err != nil {
			return records.Null, err
		}
	}
	typ, err := records.ParseType(fmt.Sprintf("NUMBER(%d,%d)", p, s))
	if err != nil {
		return records.Null, err
	}
	return records.Cast(a[0], typ, nil)
}

func toVarchar(_ *Env, a []records.Value) (records.Value, error) {
	if len(a) == 2 && a[0].Kind() == records.KindTime {
		return records.String(a[0].Time().Format(goLayout(a[1].Text()))), nil
	}
	return records.String(a[0].Text()), nil
}

func toBoolean(_ *Env, a []records.Value) (records.Value, error) {
	b, err := records.ToBool(a[0])
	if err != nil {
		return records.Null, err
	}
	return records.Bool(b), nil
}

func toTime(base records.Base) func(*Env, []records.Value) (records.Value, error) {
	typ := records.Type{Base: base, Name: "DATE"}
	if base == records.TypeTimestamp {
		typ.Name = "TIMESTAMP_NTZ"
	}
	return func(env *Env, a []records.Value) (records.Value, error) {
		layouts := env.Layouts
		if len(a) == 2 {
			layouts = []string{goLayout(a[1].Text())}
		}
		return records.Cast(a[0], typ, layouts)
	}
}

var formatTokens = strings.NewReplacer(
	"YYYY", "2006",
	"HH24", "15",
	"MON", "Jan",
	"FF9", "000000000",
	"FF6", "000000",
	"FF3", "000",
	"FF", "000000",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "03",
	"MI", "04",
	"SS", "05",
	"AM", "PM",
	"PM", "PM",
)

// goLayout converts a SQL date format (YYYY-MM-DD HH24:MI:SS) into a Go
// reference layout.
func goLayout(format string) string {
	return formatTokens.Replace(strings.ToUpper(format))
}

type unit int

const (
	unitYear unit = iota
	unitQuarter
	unitMonth
	unitWeek
	unitDay
	unitHour
	unitMinute
	unitSecond
)

func parseUnit(s string) (unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "year", "years", "y", "yy", "yyyy", "yr", "yrs":
		return unitYear, nil
	case "quarter", "quarters", "q", "qtr", "qtrs":
		return unitQuarter, nil
	case "month", "months", "mm", "mon", "mons":
		return unitMonth, nil
	case "week", "weeks", "w", "wk", "weekofyear":
		return unitWeek, nil
	case "day", "days", "d", "dd":
		return unitDay, nil
	case "hour", "hours", "h", "hh", "hr", "hrs":
		return unitHour, nil
	case "minute", "minutes", "m", "mi", "min", "mins":
		return unitMinute, nil
	case "second", "seconds", "s", "sec", "secs":
		return unitSecond, nil
	}
	return 0, fmt.Errorf("unknown date part %q", s)
}

func civilDays(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// dateDiff counts unit boundaries crossed between a[1] and a[2].
func dateDiff(env *Env, a []records.Value) (records.Value, error) {
	u, err := parseUnit(a[0].Text())
	if err != nil {
		return records.Null, err
	}
	from, err := records.ToTime(a[1], env.Layouts)
	if err != nil {
		return records.Null, err
	}
	to, err := records.ToTime(a[2], env.Layouts)
	if err != nil {
		return records.Null, err
	}
	var n int64
	switch u {
	case unitYear:
		n = int64(to.Year() - from.Year())
	case unitQuarter:
		n = int64((to.Year()*4 + (int(to.Month())-1)/3) - (from.Year()*4 + (int(from.Month())-1)/3))
	case unitMonth:
		n = int64((to.Year()*12 + int(to.Month())) - (from.Year()*12 + int(from.Month())))
	case unitWeek:
		monday := func(t time.Time) int64 {
			wd := (int64(t.Weekday()) + 6) % 7
			return civilDays(t) - wd
		}
		n = (monday(to) - monday(from)) / 7
	case unitDay:
		n = civilDays(to) - civilDays(from)
	case unitHour:
		n = to.Truncate(time.Hour).Unix()/3600 - from.Truncate(time.Hour).Unix()/3600
	case unitMinute:
		n = to.Unix()/60 - from.Unix()/60
	case unitSecond:
		n = to.Unix() - from.Unix()
	}
	return records.Int(n), nil
}

func dateAdd(env *Env, a []records.Value) (records.Value, error) {
	u, err := parseUnit(a[0].Text())
	if err != nil {
		return records.Null, err
	}
	n, err := intArg(a[1])
	if err != nil {
		return records.Null, err
	}
	t, err := records.ToTime(a[2], env.Layouts)
	if err != nil {
		return records.Null, err
	}
	switch u {
	case unitYear:
		t = t.AddDate(n, 0, 0)
	case unitQuarter:
		t = t.AddDate(0, 3*n, 0)
	case unitMonth:
		t = t.AddDate(0, n, 0)
	case unitWeek:
		t = t.AddDate(0, 0, 7*n)
	case unitDay:
		t = t.AddDate(0, 0, n)
	case unitHour:
		t = t.Add(time.Duration(n) * time.Hour)
	case unitMinute:
		t = t.Add(time.Duration(n) * time.Minute)
	case unitSecond:
		t = t.Add(time.Duration(n) * time.Second)
	}
	return records.Time(t), nil
}
