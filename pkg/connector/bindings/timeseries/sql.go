package timeseries

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// Column names of the long format table
const (
	ColumnTime        = "time"
	ColumnMeasurement = "measurement"
	ColumnField       = "field"
	ColumnValue       = "value"
)

// Dialect abstracts the SQL differences of the supported databases
type Dialect struct {
	Name        string
	placeholder func(i int) string
	quote       func(ident string) string
}

// Supported dialects
var (
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		quote:       func(s string) string { return `"` + s + `"` },
	}
	MySQL = Dialect{
		Name:        "mysql",
		placeholder: func(int) string { return "?" },
		quote:       func(s string) string { return "`" + s + "`" },
	}
)

// ParseDialect returns the dialect called name; "" is postgres
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "postgres", "postgresql", "timescale":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return Dialect{}, errors.Newf(errors.ErrorTypeConfig, "unknown dialect %q", name)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (d Dialect) ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

// validIdentifiers rejects table and tag names that would need escaping
func validIdentifiers(names ...string) error {
	for _, n := range names {
		if !identifier.MatchString(n) {
			return errors.Newf(errors.ErrorTypeConfig, "invalid identifier %q", n)
		}
	}
	return nil
}

// schema describes the long format table
type schema struct {
	dialect     Dialect
	table       string
	measurement string
	tags        []string
}

func (s schema) columns() []string {
	return append([]string{ColumnTime, ColumnMeasurement, ColumnField, ColumnValue}, s.tags...)
}

func (s schema) selectList() string {
	cols := s.columns()
	for i, c := range cols {
		cols[i] = s.dialect.ident(c)
	}
	return strings.Join(cols, ", ")
}

// statement accumulates a WHERE clause with dialect placeholders
type statement struct {
	d     Dialect
	conds []string
	args  []interface{}
}

func (st *statement) where(column, op string, arg interface{}) {
	st.args = append(st.args, arg)
	st.conds = append(st.conds, fmt.Sprintf("%s %s %s", st.d.ident(column), op, st.d.placeholder(len(st.args))))
}

func (st *statement) clause() string {
	if len(st.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(st.conds, " AND ")
}

func (s schema) selectFrom(st *statement) string {
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", s.selectList(), s.dialect.ident(s.table), st.clause(), s.dialect.ident(ColumnTime))
}

// sinceQuery selects the rows newer than since
func (s schema) sinceQuery(since time.Time) (string, []interface{}) {
	st := &statement{d: s.dialect}
	if s.measurement != "" {
		st.where(ColumnMeasurement, "=", s.measurement)
	}
	st.where(ColumnTime, ">", since)
	return s.selectFrom(st), st.args
}

// windowQuery selects the rows within the half-open window
func (s schema) windowQuery(w core.TimeWindow) (string, []interface{}) {
	st := &statement{d: s.dialect}
	if s.measurement != "" {
		st.where(ColumnMeasurement, "=", s.measurement)
	}
	if w.HasFrom() {
		st.where(ColumnTime, ">=", w.From)
	}
	if w.HasTo() {
		st.where(ColumnTime, "<", w.To)
	}
	return s.selectFrom(st), st.args
}

// latestQuery selects the newest value of one field
func (s schema) latestQuery(measurement, field string) (string, []interface{}) {
	st := &statement{d: s.dialect}
	st.where(ColumnMeasurement, "=", measurement)
	st.where(ColumnField, "=", field)
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT 1",
		s.dialect.ident(ColumnValue), s.dialect.ident(s.table), st.clause(), s.dialect.ident(ColumnTime)), st.args
}

// rows flattens a point into one long format row per field
func (s schema) rows(p Point) ([][]interface{}, error) {
	measurement := p.Measurement
	if measurement == "" {
		measurement = s.measurement
	}
	if measurement == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "point has no measurement")
	}
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	out := make([][]interface{}, 0, len(p.Fields))
	for _, field := range sortedKeys(p.Fields) {
		v, err := models.ToFloat64(p.Fields[field])
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeValidation, "field %s is not numeric", field)
		}
		row := []interface{}{ts.UTC(), measurement, field, v}
		for _, tag := range s.tags {
			row = append(row, p.Tags[tag])
		}
		out = append(out, row)
	}
	return out, nil
}

// grouper merges consecutive rows of one timestamp into points. A point is
// complete when the time, measurement or tags change.
type grouper struct {
	s    schema
	cur  *Point
	emit func(Point) error
}

func (g *grouper) add(row map[string]interface{}) error {
	ts, err := toTime(row[ColumnTime])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "row has no usable time")
	}
	measurement := models.ToString(row[ColumnMeasurement])
	if measurement == "" {
		measurement = g.s.measurement
	}
	tags := make(map[string]string, len(g.s.tags))
	for _, t := range g.s.tags {
		if v, ok := row[t]; ok && v != nil {
			tags[t] = models.ToString(v)
		}
	}

	if g.cur != nil && !(g.cur.Time.Equal(ts) && g.cur.Measurement == measurement && sameTags(g.cur.Tags, tags)) {
		if err := g.flush(); err != nil {
			return err
		}
	}
	if g.cur == nil {
		g.cur = &Point{Measurement: measurement, Time: ts, Tags: tags, Fields: make(map[string]interface{})}
	}

	if field, ok := row[ColumnField]; ok {
		g.cur.Fields[models.ToString(field)] = normalize(row[ColumnValue])
		return nil
	}
	// wide rows from string queries: every other column is a field
	for col, v := range row {
		if col == ColumnTime || col == ColumnMeasurement {
			continue
		}
		if _, isTag := tags[col]; isTag {
			continue
		}
		g.cur.Fields[col] = normalize(v)
	}
	return nil
}

func (g *grouper) flush() error {
	if g.cur == nil {
		return nil
	}
	p := *g.cur
	g.cur = nil
	return g.emit(p)
}

func sameTags(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return toTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time %q", t)
	case int64:
		return time.UnixMilli(t), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

// normalize turns driver specific column values into plain Go values
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		s := string(t)
		if f, err := models.ToFloat64(s); err == nil {
			return f
		}
		return s
	case fmt.Stringer:
		if f, err := models.ToFloat64(t.String()); err == nil {
			return f
		}
		return t.String()
	}
	return v
}
