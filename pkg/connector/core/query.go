package core

import (
	"regexp"
	"time"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// TriggerQuery describes what a driven connector shall fetch next. The set of
// variants is closed: PatternTriggerQuery, StringTriggerQuery and
// SimpleTimeseriesQuery.
type TriggerQuery interface {
	Kind() QueryKind
	// Delay is the fixed delay between delivered results, 0 for the
	// connector's default pacing
	Delay() time.Duration
	isTriggerQuery()
}

type queryDelay struct {
	delay time.Duration
}

func (q queryDelay) Delay() time.Duration { return q.delay }
func (queryDelay) isTriggerQuery()        {}

func newQueryDelay(delay time.Duration) (queryDelay, error) {
	if delay < 0 {
		return queryDelay{}, errors.Newf(errors.ErrorTypeValidation, "negative trigger delay %s", delay)
	}
	return queryDelay{delay: delay}, nil
}

// PatternTriggerQuery selects data on textual channels matching a regular expression
type PatternTriggerQuery struct {
	queryDelay
	pattern *regexp.Regexp
}

// NewPatternTriggerQuery compiles pattern into a query
func NewPatternTriggerQuery(pattern string, delay time.Duration) (*PatternTriggerQuery, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid trigger pattern")
	}
	d, err := newQueryDelay(delay)
	if err != nil {
		return nil, err
	}
	return &PatternTriggerQuery{queryDelay: d, pattern: re}, nil
}

func (q *PatternTriggerQuery) Kind() QueryKind         { return QueryKindPattern }
func (q *PatternTriggerQuery) Pattern() *regexp.Regexp { return q.pattern }

// Matches reports whether text matches the query pattern
func (q *PatternTriggerQuery) Matches(text string) bool {
	return q.pattern.MatchString(text)
}

// StringTriggerQuery carries an opaque query interpreted by the target system
type StringTriggerQuery struct {
	queryDelay
	query string
}

// NewStringTriggerQuery creates a query from its native text
func NewStringTriggerQuery(query string, delay time.Duration) (*StringTriggerQuery, error) {
	d, err := newQueryDelay(delay)
	if err != nil {
		return nil, err
	}
	return &StringTriggerQuery{queryDelay: d, query: query}, nil
}

func (q *StringTriggerQuery) Kind() QueryKind { return QueryKindString }
func (q *StringTriggerQuery) Query() string   { return q.query }

// TimeKind qualifies the start or end value of a SimpleTimeseriesQuery
type TimeKind int

const (
	// TimeUnspecified leaves the bound open
	TimeUnspecified TimeKind = iota
	// TimeAbsolute interprets the value as unix seconds
	TimeAbsolute
	TimeRelativeWeeks
	TimeRelativeDays
	TimeRelativeHours
	TimeRelativeMinutes
	TimeRelativeSeconds
	TimeRelativeMilliseconds
	TimeRelativeMicroseconds
)

var timeKindNames = map[TimeKind]string{
	TimeUnspecified:          "UNSPECIFIED",
	TimeAbsolute:             "ABSOLUTE",
	TimeRelativeWeeks:        "RELATIVE_WEEKS",
	TimeRelativeDays:         "RELATIVE_DAYS",
	TimeRelativeHours:        "RELATIVE_HOURS",
	TimeRelativeMinutes:      "RELATIVE_MINUTES",
	TimeRelativeSeconds:      "RELATIVE_SECONDS",
	TimeRelativeMilliseconds: "RELATIVE_MILLISECONDS",
	TimeRelativeMicroseconds: "RELATIVE_MICROSECONDS",
}

// String returns the kind name
func (k TimeKind) String() string {
	if n, ok := timeKindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseTimeKind parses a kind name as returned by String
func ParseTimeKind(name string) (TimeKind, error) {
	for k, n := range timeKindNames {
		if n == name {
			return k, nil
		}
	}
	return TimeUnspecified, errors.Newf(errors.ErrorTypeValidation, "unknown time kind %q", name)
}

// Unit returns the duration of one relative unit, 0 for non-relative kinds
func (k TimeKind) Unit() time.Duration {
	switch k {
	case TimeRelativeWeeks:
		return 7 * 24 * time.Hour
	case TimeRelativeDays:
		return 24 * time.Hour
	case TimeRelativeHours:
		return time.Hour
	case TimeRelativeMinutes:
		return time.Minute
	case TimeRelativeSeconds:
		return time.Second
	case TimeRelativeMilliseconds:
		return time.Millisecond
	case TimeRelativeMicroseconds:
		return time.Microsecond
	default:
		return 0
	}
}

// Resolve turns value of kind into an absolute time relative to now. The
// second result is false for TimeUnspecified.
func (k TimeKind) Resolve(value int, now time.Time) (time.Time, bool) {
	switch k {
	case TimeUnspecified:
		return time.Time{}, false
	case TimeAbsolute:
		return time.Unix(int64(value), 0), true
	default:
		return now.Add(time.Duration(value) * k.Unit()), true
	}
}

// SimpleTimeseriesQuery requests the values within a time window
type SimpleTimeseriesQuery struct {
	queryDelay
	start     int
	startKind TimeKind
	end       int
	endKind   TimeKind
}

// NewSimpleTimeseriesQuery creates a time window query
func NewSimpleTimeseriesQuery(start int, startKind TimeKind, end int, endKind TimeKind, delay time.Duration) (*SimpleTimeseriesQuery, error) {
	if startKind < TimeUnspecified || startKind > TimeRelativeMicroseconds ||
		endKind < TimeUnspecified || endKind > TimeRelativeMicroseconds {
		return nil, errors.New(errors.ErrorTypeValidation, "unknown time kind")
	}
	d, err := newQueryDelay(delay)
	if err != nil {
		return nil, err
	}
	return &SimpleTimeseriesQuery{
		queryDelay: d,
		start:      start,
		startKind:  startKind,
		end:        end,
		endKind:    endKind,
	}, nil
}

func (q *SimpleTimeseriesQuery) Kind() QueryKind     { return QueryKindTimeseries }
func (q *SimpleTimeseriesQuery) Start() int          { return q.start }
func (q *SimpleTimeseriesQuery) StartKind() TimeKind { return q.startKind }
func (q *SimpleTimeseriesQuery) End() int            { return q.end }
func (q *SimpleTimeseriesQuery) EndKind() TimeKind   { return q.endKind }

// TimeWindow is a resolved query range; a zero bound is open
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// HasFrom reports whether the lower bound is set
func (w TimeWindow) HasFrom() bool { return !w.From.IsZero() }

// HasTo reports whether the upper bound is set
func (w TimeWindow) HasTo() bool { return !w.To.IsZero() }

// Contains reports whether t lies in [From, To)
func (w TimeWindow) Contains(t time.Time) bool {
	if w.HasFrom() && t.Before(w.From) {
		return false
	}
	if w.HasTo() && !t.Before(w.To) {
		return false
	}
	return true
}

// Resolve computes the concrete window at now. Only when both kinds are
// specified is the window bounded; otherwise the whole series is selected.
func (q *SimpleTimeseriesQuery) Resolve(now time.Time) TimeWindow {
	if q.startKind == TimeUnspecified || q.endKind == TimeUnspecified {
		return TimeWindow{}
	}
	from, _ := q.startKind.Resolve(q.start, now)
	to, _ := q.endKind.Resolve(q.end, now)
	return TimeWindow{From: from, To: to}
}
