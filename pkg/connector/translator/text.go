package translator

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// TextPattern translates text lines into records using a regular expression
// with named groups, and records back into text using a template with
// {field} placeholders. Captured values that parse as numbers or booleans
// are stored typed.
type TextPattern struct {
	source   string
	pattern  *regexp.Regexp
	template string
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// NewTextPattern compiles pattern. The template may be empty for a
// read-only translator.
func NewTextPattern(source, pattern, template string) (*TextPattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid text pattern %q", pattern)
	}
	named := 0
	for _, name := range re.SubexpNames() {
		if name != "" {
			named++
		}
	}
	if named == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "text pattern %q has no named groups", pattern)
	}
	return &TextPattern{source: source, pattern: re, template: template}, nil
}

func (t *TextPattern) SourceType() reflect.Type { return reflect.TypeOf((*string)(nil)).Elem() }
func (t *TextPattern) TargetType() reflect.Type { return reflect.TypeOf((**models.Record)(nil)).Elem() }

// From parses a line. A line not matching the pattern is a translation error.
func (t *TextPattern) From(native string) (*models.Record, error) {
	line := strings.TrimRight(native, "\r\n")
	match := t.pattern.FindStringSubmatch(line)
	if match == nil {
		return nil, errors.NewTranslation(
			errors.Newf(errors.ErrorTypeValidation, "line %q does not match %s", line, t.pattern), "string", "*models.Record")
	}
	rec := models.NewRecord(t.source, nil)
	for i, name := range t.pattern.SubexpNames() {
		if name == "" {
			continue
		}
		rec.Set(name, coerceText(match[i]))
	}
	return rec, nil
}

// To renders the record through the template
func (t *TextPattern) To(platform *models.Record) (string, error) {
	if t.template == "" {
		return "", unsupported[string, *models.Record]("to")
	}
	if platform == nil {
		return "", errors.NewTranslation(nil, "*models.Record(nil)", "string")
	}
	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := platform.GetString(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", errors.NewTranslation(
			errors.Newf(errors.ErrorTypeValidation, "record lacks fields %s", strings.Join(missing, ", ")), "*models.Record", "string")
	}
	return out, nil
}

func coerceText(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}
