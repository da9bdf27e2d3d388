package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tag is one ordered tag pair of a line point.
type Tag struct {
	Key   string
	Value string
}

// Field is one ordered numeric field. Unsigned fields are written as bare
// integers, others as the shortest decimal that round-trips.
type Field struct {
	Key      string
	Value    float64
	Unsigned bool
}

// LinePoint is a single line-protocol point without timestamp; the sink
// assigns write time.
type LinePoint struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	keyEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
)

func (f Field) format() string {
	if f.Unsigned {
		return strconv.FormatUint(uint64(f.Value), 10)
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// String renders the point as one line of line protocol.
func (p LinePoint) String() string {
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Measurement))
	for _, t := range p.Tags {
		b.WriteByte(',')
		b.WriteString(keyEscaper.Replace(t.Key))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(t.Value))
	}
	for i, f := range p.Fields {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(f.Key))
		b.WriteByte('=')
		b.WriteString(f.format())
	}
	return b.String()
}

// FieldValues returns the numeric fields keyed by name.
func (p LinePoint) FieldValues() map[string]float64 {
	out := make(map[string]float64, len(p.Fields))
	for _, f := range p.Fields {
		out[f.Key] = f.Value
	}
	return out
}

var ErrInvalidLine = errors.New("invalid line protocol")

// ParseLinePoint reads back a line produced by LinePoint.String. A
// trailing timestamp, if present, is ignored.
func ParseLinePoint(line string) (LinePoint, error) {
	sections := splitUnescaped(strings.TrimSpace(line), ' ')
	if len(sections) < 2 || len(sections) > 3 {
		return LinePoint{}, fmt.Errorf("%w: expected key and field sections", ErrInvalidLine)
	}

	keyParts := splitUnescaped(sections[0], ',')
	p := LinePoint{Measurement: unescape(keyParts[0])}
	if p.Measurement == "" {
		return LinePoint{}, fmt.Errorf("%w: empty measurement", ErrInvalidLine)
	}

	for _, kv := range keyParts[1:] {
		pair := splitUnescaped(kv, '=')
		if len(pair) != 2 {
			return LinePoint{}, fmt.Errorf("%w: bad tag %q", ErrInvalidLine, kv)
		}
		p.Tags = append(p.Tags, Tag{Key: unescape(pair[0]), Value: unescape(pair[1])})
	}

	for _, kv := range splitUnescaped(sections[1], ',') {
		pair := splitUnescaped(kv, '=')
		if len(pair) != 2 {
			return LinePoint{}, fmt.Errorf("%w: bad field %q", ErrInvalidLine, kv)
		}
		f, err := parseField(unescape(pair[0]), pair[1])
		if err != nil {
			return LinePoint{}, err
		}
		p.Fields = append(p.Fields, f)
	}
	return p, nil
}

func parseField(key, raw string) (Field, error) {
	text := strings.TrimRight(raw, "iu")
	if u, err := strconv.ParseUint(text, 10, 64); err == nil {
		return Field{Key: key, Value: float64(u), Unsigned: true}, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Field{}, fmt.Errorf("%w: field %q is not numeric: %q", ErrInvalidLine, key, raw)
	}
	return Field{Key: key, Value: v}, nil
}

// splitUnescaped splits s on sep, skipping separators preceded by a backslash.
// Escapes are kept in the returned parts.
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
