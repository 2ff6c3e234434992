package format

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// WriteEDN writes an EDN rendering of v: maps with keyword keys, vectors,
// strings, integers, floats, booleans and nil. Field names follow json tags.
func WriteEDN(w io.Writer, v any, pretty bool) error {
	x, err := generic(v)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := ednEncoder{pretty: pretty, indent: 2}
	enc.writeAny(&buf, x, 0)
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

type ednEncoder struct {
	pretty bool
	indent int
}

func (e ednEncoder) writeAny(buf *bytes.Buffer, v any, level int) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("nil")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		buf.WriteString(strconv.Quote(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case []any:
		e.writeVec(buf, t, level)
	case map[string]any:
		e.writeMap(buf, t, level)
	default:
		buf.WriteString(strconv.Quote(fmt.Sprintf("%v", v)))
	}
}

func (e ednEncoder) writeVec(buf *bytes.Buffer, xs []any, level int) {
	buf.WriteByte('[')
	if len(xs) == 0 {
		buf.WriteByte(']')
		return
	}
	for i, it := range xs {
		e.sep(buf, i, level+1)
		e.writeAny(buf, it, level+1)
	}
	e.closeLine(buf, level)
	buf.WriteByte(']')
}

func (e ednEncoder) writeMap(buf *bytes.Buffer, m map[string]any, level int) {
	buf.WriteByte('{')
	if len(m) == 0 {
		buf.WriteByte('}')
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		e.sep(buf, i, level+1)
		buf.WriteByte(':')
		buf.WriteString(ednKeyword(k))
		buf.WriteByte(' ')
		e.writeAny(buf, m[k], level+1)
	}
	e.closeLine(buf, level)
	buf.WriteByte('}')
}

// sep writes what goes before the i-th element of a collection.
func (e ednEncoder) sep(buf *bytes.Buffer, i, level int) {
	if e.pretty {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(" ", level*e.indent))
		return
	}
	if i > 0 {
		buf.WriteByte(' ')
	}
}

func (e ednEncoder) closeLine(buf *bytes.Buffer, level int) {
	if e.pretty {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(" ", level*e.indent))
	}
}

// ednKeyword maps a json key to a keyword name; camelCase keys become
// kebab-case (questionId -> question-id).
func ednKeyword(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == ' ':
			b.WriteByte('-')
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
