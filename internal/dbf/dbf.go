// Package dbf reads and appends dBase III tables, the flat-file format the
// QMT terminal uses for its export directory. Text is stored in code page
// 936 (GBK) and is converted to and from UTF-8 at this boundary.
//
// Field names are case-insensitive, as in dBase itself: they are kept
// upper-case, and Record.Get matches a name in any case.
package dbf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Valentin-Kaiser/go-dbase/dbase"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	maxFieldName = 10
	dateLayout   = "20060102"
)

var (
	// ErrNotDBF is returned when a file does not carry a dBase header.
	ErrNotDBF = errors.New("not a dBase table")
	// ErrSchemaMismatch is returned when a record does not fit the table.
	ErrSchemaMismatch = errors.New("record does not match table schema")
)

// Field describes one column of a table.
type Field struct {
	Name     string
	Type     byte // 'C' character, 'N' numeric, 'F' float, 'D' date, 'L' logical
	Length   int
	Decimals int
}

// Record maps upper-case field names to trimmed UTF-8 values.
type Record map[string]string

// Get returns the value of field name, matched case-insensitively.
func (r Record) Get(name string) string {
	if v, ok := r[strings.ToUpper(name)]; ok {
		return v
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Table is a decoded table.
type Table struct {
	Fields  []Field
	Records []Record
}

func config(path string) *dbase.Config {
	return &dbase.Config{
		Filename:   path,
		Converter:  dbase.NewDefaultConverter(simplifiedchinese.GBK),
		TrimSpaces: true,
		Untested:   true,
	}
}

// Column names are not run through the table's converter.
func decodeName(raw string) string {
	name := strings.TrimRight(raw, "\x00 ")
	if !utf8.ValidString(name) {
		if out, err := simplifiedchinese.GBK.NewDecoder().String(name); err == nil {
			name = out
		}
	}
	return strings.ToUpper(strings.TrimSpace(name))
}

func encodeText(s string) []byte {
	out, err := encoding.ReplaceUnsupported(simplifiedchinese.GBK.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func fieldsOf(file *dbase.File) []Field {
	cols := file.Columns()
	fields := make([]Field, 0, len(cols))
	for _, c := range cols {
		fields = append(fields, Field{
			Name:     decodeName(c.Name()),
			Type:     c.DataType,
			Length:   int(c.Length),
			Decimals: int(c.Decimals),
		})
	}
	return fields
}

// ReadFile decodes the table stored at path. The terminal rewrites export
// files in place, so a record cut short by a concurrent write ends the table
// instead of failing the read.
func ReadFile(path string) (*Table, error) {
	complete, err := completeRecords(path)
	if err != nil {
		return nil, err
	}
	file, err := dbase.OpenTable(config(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %v", path, ErrNotDBF, err)
	}
	defer file.Close()

	t := &Table{Fields: fieldsOf(file)}
	if len(t.Fields) == 0 {
		return nil, fmt.Errorf("reading %s: %w: no fields", path, ErrNotDBF)
	}
	for n := 0; n < complete && !file.EOF(); n++ {
		row, err := file.Next()
		if err != nil {
			break
		}
		if row.Deleted {
			continue
		}
		values := row.Values()
		rec := make(Record, len(t.Fields))
		for i, fd := range t.Fields {
			if i >= len(values) {
				break
			}
			rec[fd.Name] = formatValue(values[i], fd)
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// completeRecords returns how many whole records the file at path holds,
// from the header and record lengths stored in its first 12 bytes.
func completeRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	var raw [12]byte
	if _, err := io.ReadFull(f, raw[:]); err != nil {
		return 0, fmt.Errorf("reading %s: %w: %v", path, ErrNotDBF, err)
	}
	headerLen := int64(binary.LittleEndian.Uint16(raw[8:10]))
	recordLen := int64(binary.LittleEndian.Uint16(raw[10:12]))
	if recordLen == 0 || headerLen > st.Size() {
		return 0, fmt.Errorf("reading %s: %w", path, ErrNotDBF)
	}
	return int((st.Size() - headerLen) / recordLen), nil
}

func formatValue(v interface{}, fd Field) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if fd.Type == 'F' && fd.Decimals == 0 {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'f', fd.Decimals, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(dateLayout)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// Appender appends records to a table file, creating it with its field
// layout on first use. It is safe for concurrent use within one process.
type Appender struct {
	mu     sync.Mutex
	path   string
	fields []Field
}

// NewAppender returns an Appender for the table at path. fields is used only
// when the file does not exist yet.
func NewAppender(path string, fields []Field) *Appender {
	return &Appender{path: path, fields: fields}
}

// Path returns the table file the appender writes to.
func (a *Appender) Path() string { return a.path }

// Append writes rec as a new record at the end of the table. Field names in
// rec are matched against the table case-insensitively.
func (a *Appender) Append(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := a.open()
	if err != nil {
		return err
	}
	defer file.Close()

	fields := fieldsOf(file)
	known := make(map[string]int, len(fields))
	for i, fd := range fields {
		known[fd.Name] = i
	}
	values := make([]string, len(fields))
	for name, v := range rec {
		i, ok := known[strings.ToUpper(name)]
		if !ok {
			return fmt.Errorf("%w: unknown field %s", ErrSchemaMismatch, name)
		}
		values[i] = v
	}

	row := file.NewRow()
	for i, fd := range fields {
		v, err := encodeValue(fd, values[i])
		if err != nil {
			return err
		}
		if err := row.Field(i).SetValue(v); err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrSchemaMismatch, fd.Name, err)
		}
	}
	if err := row.Add(); err != nil {
		return fmt.Errorf("writing record to %s: %w", a.path, err)
	}
	return nil
}

func (a *Appender) open() (*dbase.File, error) {
	if _, err := os.Stat(a.path); err == nil {
		file, err := dbase.OpenTable(config(a.path))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w: %v", a.path, ErrNotDBF, err)
		}
		return file, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if len(a.fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrSchemaMismatch)
	}
	cols := make([]*dbase.Column, 0, len(a.fields))
	for _, fd := range a.fields {
		name := encodeText(strings.ToUpper(fd.Name))
		if len(name) > maxFieldName {
			return nil, fmt.Errorf("field name %q longer than %d bytes", fd.Name, maxFieldName)
		}
		col, err := dbase.NewColumn(string(name), dbase.DataType(fd.Type), uint8(fd.Length), uint8(fd.Decimals), false)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		cols = append(cols, col)
	}
	file, err := dbase.NewTable(dbase.FoxBasePlus, config(a.path), cols, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", a.path, err)
	}
	return file, nil
}

// encodeValue converts s to the Go type the column stores. An empty string
// is the column's zero value.
func encodeValue(fd Field, s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	mismatch := func() error {
		return fmt.Errorf("%w: value %q does not fit field %s(%d)", ErrSchemaMismatch, s, fd.Name, fd.Length)
	}
	switch fd.Type {
	case 'N', 'F':
		if len(s) > fd.Length {
			return nil, mismatch()
		}
		if s == "" {
			if fd.Decimals == 0 && fd.Type == 'N' {
				return int64(0), nil
			}
			return float64(0), nil
		}
		if fd.Decimals == 0 && fd.Type == 'N' {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, mismatch()
		}
		if fd.Decimals == 0 && fd.Type == 'N' {
			return int64(f), nil
		}
		return f, nil
	case 'D':
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, mismatch()
		}
		return t, nil
	case 'L':
		if s == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, mismatch()
		}
		return b, nil
	default:
		if len(encodeText(s)) > fd.Length {
			return nil, mismatch()
		}
		return s, nil
	}
}
