package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ruralpay/ledger/internal/models"
)

type ImportFormat string

const (
	FormatCSV  ImportFormat = "csv"
	FormatJSON ImportFormat = "json"
)

// importField maps one canonical column to the header spellings accepted
// for it. Both the CSV and JSON readers build rows from this table.
type importField struct {
	canonical string
	aliases   []string
}

var importFields = []importField{
	{canonical: FieldAccountID, aliases: []string{"account_id", "accountid", "account"}},
	{canonical: FieldAmount, aliases: []string{"amount"}},
	{canonical: "description", aliases: []string{"description", "desc"}},
	{canonical: FieldTransactionType, aliases: []string{"transaction_type", "type", "transactiontype"}},
	{canonical: FieldCreatedAt, aliases: []string{"created_at", "date", "createdat"}},
}

var fieldByAlias = func() map[string]string {
	m := make(map[string]string)
	for _, f := range importFields {
		for _, a := range f.aliases {
			m[a] = f.canonical
		}
	}
	return m
}()

// canonicalField resolves a header to its canonical name. Matching ignores
// case and treats spaces and hyphens as underscores.
func canonicalField(header string) (string, bool) {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	name, ok := fieldByAlias[h]
	return name, ok
}

// RawRow is one parsed record keyed by canonical field name. Line is the
// 1-based data row number used in error reports.
type RawRow struct {
	Line   int
	Fields map[string]string
}

func (r RawRow) Get(field string) string {
	return strings.TrimSpace(r.Fields[field])
}

// DetectFormat picks the reader from the file extension. txt files are read
// as CSV.
func DetectFormat(filename string) (ImportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "csv", "txt":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", models.NewLedgerError(models.CodeUnsupportedFormat, "file",
		fmt.Sprintf("unsupported file type %q: use .csv, .txt or .json", filepath.Ext(filename)))
}

func ParseImport(r io.Reader, format ImportFormat) ([]RawRow, error) {
	switch format {
	case FormatCSV:
		return parseCSV(r)
	case FormatJSON:
		return parseJSON(r)
	}
	return nil, models.NewLedgerError(models.CodeUnsupportedFormat, "file", fmt.Sprintf("unsupported format %q", format))
}

func malformed(format string, err error) error {
	return &models.LedgerError{
		Code:    models.CodeUnsupportedFormat,
		Field:   "file",
		Message: fmt.Sprintf("malformed %s file: %v", format, err),
		Err:     err,
	}
}

func parseCSV(r io.Reader) ([]RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, models.NewLedgerError(models.CodeUnsupportedFormat, "file", "CSV file is empty; a header row is required")
	}
	if err != nil {
		return nil, malformed("CSV", err)
	}

	columns := make([]string, len(header))
	known := 0
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if name, ok := canonicalField(h); ok {
			columns[i] = name
			known++
		}
	}
	if known == 0 {
		return nil, models.NewLedgerError(models.CodeUnsupportedFormat, "file",
			"CSV header has no recognised columns; expected account_id, amount, description, transaction_type, created_at")
	}

	var rows []RawRow
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("CSV", err)
		}
		if blankRecord(record) {
			line--
			continue
		}

		row := RawRow{Line: line, Fields: make(map[string]string, len(importFields))}
		for i, value := range record {
			if i < len(columns) && columns[i] != "" {
				row.Fields[columns[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseJSON accepts a top-level array of objects or a single object.
func parseJSON(r io.Reader) ([]RawRow, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, models.NewLedgerError(models.CodeUnsupportedFormat, "file", "JSON file is empty")
	}
	if err != nil {
		return nil, malformed("JSON", err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	var objects []map[string]any
	switch first {
	case '[':
		if err := dec.Decode(&objects); err != nil {
			return nil, malformed("JSON", err)
		}
	case '{':
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, malformed("JSON", err)
		}
		objects = append(objects, obj)
	default:
		return nil, models.NewLedgerError(models.CodeUnsupportedFormat, "file", "JSON file must contain an object or an array of objects")
	}

	rows := make([]RawRow, 0, len(objects))
	for i, obj := range objects {
		row := RawRow{Line: i + 1, Fields: make(map[string]string, len(importFields))}
		for key, value := range obj {
			if name, ok := canonicalField(key); ok {
				row.Fields[name] = jsonScalar(value)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

func jsonScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// ImportTemplate returns the downloadable CSV template.
func ImportTemplate() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.WriteAll([][]string{
		{"account_id", "amount", "description", "transaction_type", "created_at"},
		{"1", "250.00", "Salary", "deposit", "2024-01-15"},
		{"1", "42.50", "Groceries", "withdrawal", "2024-01-16"},
		{"2", "1000.00", "Savings top-up", "deposit", "2024-01-17T09:30:00Z"},
	})
	return buf.Bytes()
}
