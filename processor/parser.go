package processor

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"fixturefeed/models"
)

var (
	// ErrEmptyFeed means the feed had no header row at all.
	ErrEmptyFeed = errors.New("feed is empty")
	// ErrMalformedHeader means the header row itself could not be decoded.
	ErrMalformedHeader = errors.New("feed header is malformed")
)

const bom = "\ufeff"

// Parse decodes a comma separated feed into raw records. A leading byte
// order mark is honoured (UTF-8 or UTF-16). Quotes inside unquoted fields
// are kept as literal text. Lines with a CSV syntax error, the wrong number
// of fields, or bytes that are not valid UTF-8 are dropped and counted in
// RawFrame.Skipped. Blank lines are ignored.
func Parse(data []byte) (*models.RawFrame, error) {
	r := csv.NewReader(decodeFeed(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFeed
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if !validText(header) {
		return nil, fmt.Errorf("%w: header is not valid UTF-8", ErrMalformedHeader)
	}
	columns := cleanHeader(header)
	if len(columns) == 1 && columns[0] == "" {
		return nil, ErrEmptyFeed
	}

	frame := &models.RawFrame{Columns: columns}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				frame.Skipped++
				continue
			}
			return nil, fmt.Errorf("read feed: %w", err)
		}
		if len(record) != len(columns) || !validText(record) {
			frame.Skipped++
			continue
		}

		line, _ := r.FieldPos(0)
		fields := make([]models.RawField, len(record))
		for i, v := range record {
			fields[i] = models.RawField{Name: columns[i], Value: v}
		}
		frame.Records = append(frame.Records, models.RawRecord{Line: line, Fields: fields})
	}

	return frame, nil
}

// decodeFeed strips a UTF-8 byte order mark and transcodes UTF-16 input.
// Anything else is passed through untouched so invalid byte sequences can
// still be told apart from a literal U+FFFD.
func decodeFeed(data []byte) io.Reader {
	data = bytes.TrimPrefix(data, []byte(bom))
	return transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(transform.Nop))
}

func cleanHeader(header []string) []string {
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(strings.ReplaceAll(name, bom, ""))
	}
	return columns
}

func validText(record []string) bool {
	for _, v := range record {
		if !utf8.ValidString(v) {
			return false
		}
	}
	return true
}
