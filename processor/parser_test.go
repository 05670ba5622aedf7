package processor

import (
	"errors"
	"reflect"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestParseCleansHeader(t *testing.T) {
	data := "\ufeff Fixture ,Date of match\t\nArsenal vs Chelsea,01-11-25\n"

	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := []string{"Fixture", "Date of match"}; !reflect.DeepEqual(frame.Columns, want) {
		t.Fatalf("columns = %q, want %q", frame.Columns, want)
	}
	if len(frame.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(frame.Records))
	}
	rec := frame.Records[0]
	if rec.Line != 2 {
		t.Fatalf("record line = %d, want 2", rec.Line)
	}
	if v, _ := rec.Get("Date of match"); v != "01-11-25" {
		t.Fatalf("unexpected date cell %q", v)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	data := "Fixture,Score\n" +
		"A vs B,1\n" +
		"too,many,fields\n" +
		"short\n" +
		"C \"bad\" D,2\n" +
		"\n" +
		"E vs F,3\n"

	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if frame.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", frame.Skipped)
	}
	if len(frame.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(frame.Records))
	}
	if v, _ := frame.Records[2].Get("Fixture"); v != "E vs F" {
		t.Fatalf("unexpected last fixture %q", v)
	}
	if frame.Records[2].Line != 7 {
		t.Fatalf("last record line = %d, want 7", frame.Records[2].Line)
	}
}

func TestParseKeepsBareQuotesInFixture(t *testing.T) {
	data := "Fixture,Date of match\n" +
		"Brighton \"Seagulls\" vs Spurs,01-11-25\n" +
		"Arsenal vs Chelsea,02-11-25\n"

	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if frame.Skipped != 0 || len(frame.Records) != 2 {
		t.Fatalf("skipped=%d records=%d, want 0 and 2", frame.Skipped, len(frame.Records))
	}
	if v, _ := frame.Records[0].Get("Fixture"); v != `Brighton "Seagulls" vs Spurs` {
		t.Fatalf("fixture = %q", v)
	}
}

func TestParseKeepsLiteralReplacementRune(t *testing.T) {
	data := "Fixture,Date of match\nM\uFFFDnchen vs Spurs,01-11-25\n"

	frame, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if frame.Skipped != 0 || len(frame.Records) != 1 {
		t.Fatalf("skipped=%d records=%d, want 0 and 1", frame.Skipped, len(frame.Records))
	}
	if v, _ := frame.Records[0].Get("Fixture"); v != "M\uFFFDnchen vs Spurs" {
		t.Fatalf("fixture = %q", v)
	}
}

func TestParseDropsUndecodableLines(t *testing.T) {
	data := []byte("Fixture,Score\nA vs B,1\nbad \xff\xfe bytes,2\nC vs D,3\n")

	frame, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if frame.Skipped != 1 || len(frame.Records) != 2 {
		t.Fatalf("skipped=%d records=%d, want 1 and 2", frame.Skipped, len(frame.Records))
	}
}

func TestParseUTF16WithBOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.Bytes([]byte("Fixture,Score\nA vs B,1\n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if frame.Columns[0] != "Fixture" || len(frame.Records) != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestParseEmptyFeed(t *testing.T) {
	for _, data := range []string{"", "\ufeff", "\n\n", "   \n"} {
		if _, err := Parse([]byte(data)); !errors.Is(err, ErrEmptyFeed) {
			t.Errorf("Parse(%q) error = %v, want ErrEmptyFeed", data, err)
		}
	}
}

func TestParseMalformedHeader(t *testing.T) {
	if _, err := Parse([]byte("Fix\xffture,Score\nA,1\n")); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	frame, err := Parse([]byte("Fixture,Score\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frame.Records) != 0 || frame.Skipped != 0 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
