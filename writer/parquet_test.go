package writer

import (
	"bytes"
	"testing"
	"time"

	"fixturefeed/models"
)

func TestEncodeTableWritesParquet(t *testing.T) {
	p := 0.55
	d := time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)
	table := &models.NormalizedTable{Rows: []models.NormalizedRow{
		{Fixture: "Arsenal vs Chelsea", MatchDate: &d, HomeWinPrediction: &p, Line: 2},
		{Fixture: "Leeds vs Everton", Line: 3},
	}}

	for _, codec := range []string{"snappy", "gzip", "none"} {
		data, err := EncodeTable(table, codec)
		if err != nil {
			t.Fatalf("EncodeTable(%s): %v", codec, err)
		}
		if len(data) < 8 || !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
			t.Fatalf("%s: output is not a parquet file", codec)
		}
	}
}

func TestEncodeEmptyTable(t *testing.T) {
	data, err := EncodeTable(&models.NormalizedTable{}, "snappy")
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Fatalf("empty export is not a parquet file")
	}
}

func TestToRecordDates(t *testing.T) {
	d := time.Date(1970, time.January, 11, 18, 30, 0, 0, time.UTC)
	rec := ToRecord(models.NormalizedRow{Fixture: "A vs B", RunDate: &d, Line: 9})

	if rec.MatchDate != nil {
		t.Fatalf("nil date should stay null")
	}
	if rec.RunDate == nil || *rec.RunDate != 10 {
		t.Fatalf("run date = %v, want 10 days", rec.RunDate)
	}
	if rec.Line != 9 || rec.Fixture != "A vs B" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
