package writer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"fixturefeed/logger"
	"fixturefeed/models"
)

// FixtureRecord is one normalized row as stored in the parquet export.
// Dates are days since the Unix epoch; nil cells stay null.
type FixtureRecord struct {
	Fixture           string   `parquet:"name=fixture, type=BYTE_ARRAY, convertedtype=UTF8"`
	MatchDate         *int32   `parquet:"name=match_date, type=INT32, convertedtype=DATE, repetitiontype=OPTIONAL"`
	RunDate           *int32   `parquet:"name=run_date, type=INT32, convertedtype=DATE, repetitiontype=OPTIONAL"`
	HomeWinPrediction *float64 `parquet:"name=home_win_prediction, type=DOUBLE, repetitiontype=OPTIONAL"`
	DrawPrediction    *float64 `parquet:"name=draw_prediction, type=DOUBLE, repetitiontype=OPTIONAL"`
	AwayWinPrediction *float64 `parquet:"name=away_win_prediction, type=DOUBLE, repetitiontype=OPTIONAL"`
	HomeWinMarket     *float64 `parquet:"name=home_win_market, type=DOUBLE, repetitiontype=OPTIONAL"`
	DrawMarket        *float64 `parquet:"name=draw_market, type=DOUBLE, repetitiontype=OPTIONAL"`
	AwayWinMarket     *float64 `parquet:"name=away_win_market, type=DOUBLE, repetitiontype=OPTIONAL"`
	HomeWinOdds       *float64 `parquet:"name=home_win_odds, type=DOUBLE, repetitiontype=OPTIONAL"`
	DrawOdds          *float64 `parquet:"name=draw_odds, type=DOUBLE, repetitiontype=OPTIONAL"`
	AwayWinOdds       *float64 `parquet:"name=away_win_odds, type=DOUBLE, repetitiontype=OPTIONAL"`
	Line              int32    `parquet:"name=line, type=INT32"`
}

// memoryFile satisfies source.ParquetFile over a growing byte buffer.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (m *memoryFile) Seek(int64, int) (int64, error) {
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }

func (m *memoryFile) Bytes() []byte { return m.buffer.Bytes() }

// ToRecord converts a normalized row into its parquet form.
func ToRecord(row models.NormalizedRow) FixtureRecord {
	return FixtureRecord{
		Fixture:           row.Fixture,
		MatchDate:         epochDays(row.MatchDate),
		RunDate:           epochDays(row.RunDate),
		HomeWinPrediction: row.HomeWinPrediction,
		DrawPrediction:    row.DrawPrediction,
		AwayWinPrediction: row.AwayWinPrediction,
		HomeWinMarket:     row.HomeWinMarket,
		DrawMarket:        row.DrawMarket,
		AwayWinMarket:     row.AwayWinMarket,
		HomeWinOdds:       row.HomeWinOdds,
		DrawOdds:          row.DrawOdds,
		AwayWinOdds:       row.AwayWinOdds,
		Line:              int32(row.Line),
	}
}

func epochDays(t *time.Time) *int32 {
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	days := int32(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
	return &days
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// EncodeTable renders every row of table as a parquet file held in memory.
func EncodeTable(table *models.NormalizedTable, compression string) ([]byte, error) {
	log := logger.GetLogger().WithComponent("parquet_export").WithFields(logger.Fields{
		"rows":        table.Len(),
		"compression": compression,
	})

	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(FixtureRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	if table != nil {
		for _, row := range table.Rows {
			if err := pw.Write(ToRecord(row)); err != nil {
				pw.WriteStop()
				return nil, fmt.Errorf("failed to write parquet record: %w", err)
			}
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	log.WithFields(logger.Fields{"file_size": len(data)}).Debug("parquet export created")
	return data, nil
}
