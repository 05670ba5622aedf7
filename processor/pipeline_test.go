package processor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"fixturefeed/models"
	"fixturefeed/reader"
)

type fakeSource struct {
	data   []byte
	err    error
	calls  int
	tokens []int64
}

func (f *fakeSource) Fetch(_ context.Context, token int64) ([]byte, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	return f.data, f.err
}

func TestPipelineRun(t *testing.T) {
	src := &fakeSource{data: []byte(feedCSV(arsenalRow()))}
	p := NewPipeline(src, models.FeedSchema)

	table, err := p.Run(context.Background(), 99)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if table.Len() != 1 || table.Rows[0].Fixture != "Arsenal vs Chelsea" {
		t.Fatalf("unexpected table %+v", table)
	}
	if table.Schema.Version != models.FeedSchema.Version {
		t.Fatalf("table not tagged with schema")
	}
	if src.calls != 1 || src.tokens[0] != 99 {
		t.Fatalf("source called %d times with %v", src.calls, src.tokens)
	}
}

func TestPipelineMissingRunDate(t *testing.T) {
	cols := without(models.FeedSchema.Columns(), models.ColRunDate)
	src := &fakeSource{data: []byte(csvFor(cols, arsenalRow()))}
	p := NewPipeline(src, models.FeedSchema)

	table, err := p.Run(context.Background(), 1)
	if table != nil {
		t.Fatalf("no table should be produced on schema failure")
	}
	var mce *MissingColumnsError
	if !errors.As(err, &mce) {
		t.Fatalf("expected MissingColumnsError, got %v", err)
	}
	if !reflect.DeepEqual(mce.Missing, []string{"Run date"}) {
		t.Fatalf("missing = %v", mce.Missing)
	}
	if ErrorKind(err) != KindSchema {
		t.Fatalf("kind = %s", ErrorKind(err))
	}
}

func TestPipelineTransportError(t *testing.T) {
	src := &fakeSource{err: &reader.TransportError{Op: "get", URL: "https://example.com", StatusCode: 503}}
	p := NewPipeline(src, models.FeedSchema)

	table, err := p.Run(context.Background(), 1)
	if table != nil || err == nil {
		t.Fatalf("expected failure, got table=%v err=%v", table, err)
	}
	var te *reader.TransportError
	if !errors.As(err, &te) || te.StatusCode != 503 {
		t.Fatalf("transport error not preserved: %v", err)
	}
	if ErrorKind(err) != KindTransport {
		t.Fatalf("kind = %s", ErrorKind(err))
	}
}

func TestPipelineEmptyFeed(t *testing.T) {
	p := NewPipeline(&fakeSource{data: nil}, models.FeedSchema)

	_, err := p.Run(context.Background(), 1)
	if !errors.Is(err, ErrEmptyFeed) {
		t.Fatalf("expected ErrEmptyFeed, got %v", err)
	}
	if ErrorKind(err) != KindParse {
		t.Fatalf("kind = %s", ErrorKind(err))
	}
}

func TestErrorKind(t *testing.T) {
	if ErrorKind(nil) != "" {
		t.Fatalf("nil error should have no kind")
	}
	if ErrorKind(errors.New("boom")) != KindInternal {
		t.Fatalf("unknown errors should be internal")
	}
}
