package record

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	parquet "github.com/parquet-go/parquet-go"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

var testSamples = []stream.Sample{
	{Timestamp: 0.5, Values: []float64{1, 2, 3}},
	{Timestamp: 1.25, Values: []float64{-4, 5.5, 6}},
}

func TestCSVRows(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSV(&buf)
	for _, s := range testSamples {
		if err := sink.Write(context.Background(), s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "1,2,3,0.5\n-4,5.5,6,1.25\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestCSVHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewCSV(io.Discard).Write(ctx, testSamples[0]); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rec.db")
	sink, err := OpenSQLite(ctx, path, "test")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for _, s := range testSamples {
		if err := sink.Write(ctx, s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	session := sink.Session()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM samples WHERE Session = ?`, session).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 6 {
		t.Fatalf("expected 6 rows, got %d", count)
	}

	var ts, value float64
	if err := db.QueryRow(`SELECT Timestamp, Value FROM samples WHERE Seq = 1 AND Channel = 1`).Scan(&ts, &value); err != nil {
		t.Fatalf("select: %v", err)
	}
	if ts != 1.25 || value != 5.5 {
		t.Fatalf("unexpected row ts=%v value=%v", ts, value)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewParquet(&buf, "test")
	for _, s := range testSamples {
		if err := sink.Write(context.Background(), s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if sink.Rows() != 2 {
		t.Fatalf("expected 2 rows, got %d", sink.Rows())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	gr := parquet.NewGenericReader[Row](bytes.NewReader(buf.Bytes()))
	defer gr.Close()
	rows := make([]Row, 4)
	n, err := gr.Read(rows)
	if err != nil && err != io.EOF {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	if rows[1].Timestamp != 1.25 || rows[1].Source != "test" || len(rows[1].Values) != 3 || rows[1].Values[1] != 5.5 {
		t.Fatalf("unexpected row %+v", rows[1])
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) Write(context.Context, stream.Sample) error { return errors.New("disk full") }
func (f *failingSink) Close() error                               { f.closed = true; return nil }

func TestMultiContinuesPastFailure(t *testing.T) {
	var buf bytes.Buffer
	bad := &failingSink{}
	m := Multi{bad, NewCSV(&buf)}
	err := m.Write(context.Background(), testSamples[0])
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("healthy sink should still receive the sample")
	}
	if err := m.Close(); err != nil || !bad.closed {
		t.Fatalf("Close: %v closed=%v", err, bad.closed)
	}
}

func TestCounts(t *testing.T) {
	var c Counts
	c.Add(nil)
	c.Add(errors.New("x"))
	c.Add(nil)
	if c != (Counts{Error: 1, Success: 2, Total: 3}) {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, Options{Kind: "none"})
	if err != nil || sink != nil {
		t.Fatalf("none should yield no sink, got %v %v", sink, err)
	}
	if _, err := Open(ctx, Options{Kind: "tape"}); err == nil {
		t.Fatalf("expected error for unknown sink")
	}
	dir := t.TempDir()
	sink, err = Open(ctx, Options{Kind: "csv", Dir: dir, Source: "eeg"})
	if err != nil {
		t.Fatalf("Open csv: %v", err)
	}
	defer sink.Close()
	matches, _ := filepath.Glob(filepath.Join(dir, "eeg_File_*.csv"))
	if len(matches) != 1 {
		t.Fatalf("expected default-named csv file, got %v", matches)
	}
}

func TestOpenURLNamedSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, kind := range []string{"csv", "parquet", "sqlite"} {
		sink, err := Open(ctx, Options{Kind: kind, Dir: dir, Source: "ws://127.0.0.1:9000/stream"})
		if err != nil {
			t.Fatalf("Open %s: %v", kind, err)
		}
		if err := sink.Write(ctx, testSamples[0]); err != nil {
			t.Fatalf("%s write: %v", kind, err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("%s close: %v", kind, err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "ws___127.0.0.1_9000_stream_File_*"))
	if len(matches) != 3 {
		t.Fatalf("expected three files directly in dir, got %v", matches)
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"":                 "neurosurf",
		"eeg":              "eeg",
		"10.0.0.2:9000":    "10.0.0.2_9000",
		"ws://host:1/a/b":  "ws___host_1_a_b",
		"../../etc/passwd": "etc_passwd",
		"Muse S (2)":       "Muse_S__2",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLConfig{Addr: "127.0.0.1:3306", User: "u", Password: "p", DBName: "neurosurf"}.DSN()
	if !strings.HasPrefix(dsn, "u:p@tcp(127.0.0.1:3306)/neurosurf") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}
