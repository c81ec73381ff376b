package record

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	parquet "github.com/parquet-go/parquet-go"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

// Row is the parquet schema for one recorded sample.
type Row struct {
	Source    string    `parquet:"source"`
	Timestamp float64   `parquet:"timestamp"`
	Values    []float64 `parquet:"values"`
}

// Parquet buffers rows in a generic writer. Rows become readable once the
// file is closed.
type Parquet struct {
	mu     sync.Mutex
	pw     *parquet.GenericWriter[Row]
	source string
	closer io.Closer
	count  int
}

// NewParquet writes snappy-compressed rows to w. Close does not close w.
func NewParquet(w io.Writer, source string) *Parquet {
	return &Parquet{
		pw:     parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Snappy)),
		source: source,
	}
}

// CreateParquet creates (or truncates) path.
func CreateParquet(path, source string) (*Parquet, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create parquet file %q: %w", path, err)
	}
	p := NewParquet(f, source)
	p.closer = f
	return p, nil
}

func (p *Parquet) Write(ctx context.Context, s stream.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := Row{Source: p.source, Timestamp: s.Timestamp, Values: append([]float64(nil), s.Values...)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.pw.Write([]Row{row}); err != nil {
		return fmt.Errorf("error writing parquet row: %w", err)
	}
	p.count++
	return nil
}

// Rows reports how many rows were written.
func (p *Parquet) Rows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Parquet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.pw.Close()
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
		p.closer = nil
	}
	return err
}
