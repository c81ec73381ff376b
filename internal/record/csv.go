package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

// DefaultPath names a recording <source>_File_<unix>.<ext> inside dir.
func DefaultPath(dir, source, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_File_%d.%s", SafeName(source), time.Now().Unix(), ext))
}

// SafeName turns a stream name, which may be a URL or host:port, into a
// single file name component.
func SafeName(source string) string {
	name := strings.Trim(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, source), "_.")
	if name == "" {
		return "neurosurf"
	}
	return name
}

// CSV writes one row per sample: the channel values followed by the
// timestamp. There is no header row.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes to w. Close does not close w.
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

// CreateCSV creates (or truncates) path.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create CSV file %q: %w", path, err)
	}
	c := NewCSV(f)
	c.closer = f
	return c, nil
}

func (c *CSV) Write(ctx context.Context, s stream.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := make([]string, 0, len(s.Values)+1)
	for _, v := range s.Values {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	row = append(row, strconv.FormatFloat(s.Timestamp, 'g', -1, 64))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("error while writing CSV line: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}
