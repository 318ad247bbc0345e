// Package recorder appends decoded readings to CSV files, one row per
// reading.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inkley/sensorctl/internal/sensor"
)

// Timestamps are written with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var header = []string{"Timestamp", "Channel", "Value"}

// CSV writes readings to one file in append mode. The header is written
// only when the file is new. Appends come from a single goroutine, the
// active run's reader.
type CSV struct {
	path       string
	file       *os.File
	w          *csv.Writer
	rows       int
	flushEvery int
}

// Open creates the output directory if needed and opens dir/name for
// appending. A missing .csv extension is added.
func Open(dir, name string, flushEvery int) (*CSV, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		name += ".csv"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)

	needHeader := false
	if info, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		needHeader = true
	} else if err == nil && info.Size() == 0 {
		needHeader = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	c := &CSV{
		path:       path,
		file:       file,
		w:          csv.NewWriter(file),
		flushEvery: flushEvery,
	}
	if c.flushEvery <= 0 {
		c.flushEvery = 1000
	}
	if needHeader {
		if err := c.w.Write(header); err == nil {
			c.w.Flush()
		}
		if err := c.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header to %s: %w", path, err)
		}
	}
	return c, nil
}

// Append writes one reading as a row. Rows are flushed to disk every
// flushEvery appends; the rest ride in the writer buffer until Close.
func (c *CSV) Append(r sensor.Reading) error {
	row := []string{
		r.Time.Format(timeLayout),
		string(r.Channel),
		strconv.FormatFloat(r.Value, 'g', -1, 64),
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write row to %s: %w", c.path, err)
	}
	c.rows++
	if c.rows%c.flushEvery == 0 {
		c.w.Flush()
		if err := c.w.Error(); err != nil {
			return fmt.Errorf("flush %s: %w", c.path, err)
		}
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (c *CSV) Close() error {
	c.w.Flush()
	werr := c.w.Error()
	cerr := c.file.Close()
	if werr != nil {
		return fmt.Errorf("flush %s: %w", c.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", c.path, cerr)
	}
	return nil
}

// Path returns the full output path.
func (c *CSV) Path() string {
	return c.path
}

// Rows returns how many data rows have been appended since Open.
func (c *CSV) Rows() int {
	return c.rows
}

var _ sensor.ReadingSink = (*CSV)(nil)
