package recorder

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inkley/sensorctl/internal/sensor"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", path, err)
	}
	return rows
}

func TestAppend_HeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "data.csv", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 30, 45, 123e6, time.UTC)
	readings := []sensor.Reading{
		{Time: now, Channel: sensor.Pressure1, Value: 12.3},
		{Time: now.Add(time.Second), Channel: sensor.Temperature2, Value: 20.0},
	}
	for _, r := range readings {
		if err := c.Append(r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rows := readRows(t, c.Path())
	if len(rows) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d rows", len(rows))
	}
	if strings.Join(rows[0], ",") != "Timestamp,Channel,Value" {
		t.Errorf("Unexpected header: %v", rows[0])
	}
	if rows[1][1] != "Pressure1" || rows[1][2] != "12.3" {
		t.Errorf("Unexpected first row: %v", rows[1])
	}
	if rows[2][1] != "Temperature2" || rows[2][2] != "20" {
		t.Errorf("Unexpected second row: %v", rows[2])
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z07:00", rows[1][0]); err != nil {
		t.Errorf("Timestamp %q does not parse: %v", rows[1][0], err)
	}
}

func TestOpen_AppendKeepsSingleHeader(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir, "data.csv", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Append(sensor.Reading{Time: time.Now(), Channel: sensor.Pressure1, Value: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening the same file must append, not rewrite the header.
	c, err = Open(dir, "data.csv", 0)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if err := c.Append(sensor.Reading{Time: time.Now(), Channel: sensor.Pressure2, Value: 2}); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rows := readRows(t, c.Path())
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows after reopen, got %d", len(rows))
	}
	headers := 0
	for _, row := range rows {
		if row[0] == "Timestamp" {
			headers++
		}
	}
	if headers != 1 {
		t.Errorf("Expected exactly 1 header row, got %d", headers)
	}
}

func TestOpen_AddsCSVExtension(t *testing.T) {
	c, err := Open(t.TempDir(), "run", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()
	if !strings.HasSuffix(c.Path(), "run.csv") {
		t.Errorf("Path = %q, expected a .csv suffix", c.Path())
	}
}

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	c, err := Open(dir, "data.csv", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()
	if _, err := os.Stat(c.Path()); err != nil {
		t.Errorf("Output file missing: %v", err)
	}
}

func TestAppend_FlushEvery(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "data.csv", 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		if err := c.Append(sensor.Reading{Time: time.Now(), Channel: sensor.Pressure1, Value: float64(i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// The second append crossed the flush threshold, so both rows must be
	// on disk before Close.
	rows := readRows(t, c.Path())
	if len(rows) != 3 {
		t.Errorf("Expected header plus 2 flushed rows, got %d", len(rows))
	}
	if c.Rows() != 2 {
		t.Errorf("Rows() = %d, expected 2", c.Rows())
	}
}
