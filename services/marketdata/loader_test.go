package marketdata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtest-service/services/engine"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, `date,open,high,low,close,volume
2024-01-02,100,105,99,104,10000
2024-01-03,104,106,103,105,12000
2024-01-04,105,107,104,106,9000
`)

	bars, err := NewLoader(nil).LoadCSV(path, "005930")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if bars[0].Symbol != "005930" {
		t.Fatalf("symbol = %s", bars[0].Symbol)
	}
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !bars[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", bars[0].Timestamp, want)
	}
	if want := decimal.RequireFromString("104"); !bars[0].Close.Equal(want) {
		t.Fatalf("close = %s, want %s", bars[0].Close, want)
	}
}

func TestLoadCSVSortsAndDeduplicates(t *testing.T) {
	path := writeCSV(t, `2024-01-04,105,107,104,106,9000
2024-01-02,100,105,99,104,10000
2024-01-02,101,105,100,103,11000
2024-01-03,104,106,103,105,12000
`)

	bars, err := NewLoader(nil).LoadCSV(path, "005930")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3 after dedup", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Fatalf("bars not strictly ascending at %d", i)
		}
	}
	// The later occurrence of the duplicated day wins.
	if want := decimal.RequireFromString("103"); !bars[0].Close.Equal(want) {
		t.Fatalf("deduped close = %s, want %s", bars[0].Close, want)
	}
}

func TestLoadCSVSkipsMalformedRows(t *testing.T) {
	path := writeCSV(t, `2024-01-02,100,105,99,104,10000
not-a-date,1,2,3,4,5
2024-01-03,104,abc,103,105,12000
2024-01-04,105,107,104,106,
`)

	bars, err := NewLoader(nil).LoadCSV(path, "005930")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	// Missing volume falls back to zero instead of dropping the row.
	if !bars[1].Volume.IsZero() {
		t.Fatalf("volume = %s, want 0", bars[1].Volume)
	}
}

func TestLoadCSVEmptyFile(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\n")
	if _, err := NewLoader(nil).LoadCSV(path, "005930"); err == nil {
		t.Fatal("expected error on a file with no usable rows")
	}
}

func TestLoadCSVUTF8BOMHeader(t *testing.T) {
	path := writeCSV(t, "\uFEFFdate,open,high,low,close,volume\n2024-01-02,100,105,99,104,10000\n")

	bars, err := NewLoader(nil).LoadCSV(path, "005930")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}
}

func TestLoadCSVUTF16(t *testing.T) {
	content := "date,open,high,low,close,volume\n2024-01-02,100,105,99,104,10000\n"

	// UTF-16LE with BOM, the way spreadsheet exports arrive.
	encoded := []byte{0xFF, 0xFE}
	for _, r := range content {
		encoded = append(encoded, byte(r), byte(r>>8))
	}
	path := filepath.Join(t.TempDir(), "bars_utf16.csv")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	bars, err := NewLoader(nil).LoadCSV(path, "005930")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}
	if want := decimal.RequireFromString("104"); !bars[0].Close.Equal(want) {
		t.Fatalf("close = %s, want %s", bars[0].Close, want)
	}
}

func TestDetectGaps(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	mk := func(day int) engine.Bar {
		return engine.Bar{Symbol: "005930", Timestamp: base.AddDate(0, 0, day)}
	}

	// Mon..Fri, weekend, Mon, then a nine-day hole.
	bars := []engine.Bar{mk(0), mk(1), mk(2), mk(3), mk(4), mk(7), mk(16)}
	gaps := DetectGaps(bars, 0)
	if len(gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(gaps))
	}
	if gaps[0].Days != 9 {
		t.Fatalf("gap days = %d, want 9", gaps[0].Days)
	}
	if !gaps[0].From.Equal(mk(7).Timestamp) || !gaps[0].To.Equal(mk(16).Timestamp) {
		t.Fatalf("gap span = %s..%s", gaps[0].From, gaps[0].To)
	}
}
