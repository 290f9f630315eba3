package marketdata

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"backtest-service/services/engine"
)

// Loader reads daily OHLCV series from CSV files. Malformed rows are
// skipped and counted rather than failing the whole file; real vendor
// exports routinely carry a bad line or two.
type Loader struct {
	log *zap.Logger
}

func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log}
}

// LoadCSV parses one symbol's bars from a CSV file with columns
// date,open,high,low,close,volume. The date column accepts YYYY-MM-DD,
// RFC 3339, or unix seconds. Bars come back sorted by timestamp with
// duplicate timestamps deduplicated, keeping the last occurrence.
func (l *Loader) LoadCSV(path, symbol string) ([]engine.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	bars, skipped, err := l.parse(decodeReader(file), symbol)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if skipped > 0 {
		l.log.Warn("skipped malformed rows",
			zap.String("path", path),
			zap.String("symbol", symbol),
			zap.Int("skipped", skipped),
		)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("parse %s: no usable rows", path)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	uniq := bars[:0]
	for _, b := range bars {
		if n := len(uniq); n > 0 && uniq[n-1].Timestamp.Equal(b.Timestamp) {
			uniq[n-1] = b
			continue
		}
		uniq = append(uniq, b)
	}

	l.log.Info("loaded bars",
		zap.String("path", path),
		zap.String("symbol", symbol),
		zap.Int("bars", len(uniq)),
	)
	return uniq, nil
}

func (l *Loader) parse(r io.Reader, symbol string) ([]engine.Bar, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var bars []engine.Bar
	skipped := 0
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		line++
		if len(rec) < 6 {
			skipped++
			continue
		}

		first := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		if line == 1 && (strings.EqualFold(first, "date") || strings.EqualFold(first, "timestamp")) {
			continue
		}

		ts, err := parseDate(first)
		if err != nil {
			skipped++
			continue
		}

		fields := make([]decimal.Decimal, 5)
		ok := true
		for i := 0; i < 5; i++ {
			fields[i], err = decimal.NewFromString(strings.TrimSpace(rec[i+1]))
			if err != nil {
				// A missing volume column is tolerable, a missing price is not.
				if i == 4 {
					fields[i] = decimal.Zero
					err = nil
					continue
				}
				ok = false
				break
			}
		}
		if !ok {
			skipped++
			continue
		}

		bars = append(bars, engine.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return bars, skipped, nil
}

// decodeReader wraps the file in a UTF-16 decoder when a BOM is present.
// Spreadsheet exports of KRX data regularly arrive UTF-16 encoded.
func decodeReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(2)
	if len(head) >= 2 {
		if head[0] == 0xFF && head[1] == 0xFE {
			return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
		}
		if head[0] == 0xFE && head[1] == 0xFF {
			return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder())
		}
	}
	return br
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Gap marks a hole in an otherwise daily series.
type Gap struct {
	Symbol string
	From   time.Time
	To     time.Time
	Days   int
}

// DetectGaps flags consecutive bars more than maxGapDays apart. Weekends
// and short holiday runs pass with the default of 4 calendar days.
func DetectGaps(bars []engine.Bar, maxGapDays int) []Gap {
	if maxGapDays <= 0 {
		maxGapDays = 4
	}
	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		days := int(bars[i].Timestamp.Sub(bars[i-1].Timestamp).Hours() / 24)
		if days > maxGapDays {
			gaps = append(gaps, Gap{
				Symbol: bars[i].Symbol,
				From:   bars[i-1].Timestamp,
				To:     bars[i].Timestamp,
				Days:   days,
			})
		}
	}
	return gaps
}
