package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PositionBook owns the open positions of a run. At most one position may
// be open per symbol; multi-lot holdings are out of scope.
type PositionBook struct {
	cfg       *Config
	positions map[string]*Position
}

func NewPositionBook(cfg *Config) *PositionBook {
	return &PositionBook{
		cfg:       cfg,
		positions: make(map[string]*Position),
	}
}

// SizeEntry computes the share count for a new entry from the bar's equity
// baseline: floor(equity * allocation_ratio / price). It returns 0 when the
// symbol already has a position, the book is full, or the allocation does
// not cover a single share.
func (b *PositionBook) SizeEntry(symbol string, price, equity decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	if _, exists := b.positions[symbol]; exists {
		return 0
	}
	if len(b.positions) >= b.cfg.MaxPositionCount {
		return 0
	}
	return equity.Mul(b.cfg.AllocationRatio).Div(price).IntPart()
}

// Open records a new position. The caller has already debited cash.
func (b *PositionBook) Open(symbol string, quantity int64, price decimal.Decimal, date time.Time, commission decimal.Decimal) {
	b.positions[symbol] = &Position{
		Symbol:          symbol,
		Quantity:        quantity,
		EntryPrice:      price,
		EntryDate:       date,
		HighestPrice:    price,
		EntryCommission: commission,
	}
}

// Close removes and returns the position for the executor to finalize as a
// Trade, or nil if none is open.
func (b *PositionBook) Close(symbol string) *Position {
	pos, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	delete(b.positions, symbol)
	return pos
}

func (b *PositionBook) Get(symbol string) *Position {
	return b.positions[symbol]
}

func (b *PositionBook) Has(symbol string) bool {
	_, ok := b.positions[symbol]
	return ok
}

func (b *PositionBook) Count() int {
	return len(b.positions)
}

// Symbols returns the open symbols in sorted order. Every iteration over
// the book goes through this so runs stay byte-identical.
func (b *PositionBook) Symbols() []string {
	symbols := make([]string, 0, len(b.positions))
	for s := range b.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// MarkToMarket values every open position at the given prices and bumps
// each position's highest-seen price. Symbols missing a price are valued
// at their entry price.
func (b *PositionBook) MarkToMarket(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, symbol := range b.Symbols() {
		pos := b.positions[symbol]
		price, ok := prices[symbol]
		if !ok {
			price = pos.EntryPrice
		}
		if price.GreaterThan(pos.HighestPrice) {
			pos.HighestPrice = price
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}
