package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderExecutor simulates fills. All arithmetic is decimal: thousands of
// bars of float rounding would otherwise drift the cash ledger.
type OrderExecutor struct {
	cfg *Config
}

func NewOrderExecutor(cfg *Config) *OrderExecutor {
	return &OrderExecutor{cfg: cfg}
}

// Fill describes a simulated buy.
type Fill struct {
	Symbol     string
	Quantity   int64
	Price      decimal.Decimal // after slippage
	Commission decimal.Decimal
	TotalCost  decimal.Decimal // debited from cash
}

// ExecuteBuy simulates a buy fill. Slippage moves the fill price against
// the buyer; commission is charged on the slipped notional. Returns
// ErrInsufficientFunds when cash cannot cover notional plus commission —
// the caller skips the intent for this bar, it is not a fault.
func (e *OrderExecutor) ExecuteBuy(symbol string, price decimal.Decimal, quantity int64, cash decimal.Decimal) (*Fill, error) {
	fillPrice := price.Mul(one.Add(e.cfg.SlippageRate))
	amount := fillPrice.Mul(decimal.NewFromInt(quantity))
	commission := amount.Mul(e.cfg.CommissionRate)
	totalCost := amount.Add(commission)

	if cash.LessThan(totalCost) {
		return nil, ErrInsufficientFunds
	}
	return &Fill{
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      fillPrice,
		Commission: commission,
		TotalCost:  totalCost,
	}, nil
}

// ExecuteSell closes the position at the given price and emits the Trade.
// Slippage moves the fill against the seller; tax is charged on disposal
// only. The second return value is the net cash proceeds.
func (e *OrderExecutor) ExecuteSell(pos *Position, price decimal.Decimal, date time.Time, reason ExitReason) (Trade, decimal.Decimal) {
	fillPrice := price.Mul(one.Sub(e.cfg.SlippageRate))
	qty := decimal.NewFromInt(pos.Quantity)
	amount := fillPrice.Mul(qty)
	commission := amount.Mul(e.cfg.CommissionRate)
	tax := amount.Mul(e.cfg.TaxRate)
	proceeds := amount.Sub(commission).Sub(tax)

	commissionTotal := pos.EntryCommission.Add(commission)
	realized := fillPrice.Sub(pos.EntryPrice).Mul(qty).Sub(commissionTotal).Sub(tax)

	entryCost := pos.EntryPrice.Mul(qty).Add(pos.EntryCommission)
	profitRate := 0.0
	if entryCost.IsPositive() {
		profitRate = realized.Div(entryCost).InexactFloat64() * 100
	}

	return Trade{
		Symbol:      pos.Symbol,
		EntryDate:   pos.EntryDate,
		ExitDate:    date,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fillPrice,
		Quantity:    pos.Quantity,
		Commission:  commissionTotal,
		Tax:         tax,
		RealizedPnl: realized,
		ProfitRate:  profitRate,
		HoldingDays: pos.HoldingDays(date),
		ExitReason:  reason,
	}, proceeds
}
