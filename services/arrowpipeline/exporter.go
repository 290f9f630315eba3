// Package arrowpipeline serializes run outputs to Apache Arrow IPC for
// downstream analytics tooling.
package arrowpipeline

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

// Exporter builds Arrow record batches from engine output.
type Exporter struct {
	alloc memory.Allocator
	log   *zap.Logger
}

func NewExporter(log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{alloc: memory.NewGoAllocator(), log: log}
}

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ExportBars serializes a bar series to one Arrow IPC stream.
func (e *Exporter) ExportBars(bars []engine.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to export")
	}

	symbols := array.NewStringBuilder(e.alloc)
	timestamps := array.NewInt64Builder(e.alloc)
	floats := make([]*array.Float64Builder, 5)
	for i := range floats {
		floats[i] = array.NewFloat64Builder(e.alloc)
	}

	for _, b := range bars {
		symbols.Append(b.Symbol)
		timestamps.Append(b.Timestamp.Unix())
		floats[0].Append(b.Open.InexactFloat64())
		floats[1].Append(b.High.InexactFloat64())
		floats[2].Append(b.Low.InexactFloat64())
		floats[3].Append(b.Close.InexactFloat64())
		floats[4].Append(b.Volume.InexactFloat64())
	}

	cols := []arrow.Array{symbols.NewStringArray(), timestamps.NewInt64Array()}
	for _, f := range floats {
		cols = append(cols, f.NewFloat64Array())
	}
	record := array.NewRecord(barSchema, cols, int64(len(bars)))
	defer record.Release()

	return e.serialize(barSchema, record)
}

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "date", Type: arrow.PrimitiveTypes.Int64},
	{Name: "cash", Type: arrow.PrimitiveTypes.Float64},
	{Name: "position_value", Type: arrow.PrimitiveTypes.Float64},
	{Name: "total_equity", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ExportEquity serializes a run's equity curve to one Arrow IPC stream.
func (e *Exporter) ExportEquity(runID string, curve []engine.EquityPoint) ([]byte, error) {
	if len(curve) == 0 {
		return nil, fmt.Errorf("no equity points to export")
	}

	runIDs := array.NewStringBuilder(e.alloc)
	dates := array.NewInt64Builder(e.alloc)
	cash := array.NewFloat64Builder(e.alloc)
	positions := array.NewFloat64Builder(e.alloc)
	totals := array.NewFloat64Builder(e.alloc)

	for _, p := range curve {
		runIDs.Append(runID)
		dates.Append(p.Date.Unix())
		cash.Append(p.Cash.InexactFloat64())
		positions.Append(p.PositionValue.InexactFloat64())
		totals.Append(p.TotalEquity.InexactFloat64())
	}

	record := array.NewRecord(equitySchema, []arrow.Array{
		runIDs.NewStringArray(),
		dates.NewInt64Array(),
		cash.NewFloat64Array(),
		positions.NewFloat64Array(),
		totals.NewFloat64Array(),
	}, int64(len(curve)))
	defer record.Release()

	return e.serialize(equitySchema, record)
}

var tradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "entry_date", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_date", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "quantity", Type: arrow.PrimitiveTypes.Int64},
	{Name: "realized_pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
}, nil)

// ExportTrades serializes a run's trade ledger to one Arrow IPC stream.
func (e *Exporter) ExportTrades(runID string, trades []engine.Trade) ([]byte, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to export")
	}

	runIDs := array.NewStringBuilder(e.alloc)
	symbols := array.NewStringBuilder(e.alloc)
	entryDates := array.NewInt64Builder(e.alloc)
	exitDates := array.NewInt64Builder(e.alloc)
	entryPrices := array.NewFloat64Builder(e.alloc)
	exitPrices := array.NewFloat64Builder(e.alloc)
	quantities := array.NewInt64Builder(e.alloc)
	pnls := array.NewFloat64Builder(e.alloc)
	reasons := array.NewStringBuilder(e.alloc)

	for _, t := range trades {
		runIDs.Append(runID)
		symbols.Append(t.Symbol)
		entryDates.Append(t.EntryDate.Unix())
		exitDates.Append(t.ExitDate.Unix())
		entryPrices.Append(t.EntryPrice.InexactFloat64())
		exitPrices.Append(t.ExitPrice.InexactFloat64())
		quantities.Append(t.Quantity)
		pnls.Append(t.RealizedPnl.InexactFloat64())
		reasons.Append(string(t.ExitReason))
	}

	record := array.NewRecord(tradeSchema, []arrow.Array{
		runIDs.NewStringArray(),
		symbols.NewStringArray(),
		entryDates.NewInt64Array(),
		exitDates.NewInt64Array(),
		entryPrices.NewFloat64Array(),
		exitPrices.NewFloat64Array(),
		quantities.NewInt64Array(),
		pnls.NewFloat64Array(),
		reasons.NewStringArray(),
	}, int64(len(trades)))
	defer record.Release()

	return e.serialize(tradeSchema, record)
}

func (e *Exporter) serialize(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(e.alloc))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	e.log.Debug("arrow stream built",
		zap.Int64("rows", record.NumRows()),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}
