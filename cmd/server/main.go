// Package main runs the backtest service: a gRPC API and a REST API over
// the simulation engine, with optional ClickHouse result persistence.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "backtest-service/proto"
	"backtest-service/services/clickhouse"
	"backtest-service/services/config"
	"backtest-service/services/engine"
	"backtest-service/services/marketdata"
)

// BacktestService serves backtest runs over gRPC and REST.
type BacktestService struct {
	pb.UnimplementedBacktestServiceServer
	cfg    config.Service
	loader *marketdata.Loader
	store  *clickhouse.Store
	logger *zap.Logger
}

func NewBacktestService(cfg config.Service, logger *zap.Logger) (*BacktestService, error) {
	svc := &BacktestService{
		cfg:    cfg,
		loader: marketdata.NewLoader(logger),
		logger: logger,
	}
	if cfg.ClickHouseEnabled {
		store, err := clickhouse.NewStore(clickhouse.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create result store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure result schema: %w", err)
		}
		svc.store = store
	}
	return svc, nil
}

func (s *BacktestService) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// RunBacktest implements the gRPC RunBacktest method.
func (s *BacktestService) RunBacktest(ctx context.Context, req *pb.RunBacktestRequest) (*pb.RunBacktestResponse, error) {
	started := time.Now()
	jobID := uuid.New().String()

	s.logger.Info("backtest job accepted",
		zap.String("job_id", jobID),
		zap.Strings("symbols", req.Symbols),
	)

	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols in request")
	}
	runCfg, err := requestConfig(req)
	if err != nil {
		return nil, err
	}

	barsBySymbol := make(map[string][]engine.Bar, len(req.Symbols))
	for _, symbol := range req.Symbols {
		path := filepath.Join(s.cfg.DataDir, symbol+".csv")
		bars, err := s.loader.LoadCSV(path, symbol)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		barsBySymbol[symbol] = bars
	}

	results, err := engine.RunMany(ctx, barsBySymbol, runCfg, s.cfg.Workers, s.logger)
	if err != nil {
		s.logger.Error("backtest job failed", zap.String("job_id", jobID), zap.Error(err))
		return nil, err
	}

	resp := &pb.RunBacktestResponse{
		JobId:           jobID,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
	for _, symbol := range req.Symbols {
		res, ok := results[symbol]
		if !ok {
			continue
		}
		if s.store != nil {
			if err := s.store.SaveResult(ctx, res); err != nil {
				s.logger.Warn("result persistence failed",
					zap.String("run_id", res.RunID),
					zap.Error(err),
				)
			}
		}
		resp.Results = append(resp.Results, toSymbolResult(res))
	}

	s.logger.Info("backtest job completed",
		zap.String("job_id", jobID),
		zap.Int("results", len(resp.Results)),
		zap.Int64("execution_ms", resp.ExecutionTimeMs),
	)
	return resp, nil
}

// requestConfig maps a wire request onto a run config, starting from the
// defaults so omitted fields keep their documented values.
func requestConfig(req *pb.RunBacktestRequest) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	setDecimal := func(dst *decimal.Decimal, field, raw string) error {
		if raw == "" {
			return nil
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q", field, raw)
		}
		*dst = v
		return nil
	}

	if err := setDecimal(&cfg.InitialCapital, "initial_capital", req.InitialCapital); err != nil {
		return cfg, err
	}
	if req.BollingerPeriod > 0 {
		cfg.BollingerPeriod = int(req.BollingerPeriod)
	}
	if req.BollingerStdMult > 0 {
		cfg.BollingerStdMult = req.BollingerStdMult
	}
	if req.EnvelopePeriod > 0 {
		cfg.EnvelopePeriod = int(req.EnvelopePeriod)
	}
	if req.EnvelopePercent > 0 {
		cfg.EnvelopePercent = req.EnvelopePercent
	}
	cfg.StrictSignals = req.SignalMode == pb.SignalMode_STRICT
	if err := setDecimal(&cfg.StopLossRatio, "stop_loss_ratio", req.StopLossRatio); err != nil {
		return cfg, err
	}
	if err := setDecimal(&cfg.TakeProfitRatio, "take_profit_ratio", req.TakeProfitRatio); err != nil {
		return cfg, err
	}
	if err := setDecimal(&cfg.TrailingStopRatio, "trailing_stop_ratio", req.TrailingStopRatio); err != nil {
		return cfg, err
	}
	if req.MaxHoldingDays > 0 {
		cfg.MaxHoldingDays = int(req.MaxHoldingDays)
	}
	if req.MomentumExitBars > 0 {
		cfg.MomentumExitBars = int(req.MomentumExitBars)
	}
	cfg.ReverseSignalExit = !req.DisableReverseExit
	if err := setDecimal(&cfg.AllocationRatio, "allocation_ratio", req.AllocationRatio); err != nil {
		return cfg, err
	}
	if req.MaxPositionCount > 0 {
		cfg.MaxPositionCount = int(req.MaxPositionCount)
	}
	if err := setDecimal(&cfg.CommissionRate, "commission_rate", req.CommissionRate); err != nil {
		return cfg, err
	}
	if err := setDecimal(&cfg.TaxRate, "tax_rate", req.TaxRate); err != nil {
		return cfg, err
	}
	if err := setDecimal(&cfg.SlippageRate, "slippage_rate", req.SlippageRate); err != nil {
		return cfg, err
	}
	if req.RiskFreeRate > 0 {
		cfg.RiskFreeRate = req.RiskFreeRate
	}
	return cfg, cfg.Validate()
}

func toSymbolResult(res *engine.BacktestResult) *pb.SymbolResult {
	out := &pb.SymbolResult{
		RunId:          res.RunID,
		Symbol:         res.Symbol,
		Status:         res.Status,
		FinalCapital:   res.FinalCapital.String(),
		SkippedEntries: int32(res.SkippedEntries),
		Metrics:        toRunMetrics(res.Metrics),
	}
	for _, t := range res.Trades {
		out.Trades = append(out.Trades, &pb.ClosedTrade{
			Symbol:      t.Symbol,
			EntryDate:   t.EntryDate.Unix(),
			ExitDate:    t.ExitDate.Unix(),
			EntryPrice:  t.EntryPrice.String(),
			ExitPrice:   t.ExitPrice.String(),
			Quantity:    t.Quantity,
			Commission:  t.Commission.String(),
			Tax:         t.Tax.String(),
			RealizedPnl: t.RealizedPnl.String(),
			ExitReason:  string(t.ExitReason),
		})
	}
	for _, p := range res.EquityCurve {
		out.EquityCurve = append(out.EquityCurve, &pb.EquityPoint{
			Date:          p.Date.Unix(),
			Cash:          p.Cash.String(),
			PositionValue: p.PositionValue.String(),
			TotalEquity:   p.TotalEquity.String(),
		})
	}
	return out
}

func toRunMetrics(m engine.Metrics) *pb.RunMetrics {
	return &pb.RunMetrics{
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		MaxDrawdown:      m.MaxDrawdown,
		Volatility:       m.Volatility,
		SharpeRatio:      m.SharpeRatio,
		SortinoRatio:     m.SortinoRatio,
		CalmarRatio:      m.CalmarRatio,
		WinRate:          m.WinRate,
		ProfitFactor:     fmt.Sprintf("%g", m.ProfitFactor),
		TotalTrades:      int32(m.TotalTrades),
	}
}

// HTTP handlers for the REST API.
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtests", s.handleRunBacktest)
		api.GET("/backtests/:symbol/runs", s.handleRecentRuns)
		api.GET("/health", s.handleHealth)
	}
}

func (s *BacktestService) handleRunBacktest(c *gin.Context) {
	var req pb.RunBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.RunBacktest(c.Request.Context(), &req)
	if err != nil {
		s.logger.Error("backtest request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleRecentRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store disabled"})
		return
	}
	runs, err := s.store.RecentRuns(c.Request.Context(), c.Param("symbol"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *BacktestService) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting backtest service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.Bool("clickhouse", cfg.ClickHouseEnabled),
	)

	service, err := NewBacktestService(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create backtest service", zap.Error(err))
	}
	defer service.Close()

	grpcServer := grpc.NewServer()
	pb.RegisterBacktestServiceServer(grpcServer, service)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service.setupHTTPRoutes(router)

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to listen on gRPC addr", zap.Error(err))
		}
		logger.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := router.Run(cfg.HTTPAddr); err != nil {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	grpcServer.GracefulStop()
}
