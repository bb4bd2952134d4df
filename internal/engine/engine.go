package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/executor"
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/internal/metrics"
	"github.com/skalibog/bfte/internal/notify"
	"github.com/skalibog/bfte/internal/risk"
	"github.com/skalibog/bfte/internal/storage"
	"github.com/skalibog/bfte/internal/strategy"
	"github.com/skalibog/bfte/pkg/logger"
	"github.com/skalibog/bfte/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// срок жизни кэша снимка подтверждающего таймфрейма
const confirmCacheTTL = 15 * time.Minute

// MarketData операции доступа к рынку, нужные движку
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	Balance(ctx context.Context, asset string) (models.Balance, error)
	OpenPositions(ctx context.Context) ([]*models.Position, error)
	TopVolumePairs(ctx context.Context, quote string, topN int, minVolume float64) ([]string, error)
}

// Runner исполнение одной попытки сделки
type Runner interface {
	Execute(ctx context.Context, sig *models.Signal, snap *market.Snapshot) *executor.Result
}

type confirmEntry struct {
	snapshot *market.Snapshot
	fetched  time.Time
}

// Engine связывает конвейер обработки символа: построение снимков,
// классификацию режима, детекцию сигнала, контроль допуска, расчет
// уровней и исполнение. Символы обрабатываются параллельно ограниченным
// пулом воркеров; конвейер одного символа выполняется целиком на одном
// воркере.
type Engine struct {
	cfg      *config.Config
	data     MarketData
	gate     *risk.Gate
	runner   Runner
	detector *strategy.Detector
	levels   *strategy.Calculator
	notifier notify.Notifier
	store    storage.Storage

	cacheMu      sync.Mutex
	confirmCache map[string]confirmEntry

	tradingDisabled atomic.Bool
}

// New создает движок
func New(cfg *config.Config, data MarketData, gate *risk.Gate, runner Runner, notifier notify.Notifier, store storage.Storage) *Engine {
	return &Engine{
		cfg:          cfg,
		data:         data,
		gate:         gate,
		runner:       runner,
		detector:     strategy.NewDetector(cfg.Strategy),
		levels:       strategy.NewCalculator(cfg.Strategy),
		notifier:     notifier,
		store:        store,
		confirmCache: make(map[string]confirmEntry),
	}
}

// SetTradingEnabled переключает мастер-флаг торговли
func (e *Engine) SetTradingEnabled(enabled bool) {
	e.tradingDisabled.Store(!enabled)
	logger.Info("Мастер-флаг торговли переключен", zap.Bool("enabled", enabled))
}

// TradingEnabled сообщает текущее состояние мастер-флага
func (e *Engine) TradingEnabled() bool {
	return !e.tradingDisabled.Load()
}

// ResetDailyLoss снимает защелку дневного убытка
func (e *Engine) ResetDailyLoss() {
	e.gate.Reset()
}

// Halted сообщает состояние защелки дневного убытка
func (e *Engine) Halted() bool {
	return e.gate.Halted()
}

// Symbols возвращает список пар цикла: из конфигурации либо отбором
// наиболее ликвидных по объему за 24ч
func (e *Engine) Symbols(ctx context.Context) ([]string, error) {
	if len(e.cfg.Trading.Symbols) > 0 {
		return e.cfg.Trading.Symbols, nil
	}
	return e.data.TopVolumePairs(ctx, "USDT", e.cfg.Trading.PairLimit, e.cfg.Trading.MinQuoteVolume)
}

// RunCycle обрабатывает все символы одним циклом через ограниченный
// пул воркеров
func (e *Engine) RunCycle(ctx context.Context, symbols []string) {
	e.refreshAccountState(ctx)

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Trading.Concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			report := e.ProcessSymbol(ctx, symbol)
			if report.SignalEmitted {
				e.notifier.Notify(report.Render())
				if err := e.store.SaveExecution(ctx, report); err != nil {
					logger.Warn("Не удалось сохранить отчет", zap.String("symbol", symbol), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ProcessSymbol прогоняет конвейер одного символа и возвращает отчет.
// Конвейер не бросает ошибок на ожидаемых крайних случаях: нехватка
// истории и отсутствие сигнала — нормальные исходы.
func (e *Engine) ProcessSymbol(ctx context.Context, symbol string) *models.ExecutionReport {
	report := &models.ExecutionReport{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Outcome:   models.OutcomeNone,
	}

	candles, err := e.data.GetKlines(ctx, symbol, e.cfg.Trading.Interval, e.cfg.Trading.CandleLimit)
	if err != nil {
		logger.Warn("Ошибка получения свечей", zap.String("symbol", symbol), zap.Error(err))
		report.Detail = err.Error()
		return report
	}
	if err := e.store.SaveCandles(ctx, candles); err != nil {
		logger.Warn("Не удалось сохранить свечи", zap.String("symbol", symbol), zap.Error(err))
	}

	snap, err := market.Build(candles)
	if err != nil {
		// мало истории — не ошибка, сигнала просто нет
		logger.Debug("Недостаточно данных исполнительного таймфрейма", zap.String("symbol", symbol))
		report.Detail = "недостаточно данных"
		return report
	}

	confirm, err := e.confirmSnapshot(ctx, symbol)
	if err != nil {
		logger.Warn("Ошибка подтверждающего таймфрейма", zap.String("symbol", symbol), zap.Error(err))
		report.Detail = err.Error()
		return report
	}

	regime := strategy.ClassifyRegime(confirm)
	report.Regime = regime

	sig := e.detector.Detect(snap, regime)
	if sig == nil {
		report.Detail = "сигнала нет"
		return report
	}
	report.SignalEmitted = true
	report.Signal = sig
	metrics.SignalEmitted(symbol, string(sig.Direction), string(sig.Strategy))
	if err := e.store.SaveSignal(ctx, sig); err != nil {
		logger.Warn("Не удалось сохранить сигнал", zap.String("symbol", symbol), zap.Error(err))
	}

	allowed, reason := e.gate.Admit(ctx, symbol)
	metrics.Admission(allowed)
	report.Admitted = allowed
	if !allowed {
		report.Outcome = models.OutcomeDenied
		report.Detail = reason
		return report
	}
	// резерв слота живет до терминального исхода попытки
	defer e.gate.Release(symbol)

	// мастер-флаг проверяется до старта новой попытки; попытки в полете
	// он не прерывает
	if !e.TradingEnabled() {
		report.Outcome = models.OutcomeDenied
		report.Detail = "торговля отключена мастер-флагом"
		return report
	}

	if e.cfg.Trading.SignalsOnly {
		return e.advisory(report, sig, snap, reason)
	}

	res := e.runner.Execute(ctx, sig, snap)
	report.Outcome = res.Outcome
	report.Detail = res.Detail
	if res.Levels != (models.LevelSet{}) {
		report.Levels = &res.Levels
	}
	metrics.Execution(string(res.Outcome))

	if res.Outcome == models.OutcomeWin || res.Outcome == models.OutcomeLoss {
		e.gate.RecordOutcome(symbol, res.Outcome)
	}
	return report
}

// advisory рассчитывает уровни и отчитывается без отправки ордеров
func (e *Engine) advisory(report *models.ExecutionReport, sig *models.Signal, snap *market.Snapshot, reason string) *models.ExecutionReport {
	levels, err := e.levels.Levels(sig.Direction, sig.Strategy, sig.EntryPrice, snap.ATR(sig.Strategy))
	if err != nil {
		report.Outcome = models.OutcomeFailed
		report.Detail = err.Error()
		return report
	}
	report.Levels = &levels
	report.Outcome = models.OutcomeAdvisory
	report.Detail = reason
	return report
}

// confirmSnapshot возвращает снимок подтверждающего таймфрейма из кэша,
// обновляя его не чаще срока жизни. Кэш разделяется воркерами.
func (e *Engine) confirmSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	e.cacheMu.Lock()
	entry, ok := e.confirmCache[symbol]
	e.cacheMu.Unlock()

	if ok && time.Since(entry.fetched) < confirmCacheTTL {
		return entry.snapshot, nil
	}

	candles, err := e.data.GetKlines(ctx, symbol, e.cfg.Trading.ConfirmInterval, e.cfg.Trading.CandleLimit)
	if err != nil {
		return nil, err
	}
	snap, err := market.Build(candles)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.confirmCache[symbol] = confirmEntry{snapshot: snap, fetched: time.Now()}
	e.cacheMu.Unlock()
	return snap, nil
}

// refreshAccountState обновляет метрики счета и проверяет дневной лимит
// убытка перед циклом. Срабатывание защелки блокирует новые допуски, но
// не прерывает попытки в полете.
func (e *Engine) refreshAccountState(ctx context.Context) {
	balance, err := e.data.Balance(ctx, "USDT")
	if err != nil {
		logger.Warn("Ошибка получения баланса перед циклом", zap.Error(err))
		return
	}
	metrics.SetEquity(balance.Total)

	if positions, err := e.data.OpenPositions(ctx); err == nil {
		metrics.SetOpenPositions(len(positions))
	}

	wasHalted := e.gate.Halted()
	if e.gate.CheckDailyLoss(balance.Total) && !wasHalted {
		e.notifier.Notify("🛑 Торговля остановлена: дневной лимит убытка превышен. Требуется /resume после разбора.")
	}
}

// StartOfDay фиксирует базовый баланс дня и отправляет сводку
func (e *Engine) StartOfDay(ctx context.Context) {
	balance, err := e.data.Balance(ctx, "USDT")
	if err != nil {
		logger.Error("Ошибка получения баланса начала дня", zap.Error(err))
		return
	}
	e.gate.SetDayStartBalance(balance.Total)
	metrics.SetEquity(balance.Total)
	e.notifier.Notify(renderBalance(balance))
}

func renderBalance(b models.Balance) string {
	return fmt.Sprintf("📊 Баланс на %s:\nВсего USDT: %.2f\nДоступно USDT: %.2f",
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), b.Total, b.Free)
}
