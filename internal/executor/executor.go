package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/internal/strategy"
	"github.com/skalibog/bfte/pkg/logger"
	"github.com/skalibog/bfte/pkg/models"
	"go.uber.org/zap"
)

// State состояние машины исполнения одной попытки сделки
type State string

const (
	StateIdle             State = "idle"
	StateEntrySubmitted   State = "entry_submitted"
	StateEntryFilled      State = "entry_filled"
	StateProtectivePlaced State = "protective_placed"
	StateResolved         State = "resolved"
	StateTimedOut         State = "timed_out"
	StateFailed           State = "failed"
)

// причина отказа по таймауту входа; текст стабилен, на него завязаны отчеты
const reasonEntryNotFilled = "entry not filled in time"

// Exchange операции биржи, необходимые машине исполнения
type Exchange interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	Instrument(ctx context.Context, symbol string) (*models.Instrument, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	SetMarginMode(ctx context.Context, symbol, mode string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientID string) (*models.Order, error)
	PlaceProtectiveOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, takeProfit bool, clientID string) (*models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Config параметры машины исполнения. Все таймауты обязательны:
// ни один блокирующий шаг не ждет бесконечно.
type Config struct {
	PollInterval          time.Duration
	FillTimeout           time.Duration
	ProtectivePollTimeout time.Duration
	ProtectiveRetries     int
	MarginModes           []string
	CapitalFraction       float64
	Leverage              int
	EntryBufferPct        float64
	QuoteAsset            string
}

// FromYAML собирает конфиг машины из секции файла конфигурации
func FromYAML(c config.ExecutorConfig) Config {
	return Config{
		PollInterval:          time.Duration(c.PollIntervalSeconds) * time.Second,
		FillTimeout:           time.Duration(c.FillTimeoutSeconds) * time.Second,
		ProtectivePollTimeout: time.Duration(c.ProtectivePollSeconds) * time.Second,
		ProtectiveRetries:     c.ProtectiveRetries,
		MarginModes:           c.MarginModes,
		CapitalFraction:       c.CapitalFraction,
		Leverage:              c.Leverage,
		EntryBufferPct:        c.EntryBufferPct,
		QuoteAsset:            "USDT",
	}
}

// Result терминальный результат попытки исполнения
type Result struct {
	State             State
	Outcome           models.Outcome
	FailedAt          State // состояние, в котором произошел сбой
	Detail            string
	Levels            models.LevelSet
	Amount            float64
	FilledPrice       float64
	EntryOrderID      string
	TakeProfitOrderID string
	StopLossOrderID   string
}

// Executor машина состояний исполнения ордеров. Для одного символа
// одновременно работает не более одной попытки (гарантируется пулом
// воркеров движка).
type Executor struct {
	cfg    Config
	ex     Exchange
	levels *strategy.Calculator
}

// New создает машину исполнения
func New(cfg Config, ex Exchange, levels *strategy.Calculator) *Executor {
	return &Executor{cfg: cfg, ex: ex, levels: levels}
}

// Execute проводит попытку сделки от размещения входа до терминального
// исхода. Любая неожиданная ошибка биржи переводит попытку в Failed с
// указанием состояния, в котором она произошла.
func (e *Executor) Execute(ctx context.Context, sig *models.Signal, snap *market.Snapshot) *Result {
	res := &Result{State: StateIdle, Outcome: models.OutcomeNone}

	instr, err := e.ex.Instrument(ctx, sig.Symbol)
	if err != nil {
		return fail(res, StateIdle, err.Error())
	}

	price, err := e.ex.LastPrice(ctx, sig.Symbol)
	if err != nil {
		return fail(res, StateIdle, err.Error())
	}

	amount, err := e.positionSize(ctx, price, instr)
	if err != nil {
		return fail(res, StateIdle, err.Error())
	}
	res.Amount = amount

	// лимитный вход с небольшим буфером за последней ценой в сторону сигнала
	entryPrice := e.entryPrice(price, sig.Direction)

	entry, err := e.submitEntry(ctx, sig, amount, entryPrice)
	if err != nil {
		return fail(res, StateIdle, err.Error())
	}
	res.State = StateEntrySubmitted
	res.EntryOrderID = entry.ID

	filledPrice, err := e.awaitFill(ctx, sig.Symbol, entry.ID)
	if err != nil {
		// вход не исполнился: снимаем ордер, чтобы не оставить его висеть
		if cancelErr := e.ex.CancelOrder(ctx, sig.Symbol, entry.ID); cancelErr != nil {
			logger.Warn("Не удалось отменить неисполненный вход",
				zap.String("symbol", sig.Symbol),
				zap.String("order_id", entry.ID),
				zap.Error(cancelErr))
		}
		detail := err.Error()
		// частичное исполнение к моменту отмены оставляет открытую позицию,
		// поэтому остаток обязан попасть в отчет для сверки
		if canceled, getErr := e.ex.GetOrder(ctx, sig.Symbol, entry.ID); getErr == nil && canceled.FilledQty > 0 {
			detail = fmt.Sprintf("%s, частично исполнено %v из %v", detail, canceled.FilledQty, canceled.OrigQty)
			logger.Warn("Отмененный вход был частично исполнен",
				zap.String("symbol", sig.Symbol),
				zap.String("order_id", entry.ID),
				zap.Float64("filled_qty", canceled.FilledQty),
				zap.Float64("orig_qty", canceled.OrigQty))
		}
		return fail(res, StateEntrySubmitted, detail)
	}
	res.State = StateEntryFilled
	res.FilledPrice = filledPrice

	// уровни пересчитываются от фактической цены исполнения:
	// заполнение может отличаться от котировки на момент сигнала
	levels, err := e.levels.Levels(sig.Direction, sig.Strategy, filledPrice, snap.ATR(sig.Strategy))
	if err != nil {
		return fail(res, StateEntryFilled, err.Error())
	}
	if err := strategy.Validate(sig.Direction, levels); err != nil {
		return fail(res, StateEntryFilled, err.Error())
	}
	res.Levels = levels

	tp, sl, err := e.placeProtective(ctx, sig, amount, levels)
	if err != nil {
		// открытая незащищенная позиция обязана попасть в отчет
		return fail(res, StateEntryFilled, fmt.Sprintf("защитные ордера не размещены: %v", err))
	}
	res.State = StateProtectivePlaced
	res.TakeProfitOrderID = tp.ID
	res.StopLossOrderID = sl.ID

	return e.awaitResolution(ctx, sig, res, tp.ID, sl.ID)
}

// positionSize рассчитывает объем позиции от доступного баланса,
// доли капитала и плеча; объем ниже биржевого минимума отклоняется
func (e *Executor) positionSize(ctx context.Context, price float64, instr *models.Instrument) (float64, error) {
	balance, err := e.ex.AvailableBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	if balance <= 0 {
		return 0, fmt.Errorf("нет доступного баланса %s", e.cfg.QuoteAsset)
	}

	notional := balance * e.cfg.CapitalFraction * float64(e.cfg.Leverage)
	raw := notional / (price * instr.ContractSize)
	amount := decimal.NewFromFloat(raw).
		RoundDown(int32(instr.AmountPrecision)).
		InexactFloat64()

	if amount < instr.MinAmount || amount <= 0 {
		return 0, fmt.Errorf("объем %v ниже минимального %v для %s", amount, instr.MinAmount, instr.Symbol)
	}
	return amount, nil
}

func (e *Executor) entryPrice(last float64, dir models.Direction) float64 {
	buffer := e.cfg.EntryBufferPct / 100
	raw := last * (1 + buffer)
	if dir == models.DirectionShort {
		raw = last * (1 - buffer)
	}
	prec := strategy.PricePrecision(raw)
	return decimal.NewFromFloat(raw).Round(int32(prec)).InexactFloat64()
}

// submitEntry размещает вход, перебирая режимы маржи в настроенном
// порядке: поддержка isolated зависит от аккаунта и инструмента,
// поэтому fallback на cross обязателен
func (e *Executor) submitEntry(ctx context.Context, sig *models.Signal, amount, price float64) (*models.Order, error) {
	if err := e.ex.SetLeverage(ctx, sig.Symbol, e.cfg.Leverage); err != nil {
		logger.Warn("Не удалось установить плечо", zap.String("symbol", sig.Symbol), zap.Error(err))
	}

	var lastErr error
	for i, mode := range e.cfg.MarginModes {
		if err := e.ex.SetMarginMode(ctx, sig.Symbol, mode); err != nil {
			logger.Warn("Не удалось установить режим маржи",
				zap.String("symbol", sig.Symbol),
				zap.String("mode", mode),
				zap.Error(err))
		}

		order, err := e.ex.PlaceLimitOrder(ctx, sig.Symbol, sig.Direction.Side(), amount, price, clientID("entry"))
		if err == nil {
			return order, nil
		}
		lastErr = err

		if !isMarginModeError(err) || i == len(e.cfg.MarginModes)-1 {
			break
		}
		logger.Warn("Вход отклонен по режиму маржи, пробуем следующий",
			zap.String("symbol", sig.Symbol),
			zap.String("mode", mode),
			zap.Error(err))
	}
	return nil, fmt.Errorf("вход не размещен: %w", lastErr)
}

// awaitFill опрашивает статус входа до исполнения или таймаута
func (e *Executor) awaitFill(ctx context.Context, symbol, orderID string) (float64, error) {
	deadline := time.Now().Add(e.cfg.FillTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}

		order, err := e.ex.GetOrder(ctx, symbol, orderID)
		if err != nil {
			// разовые сбои запроса статуса не фатальны, лимит задает таймаут
			logger.Warn("Ошибка запроса статуса входа",
				zap.String("symbol", symbol),
				zap.String("order_id", orderID),
				zap.Error(err))
			continue
		}

		if order.Filled() {
			fill := order.FillPrice()
			if fill <= 0 || order.FilledQty <= 0 {
				return 0, fmt.Errorf("исполнение без цены или объема: %+v", order)
			}
			logger.Info("Вход исполнен",
				zap.String("symbol", symbol),
				zap.String("order_id", orderID),
				zap.Float64("fill_price", fill))
			return fill, nil
		}

		if order.Status == models.OrderStatusCanceled ||
			order.Status == models.OrderStatusExpired ||
			order.Status == models.OrderStatusRejected {
			return 0, fmt.Errorf("вход завершился без исполнения: %s", order.Status)
		}
	}
	return 0, errors.New(reasonEntryNotFilled)
}

// placeProtective размещает связанную пару TP/SL на закрывающей стороне,
// оба reduce-only. Повторы ограничены; частично размещенная пара
// снимается перед следующей попыткой.
func (e *Executor) placeProtective(ctx context.Context, sig *models.Signal, amount float64, levels models.LevelSet) (tp, sl *models.Order, err error) {
	side := sig.Direction.CloseSide()
	b := &backoff.Backoff{Min: time.Second, Max: 10 * time.Second, Factor: 2, Jitter: true}

	for attempt := 1; attempt <= e.cfg.ProtectiveRetries; attempt++ {
		tp, err = e.ex.PlaceProtectiveOrder(ctx, sig.Symbol, side, amount, levels.TakeProfit, true, clientID("tp"))
		if err == nil {
			sl, err = e.ex.PlaceProtectiveOrder(ctx, sig.Symbol, side, amount, levels.StopLoss, false, clientID("sl"))
			if err == nil {
				return tp, sl, nil
			}
			// SL не встал: снимаем TP, иначе следующая попытка задвоит выход
			if cancelErr := e.ex.CancelOrder(ctx, sig.Symbol, tp.ID); cancelErr != nil {
				logger.Warn("Не удалось снять TP после сбоя SL",
					zap.String("symbol", sig.Symbol),
					zap.String("order_id", tp.ID),
					zap.Error(cancelErr))
			}
		}

		logger.Warn("Сбой размещения защитной пары",
			zap.String("symbol", sig.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == e.cfg.ProtectiveRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return nil, nil, fmt.Errorf("после %d попыток: %w", e.cfg.ProtectiveRetries, err)
}

// awaitResolution гонка защитных ордеров: опрашиваем оба до исполнения
// ровно одного либо таймаута. Если оба исполнимы в одном опросе,
// консервативно считаем убыток (стоп-лосс первым).
func (e *Executor) awaitResolution(ctx context.Context, sig *models.Signal, res *Result, tpID, slID string) *Result {
	deadline := time.Now().Add(e.cfg.ProtectivePollTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return fail(res, StateProtectivePlaced, ctx.Err().Error())
		case <-time.After(e.cfg.PollInterval):
		}

		tp, tpErr := e.ex.GetOrder(ctx, sig.Symbol, tpID)
		sl, slErr := e.ex.GetOrder(ctx, sig.Symbol, slID)
		if tpErr != nil || slErr != nil {
			logger.Warn("Ошибка опроса защитных ордеров",
				zap.String("symbol", sig.Symbol),
				zap.NamedError("tp", tpErr),
				zap.NamedError("sl", slErr))
			continue
		}

		// оба статуса оцениваются в одном опросе до принятия решения
		tpFilled := tp.Filled()
		slFilled := sl.Filled()

		switch {
		case slFilled:
			if tpFilled {
				logger.Warn("TP и SL исполнимы одновременно, учитываем как убыток",
					zap.String("symbol", sig.Symbol))
			}
			e.cancelQuietly(ctx, sig.Symbol, tpID)
			res.State = StateResolved
			res.Outcome = models.OutcomeLoss
			res.Detail = fmt.Sprintf("SL исполнен по %v", sl.FillPrice())
			return res
		case tpFilled:
			e.cancelQuietly(ctx, sig.Symbol, slID)
			res.State = StateResolved
			res.Outcome = models.OutcomeWin
			res.Detail = fmt.Sprintf("TP исполнен по %v", tp.FillPrice())
			return res
		}
	}

	// таймаут: оба ордера остаются на бирже для внешней сверки
	res.State = StateTimedOut
	res.Outcome = models.OutcomeTimedOut
	res.Detail = fmt.Sprintf("защитные ордера не исполнены за %s, TP=%s SL=%s",
		e.cfg.ProtectivePollTimeout, tpID, slID)
	return res
}

func (e *Executor) cancelQuietly(ctx context.Context, symbol, orderID string) {
	if err := e.ex.CancelOrder(ctx, symbol, orderID); err != nil {
		logger.Warn("Не удалось снять парный защитный ордер",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func fail(res *Result, at State, detail string) *Result {
	res.State = StateFailed
	res.FailedAt = at
	res.Outcome = models.OutcomeFailed
	res.Detail = fmt.Sprintf("[%s] %s", at, detail)
	logger.Error("Попытка исполнения завершилась сбоем",
		zap.String("state", string(at)),
		zap.String("detail", detail))
	return res
}

func isMarginModeError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "margin")
}

func clientID(kind string) string {
	return fmt.Sprintf("bfte-%s-%s", kind, uuid.NewString()[:8])
}
