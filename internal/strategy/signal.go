package strategy

import (
	"time"

	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/pkg/logger"
	"github.com/skalibog/bfte/pkg/models"
	"go.uber.org/zap"
)

// окно поиска локального экстремума для фильтра близости к уровню
const nearLevelLookback = 10

// Detector реализует детектор входных сигналов на исполнительном таймфрейме
type Detector struct {
	cfg config.StrategyConfig
}

// NewDetector создает новый детектор сигналов
func NewDetector(cfg config.StrategyConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect возвращает сигнал либо nil, если условия входа не выполнены.
// За одну оценку эмитится не более одного сигнала; порядок приоритета:
// трендовый long > трендовый short > range-покупка > range-продажа.
func (d *Detector) Detect(s *market.Snapshot, regime models.Regime) *models.Signal {
	if s == nil || len(s.Candles) < market.MinCandles {
		return nil
	}

	n := len(s.Closes)
	last := s.Last()

	if sig := d.trendLong(s, n, last, regime); sig != nil {
		return sig
	}
	if sig := d.trendShort(s, n, last, regime); sig != nil {
		return sig
	}
	if regime == models.RegimeRanging {
		return d.rangeTrade(s, n, last)
	}
	return nil
}

func (d *Detector) trendLong(s *market.Snapshot, n int, last *models.Candle, regime models.Regime) *models.Signal {
	if regime != models.RegimeTrendingUp {
		return nil
	}

	crossover := s.MA10[n-2] < s.MA20[n-2] && s.MA10[n-1] > s.MA20[n-1]
	continuation := s.MA10[n-1] > s.MA20[n-1]
	alignment := s.MA20[n-1] > s.MA50[n-1]
	momentum := last.Close > s.MA10[n-1]
	bullishCandle := last.Close > last.Open

	if (crossover || continuation) && alignment && momentum && bullishCandle && !d.nearResistance(s, last.Close) {
		logger.Debug("Трендовый LONG сигнал",
			zap.String("symbol", s.Symbol),
			zap.Float64("close", last.Close))
		return newSignal(s.Symbol, models.DirectionLong, models.StrategyTrend, last.Close)
	}
	return nil
}

func (d *Detector) trendShort(s *market.Snapshot, n int, last *models.Candle, regime models.Regime) *models.Signal {
	if regime != models.RegimeTrendingDown {
		return nil
	}

	crossover := s.MA10[n-2] > s.MA20[n-2] && s.MA10[n-1] < s.MA20[n-1]
	continuation := s.MA10[n-1] < s.MA20[n-1]
	alignment := s.MA20[n-1] < s.MA50[n-1]
	momentum := last.Close < s.MA10[n-1]
	bearishCandle := last.Close < last.Open

	if (crossover || continuation) && alignment && momentum && bearishCandle && !d.nearSupport(s, last.Close) {
		logger.Debug("Трендовый SHORT сигнал",
			zap.String("symbol", s.Symbol),
			zap.Float64("close", last.Close))
		return newSignal(s.Symbol, models.DirectionShort, models.StrategyTrend, last.Close)
	}
	return nil
}

// rangeTrade оценивает сделку от границ диапазона.
// При вырожденном диапазоне (поддержка и сопротивление совпадают) обе
// проверки могут сработать одновременно — приоритет у покупки.
func (d *Detector) rangeTrade(s *market.Snapshot, n int, last *models.Candle) *models.Signal {
	support := s.Support50[n-1]
	resistance := s.Resistance50[n-1]
	rsi := s.RSI14[n-1]
	if support <= 0 || resistance <= 0 || rsi == 0 {
		return nil
	}

	buy := last.Close <= support*d.cfg.SupportBuffer && rsi < d.cfg.RSIOversold
	sell := last.Close >= resistance*d.cfg.ResistanceBuffer && rsi > d.cfg.RSIOverbought

	if buy {
		logger.Debug("Range LONG сигнал от поддержки",
			zap.String("symbol", s.Symbol),
			zap.Float64("support", support),
			zap.Float64("rsi", rsi))
		return newSignal(s.Symbol, models.DirectionLong, models.StrategyRange, last.Close)
	}
	if sell {
		logger.Debug("Range SHORT сигнал от сопротивления",
			zap.String("symbol", s.Symbol),
			zap.Float64("resistance", resistance),
			zap.Float64("rsi", rsi))
		return newSignal(s.Symbol, models.DirectionShort, models.StrategyRange, last.Close)
	}
	return nil
}

// nearResistance: остаток хода до недавнего максимума меньше ATR-буфера
func (d *Detector) nearResistance(s *market.Snapshot, close float64) bool {
	return s.RecentHigh(nearLevelLookback)-close <= d.levelBuffer(s, close)
}

// nearSupport: остаток хода до недавнего минимума меньше ATR-буфера
func (d *Detector) nearSupport(s *market.Snapshot, close float64) bool {
	return close-s.RecentLow(nearLevelLookback) <= d.levelBuffer(s, close)
}

// levelBuffer масштабирует буфер близости по волатильности;
// на холодном старте (ATR еще не определен) — 0.5% цены
func (d *Detector) levelBuffer(s *market.Snapshot, close float64) float64 {
	atr := s.ATR(models.StrategyTrend)
	if atr <= 0 {
		return close * 0.005
	}
	return atr * d.cfg.NearLevelATRMult
}

func newSignal(symbol string, dir models.Direction, strat models.Strategy, price float64) *models.Signal {
	return &models.Signal{
		Symbol:     symbol,
		Direction:  dir,
		Strategy:   strat,
		EntryPrice: price,
		Timestamp:  time.Now().UTC(),
	}
}
