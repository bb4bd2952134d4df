package backtest

import (
	"fmt"

	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/internal/strategy"
	"github.com/skalibog/bfte/pkg/models"
)

// глубина поиска касания TP/SL после входа, в барах
const defaultLookahead = 10

// Stats результаты прогона стратегии по историческим свечам
type Stats struct {
	Symbol     string
	Trades     int
	Wins       int
	Losses     int
	ByStrategy map[models.Strategy]int
}

// WinRate доля выигрышных сделок в процентах
func (s *Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

func (s *Stats) String() string {
	return fmt.Sprintf("%s: сделок %d, побед %d, убытков %d, винрейт %.2f%%",
		s.Symbol, s.Trades, s.Wins, s.Losses, s.WinRate())
}

// Runner батч-прогон той же связки детектор/уровни по истории.
// Режим классифицируется по тому же снимку: в реплее исполнительный
// таймфрейм совмещает роль подтверждающего.
type Runner struct {
	detector *strategy.Detector
	levels   *strategy.Calculator
}

// NewRunner создает прогонщик бэктеста
func NewRunner(cfg config.StrategyConfig) *Runner {
	return &Runner{
		detector: strategy.NewDetector(cfg),
		levels:   strategy.NewCalculator(cfg),
	}
}

// Run проигрывает историю символа бар за баром и резолвит каждую
// сделку первым касанием TP либо SL в пределах окна lookahead.
func (r *Runner) Run(symbol string, candles []*models.Candle, lookahead int) (*Stats, error) {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	if len(candles) < market.MinCandles+lookahead {
		return nil, market.ErrInsufficientData
	}

	stats := &Stats{
		Symbol:     symbol,
		ByStrategy: make(map[models.Strategy]int),
	}

	for i := market.MinCandles; i < len(candles)-lookahead; i++ {
		snap, err := market.Build(candles[:i+1])
		if err != nil {
			continue
		}

		regime := strategy.ClassifyRegime(snap)
		sig := r.detector.Detect(snap, regime)
		if sig == nil {
			continue
		}

		levels, err := r.levels.Levels(sig.Direction, sig.Strategy, sig.EntryPrice, snap.ATR(sig.Strategy))
		if err != nil {
			continue
		}

		outcome := resolveFirstTouch(candles, i, sig.Direction, levels, lookahead)
		if outcome == models.OutcomeNone {
			continue
		}

		stats.Trades++
		stats.ByStrategy[sig.Strategy]++
		if outcome == models.OutcomeWin {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}

	return stats, nil
}

// resolveFirstTouch идет по будущим барам и возвращает исход первого
// касания уровня. Если бар накрывает оба уровня, консервативно
// считается убыток — тот же tie-break, что и в живом исполнении.
func resolveFirstTouch(candles []*models.Candle, entryIdx int, dir models.Direction, levels models.LevelSet, lookahead int) models.Outcome {
	for j := 1; j <= lookahead; j++ {
		idx := entryIdx + j
		if idx >= len(candles) {
			break
		}
		high, low := candles[idx].High, candles[idx].Low

		if dir == models.DirectionLong {
			if low <= levels.StopLoss {
				return models.OutcomeLoss
			}
			if high >= levels.TakeProfit {
				return models.OutcomeWin
			}
		} else {
			if high >= levels.StopLoss {
				return models.OutcomeLoss
			}
			if low <= levels.TakeProfit {
				return models.OutcomeWin
			}
		}
	}
	return models.OutcomeNone
}
