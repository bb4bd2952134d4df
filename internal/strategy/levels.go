package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/pkg/models"
)

// запасной ATR на холодном старте, доля от цены входа
const atrFallbackPct = 0.004

// Calculator рассчитывает защитные уровни по сигналу и волатильности
type Calculator struct {
	table map[models.Strategy]config.LevelConfig
}

// NewCalculator создает калькулятор уровней с таблицей вариантов стратегий
func NewCalculator(cfg config.StrategyConfig) *Calculator {
	return &Calculator{
		table: map[models.Strategy]config.LevelConfig{
			models.StrategyTrend: cfg.Trend,
			models.StrategyRange: cfg.Range,
			models.StrategyScalp: cfg.Scalp,
		},
	}
}

// Levels рассчитывает тройку Entry/TP/SL от цены входа и ATR.
// Дистанции: max(ATR × множитель, вход × процентный пол). Нулевой или
// неопределенный ATR заменяется запасным значением, расчет не падает.
func (c *Calculator) Levels(direction models.Direction, strat models.Strategy, entry, atr float64) (models.LevelSet, error) {
	if entry <= 0 {
		return models.LevelSet{}, fmt.Errorf("некорректная цена входа: %v", entry)
	}

	lc, ok := c.table[strat]
	if !ok {
		return models.LevelSet{}, fmt.Errorf("неизвестный вариант стратегии: %s", strat)
	}

	if atr <= 0 {
		atr = entry * atrFallbackPct
	}

	tpDist := maxFloat(atr*lc.ATRTakeProfit, entry*lc.MinTakeProfitPct)
	slDist := maxFloat(atr*lc.ATRStopLoss, entry*lc.MinStopLossPct)

	prec := PricePrecision(entry)
	rounded := models.LevelSet{Entry: roundPrice(entry, prec)}

	if direction == models.DirectionLong {
		rounded.TakeProfit = roundPrice(entry+tpDist, prec)
		rounded.StopLoss = roundPrice(entry-slDist, prec)
	} else {
		rounded.TakeProfit = roundPrice(entry-tpDist, prec)
		rounded.StopLoss = roundPrice(entry+slDist, prec)
	}

	// после округления стоп обязан остаться строго на убыточной стороне;
	// при грубой точности и узком ATR перечитываем с большей точностью
	if !sidesValid(direction, rounded) {
		finer := prec + 4
		if direction == models.DirectionLong {
			rounded.TakeProfit = roundPrice(entry+tpDist, finer)
			rounded.StopLoss = roundPrice(entry-slDist, finer)
		} else {
			rounded.TakeProfit = roundPrice(entry-tpDist, finer)
			rounded.StopLoss = roundPrice(entry+slDist, finer)
		}
	}

	if !sidesValid(direction, rounded) {
		return models.LevelSet{}, fmt.Errorf("уровни на неверной стороне входа: %+v", rounded)
	}
	return rounded, nil
}

// Validate проверяет инвариант сторон для готового набора уровней
func Validate(direction models.Direction, ls models.LevelSet) error {
	if ls.Entry <= 0 || ls.TakeProfit <= 0 || ls.StopLoss <= 0 {
		return fmt.Errorf("уровни должны быть положительными: %+v", ls)
	}
	if !sidesValid(direction, ls) {
		return fmt.Errorf("уровни на неверной стороне входа (%s): %+v", direction, ls)
	}
	return nil
}

func sidesValid(direction models.Direction, ls models.LevelSet) bool {
	if direction == models.DirectionLong {
		return ls.StopLoss < ls.Entry && ls.Entry < ls.TakeProfit
	}
	return ls.TakeProfit < ls.Entry && ls.Entry < ls.StopLoss
}

// PricePrecision возвращает число знаков округления цены по ее величине.
// Чистая функция от цены, не от метаданных биржи.
func PricePrecision(price float64) int {
	switch {
	case price < 0.01:
		return 8
	case price < 1:
		return 6
	case price < 100:
		return 4
	default:
		return 2
	}
}

func roundPrice(price float64, precision int) float64 {
	return decimal.NewFromFloat(price).Round(int32(precision)).InexactFloat64()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
