package strategy

import (
	"math"
	"testing"

	"github.com/skalibog/bfte/pkg/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLevelsLongSides(t *testing.T) {
	c := NewCalculator(defaultStrategyConfig())

	ls, err := c.Levels(models.DirectionLong, models.StrategyTrend, 50, 2)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	// ATR-дистанции доминируют над процентными полами: TP 2*3, SL 2*1.5
	if !almostEqual(ls.TakeProfit, 56) || !almostEqual(ls.StopLoss, 47) {
		t.Fatalf("неверные уровни: %+v", ls)
	}
	if !(ls.StopLoss < ls.Entry && ls.Entry < ls.TakeProfit) {
		t.Fatalf("нарушен инвариант сторон для long: %+v", ls)
	}
}

func TestLevelsShortSides(t *testing.T) {
	c := NewCalculator(defaultStrategyConfig())

	ls, err := c.Levels(models.DirectionShort, models.StrategyTrend, 50, 2)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !almostEqual(ls.TakeProfit, 44) || !almostEqual(ls.StopLoss, 53) {
		t.Fatalf("неверные уровни: %+v", ls)
	}
	if !(ls.TakeProfit < ls.Entry && ls.Entry < ls.StopLoss) {
		t.Fatalf("нарушен инвариант сторон для short: %+v", ls)
	}
}

func TestLevelsPercentFloorDominates(t *testing.T) {
	// ATR близок к нулю: дистанции определяются процентными полами
	c := NewCalculator(defaultStrategyConfig())

	ls, err := c.Levels(models.DirectionLong, models.StrategyTrend, 50000, 0)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	// запасной ATR 0.4% дает 200; полы 0.014/0.006 дают 700 и 300
	if !almostEqual(ls.TakeProfit, 50700) {
		t.Fatalf("TP должен упереться в процентный пол: %v", ls.TakeProfit)
	}
	if !almostEqual(ls.StopLoss, 49700) {
		t.Fatalf("SL должен упереться в процентный пол: %v", ls.StopLoss)
	}
}

func TestLevelsNegativeATRNotFatal(t *testing.T) {
	c := NewCalculator(defaultStrategyConfig())

	ls, err := c.Levels(models.DirectionLong, models.StrategyRange, 100, -1)
	if err != nil {
		t.Fatalf("отрицательный ATR должен заменяться запасным: %v", err)
	}
	if err := Validate(models.DirectionLong, ls); err != nil {
		t.Fatalf("уровни с запасным ATR обязаны быть валидными: %v", err)
	}
}

func TestLevelsPerStrategyDistances(t *testing.T) {
	c := NewCalculator(defaultStrategyConfig())
	entry, atr := 100.0, 1.0

	trend, _ := c.Levels(models.DirectionLong, models.StrategyTrend, entry, atr)
	rng, _ := c.Levels(models.DirectionLong, models.StrategyRange, entry, atr)
	scalp, _ := c.Levels(models.DirectionLong, models.StrategyScalp, entry, atr)

	if !(trend.TakeProfit > rng.TakeProfit && rng.TakeProfit > scalp.TakeProfit) {
		t.Fatalf("дистанции TP должны убывать от trend к scalp: %v %v %v",
			trend.TakeProfit, rng.TakeProfit, scalp.TakeProfit)
	}
	if !(trend.StopLoss < rng.StopLoss && rng.StopLoss < scalp.StopLoss) {
		t.Fatalf("дистанции SL должны убывать от trend к scalp: %v %v %v",
			trend.StopLoss, rng.StopLoss, scalp.StopLoss)
	}
}

func TestLevelsTinyPriceKeepsSides(t *testing.T) {
	// микроцена с узким скальп-ATR: после округления стоп обязан
	// остаться строго на убыточной стороне
	c := NewCalculator(defaultStrategyConfig())

	for _, dir := range []models.Direction{models.DirectionLong, models.DirectionShort} {
		ls, err := c.Levels(dir, models.StrategyScalp, 0.00001234, 0)
		if err != nil {
			t.Fatalf("%s: неожиданная ошибка: %v", dir, err)
		}
		if err := Validate(dir, ls); err != nil {
			t.Fatalf("%s: %v", dir, err)
		}
	}
}

func TestLevelsRejectsBadInput(t *testing.T) {
	c := NewCalculator(defaultStrategyConfig())

	if _, err := c.Levels(models.DirectionLong, models.StrategyTrend, 0, 1); err == nil {
		t.Fatal("нулевая цена входа должна отклоняться")
	}
	if _, err := c.Levels(models.DirectionLong, models.Strategy("breakout"), 100, 1); err == nil {
		t.Fatal("неизвестный вариант стратегии должен отклоняться")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		dir     models.Direction
		ls      models.LevelSet
		wantErr bool
	}{
		{"валидный long", models.DirectionLong, models.LevelSet{Entry: 100, TakeProfit: 103, StopLoss: 98}, false},
		{"валидный short", models.DirectionShort, models.LevelSet{Entry: 100, TakeProfit: 97, StopLoss: 102}, false},
		{"long со стопом выше входа", models.DirectionLong, models.LevelSet{Entry: 100, TakeProfit: 103, StopLoss: 101}, true},
		{"short с TP выше входа", models.DirectionShort, models.LevelSet{Entry: 100, TakeProfit: 101, StopLoss: 102}, true},
		{"нулевой уровень", models.DirectionLong, models.LevelSet{Entry: 100, TakeProfit: 103}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.dir, tt.ls)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, ожидалась ошибка: %v", err, tt.wantErr)
			}
		})
	}
}

func TestPricePrecision(t *testing.T) {
	tests := []struct {
		price float64
		want  int
	}{
		{0.0000123, 8},
		{0.5, 6},
		{42.5, 4},
		{50000, 2},
	}
	for _, tt := range tests {
		if got := PricePrecision(tt.price); got != tt.want {
			t.Errorf("PricePrecision(%v) = %d, ожидалось %d", tt.price, got, tt.want)
		}
	}
}
