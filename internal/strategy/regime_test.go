package strategy

import (
	"testing"

	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/pkg/models"
)

// flatSnapshot строит снимок из n баров с плоскими сериями;
// тесты мутируют хвосты под конкретный случай
func flatSnapshot(n int) *market.Snapshot {
	s := &market.Snapshot{Symbol: "BTCUSDT", Interval: "15m"}
	s.Candles = make([]*models.Candle, n)
	s.Opens = make([]float64, n)
	s.Highs = make([]float64, n)
	s.Lows = make([]float64, n)
	s.Closes = make([]float64, n)
	s.MA10 = make([]float64, n)
	s.MA20 = make([]float64, n)
	s.MA50 = make([]float64, n)
	s.RSI14 = make([]float64, n)
	s.ADX14 = make([]float64, n)
	s.ATR7 = make([]float64, n)
	s.ATR14 = make([]float64, n)
	s.Support50 = make([]float64, n)
	s.Resistance50 = make([]float64, n)

	for i := 0; i < n; i++ {
		s.Candles[i] = &models.Candle{Symbol: "BTCUSDT", Open: 100, High: 101, Low: 99, Close: 100}
		s.Opens[i] = 100
		s.Highs[i] = 101
		s.Lows[i] = 99
		s.Closes[i] = 100
		s.MA10[i] = 100
		s.MA20[i] = 100
		s.MA50[i] = 100
		s.RSI14[i] = 50
		s.ADX14[i] = 30
		s.ATR7[i] = 1
		s.ATR14[i] = 1
	}
	return s
}

func TestClassifyRegimeTrendingUp(t *testing.T) {
	s := flatSnapshot(60)
	for i := 0; i < 60; i++ {
		s.MA20[i] = 100 + 0.5*float64(i)
		s.MA50[i] = 95
	}

	if got := ClassifyRegime(s); got != models.RegimeTrendingUp {
		t.Fatalf("ожидался trending_up, получен %s", got)
	}
}

func TestClassifyRegimeTrendingDown(t *testing.T) {
	s := flatSnapshot(60)
	for i := 0; i < 60; i++ {
		s.MA20[i] = 100 - 0.5*float64(i)
		s.MA50[i] = 105
	}

	if got := ClassifyRegime(s); got != models.RegimeTrendingDown {
		t.Fatalf("ожидался trending_down, получен %s", got)
	}
}

func TestClassifyRegimeRanging(t *testing.T) {
	// плоские скользящие, слабый ADX, узкий диапазон 50 баров
	s := flatSnapshot(60)
	for i := 0; i < 60; i++ {
		s.ADX14[i] = 18
		s.Highs[i] = 100.5
		s.Lows[i] = 100
	}

	if got := ClassifyRegime(s); got != models.RegimeRanging {
		t.Fatalf("ожидался ranging, получен %s", got)
	}
}

func TestClassifyRegimeIndeterminate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *market.Snapshot)
	}{
		{
			name: "сильный ADX без тренда скользящих",
			mutate: func(s *market.Snapshot) {
				for i := range s.ADX14 {
					s.ADX14[i] = 40
				}
			},
		},
		{
			name: "широкий диапазон при слабом ADX",
			mutate: func(s *market.Snapshot) {
				for i := range s.ADX14 {
					s.ADX14[i] = 18
					s.Highs[i] = 110
					s.Lows[i] = 90
				}
			},
		},
		{
			name: "ma20 выше ma50, но наклон вниз",
			mutate: func(s *market.Snapshot) {
				n := len(s.MA20)
				for i := 0; i < n; i++ {
					s.MA20[i] = 110 - 0.1*float64(i)
					s.MA50[i] = 95
				}
			},
		},
		{
			name: "нулевая ma50 на прогреве индикатора",
			mutate: func(s *market.Snapshot) {
				s.MA50[len(s.MA50)-1] = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := flatSnapshot(60)
			tt.mutate(s)
			if got := ClassifyRegime(s); got != models.RegimeIndeterminate {
				t.Fatalf("ожидался indeterminate, получен %s", got)
			}
		})
	}
}

func TestClassifyRegimeShortSeries(t *testing.T) {
	if got := ClassifyRegime(nil); got != models.RegimeIndeterminate {
		t.Fatalf("nil снимок: ожидался indeterminate, получен %s", got)
	}

	s := flatSnapshot(60)
	s.MA20 = s.MA20[:3]
	if got := ClassifyRegime(s); got != models.RegimeIndeterminate {
		t.Fatalf("короткая серия: ожидался indeterminate, получен %s", got)
	}
}
