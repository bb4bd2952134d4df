package strategy

import (
	"testing"

	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/pkg/models"
)

func defaultStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		SupportBuffer:    1.01,
		ResistanceBuffer: 0.99,
		RSIOversold:      30,
		RSIOverbought:    70,
		NearLevelATRMult: 1.5,
		Trend:            config.LevelConfig{ATRTakeProfit: 3.0, ATRStopLoss: 1.5, MinTakeProfitPct: 0.014, MinStopLossPct: 0.006},
		Range:            config.LevelConfig{ATRTakeProfit: 2.0, ATRStopLoss: 1.0, MinTakeProfitPct: 0.010, MinStopLossPct: 0.005},
		Scalp:            config.LevelConfig{ATRTakeProfit: 1.0, ATRStopLoss: 0.5, MinTakeProfitPct: 0.004, MinStopLossPct: 0.002},
	}
}

// trendLongSnapshot: ma10 > ma20 > ma50, бычья последняя свеча выше ma10,
// до недавнего максимума далеко
func trendLongSnapshot() *market.Snapshot {
	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.MA10[i] = 105
		s.MA20[i] = 103
		s.MA50[i] = 100
		s.Highs[i] = 115
		s.Lows[i] = 90
	}
	last := s.Candles[n-1]
	last.Open = 106
	last.Close = 108
	s.Opens[n-1] = 106
	s.Closes[n-1] = 108
	return s
}

func TestDetectTrendLong(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := trendLongSnapshot()

	sig := d.Detect(s, models.RegimeTrendingUp)
	if sig == nil {
		t.Fatal("ожидался сигнал, получен nil")
	}
	if sig.Direction != models.DirectionLong || sig.Strategy != models.StrategyTrend {
		t.Fatalf("ожидался трендовый long, получен %s/%s", sig.Direction, sig.Strategy)
	}
	if sig.EntryPrice != 108 {
		t.Fatalf("цена сигнала должна быть ценой закрытия: %v", sig.EntryPrice)
	}
}

func TestDetectTrendLongBlockedNearResistance(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := trendLongSnapshot()
	// недавний максимум вплотную к закрытию: ход ограничен, сигнала нет
	n := len(s.Highs)
	for i := n - 10; i < n; i++ {
		s.Highs[i] = 108.5
	}

	if sig := d.Detect(s, models.RegimeTrendingUp); sig != nil {
		t.Fatalf("сигнал у сопротивления должен подавляться, получен %+v", sig)
	}
}

func TestDetectTrendLongRequiresRegime(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := trendLongSnapshot()

	for _, regime := range []models.Regime{models.RegimeIndeterminate, models.RegimeTrendingDown} {
		if sig := d.Detect(s, regime); sig != nil {
			t.Fatalf("в режиме %s трендовый long запрещен, получен %+v", regime, sig)
		}
	}
}

func TestDetectTrendShort(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.MA10[i] = 95
		s.MA20[i] = 97
		s.MA50[i] = 100
		s.Highs[i] = 110
		s.Lows[i] = 85
	}
	s.Candles[n-1].Open = 93
	s.Candles[n-1].Close = 92
	s.Opens[n-1] = 93
	s.Closes[n-1] = 92

	sig := d.Detect(s, models.RegimeTrendingDown)
	if sig == nil {
		t.Fatal("ожидался сигнал, получен nil")
	}
	if sig.Direction != models.DirectionShort || sig.Strategy != models.StrategyTrend {
		t.Fatalf("ожидался трендовый short, получен %s/%s", sig.Direction, sig.Strategy)
	}
}

func TestDetectRangeBuy(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.Support50[i] = 100
		s.Resistance50[i] = 110
		s.RSI14[i] = 25
	}
	s.Candles[n-1].Close = 100.5
	s.Closes[n-1] = 100.5

	sig := d.Detect(s, models.RegimeRanging)
	if sig == nil {
		t.Fatal("ожидался сигнал, получен nil")
	}
	if sig.Direction != models.DirectionLong || sig.Strategy != models.StrategyRange {
		t.Fatalf("ожидалась range-покупка, получен %s/%s", sig.Direction, sig.Strategy)
	}
}

func TestDetectRangeSell(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.Support50[i] = 100
		s.Resistance50[i] = 110
		s.RSI14[i] = 75
	}
	s.Candles[n-1].Close = 109.2
	s.Closes[n-1] = 109.2

	sig := d.Detect(s, models.RegimeRanging)
	if sig == nil {
		t.Fatal("ожидался сигнал, получен nil")
	}
	if sig.Direction != models.DirectionShort || sig.Strategy != models.StrategyRange {
		t.Fatalf("ожидалась range-продажа, получен %s/%s", sig.Direction, sig.Strategy)
	}
}

func TestDetectRangeRequiresRSI(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.Support50[i] = 100
		s.Resistance50[i] = 110
		s.RSI14[i] = 50 // нейтральный RSI блокирует оба края
	}
	s.Candles[n-1].Close = 100.5
	s.Closes[n-1] = 100.5

	if sig := d.Detect(s, models.RegimeRanging); sig != nil {
		t.Fatalf("без экстремума RSI сигнала быть не должно, получен %+v", sig)
	}
}

func TestDetectRangeBuyPriority(t *testing.T) {
	// вырожденные пороги RSI позволяют сработать обоим краям разом:
	// эмитится не более одного сигнала и приоритет у покупки
	cfg := defaultStrategyConfig()
	cfg.RSIOversold = 60
	cfg.RSIOverbought = 40
	d := NewDetector(cfg)

	s := flatSnapshot(60)
	n := len(s.Closes)
	for i := 0; i < n; i++ {
		s.Support50[i] = 100
		s.Resistance50[i] = 100
		s.RSI14[i] = 50
	}
	s.Candles[n-1].Close = 100
	s.Closes[n-1] = 100

	sig := d.Detect(s, models.RegimeRanging)
	if sig == nil {
		t.Fatal("ожидался сигнал, получен nil")
	}
	if sig.Direction != models.DirectionLong {
		t.Fatalf("при одновременной сработке приоритет у покупки, получен %s", sig.Direction)
	}
}

func TestDetectIdempotent(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := trendLongSnapshot()

	first := d.Detect(s, models.RegimeTrendingUp)
	second := d.Detect(s, models.RegimeTrendingUp)
	if first == nil || second == nil {
		t.Fatal("оба вызова должны вернуть сигнал")
	}
	// метка времени назначается в момент эмиссии, содержимое детерминировано
	if first.Symbol != second.Symbol ||
		first.Direction != second.Direction ||
		first.Strategy != second.Strategy ||
		first.EntryPrice != second.EntryPrice {
		t.Fatalf("повторная оценка того же снимка дала другой сигнал: %+v vs %+v", first, second)
	}
}

func TestDetectInsufficientCandles(t *testing.T) {
	d := NewDetector(defaultStrategyConfig())
	s := flatSnapshot(market.MinCandles - 1)

	if sig := d.Detect(s, models.RegimeTrendingUp); sig != nil {
		t.Fatalf("короткая история не должна давать сигналов, получен %+v", sig)
	}
	if sig := d.Detect(nil, models.RegimeTrendingUp); sig != nil {
		t.Fatalf("nil снимок не должен давать сигналов, получен %+v", sig)
	}
}
