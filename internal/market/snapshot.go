package market

import (
	"errors"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bfte/pkg/models"
)

// MinCandles минимальное число свечей для валидного снимка:
// окно ma50 плюс один предшествующий бар.
const MinCandles = 51

// окно роллинга поддержки/сопротивления
const levelWindow = 50

// ErrInsufficientData возвращается, когда свечей меньше MinCandles
var ErrInsufficientData = errors.New("недостаточно данных для построения снимка")

// Snapshot индикаторный снимок над последовательностью свечей одного таймфрейма.
// После построения только читается.
type Snapshot struct {
	Symbol   string
	Interval string
	Candles  []*models.Candle

	Opens  []float64
	Highs  []float64
	Lows   []float64
	Closes []float64

	MA10  []float64
	MA20  []float64
	MA50  []float64
	RSI14 []float64
	ADX14 []float64
	ATR7  []float64
	ATR14 []float64

	Support50    []float64
	Resistance50 []float64
}

// Build строит снимок по последовательности свечей.
// Свечи должны быть упорядочены по времени открытия без дубликатов.
func Build(candles []*models.Candle) (*Snapshot, error) {
	if len(candles) < MinCandles {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	s := &Snapshot{
		Symbol:   candles[0].Symbol,
		Interval: candles[0].Interval,
		Candles:  candles,
		Opens:    make([]float64, n),
		Highs:    make([]float64, n),
		Lows:     make([]float64, n),
		Closes:   make([]float64, n),
	}

	for i, c := range candles {
		s.Opens[i] = c.Open
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Closes[i] = c.Close
	}

	s.MA10 = talib.Sma(s.Closes, 10)
	s.MA20 = talib.Sma(s.Closes, 20)
	s.MA50 = talib.Sma(s.Closes, 50)
	s.RSI14 = talib.Rsi(s.Closes, 14)
	s.ADX14 = talib.Adx(s.Highs, s.Lows, s.Closes, 14)
	s.ATR7 = talib.Atr(s.Highs, s.Lows, s.Closes, 7)
	s.ATR14 = talib.Atr(s.Highs, s.Lows, s.Closes, 14)

	s.Support50 = rollingMin(s.Lows, levelWindow)
	s.Resistance50 = rollingMax(s.Highs, levelWindow)

	return s, nil
}

// Last возвращает последнюю свечу снимка
func (s *Snapshot) Last() *models.Candle {
	return s.Candles[len(s.Candles)-1]
}

// ATR возвращает последнее значение ATR для варианта стратегии:
// скальпинг использует короткое окно, остальные — стандартное.
func (s *Snapshot) ATR(strategy models.Strategy) float64 {
	series := s.ATR14
	if strategy == models.StrategyScalp {
		series = s.ATR7
	}
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RecentHigh возвращает максимум high за последние n баров
func (s *Snapshot) RecentHigh(n int) float64 {
	start := len(s.Highs) - n
	if start < 0 {
		start = 0
	}
	high := s.Highs[start]
	for _, v := range s.Highs[start+1:] {
		if v > high {
			high = v
		}
	}
	return high
}

// RecentLow возвращает минимум low за последние n баров
func (s *Snapshot) RecentLow(n int) float64 {
	start := len(s.Lows) - n
	if start < 0 {
		start = 0
	}
	low := s.Lows[start]
	for _, v := range s.Lows[start+1:] {
		if v < low {
			low = v
		}
	}
	return low
}

func rollingMin(vals []float64, window int) []float64 {
	result := make([]float64, len(vals))
	for i := range vals {
		if i < window-1 {
			continue // нет значения до заполнения окна
		}
		m := vals[i]
		for j := i - window + 1; j < i; j++ {
			if vals[j] < m {
				m = vals[j]
			}
		}
		result[i] = m
	}
	return result
}

func rollingMax(vals []float64, window int) []float64 {
	result := make([]float64, len(vals))
	for i := range vals {
		if i < window-1 {
			continue
		}
		m := vals[i]
		for j := i - window + 1; j < i; j++ {
			if vals[j] > m {
				m = vals[j]
			}
		}
		result[i] = m
	}
	return result
}
