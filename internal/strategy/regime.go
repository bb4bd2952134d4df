package strategy

import (
	"github.com/skalibog/bfte/internal/market"
	"github.com/skalibog/bfte/pkg/models"
)

// пороги режима ranging
const (
	rangingADXMax   = 25.0
	rangingWidthMax = 0.02
)

// ClassifyRegime определяет режим рынка по снимку подтверждающего таймфрейма.
// Чистая функция: при нехватке данных возвращает Indeterminate, не ошибку.
func ClassifyRegime(s *market.Snapshot) models.Regime {
	if s == nil {
		return models.RegimeIndeterminate
	}

	n := len(s.MA20)
	// нужны 5 валидных точек ma20 и валидная ma50
	if n < 5 || s.MA20[n-5] == 0 || len(s.MA50) < n || s.MA50[n-1] == 0 {
		return models.RegimeIndeterminate
	}

	ma20 := s.MA20[n-1]
	ma50 := s.MA50[n-1]
	slope := s.MA20[n-1] - s.MA20[n-4]

	trendUp := ma20 > ma50 && s.MA20[n-1] > s.MA20[n-5] && slope > 0
	trendDown := ma20 < ma50 && s.MA20[n-1] < s.MA20[n-5] && slope < 0

	if trendUp {
		return models.RegimeTrendingUp
	}
	if trendDown {
		return models.RegimeTrendingDown
	}

	if isRanging(s) {
		return models.RegimeRanging
	}
	return models.RegimeIndeterminate
}

// isRanging: слабый тренд по ADX и узкий диапазон за последние 50 баров
func isRanging(s *market.Snapshot) bool {
	if len(s.ADX14) == 0 {
		return false
	}
	adx := s.ADX14[len(s.ADX14)-1]
	if adx == 0 || adx >= rangingADXMax {
		return false
	}

	high := s.RecentHigh(50)
	low := s.RecentLow(50)
	if low <= 0 {
		return false
	}
	return (high-low)/low < rangingWidthMax
}
