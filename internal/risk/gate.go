package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/pkg/logger"
	"github.com/skalibog/bfte/pkg/models"
	"go.uber.org/zap"
)

// PositionSource источник открытых позиций для проверок допуска
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]*models.Position, error)
}

// Gate стейтфул-контроль допуска к торговле. Счетчики и резервы слотов
// живут в памяти процесса и читаются конкурентно несколькими воркерами.
type Gate struct {
	mu sync.Mutex

	cfg         config.RiskConfig
	positions   PositionSource
	signalsOnly bool

	losses          map[string]int
	reserved        map[string]bool
	dayStartBalance float64
	lossTriggered   bool
}

// NewGate создает новый контроль допуска
func NewGate(cfg config.RiskConfig, positions PositionSource, signalsOnly bool) *Gate {
	return &Gate{
		cfg:         cfg,
		positions:   positions,
		signalsOnly: signalsOnly,
		losses:      make(map[string]int),
		reserved:    make(map[string]bool),
	}
}

// Admit решает, допускается ли новый вход по символу. Разрешенный допуск
// резервирует слот до вызова Release: биржа видит позицию с задержкой,
// и без резерва два воркера одного цикла заняли бы последний слот вдвоем.
// В режиме signals-only допуск всегда разрешен, причина отказа
// сохраняется в тексте для уведомления.
func (g *Gate) Admit(ctx context.Context, symbol string) (bool, string) {
	allowed, reason := g.check(ctx, symbol)
	if !allowed && g.signalsOnly {
		return true, fmt.Sprintf("только сигналы: %s", reason)
	}
	return allowed, reason
}

func (g *Gate) check(ctx context.Context, symbol string) (bool, string) {
	g.mu.Lock()
	if reason, denied := g.deniedLocked(symbol); denied {
		g.mu.Unlock()
		return false, reason
	}
	g.mu.Unlock()

	open, err := g.positions.OpenPositions(ctx)
	if err != nil {
		return false, fmt.Sprintf("ошибка проверки позиций: %v", err)
	}

	// решение о слоте принимается атомарно: счетчики перечитываются
	// после сетевого запроса, резерв ставится в той же секции
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason, denied := g.deniedLocked(symbol); denied {
		return false, reason
	}

	onExchange := make(map[string]bool, len(open))
	for _, p := range open {
		onExchange[p.Symbol] = true
	}
	if onExchange[symbol] {
		return false, fmt.Sprintf("%s уже в открытой позиции", symbol)
	}

	// позиции биржи плюс резервы попыток, еще не видимых бирже
	total := len(open)
	for sym := range g.reserved {
		if !onExchange[sym] {
			total++
		}
	}
	if total >= g.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("достигнут лимит открытых позиций (%d)", g.cfg.MaxOpenPositions)
	}

	g.reserved[symbol] = true
	return true, "допуск разрешен"
}

func (g *Gate) deniedLocked(symbol string) (string, bool) {
	if g.lossTriggered {
		return "сработал дневной лимит убытка, требуется ручной сброс", true
	}
	if g.losses[symbol] >= g.cfg.MaxLosses {
		return fmt.Sprintf("%s достиг лимита убыточных сделок: %d", symbol, g.losses[symbol]), true
	}
	if g.reserved[symbol] {
		return fmt.Sprintf("по %s уже идет попытка входа", symbol), true
	}
	return "", false
}

// Release снимает резерв слота после терминального исхода попытки.
// Дальше счет позиций ведет биржа: реальная позиция видна в OpenPositions.
func (g *Gate) Release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, symbol)
}

// RecordOutcome учитывает исход сделки. Победа обнуляет серию убытков символа.
func (g *Gate) RecordOutcome(symbol string, outcome models.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch outcome {
	case models.OutcomeLoss:
		g.losses[symbol]++
		logger.Warn("Зафиксирован убыток",
			zap.String("symbol", symbol),
			zap.Int("loss_streak", g.losses[symbol]))
	case models.OutcomeWin:
		g.losses[symbol] = 0
	}
}

// LossCount возвращает текущую серию убытков символа
func (g *Gate) LossCount(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.losses[symbol]
}

// SetDayStartBalance фиксирует базовый баланс начала дня
func (g *Gate) SetDayStartBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayStartBalance = balance
}

// CheckDailyLoss сверяет текущий баланс с базой начала дня.
// Возвращает true, когда просадка превысила лимит; защелка липкая и
// снимается только внешним вмешательством (Reset).
func (g *Gate) CheckDailyLoss(current float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lossTriggered {
		return true
	}
	if g.dayStartBalance <= 0 {
		return false // база еще не установлена, проверку пропускаем
	}

	lossPct := (g.dayStartBalance - current) / g.dayStartBalance
	if lossPct >= g.cfg.DailyLossLimit {
		g.lossTriggered = true
		logger.Error("Сработал дневной лимит убытка",
			zap.Float64("loss_pct", lossPct*100),
			zap.Float64("day_start", g.dayStartBalance),
			zap.Float64("current", current))
		return true
	}
	return false
}

// Halted сообщает, активна ли защелка дневного убытка
func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lossTriggered
}

// Reset снимает защелку дневного убытка. Вызывается только по внешней
// команде после разбора ситуации.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lossTriggered = false
	logger.Info("Защелка дневного убытка снята вручную")
}
