package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/pkg/logger"
	"go.uber.org/zap"
)

// Notifier канал доставки отчетов. Терминальные исходы исполнения
// обязаны проходить через него: молчаливые потери отчетов запрещены.
type Notifier interface {
	Notify(text string)
}

// Controls операции управления торговлей, доступные из внешнего канала
type Controls interface {
	SetTradingEnabled(enabled bool)
	TradingEnabled() bool
	ResetDailyLoss()
	Halted() bool
}

// Telegram уведомления и внеполосное управление через чат
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New создает Telegram-нотификатор. При выключенной секции конфигурации
// возвращается no-op вариант, пишущий отчеты только в лог.
func New(cfg config.TelegramConfig) (Notifier, error) {
	if !cfg.Enabled || cfg.Token == "" {
		logger.Info("Telegram отключен, отчеты идут только в лог")
		return &logOnly{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram: %w", err)
	}

	logger.Info("Telegram подключен", zap.String("bot", bot.Self.UserName))
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

// Notify отправляет текст в настроенный чат
func (t *Telegram) Notify(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		logger.Error("Ошибка отправки сообщения в Telegram", zap.Error(err))
	}
}

// Listen обрабатывает команды управления из чата:
// /on и /off переключают мастер-флаг торговли, /resume снимает защелку
// дневного убытка, /status возвращает текущее состояние.
// Блокирует до отмены контекста, запускается в отдельной горутине.
func (t *Telegram) Listen(ctx context.Context, controls Controls) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || update.Message.Chat.ID != t.chatID {
				continue
			}
			t.handleCommand(update.Message.Text, controls)
		}
	}
}

func (t *Telegram) handleCommand(text string, controls Controls) {
	switch text {
	case "/on":
		controls.SetTradingEnabled(true)
		t.Notify("✅ Торговля включена")
	case "/off":
		controls.SetTradingEnabled(false)
		t.Notify("🚫 Торговля отключена")
	case "/resume":
		controls.ResetDailyLoss()
		t.Notify("🔄 Защелка дневного убытка снята")
	case "/status":
		status := "отключена"
		if controls.TradingEnabled() {
			status = "включена"
		}
		halt := ""
		if controls.Halted() {
			halt = ", активна защелка дневного убытка"
		}
		t.Notify(fmt.Sprintf("ℹ️ Торговля %s%s", status, halt))
	}
}

// logOnly no-op нотификатор для работы без Telegram
type logOnly struct{}

func (*logOnly) Notify(text string) {
	logger.Info("Отчет", zap.String("text", text))
}
