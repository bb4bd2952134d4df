package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skalibog/bfte/internal/backtest"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/internal/engine"
	"github.com/skalibog/bfte/internal/exchange"
	"github.com/skalibog/bfte/internal/executor"
	"github.com/skalibog/bfte/internal/notify"
	"github.com/skalibog/bfte/internal/risk"
	"github.com/skalibog/bfte/internal/storage"
	"github.com/skalibog/bfte/internal/strategy"
	"github.com/skalibog/bfte/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	backtestMode := flag.Bool("backtest", false, "прогнать бэктест по парам и выйти")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(5 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	if *backtestMode {
		runBacktest(ctx, cfg, client)
		return
	}

	// Инициализируем хранилище
	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer store.Close()

	// Канал уведомлений
	notifier, err := notify.New(cfg.Telegram)
	if err != nil {
		logger.Fatal("Ошибка инициализации уведомлений", zap.Error(err))
	}

	// Собираем конвейер: контроль допуска, машина исполнения, движок
	gate := risk.NewGate(cfg.Risk, client, cfg.Trading.SignalsOnly)
	exec := executor.New(executor.FromYAML(cfg.Executor), client, strategy.NewCalculator(cfg.Strategy))
	eng := engine.New(cfg, client, gate, exec, notifier, store)

	// Внеполосное управление из Telegram (/on /off /status /resume)
	if tg, ok := notifier.(*notify.Telegram); ok {
		go tg.Listen(ctx, eng)
	}

	// Эндпоинт метрик
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
			logger.Error("Эндпоинт метрик остановлен", zap.Error(err))
		}
	}()

	// Базовый баланс дня фиксируется на старте и далее раз в сутки
	eng.StartOfDay(ctx)
	dayTicker := time.NewTicker(24 * time.Hour)
	defer dayTicker.Stop()

	cycle := time.Duration(cfg.Trading.CycleSeconds) * time.Second
	logger.Info("Движок запущен", zap.Duration("cycle", cycle))

	for {
		select {
		case <-ctx.Done():
			return
		case <-dayTicker.C:
			eng.StartOfDay(ctx)
		default:
		}

		if !eng.TradingEnabled() {
			logger.Info("Торговля отключена, ожидание команды /on")
			sleep(ctx, time.Minute)
			continue
		}

		symbols, err := eng.Symbols(ctx)
		if err != nil {
			logger.Error("Ошибка отбора пар", zap.Error(err))
			sleep(ctx, cycle)
			continue
		}

		eng.RunCycle(ctx, symbols)
		logger.Info("Цикл завершен, ожидание следующего", zap.Duration("sleep", cycle))
		sleep(ctx, cycle)
	}
}

// runBacktest прогоняет стратегию по истории отобранных пар и выходит
func runBacktest(ctx context.Context, cfg *config.Config, client *exchange.BinanceClient) {
	symbols := cfg.Trading.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = client.TopVolumePairs(ctx, "USDT", cfg.Trading.PairLimit, cfg.Trading.MinQuoteVolume)
		if err != nil {
			logger.Fatal("Ошибка отбора пар для бэктеста", zap.Error(err))
		}
	}

	runner := backtest.NewRunner(cfg.Strategy)
	for _, symbol := range symbols {
		candles, err := client.GetKlines(ctx, symbol, cfg.Trading.Interval, cfg.Trading.CandleLimit)
		if err != nil {
			logger.Error("Ошибка получения истории", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		stats, err := runner.Run(symbol, candles, 0)
		if err != nil {
			logger.Warn("Бэктест пропущен", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		logger.Info("Результат бэктеста", zap.String("stats", stats.String()))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
