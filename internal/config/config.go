package config

import (
	"os"

	"github.com/skalibog/bfte/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Executor ExecutorConfig `yaml:"executor"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торгового цикла
type TradingConfig struct {
	Symbols         []string `yaml:"symbols"`          // пустой список — отбор по объему
	Interval        string   `yaml:"interval"`         // исполнительный таймфрейм
	ConfirmInterval string   `yaml:"confirm_interval"` // подтверждающий таймфрейм
	CandleLimit     int      `yaml:"candle_limit"`
	CycleSeconds    int      `yaml:"cycle_seconds"`
	Concurrency     int      `yaml:"concurrency"`
	SignalsOnly     bool     `yaml:"signals_only"`
	PairLimit       int      `yaml:"pair_limit"`
	MinQuoteVolume  float64  `yaml:"min_quote_volume"`
}

// StrategyConfig настройки детектора сигналов и расчета уровней
type StrategyConfig struct {
	SupportBuffer    float64     `yaml:"support_buffer"`    // множитель близости к поддержке
	ResistanceBuffer float64     `yaml:"resistance_buffer"` // множитель близости к сопротивлению
	RSIOversold      float64     `yaml:"rsi_oversold"`
	RSIOverbought    float64     `yaml:"rsi_overbought"`
	NearLevelATRMult float64     `yaml:"near_level_atr_mult"`
	Trend            LevelConfig `yaml:"trend"`
	Range            LevelConfig `yaml:"range"`
	Scalp            LevelConfig `yaml:"scalp"`
}

// LevelConfig множители расчета защитных уровней для варианта стратегии
type LevelConfig struct {
	ATRTakeProfit    float64 `yaml:"atr_tp_multiplier"`
	ATRStopLoss      float64 `yaml:"atr_sl_multiplier"`
	MinTakeProfitPct float64 `yaml:"min_tp_pct"`
	MinStopLossPct   float64 `yaml:"min_sl_pct"`
}

// RiskConfig настройки допуска к торговле
type RiskConfig struct {
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxLosses        int     `yaml:"max_losses"`
	DailyLossLimit   float64 `yaml:"daily_loss_limit"`
}

// ExecutorConfig параметры машины состояний исполнения ордеров
type ExecutorConfig struct {
	PollIntervalSeconds   int      `yaml:"poll_interval_seconds"`
	FillTimeoutSeconds    int      `yaml:"fill_timeout_seconds"`
	ProtectivePollSeconds int      `yaml:"protective_poll_seconds"`
	ProtectiveRetries     int      `yaml:"protective_retries"`
	MarginModes           []string `yaml:"margin_modes"` // порядок fallback режимов маржи
	CapitalFraction       float64  `yaml:"capital_fraction"`
	Leverage              int      `yaml:"leverage"`
	EntryBufferPct        float64  `yaml:"entry_buffer_pct"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	URL          string `yaml:"url"` // пустой URL отключает хранилище
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// TelegramConfig настройки канала уведомлений и управления
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// MetricsConfig настройки эндпоинта метрик
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("Ошибка чтения файла конфигурации", zap.Error(err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		logger.Fatal("Ошибка разбора файла конфигурации", zap.Error(err))
	}

	config.applyDefaults()

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Any("symbols", config.Trading.Symbols),
		zap.String("interval", config.Trading.Interval))
	return &config, nil
}

// applyDefaults заполняет незаданные значения рабочими умолчаниями
func (c *Config) applyDefaults() {
	t := &c.Trading
	if t.Interval == "" {
		t.Interval = "5m"
	}
	if t.ConfirmInterval == "" {
		t.ConfirmInterval = "15m"
	}
	if t.CandleLimit == 0 {
		t.CandleLimit = 350
	}
	if t.CycleSeconds == 0 {
		t.CycleSeconds = 300
	}
	if t.Concurrency == 0 {
		t.Concurrency = 4
	}
	if t.PairLimit == 0 {
		t.PairLimit = 15
	}
	if t.MinQuoteVolume == 0 {
		t.MinQuoteVolume = 1_000_000
	}

	s := &c.Strategy
	if s.SupportBuffer == 0 {
		s.SupportBuffer = 1.01
	}
	if s.ResistanceBuffer == 0 {
		s.ResistanceBuffer = 0.99
	}
	if s.RSIOversold == 0 {
		s.RSIOversold = 30
	}
	if s.RSIOverbought == 0 {
		s.RSIOverbought = 70
	}
	if s.NearLevelATRMult == 0 {
		s.NearLevelATRMult = 1.5
	}
	if s.Trend == (LevelConfig{}) {
		s.Trend = LevelConfig{ATRTakeProfit: 3.0, ATRStopLoss: 1.5, MinTakeProfitPct: 0.014, MinStopLossPct: 0.006}
	}
	if s.Range == (LevelConfig{}) {
		s.Range = LevelConfig{ATRTakeProfit: 2.0, ATRStopLoss: 1.0, MinTakeProfitPct: 0.010, MinStopLossPct: 0.005}
	}
	if s.Scalp == (LevelConfig{}) {
		s.Scalp = LevelConfig{ATRTakeProfit: 1.0, ATRStopLoss: 0.5, MinTakeProfitPct: 0.004, MinStopLossPct: 0.002}
	}

	r := &c.Risk
	if r.MaxOpenPositions == 0 {
		r.MaxOpenPositions = 3
	}
	if r.MaxLosses == 0 {
		r.MaxLosses = 3
	}
	if r.DailyLossLimit == 0 {
		r.DailyLossLimit = 0.30
	}

	e := &c.Executor
	if e.PollIntervalSeconds == 0 {
		e.PollIntervalSeconds = 1
	}
	if e.FillTimeoutSeconds == 0 {
		e.FillTimeoutSeconds = 300
	}
	if e.ProtectivePollSeconds == 0 {
		e.ProtectivePollSeconds = 60
	}
	if e.ProtectiveRetries == 0 {
		e.ProtectiveRetries = 3
	}
	if len(e.MarginModes) == 0 {
		e.MarginModes = []string{"isolated", "cross"}
	}
	if e.CapitalFraction == 0 {
		e.CapitalFraction = 0.25
	}
	if e.Leverage == 0 {
		e.Leverage = 10
	}
	if e.EntryBufferPct == 0 {
		e.EntryBufferPct = 0.05
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}
