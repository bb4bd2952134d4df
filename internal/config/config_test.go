package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
binance:
  api_key: key
  api_secret: secret
trading:
  symbols: ["BTCUSDT"]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Trading.Interval != "5m" || cfg.Trading.ConfirmInterval != "15m" {
		t.Fatalf("таймфреймы по умолчанию не применились: %+v", cfg.Trading)
	}
	if cfg.Trading.CycleSeconds != 300 || cfg.Trading.Concurrency != 4 {
		t.Fatalf("параметры цикла по умолчанию не применились: %+v", cfg.Trading)
	}
	if cfg.Strategy.RSIOversold != 30 || cfg.Strategy.RSIOverbought != 70 {
		t.Fatalf("пороги RSI по умолчанию не применились: %+v", cfg.Strategy)
	}
	if cfg.Strategy.Trend.MinStopLossPct != 0.006 {
		t.Fatalf("таблица уровней по умолчанию не применилась: %+v", cfg.Strategy.Trend)
	}
	if cfg.Risk.MaxLosses != 3 || cfg.Risk.DailyLossLimit != 0.30 {
		t.Fatalf("риск-параметры по умолчанию не применились: %+v", cfg.Risk)
	}
	if cfg.Executor.FillTimeoutSeconds != 300 || cfg.Executor.CapitalFraction != 0.25 {
		t.Fatalf("параметры исполнения по умолчанию не применились: %+v", cfg.Executor)
	}
	if len(cfg.Executor.MarginModes) != 2 || cfg.Executor.MarginModes[0] != "isolated" {
		t.Fatalf("порядок режимов маржи по умолчанию: %v", cfg.Executor.MarginModes)
	}
}

func TestLoadExplicitOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
trading:
  interval: 1m
  cycle_seconds: 60
  signals_only: true
executor:
  leverage: 5
  margin_modes: ["cross"]
risk:
  max_losses: 5
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Trading.Interval != "1m" || cfg.Trading.CycleSeconds != 60 {
		t.Fatalf("явные значения перекрыты умолчаниями: %+v", cfg.Trading)
	}
	if !cfg.Trading.SignalsOnly {
		t.Fatal("signals_only не применился")
	}
	if cfg.Executor.Leverage != 5 {
		t.Fatalf("плечо перекрыто умолчанием: %d", cfg.Executor.Leverage)
	}
	if len(cfg.Executor.MarginModes) != 1 || cfg.Executor.MarginModes[0] != "cross" {
		t.Fatalf("явный список режимов маржи перекрыт: %v", cfg.Executor.MarginModes)
	}
	if cfg.Risk.MaxLosses != 5 {
		t.Fatalf("лимит убытков перекрыт: %d", cfg.Risk.MaxLosses)
	}
}
