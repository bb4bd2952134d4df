package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/pkg/models"
)

// Storage интерфейс хранилища рыночных данных и результатов движка
type Storage interface {
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	SaveSignal(ctx context.Context, signal *models.Signal) error
	SaveExecution(ctx context.Context, report *models.ExecutionReport) error
	Close()
}

// New создает хранилище по конфигурации; пустой URL отключает запись
func New(cfg config.StorageConfig) (Storage, error) {
	if cfg.URL == "" {
		return Noop{}, nil
	}
	return NewInfluxDBStorage(cfg)
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandles сохраняет множество свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		s.writeAPI.WritePoint(point)
	}

	s.writeAPI.Flush()
	return nil
}

// SaveSignal сохраняет эмитированный сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":    signal.Symbol,
			"direction": string(signal.Direction),
			"strategy":  string(signal.Strategy),
		},
		map[string]interface{}{
			"entry_price": signal.EntryPrice,
		},
		signal.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// SaveExecution сохраняет отчет об исполнении
func (s *InfluxDBStorage) SaveExecution(ctx context.Context, report *models.ExecutionReport) error {
	fields := map[string]interface{}{
		"signal_emitted": report.SignalEmitted,
		"admitted":       report.Admitted,
		"detail":         report.Detail,
	}
	if report.Levels != nil {
		fields["entry"] = report.Levels.Entry
		fields["take_profit"] = report.Levels.TakeProfit
		fields["stop_loss"] = report.Levels.StopLoss
	}

	point := influxdb2.NewPoint(
		"executions",
		map[string]string{
			"symbol":  report.Symbol,
			"outcome": string(report.Outcome),
		},
		fields,
		report.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// Noop хранилище-заглушка для запуска без InfluxDB
type Noop struct{}

func (Noop) SaveCandles(context.Context, []*models.Candle) error          { return nil }
func (Noop) SaveSignal(context.Context, *models.Signal) error             { return nil }
func (Noop) SaveExecution(context.Context, *models.ExecutionReport) error { return nil }
func (Noop) Close()                                                       {}
