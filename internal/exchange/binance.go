package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/skalibog/bfte/internal/config"
	"github.com/skalibog/bfte/pkg/logger"
	"github.com/skalibog/bfte/pkg/models"
	"go.uber.org/zap"
)

// стейблкоины исключаются из отбора пар
var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "TUSD": true,
	"DAI": true, "FDUSD": true, "UST": true, "USDE": true,
}

// BinanceClient клиент для взаимодействия с Binance USDT-M фьючерсами
type BinanceClient struct {
	futures *futures.Client

	mu          sync.Mutex
	instruments map[string]*models.Instrument
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		futures.UseTestnet = true
	}

	return &BinanceClient{
		futures:     futuresClient,
		instruments: make(map[string]*models.Instrument),
	}, nil
}

// GetKlines получает исторические свечи с постраничной загрузкой.
// Результат отсортирован по времени открытия и не содержит дубликатов.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	hoursBack := 6
	if interval != "1m" && interval != "5m" {
		hoursBack = 48
	}
	since := time.Now().UTC().Add(-time.Duration(hoursBack) * time.Hour).UnixMilli()

	seen := make(map[int64]bool)
	var candles []*models.Candle

	for len(candles) < limit {
		klines, err := c.futures.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(since).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения свечей %s/%s: %w", symbol, interval, err)
		}
		if len(klines) == 0 {
			break
		}

		progressed := false
		for _, k := range klines {
			if seen[k.OpenTime] {
				continue
			}
			seen[k.OpenTime] = true
			progressed = true
			candles = append(candles, parseKline(symbol, interval, k))
		}
		if !progressed {
			break
		}
		since = klines[len(klines)-1].OpenTime + 1
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func parseKline(symbol, interval string, k *futures.Kline) *models.Candle {
	return &models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.Unix(k.OpenTime/1000, 0),
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		CloseTime: time.Unix(k.CloseTime/1000, 0),
	}
}

// LastPrice получает последнюю цену инструмента
func (c *BinanceClient) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("не найдена цена для %s", symbol)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return 0, fmt.Errorf("некорректная цена для %s: %v", symbol, prices[0].Price)
	}
	return price, nil
}

// Instrument возвращает торговые параметры инструмента. Результат кэшируется.
func (c *BinanceClient) Instrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	c.mu.Lock()
	if instr, ok := c.instruments[symbol]; ok {
		c.mu.Unlock()
		return instr, nil
	}
	c.mu.Unlock()

	info, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения информации о бирже: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		instr := &models.Instrument{
			Symbol:          s.Symbol,
			PricePrecision:  s.PricePrecision,
			AmountPrecision: s.QuantityPrecision,
			ContractSize:    1, // линейные контракты USDT-M
		}
		if f := s.LotSizeFilter(); f != nil {
			instr.MinAmount = parseFloat(f.MinQuantity)
		}
		c.instruments[s.Symbol] = instr
	}

	instr, ok := c.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("инструмент %s не найден на бирже", symbol)
	}
	return instr, nil
}

// Balance получает баланс по активу на фьючерсном счете
func (c *BinanceClient) Balance(ctx context.Context, asset string) (models.Balance, error) {
	balances, err := c.futures.NewGetBalanceService().Do(ctx)
	if err != nil {
		return models.Balance{}, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	for _, b := range balances {
		if b.Asset == asset {
			return models.Balance{
				Asset: asset,
				Free:  parseFloat(b.AvailableBalance),
				Total: parseFloat(b.Balance),
			}, nil
		}
	}
	return models.Balance{Asset: asset}, nil
}

// AvailableBalance получает доступный остаток по активу
func (c *BinanceClient) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	b, err := c.Balance(ctx, asset)
	if err != nil {
		return 0, err
	}
	return b.Free, nil
}

// OpenPositions возвращает открытые позиции (с ненулевым объемом)
func (c *BinanceClient) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	risks, err := c.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения позиций: %w", err)
	}

	var positions []*models.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		positions = append(positions, &models.Position{
			Symbol:    r.Symbol,
			Contracts: amt,
			Side:      side,
		})
	}
	return positions, nil
}

// SetMarginMode устанавливает режим маржи для инструмента.
// Ответ "No need to change margin type" не считается ошибкой.
func (c *BinanceClient) SetMarginMode(ctx context.Context, symbol, mode string) error {
	marginType := futures.MarginTypeIsolated
	if strings.EqualFold(mode, "cross") {
		marginType = futures.MarginTypeCrossed
	}

	err := c.futures.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(marginType).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "No need to change margin type") {
			return nil
		}
		return fmt.Errorf("ошибка установки режима маржи %s для %s: %w", mode, symbol, err)
	}
	return nil
}

// SetLeverage устанавливает кредитное плечо для инструмента
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.futures.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка установки плеча x%d для %s: %w", leverage, symbol, err)
	}
	return nil
}

// PlaceLimitOrder размещает лимитный ордер на вход
func (c *BinanceClient) PlaceLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientID string) (*models.Order, error) {
	instr, err := c.Instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	resp, err := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatFloat(qty, instr.AmountPrecision)).
		Price(formatFloat(price, instr.PricePrecision)).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка размещения лимитного ордера %s %s: %w", side, symbol, err)
	}

	logger.Info("Размещен лимитный ордер",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Int64("order_id", resp.OrderID))

	return &models.Order{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		ClientID: clientID,
		Symbol:   symbol,
		Status:   models.OrderStatus(resp.Status),
		Price:    price,
		OrigQty:  qty,
	}, nil
}

// PlaceProtectiveOrder размещает защитный стоп-ордер (TP или SL) с флагом reduceOnly
func (c *BinanceClient) PlaceProtectiveOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, takeProfit bool, clientID string) (*models.Order, error) {
	instr, err := c.Instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	orderType := futures.OrderTypeStopMarket
	if takeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	resp, err := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		Quantity(formatFloat(qty, instr.AmountPrecision)).
		StopPrice(formatFloat(stopPrice, instr.PricePrecision)).
		ReduceOnly(true).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка размещения защитного ордера %s %s: %w", orderType, symbol, err)
	}

	logger.Info("Размещен защитный ордер",
		zap.String("symbol", symbol),
		zap.String("type", string(orderType)),
		zap.Float64("stop_price", stopPrice),
		zap.Int64("order_id", resp.OrderID))

	return &models.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		ClientID:  clientID,
		Symbol:    symbol,
		Status:    models.OrderStatus(resp.Status),
		StopPrice: stopPrice,
		OrigQty:   qty,
	}, nil
}

// GetOrder запрашивает текущее состояние ордера
func (c *BinanceClient) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректный идентификатор ордера %q: %w", orderID, err)
	}

	o, err := c.futures.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса ордера %s: %w", orderID, err)
	}

	return &models.Order{
		ID:           orderID,
		ClientID:     o.ClientOrderID,
		Symbol:       symbol,
		Status:       models.OrderStatus(o.Status),
		Price:        parseFloat(o.Price),
		StopPrice:    parseFloat(o.StopPrice),
		OrigQty:      parseFloat(o.OrigQuantity),
		FilledQty:    parseFloat(o.ExecutedQuantity),
		AvgFillPrice: parseFloat(o.AvgPrice),
	}, nil
}

// CancelOrder отменяет ордер
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("некорректный идентификатор ордера %q: %w", orderID, err)
	}
	_, err = c.futures.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отмены ордера %s: %w", orderID, err)
	}
	return nil
}

// TopVolumePairs отбирает наиболее ликвидные пары по квотируемому объему за 24ч
func (c *BinanceClient) TopVolumePairs(ctx context.Context, quote string, topN int, minVolume float64) ([]string, error) {
	stats, err := c.futures.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики тикеров: %w", err)
	}

	type pairVolume struct {
		symbol string
		volume float64
	}
	var pairs []pairVolume

	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, quote) {
			continue
		}
		base := strings.TrimSuffix(s.Symbol, quote)
		if stablecoins[base] {
			continue
		}
		volume := parseFloat(s.QuoteVolume)
		if volume < minVolume {
			continue
		}
		pairs = append(pairs, pairVolume{symbol: s.Symbol, volume: volume})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].volume > pairs[j].volume })
	if len(pairs) > topN {
		pairs = pairs[:topN]
	}

	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		symbols[i] = p.symbol
	}
	return symbols, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}
