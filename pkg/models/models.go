package models

import (
	"fmt"
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Regime представляет режим рынка на подтверждающем таймфрейме
type Regime int

const (
	RegimeIndeterminate Regime = iota
	RegimeTrendingUp
	RegimeTrendingDown
	RegimeRanging
)

func (r Regime) String() string {
	switch r {
	case RegimeTrendingUp:
		return "trending_up"
	case RegimeTrendingDown:
		return "trending_down"
	case RegimeRanging:
		return "ranging"
	default:
		return "indeterminate"
	}
}

// Direction направление сделки
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Side возвращает биржевую сторону ордера для входа
func (d Direction) Side() string {
	if d == DirectionLong {
		return "BUY"
	}
	return "SELL"
}

// CloseSide возвращает сторону закрывающих (защитных) ордеров
func (d Direction) CloseSide() string {
	if d == DirectionLong {
		return "SELL"
	}
	return "BUY"
}

// Strategy вариант стратегии, породивший сигнал
type Strategy string

const (
	StrategyTrend Strategy = "trend"
	StrategyRange Strategy = "range"
	StrategyScalp Strategy = "scalp"
)

// Signal представляет входной сигнал. Неизменяем после создания.
type Signal struct {
	Symbol     string
	Direction  Direction
	Strategy   Strategy
	EntryPrice float64
	Timestamp  time.Time
}

// LevelSet представляет тройку цен входа и защитных уровней.
// Инвариант: для long SL < Entry < TP, для short TP < Entry < SL.
type LevelSet struct {
	Entry      float64
	TakeProfit float64
	StopLoss   float64
}

// Instrument представляет торговые параметры инструмента
type Instrument struct {
	Symbol          string
	PricePrecision  int
	AmountPrecision int
	MinAmount       float64
	ContractSize    float64
}

// Position представляет открытую позицию на бирже
type Position struct {
	Symbol    string
	Contracts float64
	Side      string
}

// Balance представляет баланс по активу
type Balance struct {
	Asset string
	Free  float64
	Total float64
}

// OrderStatus нормализованный статус биржевого ордера
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Order представляет ордер в нормализованном виде
type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Status       OrderStatus
	Price        float64
	StopPrice    float64
	OrigQty      float64
	FilledQty    float64
	AvgFillPrice float64
}

// Filled сообщает, исполнен ли ордер полностью
func (o *Order) Filled() bool {
	if o == nil {
		return false
	}
	if o.Status == OrderStatusFilled {
		return true
	}
	return o.FilledQty > 0 && o.OrigQty > 0 && o.FilledQty >= o.OrigQty
}

// FillPrice возвращает цену исполнения (средняя, при отсутствии — лимитная)
func (o *Order) FillPrice() float64 {
	if o.AvgFillPrice > 0 {
		return o.AvgFillPrice
	}
	return o.Price
}

// Outcome терминальный исход попытки исполнения
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeWin      Outcome = "win"
	OutcomeLoss     Outcome = "loss"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeFailed   Outcome = "failed"
	OutcomeAdvisory Outcome = "advisory"
	OutcomeDenied   Outcome = "denied"
)

// ExecutionReport результат обработки символа за один цикл
type ExecutionReport struct {
	Symbol        string
	Timestamp     time.Time
	Regime        Regime
	SignalEmitted bool
	Admitted      bool
	Signal        *Signal
	Levels        *LevelSet
	Outcome       Outcome
	Detail        string
}

// Render формирует текст отчета для канала уведомлений
func (r *ExecutionReport) Render() string {
	if !r.SignalEmitted {
		return fmt.Sprintf("%s: сигнала нет (%s)", r.Symbol, r.Regime)
	}

	head := "📈 LONG"
	if r.Signal.Direction == DirectionShort {
		head = "📉 SHORT"
	}

	text := fmt.Sprintf("%s %s [%s/%s]\nВход: %v", head, r.Symbol, r.Regime, r.Signal.Strategy, r.Signal.EntryPrice)
	if r.Levels != nil {
		text += fmt.Sprintf("\n🎯 TP: %v\n🛑 SL: %v", r.Levels.TakeProfit, r.Levels.StopLoss)
	}
	text += fmt.Sprintf("\n⚙️ Исход: %s", r.Outcome)
	if r.Detail != "" {
		text += fmt.Sprintf("\n%s", r.Detail)
	}
	return text
}
