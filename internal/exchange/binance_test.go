package exchange

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
)

func TestParseKline(t *testing.T) {
	k := &futures.Kline{
		OpenTime:  1_748_736_000_000,
		Open:      "50000.10",
		High:      "50100.55",
		Low:       "49900.00",
		Close:     "50050.25",
		Volume:    "123.456",
		CloseTime: 1_748_736_299_999,
	}

	c := parseKline("BTCUSDT", "5m", k)
	if c.Symbol != "BTCUSDT" || c.Interval != "5m" {
		t.Fatalf("метаданные свечи: %+v", c)
	}
	if c.Open != 50000.10 || c.High != 50100.55 || c.Low != 49900.00 || c.Close != 50050.25 {
		t.Fatalf("цены свечи распарсены неверно: %+v", c)
	}
	if c.Volume != 123.456 {
		t.Fatalf("объем распарсен неверно: %v", c.Volume)
	}
	if c.OpenTime.Unix() != 1_748_736_000 {
		t.Fatalf("время открытия: %v", c.OpenTime)
	}
}

func TestParseFloatTolerant(t *testing.T) {
	if got := parseFloat("not-a-number"); got != 0 {
		t.Fatalf("мусор должен давать ноль: %v", got)
	}
	if got := parseFloat("1.5"); got != 1.5 {
		t.Fatalf("parseFloat(1.5) = %v", got)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		v    float64
		prec int
		want string
	}{
		{50025.0, 2, "50025.00"},
		{0.05, 3, "0.050"},
		{0.00001234, 8, "0.00001234"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.v, tt.prec); got != tt.want {
			t.Errorf("formatFloat(%v, %d) = %s, ожидалось %s", tt.v, tt.prec, got, tt.want)
		}
	}
}

func TestStablecoinsFiltered(t *testing.T) {
	for _, s := range []string{"USDC", "TUSD", "BUSD"} {
		if !stablecoins[s] {
			t.Errorf("%s должен фильтроваться из отбора пар", s)
		}
	}
	if stablecoins["BTC"] {
		t.Error("BTC не стейблкоин")
	}
}
