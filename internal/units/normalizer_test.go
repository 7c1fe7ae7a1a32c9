package units

import (
	"math/big"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func TestNormalizePriceBasic(t *testing.T) {
	cases := []struct {
		in        string
		precision int
		want      int64
		ok        bool
	}{
		{"1.5", 6, 1_500_000, true},
		{"0.000001", 6, 1, true},
		{"123.456", 3, 123_456, true},
		{"1", 0, 1, true},
		{"100000", 1, 1_000_000, true}, // 缩放后 7 位但低位全零，无损
		{"0", 6, 0, false},
		{"-1.5", 6, 0, false},
		{"1.0000001", 6, 0, false}, // 缩放后非整数
	}
	for _, c := range cases {
		got, ok := NormalizePrice(decimal.RequireFromString(c.in), c.precision)
		if ok != c.ok {
			t.Errorf("NormalizePrice(%s, %d) ok=%v, 期望 %v", c.in, c.precision, ok, c.ok)
			continue
		}
		if ok && got.Int64() != c.want {
			t.Errorf("NormalizePrice(%s, %d) = %v, 期望 %d", c.in, c.precision, got, c.want)
		}
	}
}

// 精度 6 下 1.0000015 缩放后是 1000001.5，非整数，必须拒绝而不是舍入
func TestNormalizePriceRejectsSubTick(t *testing.T) {
	if _, ok := NormalizePrice(decimal.RequireFromString("1.0000015"), 6); ok {
		t.Fatal("超出 tick 粒度的价格应当被拒绝")
	}
	// 7 位有效数字、低位非零：截断有损，同样拒绝
	if _, ok := NormalizePrice(decimal.RequireFromString("1.234567"), 6); ok {
		t.Fatal("7 位有效数字的价格应当被拒绝")
	}
}

// 可精确表示的价格归一化后再还原必须得到原值
func TestNormalizePriceRoundTrip(t *testing.T) {
	f := func(ticks uint32) bool {
		if ticks == 0 || ticks > 999_999 {
			return true
		}
		price := decimal.NewFromInt(int64(ticks)).Shift(-6)
		raw, ok := NormalizePrice(price, 6)
		if !ok {
			return false
		}
		return DenormalizePrice(raw, 6).Equal(price)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestNormalizeQtyRoundTrip(t *testing.T) {
	f := func(units uint32) bool {
		if units == 0 {
			return true
		}
		qty := decimal.NewFromInt(int64(units)).Shift(-4) // decimals=18, sf=14 → 小数位 4
		raw, ok := NormalizeQty(qty, 18, 14)
		if !ok {
			return false
		}
		return DenormalizeQty(raw, 18, 14).Equal(qty)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestNormalizeQtyRejectsLossy(t *testing.T) {
	// 小数位超过 decimals−scalingFactor 的数量不可精确缩放
	if _, ok := NormalizeQty(decimal.RequireFromString("0.00001"), 18, 14); ok {
		t.Fatal("不可逆缩放的数量应当被拒绝")
	}
}

func TestInputAmounts(t *testing.T) {
	qty := big.NewInt(25)
	price := big.NewInt(4)

	sell := InputAmountSell(qty, 3)
	if sell.Cmp(big.NewInt(25_000)) != 0 {
		t.Errorf("卖侧押金 = %v, 期望 25000", sell)
	}
	buy := InputAmountBuy(qty, price, 2)
	if buy.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("买侧押金 = %v, 期望 10000", buy)
	}
}
