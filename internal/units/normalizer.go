// Package units 提供人类可读小数与订单簿整数 tick 表示之间的换算。
//
// 订单簿只接受固定有效位数内的价格：6 位有效数字之外的精度必须拒绝，
// 而不是静默舍入（否则链上会以与调用方预期不同的价格成交）。
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxPriceSignificantDigits 价格在缩放后允许的最大有效位数
const MaxPriceSignificantDigits = 6

var bigTen = big.NewInt(10)

// Pow10 返回 10^n（n < 0 时返回 1；调用方自行保证指数非负）
func Pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}

// NormalizePrice 把小数价格换算为订单簿整数 tick：
// 按 10^pricePrecision 缩放，再把 6 位有效数字之外的低位清零。
// 任何一步有损（缩放后非整数，或清零丢失非零低位）都返回 ok=false，
// 由调用方拒绝该价格——比订单簿 tick 更细的价格不允许提交。
func NormalizePrice(price decimal.Decimal, pricePrecision int) (*big.Int, bool) {
	if price.Sign() <= 0 {
		return nil, false
	}
	scaled := price.Shift(int32(pricePrecision))
	if !scaled.IsInteger() {
		return nil, false
	}
	n := scaled.BigInt()
	digits := len(n.String())
	if digits <= MaxPriceSignificantDigits {
		return n, true
	}
	cut := Pow10(digits - MaxPriceSignificantDigits)
	truncated := new(big.Int).Quo(n, cut)
	truncated.Mul(truncated, cut)
	if truncated.Cmp(n) != 0 {
		return nil, false
	}
	return truncated, true
}

// DenormalizePrice 整数 tick 还原为小数价格
func DenormalizePrice(raw *big.Int, pricePrecision int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-pricePrecision))
}

// NormalizeQty 把小数数量换算为整数表示：按 10^(tokenDecimals−scalingFactor) 缩放。
// 缩放结果必须精确可逆，否则返回 ok=false（不允许静默精度丢失）。
func NormalizeQty(qty decimal.Decimal, tokenDecimals, scalingFactor int) (*big.Int, bool) {
	if qty.Sign() <= 0 {
		return nil, false
	}
	scaled := qty.Shift(int32(tokenDecimals - scalingFactor))
	if !scaled.IsInteger() {
		return nil, false
	}
	return scaled.BigInt(), true
}

// DenormalizeQty 整数数量还原为小数
func DenormalizeQty(raw *big.Int, tokenDecimals, scalingFactor int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-(tokenDecimals - scalingFactor)))
}

// InputAmountSell 卖单占用的押金：qty × 10^scalingFactorX。
// 卖单消耗 X 代币，数量本身即押金（按 X 的缩放因子放大回链上单位）。
func InputAmountSell(qty *big.Int, scalingFactorX int) *big.Int {
	return new(big.Int).Mul(qty, Pow10(scalingFactorX))
}

// InputAmountBuy 买单占用的押金：qty × price × 10^scalingFactorY。
// 买单消耗 Y 代币，押金等于名义金额（按 Y 的缩放因子放大回链上单位）。
func InputAmountBuy(qty, price *big.Int, scalingFactorY int) *big.Int {
	amount := new(big.Int).Mul(qty, price)
	return amount.Mul(amount, Pow10(scalingFactorY))
}
