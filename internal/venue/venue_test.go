package venue

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/pkg/config"
)

func cfg() config.SymbolConfig {
	return config.SymbolConfig{
		Symbol:          "WETH/USDC",
		ContractAddress: "0xbook",
		VaultAddress:    "0xvault",
		PricePrecision:  6,
		ScalingFactorX:  2,
		ScalingFactorY:  3,
		TokenXDecimals:  6,
	}
}

func TestSharedNormalization(t *testing.T) {
	v := NewDirect(cfg(), "0xuser")

	price, ok := v.NormalizePrice(decimal.RequireFromString("1.5"))
	if !ok || price.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("价格归一化 = %v, ok=%v", price, ok)
	}
	qty, ok := v.NormalizeQty(decimal.RequireFromString("2.5"))
	if !ok || qty.Cmp(big.NewInt(25_000)) != 0 { // decimals 6 − sf 2 = 小数位 4
		t.Fatalf("数量归一化 = %v, ok=%v", qty, ok)
	}

	sell := v.ComputeInputAmount(domain.SideSell, big.NewInt(10), nil)
	if sell.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("卖侧押金 = %v", sell)
	}
	buy := v.ComputeInputAmount(domain.SideBuy, big.NewInt(10), big.NewInt(2))
	if buy.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("买侧押金 = %v", buy)
	}
}

func TestSubmitParamsPerVenue(t *testing.T) {
	op := executor.Operation{Kind: executor.OpPlace}

	d := NewDirect(cfg(), "0xuser").BuildSubmitParams(op)
	if d.Contract != "0xbook" || d.Beneficiary != "0xuser" {
		t.Fatalf("直连寻址不符: %+v", d)
	}

	v := NewVault(cfg(), "0xuser").BuildSubmitParams(op)
	if v.Beneficiary != "0xvault" {
		t.Fatalf("金库受益人 = %s", v.Beneficiary)
	}

	claim := executor.Operation{Kind: executor.OpClaim, TransferTokens: false}
	s := NewSpot(cfg(), "0xuser").BuildSubmitParams(claim)
	if !s.TransferTokens {
		t.Fatal("现货簿领取必须直接转回钱包")
	}
	sp := NewSpot(cfg(), "0xuser").BuildSubmitParams(op)
	if sp.TransferTokens {
		t.Fatal("现货簿挂单不应强制转账标志")
	}
}

func TestForKind(t *testing.T) {
	if ForKind("vault", cfg(), "u").Name() != "vault" {
		t.Fatal("vault 类型映射错误")
	}
	if ForKind("spot", cfg(), "u").Name() != "spot" {
		t.Fatal("spot 类型映射错误")
	}
	if ForKind("", cfg(), "u").Name() != "direct" {
		t.Fatal("默认应当是 direct")
	}
}
