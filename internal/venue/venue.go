package venue

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/internal/units"
	"github.com/tradewire/lobgo/pkg/config"
)

// Venue 市场类型能力接口。
// 三种市场（直连簿 / 金库簿 / 现货老簿）的差异全部收敛在这里：
// 价格与数量的定点归一化、押金计算、提交参数的寻址补全。
// 对账与状态管理逻辑与市场类型无关，引擎只面向本接口编程。
type Venue interface {
	Name() string
	Symbol() config.SymbolConfig
	// NormalizePrice 十进制价格 -> 整数 tick；精度超出时返回 false（拒绝而非四舍五入）
	NormalizePrice(price decimal.Decimal) (*big.Int, bool)
	// NormalizeQty 十进制数量 -> 定点整数；不可逆缩放返回 false
	NormalizeQty(qty decimal.Decimal) (*big.Int, bool)
	// ComputeInputAmount 该侧需转入的押金（卖耗 X、买耗 Y）
	ComputeInputAmount(side domain.Side, qty, price *big.Int) *big.Int
	// BuildSubmitParams 提交前补全场地寻址（合约地址、受益人等）
	BuildSubmitParams(op executor.Operation) executor.Operation
}

// base 三种场地共享的归一化与押金逻辑
type base struct {
	cfg  config.SymbolConfig
	user string
}

func (b base) Symbol() config.SymbolConfig { return b.cfg }

func (b base) NormalizePrice(price decimal.Decimal) (*big.Int, bool) {
	return units.NormalizePrice(price, b.cfg.PricePrecision)
}

func (b base) NormalizeQty(qty decimal.Decimal) (*big.Int, bool) {
	return units.NormalizeQty(qty, b.cfg.TokenXDecimals, b.cfg.ScalingFactorX)
}

func (b base) ComputeInputAmount(side domain.Side, qty, price *big.Int) *big.Int {
	if side == domain.SideSell {
		return units.InputAmountSell(qty, b.cfg.ScalingFactorX)
	}
	return units.InputAmountBuy(qty, price, b.cfg.ScalingFactorY)
}

// Direct 直连订单簿：以用户钱包身份挂单，所得归用户
type Direct struct{ base }

func NewDirect(cfg config.SymbolConfig, user string) *Direct {
	return &Direct{base{cfg: cfg, user: user}}
}

func (*Direct) Name() string { return "direct" }

func (v *Direct) BuildSubmitParams(op executor.Operation) executor.Operation {
	op.Contract = v.cfg.ContractAddress
	op.Beneficiary = v.user
	return op
}

// Vault 金库订单簿：以共享金库合约的名义挂单，押金与所得记在金库名下
type Vault struct{ base }

func NewVault(cfg config.SymbolConfig, user string) *Vault {
	return &Vault{base{cfg: cfg, user: user}}
}

func (*Vault) Name() string { return "vault" }

func (v *Vault) BuildSubmitParams(op executor.Operation) executor.Operation {
	op.Contract = v.cfg.ContractAddress
	op.Beneficiary = v.cfg.VaultAddress
	return op
}

// Spot 现货老簿：没有簿内余额，领取所得必须直接转回钱包
type Spot struct{ base }

func NewSpot(cfg config.SymbolConfig, user string) *Spot {
	return &Spot{base{cfg: cfg, user: user}}
}

func (*Spot) Name() string { return "spot" }

func (v *Spot) BuildSubmitParams(op executor.Operation) executor.Operation {
	op.Contract = v.cfg.ContractAddress
	op.Beneficiary = v.user
	if op.Kind == executor.OpClaim {
		op.TransferTokens = true
	}
	return op
}

// ForKind 按配置的市场类型构造对应场地
func ForKind(kind string, cfg config.SymbolConfig, user string) Venue {
	switch kind {
	case "vault":
		return NewVault(cfg, user)
	case "spot":
		return NewSpot(cfg, user)
	default:
		return NewDirect(cfg, user)
	}
}
