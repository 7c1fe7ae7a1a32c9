package feegate

import (
	"context"
	"math/big"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/pkg/config"
	"github.com/tradewire/lobgo/pkg/logger"
)

var log = logger.Component("feegate")

// Balances 一次余额查询的快照。
// 三类余额共同决定可用资金：钱包内代币余额、订单簿托管余额（lob）、链原生余额。
type Balances struct {
	Native *big.Int // 链原生资产余额（gas 与原生侧押金共用）
	TokenX *big.Int // 钱包内 X 代币余额
	TokenY *big.Int // 钱包内 Y 代币余额
	LobX   *big.Int // 订单簿内 X 侧托管余额
	LobY   *big.Int // 订单簿内 Y 侧托管余额
}

// BalanceSource 余额查询（外部协作方，窄接口）
type BalanceSource interface {
	GetAvailableBalances(ctx context.Context, symbol config.SymbolConfig) (Balances, error)
}

// GasPriceSource gas 价格顾问（外部协作方，窄接口）
type GasPriceSource interface {
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	BaseFeePerGas(ctx context.Context) (*big.Int, error)
}

// Gate 余额/手续费门禁。
// 判定一次候选操作是否负担得起；判定失败只记录日志并中止操作，
// 不提交任何交易、不修改任何状态（错误分级见各方法注释）。
type Gate struct {
	balances BalanceSource
	gas      GasPriceSource
	cfg      config.GasConfig
}

// New 创建门禁
func New(balances BalanceSource, gas GasPriceSource, cfg config.GasConfig) *Gate {
	return &Gate{balances: balances, gas: gas, cfg: cfg}
}

// FeeBudget 计算手续费预算：
//
//	(maxPriorityFeePerGas + k × max(baseFeePerGas, floor)) × gasLimit
//
// k 与 floor 来自配置，用于抵御报价与上链之间的 baseFee 飙升。
func (g *Gate) FeeBudget(ctx context.Context, gasLimit uint64) (*big.Int, error) {
	priority, err := g.gas.MaxPriorityFeePerGas(ctx)
	if err != nil {
		return nil, err
	}
	base, err := g.gas.BaseFeePerGas(ctx)
	if err != nil {
		return nil, err
	}
	floor := big.NewInt(g.cfg.BaseFeeFloorWei)
	if base.Cmp(floor) < 0 {
		base = floor
	}
	perGas := new(big.Int).Mul(base, big.NewInt(g.cfg.BaseFeeMultiplier))
	perGas.Add(perGas, priority)
	return perGas.Mul(perGas, new(big.Int).SetUint64(gasLimit)), nil
}

// CheckResult 一次门禁判定的结果（保留中间量，便于日志与测试）
type CheckResult struct {
	Admissible  bool
	InputAmount *big.Int
	Available   *big.Int // tokenBalance + lobBalance + previousLeaveAmount
	FeeBudget   *big.Int // 仅当该侧以原生资产计价时计入
}

// Check 判定候选操作是否可负担：
//
//	tokenBalance + lobBalance + previousLeaveAmount ≥ inputAmount (+ feeBudget)
//
// previousLeave 是改单/批量场景下被替换订单将释放回来的押金；
// feeBudget 仅当该侧的押金资产就是链原生资产时加到右边。
// 余额/费率查询失败属于顾问类错误：记日志、返回 err，调用方整体中止。
func (g *Gate) Check(ctx context.Context, symbol config.SymbolConfig, side domain.Side, inputAmount, previousLeave *big.Int, gasLimit uint64) (CheckResult, error) {
	bals, err := g.balances.GetAvailableBalances(ctx, symbol)
	if err != nil {
		log.Warnf("⚠️ [门禁] 余额查询失败，操作中止: symbol=%s side=%s err=%v", symbol.Symbol, side, err)
		return CheckResult{}, err
	}

	var token, lob *big.Int
	var nativeSide bool
	if side == domain.SideSell {
		// 卖单消耗 X 代币
		token, lob, nativeSide = bals.TokenX, bals.LobX, symbol.NativeTokenIsX
	} else {
		// 买单消耗 Y 代币
		token, lob, nativeSide = bals.TokenY, bals.LobY, symbol.NativeTokenIsY
	}

	available := new(big.Int).Add(zeroIfNil(token), zeroIfNil(lob))
	if previousLeave != nil {
		available.Add(available, previousLeave)
	}

	required := new(big.Int).Set(inputAmount)
	res := CheckResult{InputAmount: inputAmount, Available: available}
	if nativeSide {
		// 该侧押金就是原生资产：gas 预算与押金竞争同一余额
		fee, err := g.FeeBudget(ctx, gasLimit)
		if err != nil {
			log.Warnf("⚠️ [门禁] gas 价格查询失败，操作中止: symbol=%s err=%v", symbol.Symbol, err)
			return CheckResult{}, err
		}
		res.FeeBudget = fee
		required.Add(required, fee)
		available = new(big.Int).Add(zeroIfNil(bals.Native), available)
		res.Available = available
	}

	res.Admissible = available.Cmp(required) >= 0
	if !res.Admissible {
		log.Warnf("⚠️ [门禁] 余额不足: symbol=%s side=%s 需要=%s 可用=%s", symbol.Symbol, side, required, available)
	}
	return res, nil
}

func zeroIfNil(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}
