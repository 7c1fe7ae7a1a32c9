package executor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tradewire/lobgo/internal/domain"
)

// OperationKind 一笔链上操作的种类
type OperationKind int

const (
	OpPlace OperationKind = iota
	OpChange
	OpClaim
	OpCancel
)

func (k OperationKind) String() string {
	switch k {
	case OpPlace:
		return "place"
	case OpChange:
		return "change"
	case OpClaim:
		return "claim"
	case OpCancel:
		return "cancel"
	}
	return "unknown"
}

// Operation 提交给执行器的单笔操作参数（已归一化的定点整数）
type Operation struct {
	Kind           OperationKind
	Symbol         string
	OrderID        string // change/claim/cancel 引用的链上订单
	Side           domain.Side
	Price          *big.Int
	Qty            *big.Int
	InputAmount    *big.Int // 本侧需要转入的押金
	TransferTokens bool     // claim 时是否顺带把所得转回钱包
	PostOnly       bool
	GasLimit       uint64

	// 场地寻址，由具体场地能力在提交前补全
	Contract    string // 订单簿合约地址
	Beneficiary string // 挂单受益人（直连为用户，金库为金库合约）
}

// Batch 一次打包提交的操作集合，合并为一笔交易
type Batch struct {
	Symbol     string
	Operations []Operation
	GasLimit   uint64 // 各操作 gas 之和，受 MaxGasPerTx 约束
}

// Callbacks 执行器向引擎上报交易生命周期的回调集。
// 回调由编排方显式注册，执行器不持有引擎的其他引用。
type Callbacks struct {
	// Mempooled 交易进入交易池（requestId 为提交时返回的本地请求号）
	Mempooled func(requestID string, txID string)
	// Confirmed 交易确认成功
	Confirmed func(requestID string, receipt *types.Receipt)
	// Failed 交易确认失败（回执 status 为失败）
	Failed func(requestID string, receipt *types.Receipt)
	// Error 提交或追踪过程中出错（未上链）
	Error func(requestID string, err error)
}

// Executor 交易执行器契约。
// 引擎通过它把已通过门禁的操作批次转成链上交易；实现方负责签名、
// 广播与回执追踪，并经 Callbacks 回报进度。
type Executor interface {
	// Execute 提交一个批次，立即返回本地请求号；后续进度走回调
	Execute(ctx context.Context, batch Batch) (requestID string, err error)
	// TryCancelRequest 尝试撤回尚未进入交易池的请求；
	// 返回 true 表示成功拦下（不会再有任何回调），false 表示已经来不及
	TryCancelRequest(requestID string) bool
	// SetCallbacks 由编排方在启动时注册一次
	SetCallbacks(cb Callbacks)
}
