package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"       // 限价单（默认）
	OrderTypeMarketOnly OrderType = "MARKET_ONLY" // 只吃单（不进簿）
	OrderTypePostOnly   OrderType = "POST_ONLY"   // 只挂单（会吃单则整单拒绝）
)

// OrderStatus 订单状态
//
// Pending / Mempooled 是客户端本地的乐观状态（订单簿尚未确认）；
// 其余状态均来自推送/快照数据，以链上账本为准。
type OrderStatus string

const (
	OrderStatusPending                   OrderStatus = "pending"                   // 已提交执行器，未广播
	OrderStatusMempooled                 OrderStatus = "mempooled"                 // 已广播，未上链
	OrderStatusPlaced                    OrderStatus = "placed"                    // 已进簿
	OrderStatusPartiallyFilled           OrderStatus = "partiallyFilled"           // 部分成交
	OrderStatusFilled                    OrderStatus = "filled"                    // 完全成交（未领取）
	OrderStatusPartiallyFilledAndClaimed OrderStatus = "partiallyFilledAndClaimed" // 部分成交且已领取/撤余
	OrderStatusFilledAndClaimed          OrderStatus = "filledAndClaimed"          // 完全成交且已领取
	OrderStatusCanceled                  OrderStatus = "canceled"                  // 已取消（未领取）
	OrderStatusCanceledAndClaimed        OrderStatus = "canceledAndClaimed"        // 已取消且已领取
	OrderStatusRejected                  OrderStatus = "rejected"                  // 被拒绝（终态）
)

// orderTransitions 合法状态转换表。
// 本地乐观状态只能向前推进；终态不允许被中间状态覆盖。
// Canceled 可从任意非终态到达（这里逐一列出，便于校验）。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusMempooled, OrderStatusPlaced, OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusMempooled:       {OrderStatusPlaced, OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusPlaced:          {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusPartiallyFilledAndClaimed, OrderStatusFilled, OrderStatusCanceled},
	OrderStatusFilled:          {OrderStatusFilledAndClaimed},
	OrderStatusCanceled:        {OrderStatusCanceledAndClaimed},
}

// CanTransition 校验状态转换是否合法（同状态视为幂等，合法）。
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, t := range orderTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsFinal 是否为终态
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusFilledAndClaimed, OrderStatusPartiallyFilledAndClaimed, OrderStatusCanceledAndClaimed:
		return true
	}
	return false
}

// Order 订单领域模型（不可变值类型）。
//
// 状态推进只通过 WithStatus / WithTxn 等转换函数产生新值，
// 不做就地字段修改；持有订单副本的一侧永远看到一致的快照。
type Order struct {
	ID          string       // 本地请求 ID 或链上订单 ID
	Price       *big.Int     // 归一化后的整数价格（tick）
	Qty         *big.Int     // 原始数量（归一化整数）
	LeaveQty    *big.Int     // 未成交剩余
	ClaimedQty  *big.Int     // 已领取数量
	Side        Side         // 方向
	Symbol      string       // 交易对
	Status      OrderStatus  // 状态
	Type        OrderType    // 类型
	Created     time.Time    // 创建时间
	LastChanged time.Time    // 最后变更时间
	TxnHash     *common.Hash // 关联交易哈希（未广播时为 nil）
}

// IsUnconfirmed 是否为本地乐观状态（尚未被订单簿确认）
func (o Order) IsUnconfirmed() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusMempooled
}

// IsActive 是否仍在簿上
func (o Order) IsActive() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusPartiallyFilled
}

// ExecutedQty 已成交数量（qty − leaveQty）
func (o Order) ExecutedQty() *big.Int {
	if o.Qty == nil || o.LeaveQty == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(o.Qty, o.LeaveQty)
}

// IsUnclaimed 是否有已成交但未领取的部分
func (o Order) IsUnclaimed() bool {
	if o.Status == OrderStatusRejected {
		return false
	}
	claimed := o.ClaimedQty
	if claimed == nil {
		claimed = big.NewInt(0)
	}
	return claimed.Cmp(o.ExecutedQty()) < 0
}

// WithStatus 返回状态变更后的新订单值
func (o Order) WithStatus(s OrderStatus) Order {
	o.Status = s
	o.LastChanged = time.Now()
	return o
}

// WithTxn 返回绑定交易后的新订单值（mempooled 晋升：
// 本地请求 ID 改写为交易侧 ID，状态推进到 Mempooled）。
func (o Order) WithTxn(id string, h common.Hash) Order {
	o.ID = id
	o.TxnHash = &h
	o.Status = OrderStatusMempooled
	o.LastChanged = time.Now()
	return o
}
