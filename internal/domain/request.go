package domain

import "math/big"

// RequestPriority 批量请求的固定排序优先级。
// 批处理按优先级从高到低下发：先 Claim（释放押金）、再 Change、最后 Place，
// 这样同一笔结算内释放的余额可以直接用于新挂单。
type RequestPriority int

const (
	PriorityPlace         RequestPriority = 0
	PriorityChange        RequestPriority = 1
	PriorityClaim         RequestPriority = 2
	PriorityCancelPending RequestPriority = 3
)

// Request 批量操作请求（tagged union）。
// CancelPendingOrderRequest 总是在打包前被单独解析并移除。
type Request interface {
	Priority() RequestPriority
}

// PlaceOrderRequest 挂单请求
type PlaceOrderRequest struct {
	Price *big.Int // 归一化整数价格
	Qty   *big.Int // 归一化整数数量
	Side  Side
}

func (PlaceOrderRequest) Priority() RequestPriority { return PriorityPlace }

// ChangeOrderRequest 改单请求（撤旧挂新，复用旧单释放的押金）
type ChangeOrderRequest struct {
	OrderID string
	Price   *big.Int
	Qty     *big.Int
	Side    Side
}

func (ChangeOrderRequest) Priority() RequestPriority { return PriorityChange }

// ClaimOrderRequest 领取请求（领取成交所得并撤销未成交余量）
type ClaimOrderRequest struct {
	OrderID        string
	TransferTokens bool // 领取后是否直接转出到钱包
}

func (ClaimOrderRequest) Priority() RequestPriority { return PriorityClaim }

// CancelPendingOrderRequest 取消尚未广播的本地请求
type CancelPendingOrderRequest struct {
	LocalRequestID string
}

func (CancelPendingOrderRequest) Priority() RequestPriority { return PriorityCancelPending }
