package store

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/lobgo/internal/domain"
)

// pendingEntry 一次在途请求携带的乐观订单
type pendingEntry struct {
	orders []domain.Order
	txID   string // 入池后回填
}

// Ledger 在途台账：请求级别的三张表。
//
//	pendingOrders        requestId -> 乐观订单（Pending/Mempooled 阶段）
//	pendingCancellations requestId -> 该请求将撤销的订单号
//	cancelingMarks       orderId   -> 标记时间（撤单竞态原语）
//
// 三张表都用 sync.Map：撤单标记依赖 LoadOrStore 的原子「不存在才插入」
// 语义来裁决并发撤单竞争；断线清理不触碰台账（在途交易不因断线消失）。
type Ledger struct {
	pendingOrders        sync.Map
	pendingCancellations sync.Map
	cancelingMarks       sync.Map

	flagTTL time.Duration
}

// NewLedger flagTTL 为撤单标记的保底回收时间
func NewLedger(flagTTL time.Duration) *Ledger {
	return &Ledger{flagTTL: flagTTL}
}

// RegisterPending 登记一次请求的乐观订单
func (l *Ledger) RegisterPending(requestID string, orders []domain.Order) {
	l.pendingOrders.Store(requestID, &pendingEntry{orders: orders})
}

// Promote 请求入池后的晋升：回填交易哈希，并把登记的乐观订单
// 改写为 Mempooled 状态的新副本。返回晋升后的订单与是否命中；
// 未命中说明 Mempooled 先于登记可见，由调用方走停靠路径。
func (l *Ledger) Promote(requestID, txID string) ([]domain.Order, bool) {
	v, ok := l.pendingOrders.Load(requestID)
	if !ok {
		return nil, false
	}
	entry := v.(*pendingEntry)
	entry.txID = txID
	hash := common.HexToHash(txID)
	promoted := make([]domain.Order, len(entry.orders))
	for i, o := range entry.orders {
		promoted[i] = o.WithTxn(txID, hash)
	}
	entry.orders = promoted
	return promoted, true
}

// DropPending 摘除一次请求的乐观订单（确认、失败或入池前撤回时）
func (l *Ledger) DropPending(requestID string) ([]domain.Order, bool) {
	v, ok := l.pendingOrders.LoadAndDelete(requestID)
	if !ok {
		return nil, false
	}
	return v.(*pendingEntry).orders, true
}

// PendingOrders 当前全部在途乐观订单的副本
func (l *Ledger) PendingOrders() []domain.Order {
	var out []domain.Order
	l.pendingOrders.Range(func(_, v any) bool {
		out = append(out, v.(*pendingEntry).orders...)
		return true
	})
	return out
}

// LookupPending 按请求号查在途订单
func (l *Ledger) LookupPending(requestID string) ([]domain.Order, bool) {
	v, ok := l.pendingOrders.Load(requestID)
	if !ok {
		return nil, false
	}
	return v.(*pendingEntry).orders, true
}

// DropPendingByTxn 按交易哈希摘除在途订单。
// 推送/快照先于确认回调送达同一笔交易的结果时走这条路。
func (l *Ledger) DropPendingByTxn(txID string) ([]domain.Order, bool) {
	var requestID string
	var orders []domain.Order
	l.pendingOrders.Range(func(k, v any) bool {
		entry := v.(*pendingEntry)
		if entry.txID == txID {
			requestID = k.(string)
			orders = entry.orders
			return false
		}
		return true
	})
	if requestID == "" {
		return nil, false
	}
	l.pendingOrders.Delete(requestID)
	return orders, true
}

// RegisterCancellation 登记一次请求将撤销的订单号集合
func (l *Ledger) RegisterCancellation(requestID string, orderIDs []string) {
	if len(orderIDs) == 0 {
		return
	}
	l.pendingCancellations.Store(requestID, orderIDs)
}

// ResolveCancellation 请求终结时摘除撤销登记，返回涉及的订单号
func (l *Ledger) ResolveCancellation(requestID string) []string {
	v, ok := l.pendingCancellations.LoadAndDelete(requestID)
	if !ok {
		return nil
	}
	return v.([]string)
}

// MarkCanceling 原子地给订单打撤销标记。
// 返回 false 表示已有并发请求抢先标记，本次应跳过该订单。
// 标记带 TTL 保底：请求彻底丢失时由定时器兜底释放。
func (l *Ledger) MarkCanceling(orderID string) bool {
	_, loaded := l.cancelingMarks.LoadOrStore(orderID, time.Now())
	if loaded {
		return false
	}
	if l.flagTTL > 0 {
		time.AfterFunc(l.flagTTL, func() { l.cancelingMarks.Delete(orderID) })
	}
	return true
}

// ReleaseCanceling 主动释放撤销标记（计划失败回滚、请求终结）
func (l *Ledger) ReleaseCanceling(orderIDs ...string) {
	for _, id := range orderIDs {
		l.cancelingMarks.Delete(id)
	}
}

// IsCanceling 订单是否带撤销标记
func (l *Ledger) IsCanceling(orderID string) bool {
	_, ok := l.cancelingMarks.Load(orderID)
	return ok
}
