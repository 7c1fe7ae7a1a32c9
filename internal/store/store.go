package store

import (
	"sync"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/pkg/logger"
)

var log = logger.Component("store")

// Store 订单簿本地视图：活跃订单与已成交未领取订单。
//
// 两张表共用一把锁，SaveOrders 是唯一的变更入口——推送、快照、
// 交易回执三路更新都汇聚到这里，配合状态机合法迁移表实现
// 「终态先到者胜」：已进入终态的订单不再被后到的非终态更新拉回。
type Store struct {
	mu              sync.Mutex
	activeOrders    map[string]domain.Order // orderId -> 活跃订单
	filledUnclaimed map[string]domain.Order // orderId -> 已成交未领取

	ledger *Ledger
}

// New ledger 由外部注入，断线清理时台账不受影响
func New(ledger *Ledger) *Store {
	return &Store{
		activeOrders:    make(map[string]domain.Order),
		filledUnclaimed: make(map[string]domain.Order),
		ledger:          ledger,
	}
}

// Ledger 返回底下的在途台账
func (s *Store) Ledger() *Ledger { return s.ledger }

// SaveOrders 唯一变更入口。逐单处理：
//   - 合法性：对照迁移表，非法倒退（终态→非终态）直接丢弃；
//   - 归置：活跃单入 activeOrders，已成交未领取入 filledUnclaimed，
//     已取消、被拒绝或领取完毕的订单从两张表摘除；
//   - 清账：带交易哈希的已确认订单顺带摘除对应的在途乐观订单，
//     撤销完成的订单释放其撤销标记。
//
// 返回实际生效的订单，供变更事件广播。
func (s *Store) SaveOrders(orders []domain.Order) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if prev, ok := s.lookupLocked(o.ID); ok {
			if !domain.CanTransition(prev.Status, o.Status) {
				log.Debugf("⏭️ [存储] 丢弃非法状态倒退: order=%s %s -> %s", o.ID, prev.Status, o.Status)
				continue
			}
		}
		s.placeLocked(o)

		if o.TxnHash != nil && o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusMempooled {
			// 确认订单到达，废止对应的乐观占位；撤销标记交由 TTL 定时器回收
			s.ledger.DropPendingByTxn(o.TxnHash.Hex())
		}
		applied = append(applied, o)
	}
	return applied
}

// placeLocked 按状态把订单归入正确的表（调用方持锁）。
// Canceled 虽非终态（还可迁到 CanceledAndClaimed），但已离场，
// 同样从两张表摘除；撤销事实记到台账标记上，由 TTL 延迟释放，
// 晚到的确认不会被误读成新订单。
func (s *Store) placeLocked(o domain.Order) {
	switch {
	case o.Status.IsFinal(), o.Status == domain.OrderStatusCanceled:
		delete(s.activeOrders, o.ID)
		delete(s.filledUnclaimed, o.ID)
		if o.Status == domain.OrderStatusCanceled || o.Status == domain.OrderStatusCanceledAndClaimed {
			s.ledger.MarkCanceling(o.ID)
		}
	case o.Status == domain.OrderStatusFilled:
		delete(s.activeOrders, o.ID)
		s.filledUnclaimed[o.ID] = o
	default:
		delete(s.filledUnclaimed, o.ID)
		s.activeOrders[o.ID] = o
	}
}

func (s *Store) lookupLocked(orderID string) (domain.Order, bool) {
	if o, ok := s.activeOrders[orderID]; ok {
		return o, true
	}
	o, ok := s.filledUnclaimed[orderID]
	return o, ok
}

// ApplySnapshot 用权威快照重建某个交易对的活跃视图。
// 快照未覆盖的本地活跃单视为已离场摘除；重复应用同一快照是幂等的。
// 在途乐观订单不在快照管辖范围内，由确认回调或停靠路径自行了结。
func (s *Store) ApplySnapshot(symbol string, orders []domain.Order) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		seen[o.ID] = struct{}{}
	}
	for id, o := range s.activeOrders {
		if o.Symbol == symbol {
			if _, ok := seen[id]; !ok {
				delete(s.activeOrders, id)
			}
		}
	}
	for id, o := range s.filledUnclaimed {
		if o.Symbol == symbol {
			if _, ok := seen[id]; !ok {
				delete(s.filledUnclaimed, id)
			}
		}
	}

	applied := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if prev, ok := s.lookupLocked(o.ID); ok && !domain.CanTransition(prev.Status, o.Status) {
			continue
		}
		s.placeLocked(o)
		if o.TxnHash != nil {
			s.ledger.DropPendingByTxn(o.TxnHash.Hex())
		}
		applied = append(applied, o)
	}
	return applied
}

// ActiveOrders 活跃订单副本；includePending 时并入台账内的乐观订单
func (s *Store) ActiveOrders(includePending bool) []domain.Order {
	s.mu.Lock()
	out := make([]domain.Order, 0, len(s.activeOrders))
	for _, o := range s.activeOrders {
		out = append(out, o)
	}
	s.mu.Unlock()

	if includePending {
		out = append(out, s.ledger.PendingOrders()...)
	}
	return out
}

// UnclaimedOrders 可领取订单：已成交未领取，加上部分成交中已实现的部分
func (s *Store) UnclaimedOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.filledUnclaimed {
		out = append(out, o)
	}
	for _, o := range s.activeOrders {
		if o.IsUnclaimed() {
			out = append(out, o)
		}
	}
	return out
}

// Lookup 按订单号查询（活跃或未领取）
func (s *Store) Lookup(orderID string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(orderID)
}

// IsOrderCanceled 订单是否已撤销或正在撤销中。
// 已取消订单不留存于视图，以台账里的撤销标记作答；标记随 TTL 过期。
func (s *Store) IsOrderCanceled(orderID string) bool {
	return s.ledger.IsCanceling(orderID)
}

// ClearVolatile 断线时清空链上视图。
// 只清两张订单表；在途台账原样保留——已广播的交易不因断线消失，
// 重连后由快照与确认回调重新对账。
func (s *Store) ClearVolatile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrders = make(map[string]domain.Order)
	s.filledUnclaimed = make(map[string]domain.Order)
	log.Info("🧹 [存储] 断线清空链上视图（在途台账保留）")
}
