package trader

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/metrics"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/pkg/config"
	"github.com/tradewire/lobgo/pkg/logger"
)

var engineLog = logger.Component("engine")

// AllMarkets 推送侧的市场通配符，匹配所有已配置交易对
const AllMarkets = "allMarkets"

// ConnStatus 行情链路连接状态
type ConnStatus string

const (
	ConnSyncing ConnStatus = "syncing"
	ConnReady   ConnStatus = "ready"
)

// SnapshotQuery 权威快照查询（REST 协作方，窄接口）
type SnapshotQuery interface {
	GetActiveOrders(ctx context.Context, userAddress, marketID string) ([]domain.Order, error)
}

// Subscriber 订单推送订阅（WebSocket 协作方，窄接口）
type Subscriber interface {
	SubscribeUserOrdersChannel(userAddress, marketID string) error
}

// parkedPromotion 先于本地登记到达的 mempooled 事件在此停靠，
// 等登记完成后补做晋升；超时未等到登记则按异常记录。
type parkedPromotion struct {
	txID  string
	timer *time.Timer
}

// Engine 对账引擎。
// 消费交易生命周期回调与推送/快照更新，在单写者纪律下收敛本地订单视图；
// 可用性（连接状态机）与订单状态相互独立。
type Engine struct {
	user      string
	symbols   []config.SymbolConfig
	store     *store.Store
	snapshots SnapshotQuery
	sub       Subscriber
	regWait   time.Duration

	mu        sync.Mutex
	queue     *updateQueue
	consumerW sync.WaitGroup
	available bool
	aligned   map[string]struct{} // symbol -> 快照已对齐

	parked sync.Map // requestId -> *parkedPromotion

	cbMu        sync.RWMutex
	onOrders    []func([]domain.Order)
	onAvailable []func(bool)
}

func NewEngine(user string, symbols []config.SymbolConfig, st *store.Store, snapshots SnapshotQuery, sub Subscriber, engineCfg config.EngineConfig) *Engine {
	return &Engine{
		user:      user,
		symbols:   symbols,
		store:     st,
		snapshots: snapshots,
		sub:       sub,
		regWait:   engineCfg.RegistrationTimeout,
	}
}

// RegisterOrdersChanged 由编排方显式注册订单变更回调
func (e *Engine) RegisterOrdersChanged(fn func([]domain.Order)) {
	e.cbMu.Lock()
	e.onOrders = append(e.onOrders, fn)
	e.cbMu.Unlock()
}

// RegisterAvailabilityChanged 由编排方显式注册可用性变更回调
func (e *Engine) RegisterAvailabilityChanged(fn func(bool)) {
	e.cbMu.Lock()
	e.onAvailable = append(e.onAvailable, fn)
	e.cbMu.Unlock()
}

func (e *Engine) notifyOrders(orders []domain.Order) {
	if len(orders) == 0 {
		return
	}
	e.cbMu.RLock()
	fns := e.onOrders
	e.cbMu.RUnlock()
	for _, fn := range fns {
		fn(orders)
	}
}

func (e *Engine) setAvailable(v bool) {
	e.mu.Lock()
	changed := e.available != v
	e.available = v
	e.mu.Unlock()
	if !changed {
		return
	}
	engineLog.Infof("🔌 [引擎] 可用性变更: available=%v", v)
	e.cbMu.RLock()
	fns := e.onAvailable
	e.cbMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// PublishOrders 把一批订单变更广播给已注册的回调
// （提交路径产生的乐观订单也走统一的变更事件出口）
func (e *Engine) PublishOrders(orders []domain.Order) {
	e.notifyOrders(orders)
}

// IsAvailable 当前是否可交易（快照对齐完成且链路就绪）
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// ---- 交易生命周期回调 ----

// OnMempooled 交易进入交易池：把台账里的乐观订单晋升为 Mempooled。
// 广播回执可能先于本地登记可见（提交方还没来得及写台账），
// 此时事件停靠等待 CompleteRegistration 补做晋升，超时记异常——
// 也可能本来就是一笔纯撤销请求，没有乐观订单，属于正常情况。
func (e *Engine) OnMempooled(requestID, txID string) {
	metrics.TxMempooled.Add(1)
	if e.tryPromote(requestID, txID) {
		return
	}
	p := &parkedPromotion{txID: txID}
	p.timer = time.AfterFunc(e.regWait, func() {
		if _, ok := e.parked.LoadAndDelete(requestID); ok {
			if e.store.Ledger().ResolveCancellation(requestID) != nil {
				return
			}
			engineLog.Warnf("❓ [引擎] mempooled 事件找不到对应登记（可能是撤销请求）: requestId=%s txId=%s", requestID, txID)
		}
	})
	e.parked.Store(requestID, p)
	// 停靠后登记恰好完成的窗口，再试一次
	if e.tryPromote(requestID, txID) {
		if v, ok := e.parked.LoadAndDelete(requestID); ok {
			v.(*parkedPromotion).timer.Stop()
		}
	}
}

func (e *Engine) tryPromote(requestID, txID string) bool {
	promoted, ok := e.store.Ledger().Promote(requestID, txID)
	if !ok {
		return false
	}
	engineLog.Infof("📡 [引擎] 请求已入池: requestId=%s txId=%s orders=%d", requestID, txID, len(promoted))
	e.notifyOrders(promoted)
	return true
}

// CompleteRegistration 提交方完成台账登记后调用，了结停靠的晋升
func (e *Engine) CompleteRegistration(requestID string) {
	v, ok := e.parked.LoadAndDelete(requestID)
	if !ok {
		return
	}
	p := v.(*parkedPromotion)
	p.timer.Stop()
	e.tryPromote(requestID, p.txID)
}

// OnConfirmed 交易确认成功。
// 订单的最终状态以推送/快照为准，这里只做计量与撤销登记的了结；
// 乐观占位由确认订单到达 SaveOrders 时按交易哈希摘除。
func (e *Engine) OnConfirmed(requestID string, receipt *types.Receipt) {
	metrics.TxConfirmed.Add(1)
	engineLog.Infof("✅ [引擎] 交易确认: requestId=%s tx=%s block=%v", requestID, receipt.TxHash.Hex(), receipt.BlockNumber)
	e.store.Ledger().ResolveCancellation(requestID)
}

// OnFailed 交易确认失败：订单从未在链上存在过。
// 回滚乐观状态（置为 Rejected 广播出去），释放本请求占的撤销标记，
// 让同一笔撤销可以重试。
func (e *Engine) OnFailed(requestID string, receipt *types.Receipt) {
	metrics.TxFailed.Add(1)
	engineLog.Warnf("❌ [引擎] 交易失败: requestId=%s tx=%s", requestID, receipt.TxHash.Hex())
	e.rollback(requestID)
}

// OnError 提交或追踪出错（未上链），语义同 OnFailed，按请求号回滚
func (e *Engine) OnError(requestID string, err error) {
	metrics.TxErrored.Add(1)
	engineLog.Warnf("💥 [引擎] 请求出错: requestId=%s err=%v", requestID, err)
	if v, ok := e.parked.LoadAndDelete(requestID); ok {
		v.(*parkedPromotion).timer.Stop()
	}
	e.rollback(requestID)
}

func (e *Engine) rollback(requestID string) {
	if orders, ok := e.store.Ledger().DropPending(requestID); ok {
		rejected := make([]domain.Order, len(orders))
		for i, o := range orders {
			rejected[i] = o.WithStatus(domain.OrderStatusRejected)
		}
		e.notifyOrders(rejected)
	}
	if ids := e.store.Ledger().ResolveCancellation(requestID); len(ids) > 0 {
		e.store.Ledger().ReleaseCanceling(ids...)
		engineLog.Infof("↩️ [引擎] 撤销未完成，释放标记: orders=%v", ids)
	}
}

// ---- 连接状态机 ----

// OnDisconnected 链路断开：清空链上视图并停止消费，台账保留
func (e *Engine) OnDisconnected() {
	engineLog.Warn("📴 [引擎] 行情链路断开")
	e.suspend()
}

// OnStateStatusChanged 链路状态变更。
// Syncing 等同断开处理（本地视图已不可信）；Ready 重启消费并重新订阅，
// 可用性要等快照经 REST 对齐成功后才恢复。
func (e *Engine) OnStateStatusChanged(status ConnStatus) {
	switch status {
	case ConnSyncing:
		engineLog.Info("⏳ [引擎] 行情链路同步中")
		e.suspend()
	case ConnReady:
		engineLog.Info("🟢 [引擎] 行情链路就绪，重新订阅")
		e.resume()
	}
}

// markAligned 记下某交易对完成快照对齐；全部交易对都对齐时返回 true
func (e *Engine) markAligned(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aligned == nil {
		e.aligned = make(map[string]struct{}, len(e.symbols))
	}
	e.aligned[symbol] = struct{}{}
	return len(e.aligned) >= len(e.symbols)
}

func (e *Engine) suspend() {
	e.setAvailable(false)
	e.mu.Lock()
	q := e.queue
	e.queue = nil
	e.aligned = nil
	e.mu.Unlock()
	if q != nil {
		q.Close()
		e.consumerW.Wait()
	}
	e.store.ClearVolatile()
}

func (e *Engine) resume() {
	q := newUpdateQueue()
	e.mu.Lock()
	old := e.queue
	e.queue = q
	e.mu.Unlock()
	if old != nil {
		old.Close()
		e.consumerW.Wait()
	}

	e.consumerW.Add(1)
	go e.consume(q)

	for _, s := range e.symbols {
		if err := e.sub.SubscribeUserOrdersChannel(e.user, s.MarketID); err != nil {
			engineLog.Errorf("🚨 [引擎] 订阅失败: market=%s err=%v", s.MarketID, err)
		}
	}
}

// Stop 停止消费（进程退出时调用）
func (e *Engine) Stop() {
	e.suspend()
}

// ---- 推送/快照 ----

// OnUserOrdersUpdated 推送回调入队，由单消费者按到达顺序处理
func (e *Engine) OnUserOrdersUpdated(marketID string, orders []domain.Order, isSnapshot bool) {
	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()
	if q == nil {
		engineLog.Debugf("⏭️ [引擎] 链路未就绪，丢弃更新: market=%s", marketID)
		return
	}
	q.Push(orderUpdate{MarketID: marketID, Orders: orders, IsSnapshot: isSnapshot})
	metrics.PushQueued.Add(1)
}

func (e *Engine) consume(q *updateQueue) {
	defer e.consumerW.Done()
	for {
		u, ok := q.Pop()
		if !ok {
			return
		}
		e.processUpdate(u)
	}
}

// processUpdate 过滤到配置的市场并送入 SaveOrders。
// 快照更新额外经 REST 拉取全量活跃单重建本地状态——快照发生在
// 重连/重同步之后，不能信任推送历史；REST 对齐成功才恢复可用。
func (e *Engine) processUpdate(u orderUpdate) {
	for _, s := range e.symbols {
		if u.MarketID != AllMarkets && u.MarketID != s.MarketID {
			continue
		}
		matched := make([]domain.Order, 0, len(u.Orders))
		for _, o := range u.Orders {
			if o.Symbol == s.Symbol || o.Symbol == "" {
				matched = append(matched, o)
			}
		}

		if !u.IsSnapshot {
			applied := e.store.SaveOrders(matched)
			metrics.PushApplied.Add(int64(len(applied)))
			e.notifyOrders(applied)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		resting, err := e.snapshots.GetActiveOrders(ctx, e.user, s.MarketID)
		cancel()
		if err != nil {
			engineLog.Errorf("🚨 [引擎] 快照对齐失败，保持不可用: market=%s err=%v", s.MarketID, err)
			continue
		}
		combined := append(resting, matched...)
		applied := e.store.ApplySnapshot(s.Symbol, combined)
		metrics.SnapshotsApplied.Add(1)
		e.notifyOrders(applied)
		engineLog.Infof("📸 [引擎] 快照对齐完成: market=%s orders=%d", s.MarketID, len(combined))
		// 多市场时单个对齐不够；全部市场都重建完成才恢复可交易
		if e.markAligned(s.Symbol) {
			e.setAvailable(true)
		}
	}
}
