package trader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradewire/lobgo/internal/batch"
	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/internal/metrics"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/internal/venue"
	"github.com/tradewire/lobgo/pkg/logger"
)

var log = logger.Component("trader")

// Trader 交易操作面。
// 组合归一化、门禁、规划与执行：调用方给十进制价格数量，
// 这里负责换算、登记乐观订单并把批次交给执行器；
// 后续的收敛由对账引擎完成。
type Trader struct {
	venue   venue.Venue
	store   *store.Store
	planner *batch.Planner
	exec    executor.Executor
	engine  *Engine
}

func New(v venue.Venue, st *store.Store, planner *batch.Planner, exec executor.Executor, engine *Engine) *Trader {
	return &Trader{venue: v, store: st, planner: planner, exec: exec, engine: engine}
}

// Engine 返回底下的对账引擎（编排方注册事件回调用）
func (t *Trader) Engine() *Engine { return t.engine }

// IsAvailable 是否可交易
func (t *Trader) IsAvailable() bool { return t.engine.IsAvailable() }

// errUnavailable 行情未就绪时所有会上链的操作一律同步拒绝
var errUnavailable = errors.New("交易暂不可用（行情未就绪）")

// orderTypeFor 下单标志换算成订单类型
func orderTypeFor(marketOnly, postOnly bool) domain.OrderType {
	switch {
	case marketOnly:
		return domain.OrderTypeMarketOnly
	case postOnly:
		return domain.OrderTypePostOnly
	default:
		return domain.OrderTypeLimit
	}
}

// OrderSend 挂单。
// 价格/数量不能在簿的精度下精确表示时同步报错（绝不静默舍入）；
// 余额门禁不通过属于顾问类失败：记日志、不提交、返回空请求号。
// 返回本地请求号，供 PendingOrderCancel 在广播前撤回。
func (t *Trader) OrderSend(ctx context.Context, price, qty decimal.Decimal, side domain.Side, marketOnly, postOnly bool) (string, error) {
	if !t.engine.IsAvailable() {
		return "", errUnavailable
	}
	rawPrice, ok := t.venue.NormalizePrice(price)
	if !ok {
		return "", errors.Errorf("价格精度超出簿的 tick 粒度: %s", price)
	}
	rawQty, ok := t.venue.NormalizeQty(qty)
	if !ok {
		return "", errors.Errorf("数量无法精确缩放: %s", qty)
	}
	requestID, err := t.submit(ctx, []domain.Request{
		domain.PlaceOrderRequest{Price: rawPrice, Qty: rawQty, Side: side},
	}, orderTypeFor(marketOnly, postOnly))
	if err == nil && requestID != "" {
		metrics.OrdersSent.Add(1)
	}
	return requestID, err
}

// OrderCancel 撤单（领取成交所得并撤销未成交余量）。
// 并发撤同一张订单时恰有一个调用返回 true，裁决靠撤销标记的
// 原子「不存在才插入」，竞争失败方的请求在规划阶段被丢弃。
func (t *Trader) OrderCancel(ctx context.Context, orderID string, transferTokens bool) (bool, error) {
	if !t.engine.IsAvailable() {
		return false, errUnavailable
	}
	if _, ok := t.store.Lookup(orderID); !ok {
		log.Warnf("⚠️ [操作] 撤单目标不存在: order=%s", orderID)
		return false, nil
	}
	requestID, err := t.submit(ctx, []domain.Request{
		domain.ClaimOrderRequest{OrderID: orderID, TransferTokens: transferTokens},
	}, domain.OrderTypeLimit)
	if err != nil {
		return false, err
	}
	if requestID == "" {
		return false, nil
	}
	metrics.OrdersCanceled.Add(1)
	return true, nil
}

// OrderModify 改单：撤旧挂新合并为一笔交易，旧单释放的押金
// 直接抵扣新单的押金（门禁里的 previousLeave）。
func (t *Trader) OrderModify(ctx context.Context, orderID string, price, qty decimal.Decimal, postOnly, transferTokens bool) (string, error) {
	if !t.engine.IsAvailable() {
		return "", errUnavailable
	}
	prev, ok := t.store.Lookup(orderID)
	if !ok {
		return "", errors.Errorf("改单目标不存在: %s", orderID)
	}
	rawPrice, okP := t.venue.NormalizePrice(price)
	if !okP {
		return "", errors.Errorf("价格精度超出簿的 tick 粒度: %s", price)
	}
	rawQty, okQ := t.venue.NormalizeQty(qty)
	if !okQ {
		return "", errors.Errorf("数量无法精确缩放: %s", qty)
	}
	requestID, err := t.submit(ctx, []domain.Request{
		domain.ChangeOrderRequest{OrderID: orderID, Price: rawPrice, Qty: rawQty, Side: prev.Side},
	}, orderTypeFor(false, postOnly))
	if err == nil && requestID != "" {
		metrics.OrdersModified.Add(1)
	}
	return requestID, err
}

// Batch 批量操作：异构请求集合按优先级整理、按 gas 预算切批提交。
// transferTokens 作用于其中的领取请求，postOnly 作用于其中的挂单。
// 行情未就绪时与单笔操作一样同步拒绝（PendingOrderCancel 例外，
// 撤回本地请求不上链，断线时也允许）。
func (t *Trader) Batch(ctx context.Context, requests []domain.Request, postOnly, transferTokens bool) (string, error) {
	if !t.engine.IsAvailable() {
		return "", errUnavailable
	}
	prepared := make([]domain.Request, 0, len(requests))
	for _, req := range requests {
		if claim, ok := req.(domain.ClaimOrderRequest); ok {
			claim.TransferTokens = claim.TransferTokens || transferTokens
			req = claim
		}
		prepared = append(prepared, req)
	}
	return t.submit(ctx, prepared, orderTypeFor(false, postOnly))
}

// PendingOrderCancel 在广播前撤回本地请求；
// 来得及拦下时返回 true，并把对应的乐观订单按已取消广播出去。
func (t *Trader) PendingOrderCancel(localRequestID string) bool {
	if !t.exec.TryCancelRequest(localRequestID) {
		return false
	}
	if orders, ok := t.store.Ledger().DropPending(localRequestID); ok {
		canceled := make([]domain.Order, len(orders))
		for i, o := range orders {
			canceled[i] = o.WithStatus(domain.OrderStatusCanceled)
		}
		t.engine.PublishOrders(canceled)
	}
	if ids := t.store.Ledger().ResolveCancellation(localRequestID); len(ids) > 0 {
		t.store.Ledger().ReleaseCanceling(ids...)
	}
	log.Infof("🚫 [操作] 本地请求已撤回: requestId=%s", localRequestID)
	return true
}

// GetActiveOrders 活跃订单；includePending 时并入未确认的乐观订单
func (t *Trader) GetActiveOrders(includePending bool) []domain.Order {
	return t.store.ActiveOrders(includePending)
}

// GetPendingOrders 未确认的乐观订单
func (t *Trader) GetPendingOrders() []domain.Order {
	return t.store.Ledger().PendingOrders()
}

// IsOrderCanceled 订单是否已撤销或正在撤销中
func (t *Trader) IsOrderCanceled(orderID string) bool {
	return t.store.IsOrderCanceled(orderID)
}

// submit 统一提交路径：规划 → 补全场地参数 → 登记乐观订单 → 执行。
// 输入类错误（请求无法翻译）同步上抛；规划期的顾问类失败
// （余额/费率查询不可用）只记日志不上抛；执行器同步报错时
// 回滚未提交批次的撤销标记后返回错误。
func (t *Trader) submit(ctx context.Context, requests []domain.Request, typ domain.OrderType) (string, error) {
	plan, err := t.planner.Build(ctx, requests)
	if err != nil {
		if errors.Is(err, batch.ErrUnsupportedRequest) {
			return "", err
		}
		log.Warnf("⚠️ [操作] 规划失败，操作中止: err=%v", err)
		metrics.GateRejections.Add(1)
		return "", nil
	}
	if plan.Empty() {
		return "", nil
	}
	metrics.BatchesPlanned.Add(int64(len(plan.Batches)))

	var firstRequestID string
	for bi, b := range plan.Batches {
		for i, op := range b.Operations {
			b.Operations[i] = t.venue.BuildSubmitParams(op)
		}
		optimistic, cancelIDs := t.optimisticFor(b, typ)

		requestID, err := t.exec.Execute(ctx, b)
		if err != nil {
			// 只回滚未提交批次的标记；已在途批次的标记不能释放，
			// 否则并发撤单会抢到标记造成重复领取
			t.planner.RollbackFrom(plan, bi)
			return firstRequestID, errors.Wrap(err, "提交批次失败")
		}
		metrics.TxSubmitted.Add(1)

		if len(optimistic) > 0 {
			t.store.Ledger().RegisterPending(requestID, optimistic)
		}
		t.store.Ledger().RegisterCancellation(requestID, cancelIDs)
		t.engine.CompleteRegistration(requestID)
		t.engine.PublishOrders(optimistic)

		if firstRequestID == "" {
			firstRequestID = requestID
		}
		log.Infof("📤 [操作] 批次已提交: requestId=%s ops=%d gas=%d", requestID, len(b.Operations), b.GasLimit)
	}
	return firstRequestID, nil
}

// optimisticFor 为批次里的挂单/改单生成 Pending 乐观订单，
// 并收集本批将撤销/领取的订单号
func (t *Trader) optimisticFor(b executor.Batch, typ domain.OrderType) ([]domain.Order, []string) {
	now := time.Now()
	var optimistic []domain.Order
	var cancelIDs []string
	for _, op := range b.Operations {
		switch op.Kind {
		case executor.OpPlace, executor.OpChange:
			optimistic = append(optimistic, domain.Order{
				ID:          uuid.NewString(),
				Price:       op.Price,
				Qty:         op.Qty,
				LeaveQty:    op.Qty,
				Side:        op.Side,
				Symbol:      t.venue.Symbol().Symbol,
				Status:      domain.OrderStatusPending,
				Type:        typ,
				Created:     now,
				LastChanged: now,
			})
			if op.Kind == executor.OpChange {
				cancelIDs = append(cancelIDs, op.OrderID)
			}
		case executor.OpClaim:
			cancelIDs = append(cancelIDs, op.OrderID)
		}
	}
	return optimistic, cancelIDs
}
