package batch

import (
	"context"
	"math/big"
	"sort"

	"github.com/pkg/errors"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/internal/feegate"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/internal/units"
	"github.com/tradewire/lobgo/pkg/config"
	"github.com/tradewire/lobgo/pkg/logger"
)

var log = logger.Component("batch")

// ErrUnsupportedRequest 调用方传入无法翻译的请求类型。
// 属于输入错误：上层应同步上抛，而非按顾问类失败静默中止。
var ErrUnsupportedRequest = errors.New("不支持的请求类型")

// RequestCanceler 入池前撤回本地请求（由交易执行器实现）
type RequestCanceler interface {
	TryCancelRequest(requestID string) bool
}

// Plan 规划结果：若干笔物理交易，外加回滚所需的簿记
type Plan struct {
	Batches []executor.Batch
	// ResolvedPendingCancels 第一步里成功撤回的本地请求号
	ResolvedPendingCancels []string
	// CancelingMarks 本次规划打下的全部撤销标记；整体失败时回滚
	CancelingMarks []string
	// MarksByBatch 与 Batches 一一对应：各批持有的撤销标记。
	// 部分批次已交给执行器后失败时，只能回滚未提交批次的标记——
	// 已在途的领取若释放标记，并发撤单会抢到标记造成重复领取。
	MarksByBatch [][]string
}

// Empty 规划后没有任何可提交的操作
func (p Plan) Empty() bool {
	for _, b := range p.Batches {
		if len(b.Operations) > 0 {
			return false
		}
	}
	return true
}

// Planner 批次规划器。
// 把一组异构请求整理成受 gas 预算约束的若干笔交易：
//  1. 先就地解决全部 CancelPending（赶在请求不可撤回之前）；
//  2. 为每个 Claim 原子打撤销标记，抢不到标记的说明已在途，丢弃；
//  3. 余下请求按优先级降序排（Claim > Change > Place）——
//     释放押金的操作排在消耗押金的前面，腾出的余额同批即可复用；
//  4. 按单操作 gas 限额累计，超出单笔上限就切新批次；
//  5. 每批做两侧余额门禁，失败侧只摘掉该侧的 Place/Change。
type Planner struct {
	symbol   config.SymbolConfig
	gas      config.GasConfig
	store    *store.Store
	gate     *feegate.Gate
	canceler RequestCanceler
}

func NewPlanner(symbol config.SymbolConfig, gas config.GasConfig, st *store.Store, gate *feegate.Gate, canceler RequestCanceler) *Planner {
	return &Planner{symbol: symbol, gas: gas, store: st, gate: gate, canceler: canceler}
}

// Rollback 释放规划打下的全部撤销标记（整体失败、一笔未提交时调用）
func (p *Planner) Rollback(plan Plan) {
	if len(plan.CancelingMarks) == 0 {
		return
	}
	p.store.Ledger().ReleaseCanceling(plan.CancelingMarks...)
	log.Infof("↩️ [规划] 回滚撤销标记: %d 个", len(plan.CancelingMarks))
}

// RollbackFrom 只释放自第 from 批起（尚未交给执行器）的撤销标记。
// 已提交批次的标记保持占用，等确认/失败回调自行了结。
func (p *Planner) RollbackFrom(plan Plan, from int) {
	var marks []string
	for i := from; i < len(plan.MarksByBatch); i++ {
		marks = append(marks, plan.MarksByBatch[i]...)
	}
	if len(marks) == 0 {
		return
	}
	p.store.Ledger().ReleaseCanceling(marks...)
	log.Infof("↩️ [规划] 回滚未提交批次的撤销标记: %d 个", len(marks))
}

// Build 执行五步规划。无法翻译的请求按 ErrUnsupportedRequest 报错，
// 顾问类错误（余额/费率查询失败）原样返回；两种情况下已打的标记
// 都会在返回前自行回滚。
func (p *Planner) Build(ctx context.Context, requests []domain.Request) (Plan, error) {
	var plan Plan

	// 第一步：就地解决 CancelPending
	rest := make([]domain.Request, 0, len(requests))
	for _, req := range requests {
		cp, ok := req.(domain.CancelPendingOrderRequest)
		if !ok {
			rest = append(rest, req)
			continue
		}
		if p.canceler.TryCancelRequest(cp.LocalRequestID) {
			p.store.Ledger().DropPending(cp.LocalRequestID)
			plan.ResolvedPendingCancels = append(plan.ResolvedPendingCancels, cp.LocalRequestID)
			log.Infof("🚫 [规划] 本地请求已撤回: requestId=%s", cp.LocalRequestID)
		} else {
			log.Warnf("⚠️ [规划] 本地请求已不可撤回: requestId=%s", cp.LocalRequestID)
		}
	}

	// 第二步：Claim 抢占撤销标记
	admitted := rest[:0]
	for _, req := range rest {
		if claim, ok := req.(domain.ClaimOrderRequest); ok {
			if !p.store.Ledger().MarkCanceling(claim.OrderID) {
				log.Debugf("⏭️ [规划] 订单已在撤销途中，丢弃领取请求: order=%s", claim.OrderID)
				continue
			}
			plan.CancelingMarks = append(plan.CancelingMarks, claim.OrderID)
		}
		admitted = append(admitted, req)
	}

	// 第三步：优先级降序
	sort.SliceStable(admitted, func(i, j int) bool {
		return admitted[i].Priority() > admitted[j].Priority()
	})

	// 第四步：按 gas 切批
	ops, err := p.toOperations(admitted)
	if err != nil {
		p.Rollback(plan)
		return Plan{}, err
	}
	batches := p.pack(ops)

	// 第五步：逐批两侧门禁
	for i := range batches {
		if err := p.gateBatch(ctx, &batches[i]); err != nil {
			p.Rollback(plan)
			return Plan{}, err
		}
	}
	for _, b := range batches {
		if len(b.Operations) == 0 {
			continue
		}
		var marks []string
		for _, op := range b.Operations {
			if op.Kind == executor.OpClaim {
				marks = append(marks, op.OrderID)
			}
		}
		plan.Batches = append(plan.Batches, b)
		plan.MarksByBatch = append(plan.MarksByBatch, marks)
	}
	return plan, nil
}

// toOperations 把域请求翻译成执行器操作（押金与 gas 参数就绪）
func (p *Planner) toOperations(requests []domain.Request) ([]executor.Operation, error) {
	ops := make([]executor.Operation, 0, len(requests))
	for _, req := range requests {
		switch r := req.(type) {
		case domain.PlaceOrderRequest:
			ops = append(ops, executor.Operation{
				Kind:        executor.OpPlace,
				Symbol:      p.symbol.Symbol,
				Side:        r.Side,
				Price:       r.Price,
				Qty:         r.Qty,
				InputAmount: p.inputAmount(r.Side, r.Qty, r.Price),
				GasLimit:    p.gas.PlaceOrderGasLimit,
			})
		case domain.ChangeOrderRequest:
			ops = append(ops, executor.Operation{
				Kind:        executor.OpChange,
				Symbol:      p.symbol.Symbol,
				OrderID:     r.OrderID,
				Side:        r.Side,
				Price:       r.Price,
				Qty:         r.Qty,
				InputAmount: p.inputAmount(r.Side, r.Qty, r.Price),
				GasLimit:    p.gas.ChangeOrderGasLimit,
			})
		case domain.ClaimOrderRequest:
			op := executor.Operation{
				Kind:           executor.OpClaim,
				Symbol:         p.symbol.Symbol,
				OrderID:        r.OrderID,
				TransferTokens: r.TransferTokens,
				GasLimit:       p.gas.ClaimOrderGasLimit,
			}
			if o, ok := p.store.Lookup(r.OrderID); ok {
				op.Side = o.Side
			}
			ops = append(ops, op)
		default:
			return nil, errors.Wrapf(ErrUnsupportedRequest, "%T", req)
		}
	}
	return ops, nil
}

func (p *Planner) inputAmount(side domain.Side, qty, price *big.Int) *big.Int {
	if side == domain.SideSell {
		return units.InputAmountSell(qty, p.symbol.ScalingFactorX)
	}
	return units.InputAmountBuy(qty, price, p.symbol.ScalingFactorY)
}

// pack 顺序累计 gas，超出单笔上限就开新批次
func (p *Planner) pack(ops []executor.Operation) []executor.Batch {
	var batches []executor.Batch
	cur := executor.Batch{Symbol: p.symbol.Symbol}
	for _, op := range ops {
		if cur.GasLimit > 0 && cur.GasLimit+op.GasLimit > p.gas.MaxGasPerTx {
			batches = append(batches, cur)
			cur = executor.Batch{Symbol: p.symbol.Symbol}
		}
		cur.Operations = append(cur.Operations, op)
		cur.GasLimit += op.GasLimit
	}
	if len(cur.Operations) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// gateBatch 对一个批次做两侧门禁。
// 两侧各自基于原始操作表判定；失败侧的 Place/Change 按下标倒序摘除，
// 两侧都失败时两侧的条目全部摘掉——后判的一侧不受先摘的影响。
func (p *Planner) gateBatch(ctx context.Context, b *executor.Batch) error {
	type sideTotals struct {
		input     *big.Int
		prevLeave *big.Int
		present   bool
	}
	totals := map[domain.Side]*sideTotals{
		domain.SideBuy:  {input: big.NewInt(0), prevLeave: big.NewInt(0)},
		domain.SideSell: {input: big.NewInt(0), prevLeave: big.NewInt(0)},
	}
	for _, op := range b.Operations {
		if op.Kind != executor.OpPlace && op.Kind != executor.OpChange {
			continue
		}
		t := totals[op.Side]
		t.present = true
		t.input.Add(t.input, op.InputAmount)
		if op.Kind == executor.OpChange {
			if prev, ok := p.store.Lookup(op.OrderID); ok && prev.LeaveQty != nil {
				t.prevLeave.Add(t.prevLeave, p.inputAmount(op.Side, prev.LeaveQty, prev.Price))
			}
		}
	}

	dropped := make(map[domain.Side]bool)
	for _, side := range []domain.Side{domain.SideSell, domain.SideBuy} {
		t := totals[side]
		if !t.present {
			continue
		}
		res, err := p.gate.Check(ctx, p.symbol, side, t.input, t.prevLeave, b.GasLimit)
		if err != nil {
			return err
		}
		if !res.Admissible {
			dropped[side] = true
		}
	}
	if len(dropped) == 0 {
		return nil
	}

	for i := len(b.Operations) - 1; i >= 0; i-- {
		op := b.Operations[i]
		if op.Kind != executor.OpPlace && op.Kind != executor.OpChange {
			continue
		}
		if dropped[op.Side] {
			log.Warnf("⚠️ [规划] 余额不足，摘除 %s 侧操作: kind=%s order=%s", op.Side, op.Kind, op.OrderID)
			b.GasLimit -= op.GasLimit
			b.Operations = append(b.Operations[:i], b.Operations[i+1:]...)
		}
	}
	return nil
}
