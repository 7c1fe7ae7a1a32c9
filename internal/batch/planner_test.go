package batch

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/internal/feegate"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/pkg/config"
)

type fakeCanceler struct {
	accept   bool
	canceled []string
}

func (f *fakeCanceler) TryCancelRequest(id string) bool {
	f.canceled = append(f.canceled, id)
	return f.accept
}

type fakeBalances struct{ bals feegate.Balances }

func (f fakeBalances) GetAvailableBalances(context.Context, config.SymbolConfig) (feegate.Balances, error) {
	return f.bals, nil
}

type fakeGas struct{}

func (fakeGas) MaxPriorityFeePerGas(context.Context) (*big.Int, error) { return big.NewInt(0), nil }
func (fakeGas) BaseFeePerGas(context.Context) (*big.Int, error)        { return big.NewInt(0), nil }

func testSymbol() config.SymbolConfig {
	return config.SymbolConfig{
		Symbol:         "WETH/USDC",
		MarketID:       "m1",
		ScalingFactorX: 0,
		ScalingFactorY: 0,
	}
}

func testGasCfg() config.GasConfig {
	return config.GasConfig{
		PlaceOrderGasLimit:  100,
		ChangeOrderGasLimit: 80,
		ClaimOrderGasLimit:  50,
		MaxGasPerTx:         1000,
		BaseFeeFloorWei:     1,
		BaseFeeMultiplier:   1,
	}
}

func rich() feegate.Balances {
	big9 := big.NewInt(1_000_000_000)
	return feegate.Balances{Native: big9, TokenX: big9, TokenY: big9, LobX: big9, LobY: big9}
}

func newPlanner(t *testing.T, bals feegate.Balances, canceler RequestCanceler, gasCfg config.GasConfig) (*Planner, *store.Store) {
	t.Helper()
	st := store.New(store.NewLedger(time.Minute))
	gate := feegate.New(fakeBalances{bals: bals}, fakeGas{}, gasCfg)
	return NewPlanner(testSymbol(), gasCfg, st, gate, canceler), st
}

func activeOrder(id string, side domain.Side) domain.Order {
	return domain.Order{
		ID:       id,
		Symbol:   "WETH/USDC",
		Side:     side,
		Status:   domain.OrderStatusPlaced,
		Price:    big.NewInt(100),
		Qty:      big.NewInt(10),
		LeaveQty: big.NewInt(10),
	}
}

// 同批内始终按 Claim、Change、Place 的顺序下发
func TestBuildOrdersByPriority(t *testing.T) {
	p, st := newPlanner(t, rich(), &fakeCanceler{}, testGasCfg())
	st.SaveOrders([]domain.Order{activeOrder("c1", domain.SideBuy), activeOrder("m1", domain.SideBuy)})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideBuy},
		domain.ClaimOrderRequest{OrderID: "c1"},
		domain.ChangeOrderRequest{OrderID: "m1", Price: big.NewInt(101), Qty: big.NewInt(2), Side: domain.SideBuy},
	})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	kinds := make([]executor.OperationKind, 0)
	for _, op := range plan.Batches[0].Operations {
		kinds = append(kinds, op.Kind)
	}
	require.Equal(t, []executor.OperationKind{executor.OpClaim, executor.OpChange, executor.OpPlace}, kinds)
}

// 累计 gas 超出单笔上限时切成多个批次
func TestBuildSplitsByGas(t *testing.T) {
	gasCfg := testGasCfg()
	gasCfg.MaxGasPerTx = 250
	p, _ := newPlanner(t, rich(), &fakeCanceler{}, gasCfg)

	var reqs []domain.Request
	for i := 0; i < 5; i++ {
		reqs = append(reqs, domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideBuy})
	}
	plan, err := p.Build(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 3, "5×100 gas、上限 250 应当切成 2+2+1")
	for _, b := range plan.Batches {
		require.LessOrEqual(t, b.GasLimit, uint64(250))
	}
}

// CancelPending 在打包前就地解决，绝不进入批次
func TestBuildResolvesCancelPendingFirst(t *testing.T) {
	canceler := &fakeCanceler{accept: true}
	p, st := newPlanner(t, rich(), canceler, testGasCfg())
	st.Ledger().RegisterPending("local-1", []domain.Order{activeOrder("p1", domain.SideBuy)})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.CancelPendingOrderRequest{LocalRequestID: "local-1"},
	})
	require.NoError(t, err)
	require.True(t, plan.Empty())
	require.Equal(t, []string{"local-1"}, canceler.canceled)
	require.Equal(t, []string{"local-1"}, plan.ResolvedPendingCancels)
	require.Empty(t, st.Ledger().PendingOrders(), "撤回成功后乐观订单应当被摘除")
}

// 已在撤销途中的订单，重复的领取请求被丢弃
func TestBuildDropsAlreadyCancelingClaims(t *testing.T) {
	p, st := newPlanner(t, rich(), &fakeCanceler{}, testGasCfg())
	st.SaveOrders([]domain.Order{activeOrder("c1", domain.SideBuy)})
	require.True(t, st.Ledger().MarkCanceling("c1"))

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.ClaimOrderRequest{OrderID: "c1"},
	})
	require.NoError(t, err)
	require.True(t, plan.Empty())
	require.Empty(t, plan.CancelingMarks)
}

// 余额不足的一侧只摘该侧的 Place/Change，另一侧与 Claim 不受影响
func TestGateDropsOnlyFailingSide(t *testing.T) {
	bals := rich()
	bals.TokenY = big.NewInt(0) // 买侧没钱
	bals.LobY = big.NewInt(0)
	p, st := newPlanner(t, bals, &fakeCanceler{}, testGasCfg())
	st.SaveOrders([]domain.Order{activeOrder("c1", domain.SideSell)})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideBuy},
		domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideSell},
		domain.ClaimOrderRequest{OrderID: "c1"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	var kinds []executor.OperationKind
	var sides []domain.Side
	for _, op := range plan.Batches[0].Operations {
		kinds = append(kinds, op.Kind)
		sides = append(sides, op.Side)
	}
	require.Equal(t, []executor.OperationKind{executor.OpClaim, executor.OpPlace}, kinds)
	require.Equal(t, []domain.Side{domain.SideSell, domain.SideSell}, sides)
}

// 两侧都不可行时两侧的 Place/Change 全部移除，不是只观察到一侧
func TestGateDoubleFailureRemovesBothSides(t *testing.T) {
	bals := feegate.Balances{
		Native: big.NewInt(0), TokenX: big.NewInt(0), TokenY: big.NewInt(0),
		LobX: big.NewInt(0), LobY: big.NewInt(0),
	}
	p, st := newPlanner(t, bals, &fakeCanceler{}, testGasCfg())
	st.SaveOrders([]domain.Order{activeOrder("c1", domain.SideBuy)})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideBuy},
		domain.PlaceOrderRequest{Price: big.NewInt(100), Qty: big.NewInt(1), Side: domain.SideSell},
		domain.ClaimOrderRequest{OrderID: "c1"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)
	require.Len(t, plan.Batches[0].Operations, 1)
	require.Equal(t, executor.OpClaim, plan.Batches[0].Operations[0].Kind)
}

func TestRollbackReleasesMarks(t *testing.T) {
	p, st := newPlanner(t, rich(), &fakeCanceler{}, testGasCfg())
	st.SaveOrders([]domain.Order{activeOrder("c1", domain.SideBuy)})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.ClaimOrderRequest{OrderID: "c1"},
	})
	require.NoError(t, err)
	require.True(t, st.Ledger().IsCanceling("c1"))

	p.Rollback(plan)
	require.False(t, st.Ledger().IsCanceling("c1"), "回滚后撤销标记应当释放，撤单可重试")
}

// 部分批次已提交后失败：只回滚未提交批次的标记，在途领取保持占用
func TestRollbackFromKeepsSubmittedMarks(t *testing.T) {
	gasCfg := testGasCfg()
	gasCfg.MaxGasPerTx = 100
	p, st := newPlanner(t, rich(), &fakeCanceler{}, gasCfg)
	st.SaveOrders([]domain.Order{
		activeOrder("c1", domain.SideBuy),
		activeOrder("c2", domain.SideBuy),
		activeOrder("c3", domain.SideBuy),
	})

	plan, err := p.Build(context.Background(), []domain.Request{
		domain.ClaimOrderRequest{OrderID: "c1"},
		domain.ClaimOrderRequest{OrderID: "c2"},
		domain.ClaimOrderRequest{OrderID: "c3"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2, "3×50 gas、上限 100 应当切成 2+1")
	require.Len(t, plan.MarksByBatch, len(plan.Batches), "标记簿记与批次一一对应")
	require.Equal(t, [][]string{{"c1", "c2"}, {"c3"}}, plan.MarksByBatch)

	p.RollbackFrom(plan, 1)
	require.True(t, st.Ledger().IsCanceling("c1"), "已提交批次的标记不能释放")
	require.True(t, st.Ledger().IsCanceling("c2"))
	require.False(t, st.Ledger().IsCanceling("c3"), "未提交批次的标记应当释放")
}
