package trader

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/pkg/config"
)

type fakeSnapshots struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
	calls  int
}

func (f *fakeSnapshots) GetActiveOrders(_ context.Context, _, _ string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.orders, f.err
}

type fakeSub struct {
	mu      sync.Mutex
	markets []string
}

func (f *fakeSub) SubscribeUserOrdersChannel(_, marketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, marketID)
	return nil
}

func testSymbols() []config.SymbolConfig {
	return []config.SymbolConfig{{Symbol: "WETH/USDC", MarketID: "m1"}}
}

func newTestEngine(snap *fakeSnapshots, sub *fakeSub) (*Engine, *store.Store) {
	st := store.New(store.NewLedger(time.Minute))
	e := NewEngine("0xuser", testSymbols(), st, snap, sub, config.EngineConfig{
		CancelFlagTTL:       time.Minute,
		RegistrationTimeout: 30 * time.Millisecond,
	})
	return e, st
}

func chainOrder(id string, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:       id,
		Symbol:   "WETH/USDC",
		Side:     domain.SideSell,
		Status:   status,
		Price:    big.NewInt(100),
		Qty:      big.NewInt(10),
		LeaveQty: big.NewInt(10),
	}
}

// 没有任何登记的 mempooled 事件只记异常，不动存储
func TestMempooledAnomalyNoMutation(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})

	e.OnMempooled("abc", "0x1")
	time.Sleep(60 * time.Millisecond) // 等停靠超时

	require.Empty(t, st.ActiveOrders(true))
	require.Empty(t, st.Ledger().PendingOrders())
	_, parked := e.parked.Load("abc")
	require.False(t, parked, "超时后停靠条目应当被清理")
}

// mempooled 先于本地登记到达：登记完成后补做晋升
func TestParkedPromotionCompletes(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})

	var got []domain.Order
	var mu sync.Mutex
	e.RegisterOrdersChanged(func(orders []domain.Order) {
		mu.Lock()
		got = append(got, orders...)
		mu.Unlock()
	})

	e.OnMempooled("req-1", "0xbeef")

	st.Ledger().RegisterPending("req-1", []domain.Order{chainOrder("local-1", domain.OrderStatusPending)})
	e.CompleteRegistration("req-1")

	pending := st.Ledger().PendingOrders()
	require.Len(t, pending, 1)
	require.Equal(t, domain.OrderStatusMempooled, pending[0].Status)
	require.NotNil(t, pending[0].TxnHash)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got, "晋升应当广播订单变更")
}

// 交易失败回滚：乐观订单按 Rejected 广播，撤销标记释放
func TestOnErrorRollsBack(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})

	var got []domain.Order
	var mu sync.Mutex
	e.RegisterOrdersChanged(func(orders []domain.Order) {
		mu.Lock()
		got = append(got, orders...)
		mu.Unlock()
	})

	st.Ledger().RegisterPending("req-1", []domain.Order{chainOrder("local-1", domain.OrderStatusPending)})
	st.Ledger().MarkCanceling("victim")
	st.Ledger().RegisterCancellation("req-1", []string{"victim"})

	e.OnError("req-1", fmt.Errorf("广播失败"))

	require.Empty(t, st.Ledger().PendingOrders())
	require.False(t, st.Ledger().IsCanceling("victim"), "失败后撤销必须可重试")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, domain.OrderStatusRejected, got[0].Status)
}

// 断线：链上视图清空、不可用，在途台账原样保留
func TestDisconnectedClearsViewKeepsLedger(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})
	st.SaveOrders([]domain.Order{chainOrder("o1", domain.OrderStatusPlaced)})
	st.Ledger().RegisterPending("req-1", []domain.Order{chainOrder("p1", domain.OrderStatusPending)})

	e.OnStateStatusChanged(ConnReady)
	e.OnDisconnected()

	require.False(t, e.IsAvailable())
	require.Empty(t, st.ActiveOrders(false))
	require.Len(t, st.Ledger().PendingOrders(), 1)
}

// 就绪后快照对齐成功才恢复可用；对齐走 REST 全量
func TestSnapshotAlignmentRestoresAvailability(t *testing.T) {
	snap := &fakeSnapshots{orders: []domain.Order{chainOrder("rest-1", domain.OrderStatusPlaced)}}
	sub := &fakeSub{}
	e, st := newTestEngine(snap, sub)
	defer e.Stop()

	e.OnStateStatusChanged(ConnReady)
	sub.mu.Lock()
	require.Equal(t, []string{"m1"}, sub.markets, "就绪后应当重新订阅")
	sub.mu.Unlock()
	require.False(t, e.IsAvailable(), "对齐完成前不可交易")

	e.OnUserOrdersUpdated("m1", []domain.Order{chainOrder("push-1", domain.OrderStatusPlaced)}, true)

	require.Eventually(t, e.IsAvailable, time.Second, 5*time.Millisecond)
	require.ElementsMatch(t, []string{"rest-1", "push-1"}, orderIDs(st.ActiveOrders(false)))
}

// 增量推送按到达顺序进存储；allMarkets 通配所有交易对
func TestPushUpdatesApplied(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})
	defer e.Stop()

	e.OnStateStatusChanged(ConnReady)
	e.OnUserOrdersUpdated(AllMarkets, []domain.Order{chainOrder("o1", domain.OrderStatusPlaced)}, false)
	e.OnUserOrdersUpdated("m1", []domain.Order{chainOrder("o1", domain.OrderStatusPartiallyFilled)}, false)

	require.Eventually(t, func() bool {
		o, ok := st.Lookup("o1")
		return ok && o.Status == domain.OrderStatusPartiallyFilled
	}, time.Second, 5*time.Millisecond)
}

// 无关市场的更新被忽略
func TestForeignMarketIgnored(t *testing.T) {
	e, st := newTestEngine(&fakeSnapshots{}, &fakeSub{})
	defer e.Stop()

	e.OnStateStatusChanged(ConnReady)
	e.OnUserOrdersUpdated("other-market", []domain.Order{chainOrder("o1", domain.OrderStatusPlaced)}, false)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, st.ActiveOrders(false))
}

func orderIDs(orders []domain.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

// 多市场时单个快照对齐不够，所有市场都重建完成才恢复可用
func TestAvailabilityWaitsForAllMarkets(t *testing.T) {
	snap := &fakeSnapshots{}
	st := store.New(store.NewLedger(time.Minute))
	symbols := []config.SymbolConfig{
		{Symbol: "WETH/USDC", MarketID: "m1"},
		{Symbol: "WBTC/USDC", MarketID: "m2"},
	}
	e := NewEngine("0xuser", symbols, st, snap, &fakeSub{}, config.EngineConfig{
		CancelFlagTTL:       time.Minute,
		RegistrationTimeout: 30 * time.Millisecond,
	})
	defer e.Stop()

	e.OnStateStatusChanged(ConnReady)
	e.OnUserOrdersUpdated("m1", nil, true)

	require.Eventually(t, func() bool {
		snap.mu.Lock()
		defer snap.mu.Unlock()
		return snap.calls >= 1
	}, time.Second, 5*time.Millisecond)
	require.False(t, e.IsAvailable(), "仅一个市场对齐时不应可交易")

	e.OnUserOrdersUpdated("m2", nil, true)
	require.Eventually(t, e.IsAvailable, time.Second, 5*time.Millisecond)

	// 断开重置对齐进度，下次恢复仍需全部市场对齐
	e.OnDisconnected()
	require.False(t, e.IsAvailable())
	e.OnStateStatusChanged(ConnReady)
	e.OnUserOrdersUpdated("m1", nil, true)
	time.Sleep(50 * time.Millisecond)
	require.False(t, e.IsAvailable())
}
