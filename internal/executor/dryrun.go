package executor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/tradewire/lobgo/pkg/logger"
)

var dryLog = logger.Component("executor.dryrun")

// DryRunExecutor 纸面执行器：不签名、不广播，
// 在短暂延迟后合成 Mempooled 与 Confirmed 回调，用于演练与测试。
type DryRunExecutor struct {
	mu        sync.Mutex
	cb        Callbacks
	pending   map[string]*time.Timer // requestID -> 尚未"入池"的定时器
	delay     time.Duration
	blockSeq  uint64
	closeOnce sync.Once
	closed    chan struct{}
}

// NewDryRun 创建纸面执行器，delay 为模拟的入池延迟
func NewDryRun(delay time.Duration) *DryRunExecutor {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &DryRunExecutor{
		pending: make(map[string]*time.Timer),
		delay:   delay,
		closed:  make(chan struct{}),
	}
}

func (d *DryRunExecutor) SetCallbacks(cb Callbacks) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// Execute 记录批次并安排延迟回调：先 Mempooled，再 Confirmed。
// 合成的回执带一个顺序递增的块号与随机交易哈希。
func (d *DryRunExecutor) Execute(_ context.Context, batch Batch) (string, error) {
	requestID := uuid.NewString()
	txHash := common.BytesToHash([]byte(uuid.NewString()))

	dryLog.Infof("📝 [演练] 提交批次: symbol=%s ops=%d gas=%d requestId=%s",
		batch.Symbol, len(batch.Operations), batch.GasLimit, requestID)

	d.mu.Lock()
	defer d.mu.Unlock()
	timer := time.AfterFunc(d.delay, func() {
		d.mempool(requestID, txHash)
	})
	d.pending[requestID] = timer
	return requestID, nil
}

func (d *DryRunExecutor) mempool(requestID string, txHash common.Hash) {
	d.mu.Lock()
	delete(d.pending, requestID)
	cb := d.cb
	d.blockSeq++
	block := d.blockSeq
	d.mu.Unlock()

	select {
	case <-d.closed:
		return
	default:
	}

	if cb.Mempooled != nil {
		cb.Mempooled(requestID, txHash.Hex())
	}
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(block),
	}
	if cb.Confirmed != nil {
		cb.Confirmed(requestID, receipt)
	}
}

// TryCancelRequest 入池前（定时器未触发）可以拦下
func (d *DryRunExecutor) TryCancelRequest(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	timer, ok := d.pending[requestID]
	if !ok {
		return false
	}
	if !timer.Stop() {
		return false
	}
	delete(d.pending, requestID)
	dryLog.Infof("🚫 [演练] 请求已在入池前撤回: requestId=%s", requestID)
	return true
}

// Close 停止后续回调
func (d *DryRunExecutor) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.mu.Lock()
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
	d.mu.Unlock()
}
