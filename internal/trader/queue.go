package trader

import (
	"sync"

	"github.com/tradewire/lobgo/internal/domain"
)

// orderUpdate 推送通道上的一条订单更新
type orderUpdate struct {
	MarketID   string
	Orders     []domain.Order
	IsSnapshot bool
}

// updateQueue 无界有序的单生产者/单消费者队列。
// 推送事件必须保持到达顺序且不能丢（快照与增量的先后关系就是语义），
// 带缓冲 channel 在满时要么阻塞推送回调、要么丢事件，都不可接受，
// 所以用切片加条件变量自己攒。
type updateQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []orderUpdate
	closed bool
}

func newUpdateQueue() *updateQueue {
	q := &updateQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push 入队，从不阻塞
func (q *updateQueue) Push(u orderUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, u)
	q.cond.Signal()
}

// Pop 阻塞出队；队列关闭且排空后返回 false
func (q *updateQueue) Pop() (orderUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return orderUpdate{}, false
	}
	u := q.items[0]
	q.items = q.items[1:]
	return u, true
}

// Close 关闭队列并唤醒阻塞中的消费者
func (q *updateQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *updateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
