package journal

import (
	"math/big"
	"testing"

	"github.com/tradewire/lobgo/internal/domain"
)

func TestRecordAndHistory(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	o := domain.Order{
		ID:       "o1",
		Symbol:   "WETH/USDC",
		Side:     domain.SideBuy,
		Status:   domain.OrderStatusPlaced,
		Price:    big.NewInt(100),
		Qty:      big.NewInt(10),
		LeaveQty: big.NewInt(10),
	}
	if err := j.Record([]domain.Order{o}); err != nil {
		t.Fatal(err)
	}
	if err := j.Record([]domain.Order{o.WithStatus(domain.OrderStatusFilled)}); err != nil {
		t.Fatal(err)
	}

	hist, err := j.History("o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("流水条数 = %d, 期望 2", len(hist))
	}
	if hist[0].Status != domain.OrderStatusPlaced || hist[1].Status != domain.OrderStatusFilled {
		t.Fatalf("流水顺序不符: %s, %s", hist[0].Status, hist[1].Status)
	}

	other, err := j.History("o2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatal("无关订单不应有流水")
	}
}
