package rest

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/feegate"
)

// wireOrder REST/推送共用的订单线格式。
// 数值字段统一走十进制字符串，避免 JSON number 的精度陷阱。
type wireOrder struct {
	OrderID    string `json:"orderId"`
	Market     string `json:"market"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	LeaveQty   string `json:"leaveQty"`
	ClaimedQty string `json:"claimedQty"`
	TxnHash    string `json:"txnHash,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // Unix 毫秒
	UpdatedAt  int64  `json:"updatedAt"`
}

func (w wireOrder) toDomain() (domain.Order, error) {
	price, err := parseBig("price", w.Price)
	if err != nil {
		return domain.Order{}, err
	}
	qty, err := parseBig("qty", w.Qty)
	if err != nil {
		return domain.Order{}, err
	}
	leave, err := parseBig("leaveQty", w.LeaveQty)
	if err != nil {
		return domain.Order{}, err
	}
	claimed, err := parseBig("claimedQty", w.ClaimedQty)
	if err != nil {
		return domain.Order{}, err
	}

	o := domain.Order{
		ID:          w.OrderID,
		Price:       price,
		Qty:         qty,
		LeaveQty:    leave,
		ClaimedQty:  claimed,
		Side:        domain.Side(w.Side),
		Symbol:      w.Symbol,
		Status:      domain.OrderStatus(w.Status),
		Type:        domain.OrderType(w.Type),
		Created:     time.UnixMilli(w.CreatedAt),
		LastChanged: time.UnixMilli(w.UpdatedAt),
	}
	if w.TxnHash != "" {
		h := common.HexToHash(w.TxnHash)
		o.TxnHash = &h
	}
	if o.Side != domain.SideBuy && o.Side != domain.SideSell {
		return domain.Order{}, fmt.Errorf("未知订单方向: %q", w.Side)
	}
	return o, nil
}

type activeOrdersResponse struct {
	Orders []wireOrder `json:"orders"`
}

type balancesResponse struct {
	Native string `json:"nativeBalance"`
	TokenX string `json:"tokenBalanceX"`
	TokenY string `json:"tokenBalanceY"`
	LobX   string `json:"lobBalanceX"`
	LobY   string `json:"lobBalanceY"`
}

func (r balancesResponse) toBalances() (feegate.Balances, error) {
	native, err := parseBig("nativeBalance", r.Native)
	if err != nil {
		return feegate.Balances{}, err
	}
	tokenX, err := parseBig("tokenBalanceX", r.TokenX)
	if err != nil {
		return feegate.Balances{}, err
	}
	tokenY, err := parseBig("tokenBalanceY", r.TokenY)
	if err != nil {
		return feegate.Balances{}, err
	}
	lobX, err := parseBig("lobBalanceX", r.LobX)
	if err != nil {
		return feegate.Balances{}, err
	}
	lobY, err := parseBig("lobBalanceY", r.LobY)
	if err != nil {
		return feegate.Balances{}, err
	}
	return feegate.Balances{Native: native, TokenX: tokenX, TokenY: tokenY, LobX: lobX, LobY: lobY}, nil
}

type gasPriceResponse struct {
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	BaseFeePerGas        string `json:"baseFeePerGas"`
}
