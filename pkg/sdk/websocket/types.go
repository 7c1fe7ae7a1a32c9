// Package websocket 订单推送 WebSocket 客户端
package websocket

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/lobgo/internal/domain"
)

// Config 连接参数
type Config struct {
	PingInterval     time.Duration // 心跳间隔
	PongTimeout      time.Duration // 等待 pong 的上限，超时判定连接失效
	ReconnectBackoff time.Duration // 重连初始退避
	MaxBackoff       time.Duration // 重连退避上限
}

func DefaultConfig() *Config {
	return &Config{
		PingInterval:     15 * time.Second,
		PongTimeout:      45 * time.Second,
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// envelope 服务端下行消息的统一外层
type envelope struct {
	Type    string          `json:"type"`    // orders / status / pong
	Payload json.RawMessage `json:"payload"` //
}

// ordersPayload 订单更新推送
type ordersPayload struct {
	MarketID   string      `json:"marketId"`
	IsSnapshot bool        `json:"isSnapshot"`
	Orders     []wireOrder `json:"orders"`
}

// statusPayload 服务端状态推送（syncing / ready）
type statusPayload struct {
	Status string `json:"status"`
}

// subscribeMessage 上行订阅请求
type subscribeMessage struct {
	Op      string `json:"op"` // subscribe
	Channel string `json:"channel"`
	User    string `json:"user"`
	Market  string `json:"market"`
}

// wireOrder 推送侧订单线格式，数值走十进制字符串
type wireOrder struct {
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	LeaveQty   string `json:"leaveQty"`
	ClaimedQty string `json:"claimedQty"`
	TxnHash    string `json:"txnHash,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

func (w wireOrder) toDomain() (domain.Order, error) {
	parse := func(field, s string) (*big.Int, error) {
		if s == "" {
			return big.NewInt(0), nil
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%s 不是合法整数: %q", field, s)
		}
		return v, nil
	}
	price, err := parse("price", w.Price)
	if err != nil {
		return domain.Order{}, err
	}
	qty, err := parse("qty", w.Qty)
	if err != nil {
		return domain.Order{}, err
	}
	leave, err := parse("leaveQty", w.LeaveQty)
	if err != nil {
		return domain.Order{}, err
	}
	claimed, err := parse("claimedQty", w.ClaimedQty)
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
	return o, nil
}
