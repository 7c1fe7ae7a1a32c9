package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/pkg/logger"
)

var log = logger.Component("ws")

// Handlers 推送事件回调集，由编排方在启动前显式注册。
// 回调在读循环的 goroutine 上顺序调用，不要在回调里做阻塞操作。
type Handlers struct {
	Disconnected       func()
	StateStatusChanged func(status string) // syncing / ready
	UserOrdersUpdated  func(marketID string, orders []domain.Order, isSnapshot bool)
}

// Client 订单推送 WebSocket 客户端。
// 维护单条长连接：断线自动指数退避重连，重连成功后回放全部订阅；
// 连接级状态（断开/同步中/就绪）通过 Handlers 透传给对账引擎。
type Client struct {
	url      string
	config   *Config
	handlers Handlers

	conn   *websocket.Conn
	connMu sync.Mutex

	subs  map[string]subscribeMessage // channel+market -> 订阅请求（重连回放用）
	subMu sync.Mutex

	running   bool
	runningMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}

	lastPong   time.Time
	lastPongMu sync.Mutex
}

func NewClient(url string, config *Config, handlers Handlers) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		url:      url,
		config:   config,
		handlers: handlers,
		subs:     make(map[string]subscribeMessage),
	}
}

// Start 建立连接并启动读/心跳循环
func (c *Client) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return errors.New("WebSocket 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.doneCh = make(chan struct{})

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return errors.Wrap(err, "初始连接失败")
	}

	go c.readLoop()
	go c.pingLoop()
	log.Infof("🔗 [推送] 已连接: %s", c.url)
	return nil
}

// Stop 优雅关闭
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn("⚠️ [推送] 关闭等待超时")
	}
}

func (c *Client) isRunning() bool {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	return c.running
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		c.lastPongMu.Lock()
		c.lastPong = time.Now()
		c.lastPongMu.Unlock()
		return nil
	})
	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// SubscribeUserOrdersChannel 订阅某账户在某市场的订单通道。
// 订阅请求会被记住，重连后自动回放。
func (c *Client) SubscribeUserOrdersChannel(userAddress, marketID string) error {
	msg := subscribeMessage{
		Op:      "subscribe",
		Channel: "userOrders",
		User:    userAddress,
		Market:  marketID,
	}
	c.subMu.Lock()
	c.subs[msg.Channel+":"+marketID] = msg
	c.subMu.Unlock()
	return c.send(msg)
}

func (c *Client) send(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("连接未建立")
	}
	return c.conn.WriteJSON(v)
}

// replaySubscriptions 重连成功后回放全部订阅
func (c *Client) replaySubscriptions() {
	c.subMu.Lock()
	msgs := make([]subscribeMessage, 0, len(c.subs))
	for _, m := range c.subs {
		msgs = append(msgs, m)
	}
	c.subMu.Unlock()
	for _, m := range msgs {
		if err := c.send(m); err != nil {
			log.Errorf("🚨 [推送] 回放订阅失败: market=%s err=%v", m.Market, err)
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isRunning() {
				return
			}
			log.Warnf("📴 [推送] 连接断开: %v", err)
			if c.handlers.Disconnected != nil {
				c.handlers.Disconnected()
			}
			if !c.reconnect() {
				return
			}
			continue
		}
		c.dispatch(data)
	}
}

// reconnect 指数退避重连；成功后回放订阅并通告 syncing。
// 返回 false 表示客户端已停止。
func (c *Client) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	backoff := c.config.ReconnectBackoff
	for c.isRunning() {
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := c.connect(); err != nil {
			log.Warnf("🔁 [推送] 重连失败，%s 后再试: %v", backoff, err)
			backoff *= 2
			if backoff > c.config.MaxBackoff {
				backoff = c.config.MaxBackoff
			}
			continue
		}
		log.Info("🔗 [推送] 重连成功")
		if c.handlers.StateStatusChanged != nil {
			c.handlers.StateStatusChanged("syncing")
		}
		c.replaySubscriptions()
		return true
	}
	return false
}

// dispatch 解析下行消息并派发给回调
func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("⚠️ [推送] 消息解析失败: %v", err)
		return
	}
	switch env.Type {
	case "status":
		var p statusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warnf("⚠️ [推送] 状态消息解析失败: %v", err)
			return
		}
		log.Infof("🔄 [推送] 服务端状态: %s", p.Status)
		if c.handlers.StateStatusChanged != nil {
			c.handlers.StateStatusChanged(p.Status)
		}
	case "orders":
		var p ordersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warnf("⚠️ [推送] 订单消息解析失败: %v", err)
			return
		}
		orders := make([]domain.Order, 0, len(p.Orders))
		for _, w := range p.Orders {
			o, err := w.toDomain()
			if err != nil {
				log.Warnf("⚠️ [推送] 订单记录解析失败: id=%s err=%v", w.OrderID, err)
				continue
			}
			orders = append(orders, o)
		}
		if c.handlers.UserOrdersUpdated != nil {
			c.handlers.UserOrdersUpdated(p.MarketID, orders, p.IsSnapshot)
		}
	case "pong":
		// 应用层 pong，忽略（协议层 pong 走 PongHandler）
	default:
		log.Debugf("⏭️ [推送] 未知消息类型: %s", env.Type)
	}
}

// pingLoop 定期发协议层 ping；pong 超时主动断开触发重连
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.lastPongMu.Lock()
		silent := time.Since(c.lastPong)
		c.lastPongMu.Unlock()
		if silent > c.config.PongTimeout {
			log.Warnf("⚠️ [推送] pong 超时（%s），主动断开重连", silent)
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
			}
			c.connMu.Unlock()
			continue
		}

		c.connMu.Lock()
		conn := c.conn
		if conn != nil {
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
		c.connMu.Unlock()
	}
}
