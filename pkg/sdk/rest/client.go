package rest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/feegate"
	"github.com/tradewire/lobgo/pkg/config"
)

// Client 订单簿 REST 客户端：权威快照、余额与 gas 价格查询。
// 这些都是顾问类接口——调用失败由上层按「记日志、中止操作」处理，
// 客户端本身只做有限重试。
type Client struct {
	client *resty.Client
}

func NewClient(host string) *Client {
	host = strings.TrimSuffix(host, "/")

	// resty 自动读取环境变量里的代理配置（HTTP_PROXY / HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时尊重 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		SetResult(out).
		Get(endpoint)
	if err != nil {
		return errors.Wrapf(err, "GET %s 请求失败", endpoint)
	}
	if resp.IsError() {
		return errors.Errorf("GET %s 返回 %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetActiveOrders 拉取账户在某市场的全部在簿订单（快照对齐用）
func (c *Client) GetActiveOrders(ctx context.Context, userAddress, marketID string) ([]domain.Order, error) {
	var out activeOrdersResponse
	err := c.get(ctx, "/api/v1/orders/active", map[string]string{
		"user":   userAddress,
		"market": marketID,
	}, &out)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(out.Orders))
	for _, w := range out.Orders {
		o, err := w.toDomain()
		if err != nil {
			return nil, errors.Wrapf(err, "订单记录解析失败: id=%s", w.OrderID)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetAvailableBalances 查询三类余额：钱包代币、簿内托管、链原生
func (c *Client) GetAvailableBalances(ctx context.Context, symbol config.SymbolConfig) (feegate.Balances, error) {
	var out balancesResponse
	err := c.get(ctx, "/api/v1/balances", map[string]string{
		"market": symbol.MarketID,
	}, &out)
	if err != nil {
		return feegate.Balances{}, err
	}
	return out.toBalances()
}

// MaxPriorityFeePerGas 当前小费报价
func (c *Client) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	var out gasPriceResponse
	if err := c.get(ctx, "/api/v1/gas", nil, &out); err != nil {
		return nil, err
	}
	return parseBig("maxPriorityFeePerGas", out.MaxPriorityFeePerGas)
}

// BaseFeePerGas 当前 baseFee 报价
func (c *Client) BaseFeePerGas(ctx context.Context) (*big.Int, error) {
	var out gasPriceResponse
	if err := c.get(ctx, "/api/v1/gas", nil, &out); err != nil {
		return nil, err
	}
	return parseBig("baseFeePerGas", out.BaseFeePerGas)
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s 不是合法整数: %q", field, s)
	}
	return v, nil
}
