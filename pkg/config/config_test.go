package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
user_address: "0xabc"
symbols:
  - symbol: "WETH/USDC"
    market_id: "m1"
    market_kind: "direct"
    price_precision: 6
    scaling_factor_x: 10
    scaling_factor_y: 2
    token_x_decimals: 18
    token_y_decimals: 6
    native_token_is_x: true
`

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gas.PlaceOrderGasLimit != 300_000 || cfg.Gas.MaxGasPerTx != 2_000_000 {
		t.Errorf("gas 默认值未回填: %+v", cfg.Gas)
	}
	if cfg.Gas.BaseFeeMultiplier != 2 {
		t.Errorf("baseFee 系数默认值 = %d", cfg.Gas.BaseFeeMultiplier)
	}
	if cfg.Engine.CancelFlagTTL != 90*time.Second {
		t.Errorf("撤销标记 TTL 默认值 = %s", cfg.Engine.CancelFlagTTL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("日志级别默认值 = %s", cfg.Log.Level)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"缺少用户地址", `
symbols:
  - symbol: "WETH/USDC"
`},
		{"没有交易对", `
user_address: "0xabc"
symbols: []
`},
		{"两侧同为原生资产", `
user_address: "0xabc"
symbols:
  - symbol: "WETH/USDC"
    native_token_is_x: true
    native_token_is_y: true
`},
		{"未知市场类型", `
user_address: "0xabc"
symbols:
  - symbol: "WETH/USDC"
    market_kind: "margin"
`},
		{"vault 缺地址", `
user_address: "0xabc"
symbols:
  - symbol: "WETH/USDC"
    market_kind: "vault"
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeConfig(t, c.body)); err == nil {
				t.Fatal("应当校验失败")
			}
		})
	}
}

func TestFindSymbol(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.FindSymbol("WETH/USDC"); !ok {
		t.Fatal("已配置的交易对应当能找到")
	}
	if _, ok := cfg.FindSymbol("GHOST/USDC"); ok {
		t.Fatal("未配置的交易对不应找到")
	}
}
