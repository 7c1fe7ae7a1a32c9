package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SymbolConfig 交易对配置。
// 缩放因子把代币的展示精度换算成订单簿内部定点表示；
// 每个交易对的 X/Y 两侧可以不同。
type SymbolConfig struct {
	Symbol          string `yaml:"symbol"`            // 交易对名，例如 WETH/USDC
	MarketID        string `yaml:"market_id"`         // 订单簿市场 ID（推送过滤用）
	MarketKind      string `yaml:"market_kind"`       // 市场类型: direct / vault / spot
	ContractAddress string `yaml:"contract_address"`  // 订单簿合约地址
	PricePrecision  int    `yaml:"price_precision"`   // 价格小数位数
	ScalingFactorX  int    `yaml:"scaling_factor_x"`  // X 代币缩放因子
	ScalingFactorY  int    `yaml:"scaling_factor_y"`  // Y 代币缩放因子
	TokenXDecimals  int    `yaml:"token_x_decimals"`  // X 代币 decimals
	TokenYDecimals  int    `yaml:"token_y_decimals"`  // Y 代币 decimals
	NativeTokenIsX  bool   `yaml:"native_token_is_x"` // X 侧是否以链原生资产计价（决定 gas 预算算在哪一侧）
	NativeTokenIsY  bool   `yaml:"native_token_is_y"` // Y 侧是否以链原生资产计价
	VaultAddress    string `yaml:"vault_address"`     // vault 变体的共享资金合约地址（可选）
}

// GasConfig gas 预算配置。
// 所有 gas 相关常量集中在这里（而不是散落在代码里的字面量）。
type GasConfig struct {
	PlaceOrderGasLimit  uint64 `yaml:"place_order_gas_limit"`  // 单笔挂单 gas 上限
	ChangeOrderGasLimit uint64 `yaml:"change_order_gas_limit"` // 单笔改单 gas 上限
	ClaimOrderGasLimit  uint64 `yaml:"claim_order_gas_limit"`  // 单笔领取 gas 上限
	MaxGasPerTx         uint64 `yaml:"max_gas_per_tx"`         // 单笔交易 gas 预算（超出则切分批次）
	BaseFeeFloorWei     int64  `yaml:"base_fee_floor_wei"`     // baseFee 下限（防止报价与上链之间 baseFee 飙升）
	BaseFeeMultiplier   int64  `yaml:"base_fee_multiplier"`    // baseFee 安全系数 k
}

// EngineConfig 对账引擎配置
type EngineConfig struct {
	CancelFlagTTL       time.Duration `yaml:"cancel_flag_ttl"`      // “取消中”标记的存活时间，超时未确认则释放
	RegistrationTimeout time.Duration `yaml:"registration_timeout"` // mempooled 事件等待本地登记可见的上限
}

// EndpointsConfig 外部服务端点
type EndpointsConfig struct {
	RestURL string `yaml:"rest_url"` // 快照/余额/gas REST 服务
	WsURL   string `yaml:"ws_url"`   // 订单推送 WebSocket 服务
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`       // debug / info / warn / error
	OutputFile string `yaml:"output_file"` // 日志文件路径（为空则只输出控制台）
	MaxSizeMB  int    `yaml:"max_size_mb"` // 单个日志文件最大体积
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config 应用配置
type Config struct {
	UserAddress string          `yaml:"user_address"` // 交易账户地址
	Symbols     []SymbolConfig  `yaml:"symbols"`
	Gas         GasConfig       `yaml:"gas"`
	Engine      EngineConfig    `yaml:"engine"`
	Endpoints   EndpointsConfig `yaml:"endpoints"`
	Log         LogConfig       `yaml:"log"`
	MetricsAddr string          `yaml:"metrics_addr"` // expvar/pprof 监听地址（空则不启动）
	JournalDir  string          `yaml:"journal_dir"`  // 订单流水 badger 目录（空则不落盘）
	DryRun      bool            `yaml:"dry_run"`      // 纸交易模式：不接真实执行器，本地合成生命周期事件
}

// DefaultGas 返回 gas 默认值（未配置的字段回填）
func (g *GasConfig) applyDefaults() {
	if g.PlaceOrderGasLimit == 0 {
		g.PlaceOrderGasLimit = 300_000
	}
	if g.ChangeOrderGasLimit == 0 {
		g.ChangeOrderGasLimit = 300_000
	}
	if g.ClaimOrderGasLimit == 0 {
		g.ClaimOrderGasLimit = 200_000
	}
	if g.MaxGasPerTx == 0 {
		g.MaxGasPerTx = 2_000_000
	}
	if g.BaseFeeFloorWei == 0 {
		g.BaseFeeFloorWei = 1_000_000_000 // 1 gwei
	}
	if g.BaseFeeMultiplier == 0 {
		g.BaseFeeMultiplier = 2
	}
}

func (e *EngineConfig) applyDefaults() {
	if e.CancelFlagTTL == 0 {
		e.CancelFlagTTL = 90 * time.Second
	}
	if e.RegistrationTimeout == 0 {
		e.RegistrationTimeout = 5 * time.Second
	}
}

// GasLimitFor 按请求优先级返回对应的单笔 gas 上限
func (g GasConfig) GasLimitFor(priority int) uint64 {
	switch priority {
	case 1:
		return g.ChangeOrderGasLimit
	case 2:
		return g.ClaimOrderGasLimit
	default:
		return g.PlaceOrderGasLimit
	}
}

// LoadFromFile 从 YAML 文件加载配置并回填默认值
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.Gas.applyDefaults()
	cfg.Engine.applyDefaults()
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置完整性
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UserAddress) == "" {
		return fmt.Errorf("user_address 不能为空")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("至少需要配置一个交易对")
	}
	for i, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols[%d].symbol 不能为空", i)
		}
		if s.PricePrecision < 0 || s.PricePrecision > 18 {
			return fmt.Errorf("symbols[%d].price_precision 超出范围: %d", i, s.PricePrecision)
		}
		if s.NativeTokenIsX && s.NativeTokenIsY {
			return fmt.Errorf("symbols[%d] X/Y 两侧不能同时为原生资产", i)
		}
		switch s.MarketKind {
		case "", "direct", "vault", "spot":
		default:
			return fmt.Errorf("symbols[%d].market_kind 不支持: %s", i, s.MarketKind)
		}
		if s.MarketKind == "vault" && s.VaultAddress == "" {
			return fmt.Errorf("symbols[%d] vault 市场必须配置 vault_address", i)
		}
	}
	return nil
}

// FindSymbol 按交易对名查找配置
func (c *Config) FindSymbol(symbol string) (SymbolConfig, bool) {
	for _, s := range c.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolConfig{}, false
}
