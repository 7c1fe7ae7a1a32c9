package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradewire/lobgo/internal/batch"
	"github.com/tradewire/lobgo/internal/domain"
	"github.com/tradewire/lobgo/internal/executor"
	"github.com/tradewire/lobgo/internal/feegate"
	"github.com/tradewire/lobgo/internal/journal"
	"github.com/tradewire/lobgo/internal/metrics"
	"github.com/tradewire/lobgo/internal/store"
	"github.com/tradewire/lobgo/internal/trader"
	"github.com/tradewire/lobgo/internal/venue"
	"github.com/tradewire/lobgo/pkg/config"
	"github.com/tradewire/lobgo/pkg/logger"
	"github.com/tradewire/lobgo/pkg/sdk/rest"
	"github.com/tradewire/lobgo/pkg/sdk/websocket"
)

// wsSubscriber 延迟绑定：引擎先于 WebSocket 客户端创建，
// 订阅调用经这里转发
type wsSubscriber struct {
	client *websocket.Client
}

func (s *wsSubscriber) SubscribeUserOrdersChannel(userAddress, marketID string) error {
	if s.client == nil {
		return fmt.Errorf("推送客户端尚未就绪")
	}
	return s.client.SubscribeUserOrdersChannel(userAddress, marketID)
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 覆盖环境（本地调试用，不存在则忽略）
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			log.Errorf("🚨 监控服务启动失败: %v", err)
		}
	}

	restClient := rest.NewClient(cfg.Endpoints.RestURL)

	var jnl *journal.Journal
	if cfg.JournalDir != "" {
		jnl, err = journal.Open(cfg.JournalDir)
		if err != nil {
			log.Errorf("🚨 订单流水打开失败（继续运行，不落盘）: %v", err)
		} else {
			defer jnl.Close()
		}
	}

	if !cfg.DryRun {
		log.Error("🚨 当前构建只内置纸面执行器，请开启 dry_run")
		os.Exit(1)
	}
	exec := executor.NewDryRun(100 * time.Millisecond)
	defer exec.Close()

	// 共享的台账/存储/引擎，每个交易对一个操作面
	ledger := store.NewLedger(cfg.Engine.CancelFlagTTL)
	st := store.New(ledger)
	gate := feegate.New(restClient, restClient, cfg.Gas)

	sub := &wsSubscriber{}
	engine := trader.NewEngine(cfg.UserAddress, cfg.Symbols, st, restClient, sub, cfg.Engine)

	exec.SetCallbacks(executor.Callbacks{
		Mempooled: engine.OnMempooled,
		Confirmed: engine.OnConfirmed,
		Failed:    engine.OnFailed,
		Error:     engine.OnError,
	})

	// 事件回调由编排方显式注册
	engine.RegisterOrdersChanged(func(orders []domain.Order) {
		for _, o := range orders {
			log.Infof("📋 订单变更: id=%s status=%s side=%s", o.ID, o.Status, o.Side)
		}
		if jnl != nil {
			if err := jnl.Record(orders); err != nil {
				log.Warnf("⚠️ 订单流水写入失败: %v", err)
			}
		}
	})
	engine.RegisterAvailabilityChanged(func(available bool) {
		log.Infof("🔌 可交易状态: %v", available)
	})

	traders := make(map[string]*trader.Trader, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		v := venue.ForKind(s.MarketKind, s, cfg.UserAddress)
		planner := batch.NewPlanner(s, cfg.Gas, st, gate, exec)
		traders[s.Symbol] = trader.New(v, st, planner, exec, engine)
		log.Infof("🏛️ 交易对就绪: %s market=%s kind=%s", s.Symbol, s.MarketID, v.Name())
	}
	ws := websocket.NewClient(cfg.Endpoints.WsURL, nil, websocket.Handlers{
		Disconnected: engine.OnDisconnected,
		StateStatusChanged: func(status string) {
			engine.OnStateStatusChanged(trader.ConnStatus(status))
		},
		UserOrdersUpdated: engine.OnUserOrdersUpdated,
	})
	sub.client = ws

	if err := ws.Start(ctx); err != nil {
		log.Errorf("🚨 推送连接失败: %v", err)
		os.Exit(1)
	}

	log.Infof("🚀 交易引擎已启动: symbols=%d", len(traders))
	<-ctx.Done()
	log.Info("🛑 收到退出信号，正在关闭")
	ws.Stop()
	engine.Stop()
}
