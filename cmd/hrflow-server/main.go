package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/stevelan1995/hrflow/internal/storage"
	"github.com/stevelan1995/hrflow/pkg/api"
	"github.com/stevelan1995/hrflow/pkg/config"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/directory"
	"github.com/stevelan1995/hrflow/pkg/core/dispatch"
	"github.com/stevelan1995/hrflow/pkg/core/docstore"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/journey"
	"github.com/stevelan1995/hrflow/pkg/core/scheduler"
	"github.com/stevelan1995/hrflow/pkg/plugin"
)

var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/hrflow.yaml", "配置文件路径")
	host := flag.String("host", "0.0.0.0", "监听地址")
	flag.Parse()

	log.Printf("HRFlow Server v%s", Version)
	log.Printf("配置文件: %s", *configPath)

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 2. 初始化存储层
	repos, err := storage.NewRepositories(cfg.GetDatabaseType(), cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("初始化存储失败: %v", err)
	}
	defer repos.Close()

	// 3. 注册通知插件
	plugins := plugin.NewManager()
	if err := plugins.RegisterWithInit(plugin.NewEmailNotifier(), cfg.Hrflow.Notify.Email); err != nil {
		log.Fatalf("注册email插件失败: %v", err)
	}
	if err := plugins.RegisterWithInit(plugin.NewSmsNotifier(), cfg.Hrflow.Notify.Sms); err != nil {
		log.Fatalf("注册sms插件失败: %v", err)
	}
	log.Printf("📢 已注册通知渠道: %v", plugins.ListChannels())

	// 4. 构建核心组件
	defs := definition.NewStore(repos.Workflow)

	eng := engine.NewEngine(defs, repos.RunAggregate,
		plugins, directory.NewStaticResolver(), docstore.NewStaticResolver(),
		engine.Config{
			WorkerID:           cfg.Hrflow.Engine.WorkerID,
			LeaseTTL:           cfg.Hrflow.Engine.LeaseTTL,
			DefaultMaxAttempts: cfg.Hrflow.Engine.DefaultMaxAttempts,
			RetryBase:          cfg.Hrflow.Engine.RetryBase,
		})

	// 5. 进程内事件总线：领域事件订阅 + 时间线推送
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewStdLogger(false, false))
	defer bus.Close()

	eng.SetPublisher(bus)

	dispatcher := dispatch.NewDispatcher(defs, repos.Workflow, eng, bus, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("启动事件分发器失败: %v", err)
	}

	// 6. 启动动作队列调度器
	sched := scheduler.NewScheduler(eng, repos.RunAggregate, scheduler.Config{
		SweepSpec: cfg.Hrflow.Scheduler.SweepSpec,
		ClaimTTL:  cfg.Hrflow.Scheduler.ClaimTTL,
		BatchSize: cfg.Hrflow.Scheduler.BatchSize,
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("启动调度器失败: %v", err)
	}

	// 7. 启动API服务器
	serverCfg := api.DefaultServerConfig()
	serverCfg.Host = *host
	serverCfg.Port = cfg.Hrflow.Server.HTTPPort

	apiServer := api.NewAPIServer(api.RouterDeps{
		Definitions: defs,
		Engine:      eng,
		Dispatcher:  dispatcher,
		Journey:     journey.NewService(eng, repos.RunAggregate),
		RunRepo:     repos.RunAggregate,
		Subscriber:  bus,
		Version:     Version,
		Mode:        cfg.Hrflow.Server.Mode,
	}, serverCfg)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API服务器错误: %v", err)
		}
	}()

	log.Printf("✅ HRFlow Server started on %s", apiServer.Addr())

	// 8. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 9. 优雅关闭：先停止入口，再停止后台调度
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭API服务器失败: %v", err)
	}

	cancel()
	sched.Stop()
	log.Println("✅ 服务已停止")
}
