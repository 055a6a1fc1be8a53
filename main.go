package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"academyops/app"
	"academyops/pkg/core/start"
	"academyops/router"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	env, filename := getBaseInfo()

	file, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Sprintf("读取配置文件失败,因为：%v", err))
	}

	configures := start.NewConfigures(file, env)
	zapLogger, err := configures.NewZapLogger()
	if err != nil {
		configures.Logger.Panic(fmt.Sprintf("创建 zap logger 失败: %v", err))
	}
	defer zapLogger.Sync()

	appRoot, err := app.NewApp(configures, zapLogger)
	if err != nil {
		configures.Logger.Panic(fmt.Sprintf("初始化应用失败: %v", err))
	}
	if err := appRoot.Start(); err != nil {
		configures.Logger.Panic(fmt.Sprintf("启动组件失败: %v", err))
	}

	fiberApp := appRoot.GetApp()
	router.Register(appRoot, fiberApp)

	addr := fmt.Sprintf(":%d", configures.Config.Port)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- fiberApp.Listen(addr)
	}()
	zapLogger.Info("HTTP 服务已启动", zap.String("addr", addr), zap.String("env", configures.Config.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		zapLogger.Info("收到退出信号，开始优雅关闭")
	case err := <-serveErr:
		if err != nil {
			zapLogger.Error("HTTP 服务异常退出", zap.Error(err))
		}
	}

	// 先停 HTTP，再逆序停止组件，日志最后刷写
	if err := fiberApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
		zapLogger.Warn("关闭 HTTP 服务失败", zap.Error(err))
	}
	if err := appRoot.Stop(); err != nil {
		zapLogger.Error("停止组件失败", zap.Error(err))
		os.Exit(1)
	}
	zapLogger.Info("服务已退出")
}

func getBaseInfo() (string, string) {
	env := flag.String("env", "dev", "环境配置 (dev, prod, test等)")
	configFile := flag.String("config", "", "配置文件路径，默认为 ./resources/{env}.yaml")
	flag.Parse()

	if *configFile != "" {
		return *env, *configFile
	}
	getwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("获取当前文件位置失败,因为：%v", err))
	}
	return *env, getwd + "/resources/" + *env + ".yaml"
}
