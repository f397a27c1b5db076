package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gowvp/argus/internal/app"
	"github.com/gowvp/argus/internal/conf"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var (
	version   = "dev"
	gitBranch = "unknown"
	gitHash   = "unknown"
)

func main() {
	confPath := flag.String("conf", "configs/config.toml", "配置文件路径")
	flag.Parse()

	bc, err := conf.SetupConfig(*confPath)
	if err != nil {
		slog.Error("加载配置失败", "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = version
	setupLogger(bc)

	expvar.NewString("version").Set(version)
	expvar.NewString("git_branch").Set(gitBranch)
	expvar.NewString("git_hash").Set(gitHash)

	if err := run(bc); err != nil {
		slog.Error("服务退出", "err", err)
		os.Exit(1)
	}
}

func run(bc *conf.Bootstrap) error {
	a, cleanup, err := app.NewApp(bc)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 清扫上次运行遗留的 HLS 输出
	a.Usecase.StreamCore.CleanupAll(ctx)

	// 启动即扫一轮，后续交给周期任务
	go a.Usecase.DiscoveryCore.Run(ctx)
	a.Usecase.DiscoveryCore.StartWorker(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler: a.Handler,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP 服务已启动", "addr", srv.Addr, "version", bc.BuildVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("收到退出信号，开始优雅停机")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP 停机超时", "err", err)
	}
	a.Usecase.StreamCore.CleanupAll(shutdownCtx)
	return nil
}

func setupLogger(bc *conf.Bootstrap) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(bc.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := slog.HandlerOptions{Level: level}
	var h slog.Handler
	if bc.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, &opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, &opts)
	}
	slog.SetDefault(slog.New(h))
}
