// 通知サービスのエントリポイント。
// 通知を永続化し、ライブストリームで接続中のユーザーへ即時に配信する。
// NATS_URL を指定すると業務イベントを購読して通知を生成する。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/aptnotify/internal/config"
	"github.com/nao1215/aptnotify/internal/notification"
	"github.com/nao1215/aptnotify/internal/sse"
	"github.com/nao1215/aptnotify/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := notification.OpenSQLiteStore(ctx, cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := sse.NewRegistry(log)
	registry.StartHeartbeat(cfg.HeartbeatInterval)

	service := notification.NewService(store, registry, log)

	var subscriber *notification.Subscriber
	if cfg.NATSURL != "" {
		conn, err := notification.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		subscriber = notification.NewSubscriber(conn, cfg.NATSSubject, service, log)
		if err := subscriber.Start(); err != nil {
			conn.Close()
			return err
		}
	}

	server := notification.NewServer(service, registry, notification.ServerConfig{
		JWTSecret:        cfg.JWTSecret,
		AllowedOrigins:   cfg.AllowedOrigins(),
		StreamRatePerMin: cfg.StreamRatePerMin,
	}, log)

	// ライブストリームは長時間の接続になるため、WriteTimeoutは設定しない
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("通知サービスを起動します", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("通知サービスを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Shutdownはライブストリームの終了を待つため、先に全接続を閉じる
		registry.CloseAll()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTPサーバーの停止がタイムアウトしました", zap.Error(err))
		}
		if subscriber != nil {
			if err := subscriber.Drain(); err != nil {
				log.Warn("イベント購読の停止に失敗しました", zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}
