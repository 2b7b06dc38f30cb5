package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dxpcore/dxp-chat/internal/api"
	"github.com/dxpcore/dxp-chat/internal/auth"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/rooms"
	"github.com/dxpcore/dxp-chat/internal/server"
	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Error("db close", "error", err)
				}
			}()

			mux := http.NewServeMux()
			statsUpdater := stats.NewStatsUpdater(mux, stats.DefaultMetrics...)
			statsUpdater.Run()
			defer statsUpdater.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			local := hub.NewHub(logger.Named("hub"), statsUpdater)
			var fabric hub.Fabric = local
			if cfg.RedisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
				defer client.Close()
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}

				relay := hub.NewRedisRelay(local, client, logger.Named("relay"))
				g.Go(func() error { return relay.Run(gctx) })
				fabric = relay
			}

			verifier, err := auth.NewVerifier(cfg.AuthMode, db, cfg.SigningKey)
			if err != nil {
				return err
			}

			chatServer := server.NewChatServer(logger.Named("chat"), db, fabric, statsUpdater, server.Options{
				SendQueueSize:     cfg.SendQueueSize,
				HistoryLimit:      cfg.HistoryLimit,
				ReportFrameErrors: cfg.ReportFrameErrors,
			})
			roomService := rooms.NewService(logger.Named("rooms"), db, fabric, chatServer.Unread())
			app := api.NewChatApp(logger.Named("http"), mux, chatServer, roomService, db, verifier, cfg)

			g.Go(app.Start)
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := app.Shutdown(shutdownCtx); err != nil {
					return err
				}
				logger.Info("shutting down chat server", "sessions", chatServer.SessionCount())
				if err := chatServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("chat server shutdown: %w", err)
				}
				return nil
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
