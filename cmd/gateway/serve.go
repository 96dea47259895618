package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/listing-gateway/internal/gateway"
	"github.com/nao1215/listing-gateway/pkg/audit"
	"github.com/nao1215/listing-gateway/pkg/audit/sqlitesink"
	"github.com/nao1215/listing-gateway/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Gatewayサーバーを起動する",
	Long: `Gatewayサーバーを起動する。SIGINTまたはSIGTERMを受け取ると処理中のリクエストを待って停止する。

例:
  gateway serve
  gateway serve --config /etc/gateway/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("listing-gateway", os.Stdout, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("トレースの終了処理に失敗しました", slog.String("error", err.Error()))
			}
		}()
	}

	var auditOpts []audit.Option
	if cfg.AuditDBPath != "" {
		sink, err := sqlitesink.Open(ctx, cfg.AuditDBPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithSink(sink))
		logger.Info("監査レコードをSQLiteに保存します", slog.String("path", cfg.AuditDBPath))
	}

	server := gateway.NewServer(cfg, gateway.WithAuditLogger(audit.NewLogger(logger, auditOpts...)))
	return server.Run(ctx)
}
