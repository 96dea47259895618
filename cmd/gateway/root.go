package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nao1215/listing-gateway/pkg/config"
)

// cfgFile は--configで指定された設定ファイルのパス。
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "出品支援サービスのAPI Gateway",
	Long: `呼び出し元をBearerトークンまたはAPIキーで認証し、
画像解析・出品文生成・一括出品・市場調査の各バックエンドにリクエストを転送する。

設定は環境変数（.envファイルも可）と--configで指定したYAMLファイルから読み込む。`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute はルートコマンドを実行する。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML設定ファイルのパス")
}

// loadConfig は.envと設定ファイルを反映して設定を読み込む。
func loadConfig() (*config.Config, error) {
	// .envは任意。存在しなければ環境変数だけを使う
	_ = godotenv.Load()

	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// newLogger は設定されたレベルでJSONを標準出力に書くロガーを生成する。
func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}
