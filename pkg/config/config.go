// Package config はGatewayの設定を読み込む。
//
// 設定はプロセス起動時に一度だけ読み込み、以後は変更しない。
// 優先順位は 環境変数 > GATEWAY_CONFIG_FILE で指定したYAMLファイル > デフォルト値。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数。
const ConfigFileEnv = "GATEWAY_CONFIG_FILE"

// Config はGatewayの設定値。
type Config struct {
	// SecretKey はBearerトークン署名用の秘密鍵。
	SecretKey string `koanf:"api_secret_key"`
	// UploadServiceURL は画像解析サービスのURL。
	UploadServiceURL string `koanf:"upload_service_url"`
	// GenerateListingServiceURL は出品文生成サービスのURL。
	GenerateListingServiceURL string `koanf:"generate_listing_service_url"`
	// SyndicateServiceURL はマーケットプレイス連携サービスのURL。
	SyndicateServiceURL string `koanf:"syndicate_service_url"`
	// ResearchServiceURL は市場調査サービスのURL。
	ResearchServiceURL string `koanf:"research_service_url"`
	// RequestTimeoutSeconds はプロキシ先呼び出しの基本タイムアウト（秒）。
	RequestTimeoutSeconds int `koanf:"request_timeout"`
	// ValidAPIKeys はカンマ区切りの有効なAPIキー。
	ValidAPIKeys string `koanf:"valid_api_keys"`
	// AdminUsername は管理者ユーザー名。
	AdminUsername string `koanf:"admin_username"`
	// AdminPassword は管理者パスワード。
	AdminPassword string `koanf:"admin_password"`
	// AllowedOrigins はカンマ区切りのCORS許可オリジン。
	AllowedOrigins string `koanf:"allowed_origins"`
	// Port はリッスンポート。
	Port int `koanf:"port"`
	// Environment は実行環境のラベル。
	Environment string `koanf:"environment"`
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string `koanf:"log_level"`
	// AuditDBPath は監査レコードを保存するSQLiteファイル。空なら保存しない。
	AuditDBPath string `koanf:"audit_db_path"`
	// TracingEnabled はOpenTelemetryトレースを標準出力に出すかどうか。
	TracingEnabled bool `koanf:"tracing_enabled"`
	// StatusProbeBackends は/statusでバックエンドの死活確認を行うかどうか。
	StatusProbeBackends bool `koanf:"status_probe_backends"`
	// TrustedProxiesList はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR（カンマ区切り）。
	// 空なら直接の接続元アドレスだけを使う。
	TrustedProxiesList string `koanf:"trusted_proxies"`
}

// defaults はデフォルト値。
var defaults = map[string]any{
	"api_secret_key":               "dev-secret-key-change-in-production",
	"upload_service_url":           "http://localhost:3000/api/analyze-images",
	"generate_listing_service_url": "http://localhost:3000/api/insights",
	"syndicate_service_url":        "http://localhost:3000/api/bulk-upload-ebay",
	"research_service_url":         "http://localhost:3000/api/ebay/str",
	"request_timeout":              30,
	"valid_api_keys":               "dev-api-key-1,dev-api-key-2",
	"admin_username":               "admin",
	"admin_password":               "admin123",
	"allowed_origins":              "*",
	"port":                         8080,
	"environment":                  "development",
	"log_level":                    "info",
	"audit_db_path":                "",
	"tracing_enabled":              false,
	"status_probe_backends":        false,
	"trusted_proxies":              "",
}

// Load はGATEWAY_CONFIG_FILEで指定した設定ファイルと環境変数から設定を読み込む。
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile はpathの設定ファイルと環境変数から設定を読み込む。pathが空なら設定ファイルは使わない。
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	// 既知のキーだけを取り込む。PATH等の無関係な環境変数と空の値は無視する
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		key = strings.ToLower(key)
		if _, ok := defaults[key]; !ok || value == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("デフォルト値の設定に失敗: %w", err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("api_secret_keyが空です")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeoutは正の整数である必要があります: %d", c.RequestTimeoutSeconds)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("portが範囲外です: %d", c.Port)
	}
	for _, p := range c.TrustedProxies() {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("trusted_proxiesにIPアドレスでもCIDRでもない値があります: %q", p)
		}
	}
	return nil
}

// RequestTimeout は基本タイムアウトをtime.Durationで返す。
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// APIKeys は有効なAPIキーの一覧を返す。
func (c *Config) APIKeys() []string {
	return splitList(c.ValidAPIKeys)
}

// TrustedProxies はX-Forwarded-Forを信頼するプロキシの一覧を返す。未設定ならnil。
func (c *Config) TrustedProxies() []string {
	return splitList(c.TrustedProxiesList)
}

// Origins はCORS許可オリジンの一覧を返す。
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// splitList はカンマ区切りの文字列を分割し、空要素を除く。
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
