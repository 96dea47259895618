package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/listing-gateway/pkg/audit"
	"github.com/nao1215/listing-gateway/pkg/auth"
	"github.com/nao1215/listing-gateway/pkg/config"
	"github.com/nao1215/listing-gateway/pkg/httpclient"
	"github.com/nao1215/listing-gateway/pkg/metrics"
	"github.com/nao1215/listing-gateway/pkg/middleware"
)

// Version はGatewayのバージョン。
const Version = "1.0.0"

// serviceName はルートエンドポイントとトレースに使うサービス名。
const serviceName = "Listing Gateway API"

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server はGatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg *config.Config
	// authenticator は呼び出し元の認証を行う。
	authenticator *auth.Authenticator
	// routes は論理操作とプロキシ先の対応表。
	routes *RouteTable
	// dispatcher はバックエンドへの転送を行う。
	dispatcher *Dispatcher
	// collector はPrometheusメトリクスの記録先。
	collector *metrics.Collector
}

// options はNewServerの任意設定。
type options struct {
	transport   http.RoundTripper
	auditLogger *audit.Logger
	registry    *prometheus.Registry
}

// Option はNewServerの任意設定を変更する。
type Option func(*options)

// WithTransport はバックエンド呼び出しに使うRoundTripperを指定する。
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithAuditLogger は監査ロガーを指定する。未指定ならslog.Default()に出力する。
func WithAuditLogger(l *audit.Logger) Option {
	return func(o *options) {
		o.auditLogger = l
	}
}

// WithRegistry はメトリクスを登録するPrometheusレジストリを指定する。
// 未指定ならサーバーごとに新しいレジストリを作る。
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// NewServer は新しいGatewayサーバーを生成する。
// 設定値は引数で受け取り、以後ルーティングと認証の間で共有する。
func NewServer(cfg *config.Config, opts ...Option) *Server {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.auditLogger == nil {
		o.auditLogger = audit.NewLogger(slog.Default())
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	collector := metrics.NewCollector(o.registry)
	creds := auth.NewCredentials(cfg.SecretKey, cfg.APIKeys(), cfg.AdminUsername, cfg.AdminPassword)
	routes := NewRouteTable(cfg)

	router := gin.New()
	// 信頼するプロキシ以外からのX-Forwarded-Forは無視し、監査ログには直接の接続元を残す
	if err := router.SetTrustedProxies(cfg.TrustedProxies()); err != nil {
		slog.Error("信頼するプロキシの設定が不正なため、直接の接続元だけを使います",
			slog.String("error", err.Error()),
		)
		_ = router.SetTrustedProxies(nil)
	}
	// Auditは最も外側に置く。Recoveryが返した500も終了レコードに残る
	router.Use(middleware.Audit(o.auditLogger, collector))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.Origins()))

	s := &Server{
		router:        router,
		cfg:           cfg,
		authenticator: auth.NewAuthenticator(creds),
		routes:        routes,
		dispatcher:    NewDispatcher(routes, httpclient.New(o.transport), collector),
		collector:     collector,
	}
	s.setupRoutes()

	return s
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           otelhttp.NewHandler(s.router, "gateway"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Gatewayサービスを起動します",
		slog.String("addr", srv.Addr),
		slog.String("environment", s.cfg.Environment),
	)
	for _, name := range s.routes.Names() {
		r, _ := s.routes.Lookup(name)
		slog.Info("ルートを登録しました",
			slog.String("route", string(r.Name)),
			slog.String("upstream", r.URL),
			slog.Duration("timeout", r.Timeout),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return <-errCh
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	requireAuth := middleware.RequireAuth(s.authenticator, s.collector)

	// 認証エンドポイント
	authGroup := s.router.Group("/auth")
	{
		authGroup.POST("/login", s.handleLogin())
		authGroup.POST("/verify", requireAuth, s.handleVerify())
	}

	// プロキシエンドポイント（認証必須）
	proxy := s.router.Group("/", requireAuth)
	{
		proxy.POST("/upload", s.handleUpload())
		proxy.POST("/generate-listing", s.handleProxyJSON(RouteGenerateListing))
		proxy.POST("/syndicate", s.handleProxyJSON(RouteSyndicate))
		proxy.POST("/research", s.handleProxyJSON(RouteResearch))
	}

	// 認証不要のエンドポイント
	s.router.GET("/status", s.handleStatus())
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/", s.handleRoot())
	s.router.GET("/metrics", gin.WrapH(s.collector.Handler()))
}
