package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/listing-gateway/pkg/auth"
	"github.com/nao1215/listing-gateway/pkg/middleware"
)

// jsonContentType はバックエンドのJSONをそのまま返すときのContent-Type。
const jsonContentType = "application/json; charset=utf-8"

// loginRequest はPOST /auth/loginのリクエストボディ。
type loginRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=6"`
}

// tokenResponse はPOST /auth/loginのレスポンスボディ。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// authInfo はPOST /auth/verifyで返す認証情報。
// 事前共有キーはIdentityの時点でマスク済みの値だけを持つ。
type authInfo struct {
	Type       auth.Kind `json:"type"`
	Principal  string    `json:"principal"`
	Identifier string    `json:"identifier"`
}

// handleLogin は管理者認証を行い、Bearerトークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		token, err := s.authenticator.Login(req.Username, req.Password)
		if err != nil {
			s.collector.IncAuthFailure()
			slog.WarnContext(c.Request.Context(), "ログインに失敗しました",
				slog.String("request_id", middleware.GetRequestID(c)),
				slog.String("caller", auth.SafeIdentifier(auth.Identity{Kind: auth.KindBearer, Principal: req.Username})),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
			return
		}

		slog.InfoContext(c.Request.Context(), "ログインに成功しました",
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("caller", auth.SafeIdentifier(auth.Identity{Kind: auth.KindBearer, Principal: req.Username})),
		)
		c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// handleVerify は認証済みであることと、マスク済みの認証情報を返すハンドラを返す。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		info := authInfo{
			Type:       id.Kind,
			Principal:  id.Principal,
			Identifier: auth.SafeIdentifier(id),
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "auth_info": info})
	}
}

// handleUpload は"images"フィールドのファイルをアップロードサービスに転送するハンドラを返す。
func (s *Server) handleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		files := form.File[uploadField]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "imagesフィールドにファイルを1つ以上指定してください"})
			return
		}

		s.logCaller(c, RouteUpload, slog.Int("files", len(files)))
		res, err := s.dispatcher.DispatchFiles(c.Request.Context(), RouteUpload, files)
		s.respond(c, res, err)
	}
}

// handleProxyJSON は呼び出し元のJSONボディをnameのバックエンドに転送するハンドラを返す。
func (s *Server) handleProxyJSON(name RouteName) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: JSONボディが必要です"})
			return
		}

		s.logCaller(c, name)
		res, err := s.dispatcher.DispatchJSON(c.Request.Context(), name, body)
		s.respond(c, res, err)
	}
}

// logCaller は呼び出し元をマスク済みの識別子でログに出力する。
func (s *Server) logCaller(c *gin.Context, name RouteName, attrs ...slog.Attr) {
	id, _ := middleware.GetIdentity(c)
	args := []any{
		slog.String("request_id", middleware.GetRequestID(c)),
		slog.String("route", string(name)),
		slog.String("caller", auth.SafeIdentifier(id)),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	slog.InfoContext(c.Request.Context(), "プロキシリクエストを受信しました", args...)
}

// respond はディスパッチ結果を呼び出し元に返す。
// バックエンドの失敗は常に502、それ以外の想定外のエラーはrequest_id付きの500になる。
func (s *Server) respond(c *gin.Context, res *Result, err error) {
	if err == nil {
		c.Data(http.StatusOK, jsonContentType, res.Body)
		return
	}

	var upErr *UpstreamError
	switch {
	case errors.As(err, &upErr):
		c.JSON(upErr.StatusCode(), gin.H{"error": upErr.Error()})
	case errors.Is(err, ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		requestID := middleware.GetRequestID(c)
		slog.ErrorContext(c.Request.Context(), "リクエストの処理に失敗しました",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": requestID,
		})
	}
}

// handleStatus はGateway自身の状態を返すハンドラを返す。
// 設定またはprobe=trueの指定がある場合に限り、バックエンドの死活も確認する。
func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"gateway":     "healthy",
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"version":     Version,
			"environment": s.cfg.Environment,
		}
		if s.cfg.StatusProbeBackends || c.Query("probe") == "true" {
			body["microservices"] = s.dispatcher.Probe(c.Request.Context())
		}
		c.JSON(http.StatusOK, body)
	}
}

// handleHealth は死活監視用のハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// handleRoot はサービスの概要とエンドポイント一覧を返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": serviceName,
			"version": Version,
			"status":  "operational",
			"endpoints": gin.H{
				"authentication": []string{"/auth/login", "/auth/verify"},
				"gateway":        []string{"/upload", "/generate-listing", "/syndicate", "/research", "/status"},
				"monitoring":     []string{"/health", "/metrics"},
			},
		})
	}
}
