package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/listing-gateway/pkg/auth"
	"github.com/nao1215/listing-gateway/pkg/metrics"
)

// headerAPIKey は事前共有キーを受け取るHTTPヘッダー。
const headerAPIKey = "X-API-Key"

const (
	// msgAuthRequired は認証情報が無い場合のメッセージ。
	msgAuthRequired = "Authentication required"
	// msgInvalidToken はBearerトークンが無効な場合のメッセージ。
	msgInvalidToken = "Invalid or expired token"
)

// RequireAuth はBearerトークンまたはAPIキーで認証するGinミドルウェアを返す。
// 認証に成功した場合、コンテキストにIdentityを設定する。
// 失敗時はどの検査で失敗したかを区別しない汎用メッセージで401を返す。
func RequireAuth(authenticator *auth.Authenticator, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := BearerToken(c.GetHeader("Authorization"))
		apiKey := c.GetHeader(headerAPIKey)

		id, err := authenticator.Authenticate(bearer, apiKey)
		if err != nil {
			collector.IncAuthFailure()
			slog.WarnContext(c.Request.Context(), "認証に失敗しました",
				slog.String("request_id", GetRequestID(c)),
				slog.String("reason", err.Error()),
			)

			msg := msgAuthRequired
			if bearer != "" {
				msg = msgInvalidToken
			}
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(contextKeyIdentity, id)
		c.Next()
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// Bearer以外のスキームや空のトークンは未指定として空文字列を返す。
func BearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
