package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nao1215/listing-gateway/pkg/auth"
)

const (
	// contextKeyRequestID はGinコンテキストにrequest_idを格納するキー。
	contextKeyRequestID = "request_id"
	// contextKeyIdentity はGinコンテキストに認証結果を格納するキー。
	contextKeyIdentity = "identity"
	// contextKeyPanic はRecoveryが捕捉したパニック値を格納するキー。
	contextKeyPanic = "panic"
)

// GetRequestID はGinコンテキストからrequest_idを取得する。
// Auditミドルウェアが事前に適用されている必要がある。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}

// GetIdentity はGinコンテキストから認証結果を取得する。
// RequireAuthミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
