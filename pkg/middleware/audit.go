package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/listing-gateway/pkg/audit"
	"github.com/nao1215/listing-gateway/pkg/metrics"
)

// headerRequestID は呼び出し元にrequest_idを返すレスポンスヘッダー。
const headerRequestID = "X-Request-ID"

// Audit はリクエストごとに開始・終了の監査レコードを出力するGinミドルウェアを返す。
//
// 終了レコードはdeferで出力するため、ハンドラがパニックした場合も必ず出力される。
// Recoveryより外側で使うこと。Recoveryが捕捉したパニックはERRORレコードになる。
func Audit(logger *audit.Logger, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := audit.NewRequestID()
		c.Set(contextKeyRequestID, requestID)
		c.Header(headerRequestID, requestID)

		ctx := c.Request.Context()
		start := time.Now()
		logger.RecordStart(ctx, requestID, c.Request.Method, c.Request.URL.Path, c.ClientIP())

		defer func() {
			duration := time.Since(start)
			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}

			// Recoveryが無い構成でパニックが届いた場合も記録してから再送出する
			if r := recover(); r != nil {
				logger.RecordError(ctx, requestID, http.StatusInternalServerError, duration, r)
				collector.ObserveRequest(path, http.StatusInternalServerError, duration)
				panic(r)
			}

			status := c.Writer.Status()
			collector.ObserveRequest(path, status, duration)
			if p, ok := c.Get(contextKeyPanic); ok {
				logger.RecordError(ctx, requestID, status, duration, p)
				return
			}
			logger.RecordEnd(ctx, requestID, status, duration)
		}()

		c.Next()
	}
}
