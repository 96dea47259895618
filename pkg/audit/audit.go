package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Phase は監査レコードの種別。
type Phase string

const (
	// PhaseRequest はリクエスト受信時のレコード。
	PhaseRequest Phase = "REQUEST"
	// PhaseResponse は正常に応答したときのレコード。
	PhaseResponse Phase = "RESPONSE"
	// PhaseError はハンドラが異常終了したときのレコード。
	PhaseError Phase = "ERROR"
)

// Record は1件の監査レコード。
type Record struct {
	// Phase はレコードの種別。
	Phase Phase
	// RequestID は開始と終了のレコードを相関させる識別子。
	RequestID string
	// Timestamp はレコードの生成時刻（UTC）。
	Timestamp time.Time
	// Method はHTTPメソッド。開始レコードのみ。
	Method string
	// Path はリクエストパス。開始レコードのみ。
	Path string
	// ClientAddr は呼び出し元のアドレス。開始レコードのみ。
	ClientAddr string
	// StatusCode は応答ステータス。終了レコードのみ。
	StatusCode int
	// Duration は処理時間。終了レコードのみ。
	Duration time.Duration
	// Error は異常終了時のエラー内容。PhaseErrorのみ。
	Error string
}

// Sink は監査レコードの永続化先。
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Logger は監査レコードを出力する。
type Logger struct {
	// logger は出力先の構造化ロガー。
	logger *slog.Logger
	// sink は任意の永続化先。nilなら出力のみ。
	sink Sink
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// Option はLoggerの設定を変更する。
type Option func(*Logger)

// WithSink は監査レコードの永続化先を設定する。
func WithSink(sink Sink) Option {
	return func(l *Logger) {
		l.sink = sink
	}
}

// NewLogger は新しい監査ロガーを生成する。loggerがnilならslog.Default()を使う。
func NewLogger(logger *slog.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewRequestID はリクエストごとに一意な識別子を生成する。
// 高分解能タイムスタンプとランダムなUUIDを連結するため再利用されない。
func NewRequestID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

// RecordStart はリクエスト開始レコードを出力する。
func (l *Logger) RecordStart(ctx context.Context, requestID, method, path, clientAddr string) {
	rec := Record{
		Phase:      PhaseRequest,
		RequestID:  requestID,
		Timestamp:  l.now().UTC(),
		Method:     method,
		Path:       path,
		ClientAddr: clientAddr,
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, string(rec.Phase),
		slog.String("request_id", rec.RequestID),
		slog.String("timestamp", rec.Timestamp.Format(time.RFC3339Nano)),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.String("client_ip", rec.ClientAddr),
	)
	l.persist(ctx, rec)
}

// RecordEnd はリクエスト終了レコードを出力する。
func (l *Logger) RecordEnd(ctx context.Context, requestID string, statusCode int, duration time.Duration) {
	rec := Record{
		Phase:      PhaseResponse,
		RequestID:  requestID,
		Timestamp:  l.now().UTC(),
		StatusCode: statusCode,
		Duration:   duration,
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, string(rec.Phase),
		slog.String("request_id", rec.RequestID),
		slog.String("timestamp", rec.Timestamp.Format(time.RFC3339Nano)),
		slog.Int("status_code", rec.StatusCode),
		slog.Float64("duration_seconds", roundSeconds(rec.Duration)),
	)
	l.persist(ctx, rec)
}

// RecordError はハンドラが異常終了したときの終了レコードを出力する。
func (l *Logger) RecordError(ctx context.Context, requestID string, statusCode int, duration time.Duration, cause any) {
	rec := Record{
		Phase:      PhaseError,
		RequestID:  requestID,
		Timestamp:  l.now().UTC(),
		StatusCode: statusCode,
		Duration:   duration,
		Error:      fmt.Sprint(cause),
	}
	l.logger.LogAttrs(ctx, slog.LevelError, string(rec.Phase),
		slog.String("request_id", rec.RequestID),
		slog.String("timestamp", rec.Timestamp.Format(time.RFC3339Nano)),
		slog.Int("status_code", rec.StatusCode),
		slog.Float64("duration_seconds", roundSeconds(rec.Duration)),
		slog.String("error", rec.Error),
	)
	l.persist(ctx, rec)
}

// persist はSinkが設定されていればレコードを書き込む。
// 書き込みの失敗はリクエスト処理に影響させず、ログに残すだけにする。
func (l *Logger) persist(ctx context.Context, rec Record) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("監査レコードの永続化に失敗",
			slog.String("request_id", rec.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

// roundSeconds は処理時間をミリ秒精度の秒数に丸める。
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
