package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nao1215/listing-gateway/pkg/httpclient"
	"github.com/nao1215/listing-gateway/pkg/metrics"
)

// uploadField はアップロードファイルを転送するmultipartフィールド名。
const uploadField = "images"

// probeTimeout はバックエンド死活確認のタイムアウト。
const probeTimeout = 2 * time.Second

var (
	// ErrUnknownRoute はルート表に無い操作名が指定されたことを表す。
	ErrUnknownRoute = errors.New("未登録のルートです")
	// ErrInvalidUpload はアップロードファイルを読み取れなかったことを表す。
	ErrInvalidUpload = errors.New("アップロードファイルを読み取れません")
	// ErrBodyKindMismatch はルートが受け付けない形式のボディで転送しようとしたことを表す。
	ErrBodyKindMismatch = errors.New("ルートのボディ形式と一致しません")
)

// UpstreamError はバックエンドの呼び出しに失敗したことを表す。
// バックエンドが返したステータスに関係なく、呼び出し元には常に502を返す。
type UpstreamError struct {
	// Route は失敗したルート。
	Route RouteName
	// Label はルートの表示名。
	Label string
	// Cause は失敗の原因（タイムアウト、接続エラー、2xx以外の応答など）。
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s service error: %v", e.Label, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// StatusCode は呼び出し元に返すHTTPステータス。
func (e *UpstreamError) StatusCode() int {
	return http.StatusBadGateway
}

// Result はバックエンドの成功応答。
type Result struct {
	// StatusCode はバックエンドのHTTPステータス。
	StatusCode int
	// Body はバックエンドが返したJSON。加工せずにそのまま返す。
	Body json.RawMessage
}

// Dispatcher はルート表に従ってリクエストをバックエンドに転送する。
// 1リクエストにつき1回だけ呼び出し、リトライは行わない。
type Dispatcher struct {
	// routes はルート表。
	routes *RouteTable
	// client はバックエンド呼び出し用のHTTPクライアント。
	client *httpclient.Client
	// collector はメトリクスの記録先。
	collector *metrics.Collector
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(routes *RouteTable, client *httpclient.Client, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		routes:    routes,
		client:    client,
		collector: collector,
	}
}

// DispatchJSON は呼び出し元のJSONボディをそのままバックエンドに転送する。
func (d *Dispatcher) DispatchJSON(ctx context.Context, name RouteName, body json.RawMessage) (*Result, error) {
	route, err := d.lookup(name, BodyJSON)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, route, func(ctx context.Context) (*httpclient.Response, error) {
		return d.client.PostJSON(ctx, route.URL, body)
	})
}

// DispatchFiles はアップロードされたファイルをすべてメモリに読み込み、
// "images"フィールドのmultipartとしてバックエンドに転送する。
// ファイル名と宣言されたContent-Typeは元の値のまま転送する。
func (d *Dispatcher) DispatchFiles(ctx context.Context, name RouteName, files []*multipart.FileHeader) (*Result, error) {
	route, err := d.lookup(name, BodyMultipart)
	if err != nil {
		return nil, err
	}

	parts := make([]httpclient.FilePart, 0, len(files))
	for _, fh := range files {
		content, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUpload, fh.Filename, err)
		}
		parts = append(parts, httpclient.FilePart{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	return d.dispatch(ctx, route, func(ctx context.Context) (*httpclient.Response, error) {
		return d.client.PostMultipart(ctx, route.URL, uploadField, parts)
	})
}

// lookup はnameのルートを引き、ボディ形式がkindと一致することを確認する。
func (d *Dispatcher) lookup(name RouteName, kind BodyKind) (Route, error) {
	route, ok := d.routes.Lookup(name)
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownRoute, name)
	}
	if route.Body != kind {
		return Route{}, fmt.Errorf("%w: %s", ErrBodyKindMismatch, name)
	}
	return route, nil
}

// dispatch はルートのタイムアウト内でsendを1回実行し、結果をResultかUpstreamErrorに変換する。
func (d *Dispatcher) dispatch(ctx context.Context, route Route, send func(context.Context) (*httpclient.Response, error)) (*Result, error) {
	ctx, span := otel.Tracer("github.com/nao1215/listing-gateway/internal/gateway").Start(ctx, "dispatch "+string(route.Name))
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.route", string(route.Name)),
		attribute.String("gateway.upstream_url", route.URL),
		attribute.String("gateway.timeout", route.Timeout.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := send(ctx)
	if err == nil && !json.Valid(resp.Body) {
		err = fmt.Errorf("JSONでない応答を受信しました: content_type=%q", resp.ContentType)
	}
	if err != nil {
		upErr := &UpstreamError{Route: route.Name, Label: route.Label, Cause: err}
		d.collector.IncUpstreamError(string(route.Name))
		span.RecordError(upErr)
		span.SetStatus(codes.Error, "upstream error")
		slog.ErrorContext(ctx, "バックエンドの呼び出しに失敗しました",
			slog.String("route", string(route.Name)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", upErr.Error()),
		)
		return nil, upErr
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return &Result{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// readFile はアップロードファイルの内容をすべて読み込む。
func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Probe は各バックエンドのホストの/healthにGETし、死活状態をルート名ごとに返す。
func (d *Dispatcher) Probe(ctx context.Context) map[string]string {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		health = make(map[string]string)
	)
	for _, name := range d.routes.Names() {
		route, _ := d.routes.Lookup(name)
		wg.Go(func() {
			state := "healthy"
			if err := d.probe(ctx, route); err != nil {
				state = "unhealthy"
			}
			mu.Lock()
			health[string(route.Name)] = state
			mu.Unlock()
		})
	}
	wg.Wait()
	return health
}

func (d *Dispatcher) probe(ctx context.Context, route Route) error {
	u, err := url.Parse(route.URL)
	if err != nil {
		return err
	}
	u.Path = "/health"
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err = d.client.Get(ctx, u.String())
	return err
}
