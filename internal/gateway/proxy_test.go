package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/nao1215/listing-gateway/pkg/httpclient"
	"github.com/nao1215/listing-gateway/pkg/metrics"
)

// newTestDispatcher は指定したルートだけを持つテスト用Dispatcherを生成する。
func newTestDispatcher(routes ...Route) *Dispatcher {
	return NewDispatcher(newRouteTable(routes), httpclient.New(nil), metrics.NewCollector(nil))
}

// buildMultipart はfieldに1ファイルを持つmultipartボディを生成する。
func buildMultipart(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("multipartパートの作成に失敗: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("multipartパートの書き込みに失敗: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipartボディの終端に失敗: %v", err)
	}
	return body, w.FormDataContentType()
}

// receivedFile はバックエンドが受け取ったファイル。
type receivedFile struct {
	field       string
	filename    string
	contentType string
	content     string
}

// captureFiles は受け取ったmultipartのファイルをchに送るバックエンドハンドラを返す。
func captureFiles(ch chan<- []receivedFile) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var files []receivedFile
		for field, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				b, _ := io.ReadAll(f)
				f.Close()
				files = append(files, receivedFile{
					field:       field,
					filename:    fh.Filename,
					contentType: fh.Header.Get("Content-Type"),
					content:     string(b),
				})
			}
		}
		ch <- files
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analyzed":1}`))
	}
}

// TestDispatchJSON はJSONルートの転送を検証する。
func TestDispatchJSON(t *testing.T) {
	t.Parallel()

	t.Run("呼び出し元のJSONをそのまま転送しバックエンドのJSONをそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		received := make(chan string, 1)
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			received <- r.Header.Get("Content-Type") + " " + string(b)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"Vintage Camera","tags":["film","35mm"]}`))
		}))
		t.Cleanup(backend.Close)

		d := newTestDispatcher(Route{Name: RouteGenerateListing, Label: "Listing generation", URL: backend.URL + "/api/insights", Timeout: time.Second})
		res, err := d.DispatchJSON(context.Background(), RouteGenerateListing, json.RawMessage(`{"item":"camera"}`))
		if err != nil {
			t.Fatalf("DispatchJSON() error = %v", err)
		}
		if got := <-received; got != `application/json {"item":"camera"}` {
			t.Errorf("バックエンドが受け取った内容 = %q", got)
		}
		if res.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d, want %d", res.StatusCode, http.StatusOK)
		}
		if string(res.Body) != `{"title":"Vintage Camera","tags":["film","35mm"]}` {
			t.Errorf("Body = %s", res.Body)
		}
	})

	t.Run("バックエンドが500を返した場合に502のUpstreamErrorになること", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"detail":"model crashed"}`, http.StatusInternalServerError)
		}))
		t.Cleanup(backend.Close)

		d := newTestDispatcher(Route{Name: RouteResearch, Label: "Research", URL: backend.URL, Timeout: time.Second})
		_, err := d.DispatchJSON(context.Background(), RouteResearch, json.RawMessage(`{}`))

		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("error = %v, want *UpstreamError", err)
		}
		if upErr.StatusCode() != http.StatusBadGateway {
			t.Errorf("StatusCode() = %d, want %d", upErr.StatusCode(), http.StatusBadGateway)
		}
		if upErr.Route != RouteResearch {
			t.Errorf("Route = %q, want %q", upErr.Route, RouteResearch)
		}
		var statusErr *httpclient.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("原因にバックエンドのステータスが含まれていない: %v", err)
		}
	})

	t.Run("タイムアウトを超えたバックエンドはタイムアウト付近でUpstreamErrorになること", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(backend.Close)

		d := newTestDispatcher(Route{Name: RouteResearch, Label: "Research", URL: backend.URL, Timeout: time.Second})
		start := time.Now()
		_, err := d.DispatchJSON(context.Background(), RouteResearch, json.RawMessage(`{}`))
		elapsed := time.Since(start)

		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("error = %v, want *UpstreamError", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("原因がタイムアウトではない: %v", err)
		}
		if elapsed < time.Second || elapsed > 1500*time.Millisecond {
			t.Errorf("失敗までの時間 = %v, want 1.0s〜1.5s", elapsed)
		}
	})

	t.Run("接続できないバックエンドはUpstreamErrorになること", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.NotFoundHandler())
		url := backend.URL
		backend.Close()

		d := newTestDispatcher(Route{Name: RouteSyndicate, Label: "Syndication", URL: url, Timeout: time.Second})
		start := time.Now()
		_, err := d.DispatchJSON(context.Background(), RouteSyndicate, json.RawMessage(`{}`))

		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("error = %v, want *UpstreamError", err)
		}
		if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
			t.Errorf("失敗までの時間 = %v, タイムアウトを大きく超えている", elapsed)
		}
	})

	t.Run("JSONでない成功応答はUpstreamErrorになること", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		}))
		t.Cleanup(backend.Close)

		d := newTestDispatcher(Route{Name: RouteResearch, Label: "Research", URL: backend.URL, Timeout: time.Second})
		_, err := d.DispatchJSON(context.Background(), RouteResearch, json.RawMessage(`{}`))

		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("error = %v, want *UpstreamError", err)
		}
	})

	t.Run("未登録のルートはErrUnknownRouteになること", func(t *testing.T) {
		t.Parallel()

		d := newTestDispatcher()
		_, err := d.DispatchJSON(context.Background(), RouteResearch, json.RawMessage(`{}`))
		if !errors.Is(err, ErrUnknownRoute) {
			t.Errorf("error = %v, want ErrUnknownRoute", err)
		}
	})
}

// TestUpstreamError はUpstreamErrorのメッセージを検証する。
func TestUpstreamError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &UpstreamError{Route: RouteUpload, Label: "Upload", Cause: cause}

	if got, want := err.Error(), "Upload service error: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap()で原因を取り出せない")
	}
}

// TestDispatchFiles はアップロードファイルの転送を検証する。
func TestDispatchFiles(t *testing.T) {
	t.Parallel()

	t.Run("ファイル名とContent-Typeを保ったままimagesフィールドで転送すること", func(t *testing.T) {
		t.Parallel()

		ch := make(chan []receivedFile, 1)
		backend := httptest.NewServer(captureFiles(ch))
		t.Cleanup(backend.Close)

		body, contentType := buildMultipart(t, "images", "front.png", "image/png", []byte("png-bytes"))
		form, err := multipart.NewReader(body, contentType[len("multipart/form-data; boundary="):]).ReadForm(1 << 20)
		if err != nil {
			t.Fatalf("multipartフォームの読み取りに失敗: %v", err)
		}
		t.Cleanup(func() { _ = form.RemoveAll() })

		d := newTestDispatcher(Route{Name: RouteUpload, Label: "Upload", URL: backend.URL, Timeout: time.Second, Body: BodyMultipart})
		res, err := d.DispatchFiles(context.Background(), RouteUpload, form.File["images"])
		if err != nil {
			t.Fatalf("DispatchFiles() error = %v", err)
		}
		if string(res.Body) != `{"analyzed":1}` {
			t.Errorf("Body = %s", res.Body)
		}

		files := <-ch
		if len(files) != 1 {
			t.Fatalf("受け取ったファイル数 = %d, want 1", len(files))
		}
		want := receivedFile{field: "images", filename: "front.png", contentType: "image/png", content: "png-bytes"}
		if files[0] != want {
			t.Errorf("受け取ったファイル = %+v, want %+v", files[0], want)
		}
	})
}

// TestProbe はバックエンドの死活確認を検証する。
func TestProbe(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(healthy.Close)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	d := newTestDispatcher(
		Route{Name: RouteUpload, Label: "Upload", URL: healthy.URL + "/api/analyze-images", Timeout: time.Second},
		Route{Name: RouteResearch, Label: "Research", URL: downURL + "/api/ebay/str", Timeout: time.Second},
	)
	got := d.Probe(context.Background())

	if got["upload"] != "healthy" {
		t.Errorf("upload = %q, want healthy", got["upload"])
	}
	if got["research"] != "unhealthy" {
		t.Errorf("research = %q, want unhealthy", got["research"])
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

// TestDispatchBodyKind はルートのボディ形式と異なる転送を拒否することを検証する。
func TestDispatchBodyKind(t *testing.T) {
	t.Parallel()

	t.Run("multipartのルートにJSONを転送するとErrBodyKindMismatchになること", func(t *testing.T) {
		t.Parallel()

		d := newTestDispatcher(Route{Name: RouteUpload, Label: "Upload", URL: "http://127.0.0.1:1", Timeout: time.Second, Body: BodyMultipart})
		_, err := d.DispatchJSON(context.Background(), RouteUpload, json.RawMessage(`{}`))
		if !errors.Is(err, ErrBodyKindMismatch) {
			t.Errorf("error = %v, want ErrBodyKindMismatch", err)
		}
	})

	t.Run("JSONのルートにファイルを転送するとErrBodyKindMismatchになること", func(t *testing.T) {
		t.Parallel()

		d := newTestDispatcher(Route{Name: RouteResearch, Label: "Research", URL: "http://127.0.0.1:1", Timeout: time.Second, Body: BodyJSON})
		_, err := d.DispatchFiles(context.Background(), RouteResearch, nil)
		if !errors.Is(err, ErrBodyKindMismatch) {
			t.Errorf("error = %v, want ErrBodyKindMismatch", err)
		}
	})

	t.Run("NewRouteTableの各ルートは対応するDispatchで転送できること", func(t *testing.T) {
		t.Parallel()

		table := NewRouteTable(newTestConfig("http://127.0.0.1:1"))
		d := NewDispatcher(table, httpclient.New(nil), metrics.NewCollector(nil))
		for _, name := range table.Names() {
			r, _ := table.Lookup(name)
			want := BodyJSON
			if name == RouteUpload {
				want = BodyMultipart
			}
			if r.Body != want {
				t.Errorf("%s: Body = %v, want %v", name, r.Body, want)
			}
			if _, err := d.lookup(name, want); err != nil {
				t.Errorf("%s: lookup() error = %v", name, err)
			}
		}
	})
}
