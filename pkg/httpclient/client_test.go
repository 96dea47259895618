package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// TestPostJSON はPostJSONを検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("JSONボディがそのまま転送されレスポンスが返ること", func(t *testing.T) {
		t.Parallel()

		received := make(chan testRequest, 1)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received <- testRequest{Method: r.Method, Path: r.URL.Path, Body: body, Headers: r.Header}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"generated"}`))
		}))
		defer ts.Close()

		client := New(nil)
		resp, err := client.PostJSON(context.Background(), ts.URL+"/api/insights", []byte(`{"sku":"A-1"}`))
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		req := <-received
		if req.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", req.Method, http.MethodPost)
		}
		if req.Path != "/api/insights" {
			t.Errorf("Path = %q, want %q", req.Path, "/api/insights")
		}
		if string(req.Body) != `{"sku":"A-1"}` {
			t.Errorf("Body = %s", req.Body)
		}
		if got := req.Headers.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if string(resp.Body) != `{"title":"generated"}` {
			t.Errorf("resp.Body = %s", resp.Body)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("resp.StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("2xx以外の応答はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
		}))
		defer ts.Close()

		client := New(nil)
		_, err := client.PostJSON(context.Background(), ts.URL, []byte(`{}`))

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if statusErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusInternalServerError)
		}
		if len(statusErr.Body) != maxErrorBody {
			t.Errorf("len(Body) = %d, want %d", len(statusErr.Body), maxErrorBody)
		}
	})

	t.Run("contextのタイムアウトで呼び出しが打ち切られること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer ts.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		client := New(nil)
		start := time.Now()
		_, err := client.PostJSON(ctx, ts.URL, []byte(`{}`))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("打ち切りまでの時間 = %v, 長すぎる", elapsed)
		}
	})

	t.Run("接続できない場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := ts.URL
		ts.Close()

		client := New(nil)
		if _, err := client.PostJSON(context.Background(), url, []byte(`{}`)); err == nil {
			t.Error("PostJSON()がエラーを返さなかった")
		}
	})
}

// TestPostMultipart はPostMultipartを検証する。
func TestPostMultipart(t *testing.T) {
	t.Parallel()

	t.Run("ファイル名とContent-Typeを保ったまま同じフィールド名で転送されること", func(t *testing.T) {
		t.Parallel()

		type gotPart struct {
			field, filename, contentType, content string
		}
		received := make(chan []gotPart, 1)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mr, err := r.MultipartReader()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var parts []gotPart
			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				b, _ := io.ReadAll(p)
				parts = append(parts, gotPart{p.FormName(), p.FileName(), p.Header.Get("Content-Type"), string(b)})
			}
			received <- parts
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer ts.Close()

		client := New(nil)
		_, err := client.PostMultipart(context.Background(), ts.URL, "images", []FilePart{
			{Filename: "front.png", ContentType: "image/png", Content: []byte("png-bytes")},
			{Filename: `we"ird.bin`, Content: []byte("raw")},
		})
		if err != nil {
			t.Fatalf("PostMultipart()でエラーが発生: %v", err)
		}

		parts := <-received
		if len(parts) != 2 {
			t.Fatalf("パート数 = %d, want 2", len(parts))
		}
		want := []gotPart{
			{"images", "front.png", "image/png", "png-bytes"},
			{"images", `we"ird.bin`, "application/octet-stream", "raw"},
		}
		for i := range want {
			if parts[i] != want[i] {
				t.Errorf("parts[%d] = %+v, want %+v", i, parts[i], want[i])
			}
		}
	})
}

// TestGet はGetを検証する。
func TestGet(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	resp, err := New(nil).Get(context.Background(), ts.URL+"/health")
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want %q", resp.ContentType, "application/json")
	}
}
