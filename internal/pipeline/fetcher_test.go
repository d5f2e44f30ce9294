package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/xfattach/internal/model"
)

func testHTTPConfig() model.HTTPConfig {
	cfg := model.DefaultConfig().HTTP
	cfg.UserAgent = "test-agent"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func redirectChain(hops int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if n < hops {
			http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusFound)
			return
		}
		_, _ = fmt.Fprint(w, "payload")
	})
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no file at %s, stat err = %v", path, err)
	}
}

func TestDownload_Success(t *testing.T) {
	var gotUA, gotCookie, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "image/png")
		_, _ = fmt.Fprint(w, "PNGDATA")
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.Cookie = "xf_session=abc"
	fetcher := NewFetcher(cfg)
	dest := filepath.Join(t.TempDir(), "photo.png")

	result, err := fetcher.Download(context.Background(), server.URL+"/a.png", dest, BuildHeaders(cfg))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != "PNGDATA" {
		t.Errorf("Unexpected content: %q", data)
	}
	if result.Bytes != 7 {
		t.Errorf("Expected 7 bytes, got %d", result.Bytes)
	}
	if result.ContentType != "image/png" {
		t.Errorf("Unexpected content type: %s", result.ContentType)
	}
	if gotUA != "test-agent" {
		t.Errorf("Unexpected User-Agent: %q", gotUA)
	}
	if gotCookie != "xf_session=abc" {
		t.Errorf("Unexpected Cookie: %q", gotCookie)
	}
	if gotAccept != "*/*" {
		t.Errorf("Unexpected Accept: %q", gotAccept)
	}
}

func TestDownload_TenRedirectsSucceed(t *testing.T) {
	server := httptest.NewServer(redirectChain(MaxRedirects))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	result, err := NewFetcher(cfg).Download(context.Background(), server.URL+"/hop/0", dest, BuildHeaders(cfg))
	if err != nil {
		t.Fatalf("Expected success after %d redirects, got %v", MaxRedirects, err)
	}
	if !strings.HasSuffix(result.FinalURL, "/hop/10") {
		t.Errorf("Unexpected final URL: %s", result.FinalURL)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "payload" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestDownload_ElevenRedirectsFail(t *testing.T) {
	server := httptest.NewServer(redirectChain(MaxRedirects + 1))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL+"/hop/0", dest, BuildHeaders(cfg))
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("Expected ErrTooManyRedirects, got %v", err)
	}
	if kind := Classify(err); kind != KindTooManyRedirects {
		t.Errorf("Expected kind %s, got %s", KindTooManyRedirects, kind)
	}
	assertNoFile(t, dest)
}

func TestDownload_FollowsAnyRedirectWithLocation(t *testing.T) {
	codes := []int{
		http.StatusMultipleChoices,
		http.StatusMovedPermanently,
		http.StatusSeeOther,
		http.StatusUseProxy,
		306,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect,
	}

	for _, code := range codes {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			var gotUA string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/start" {
					w.Header().Set("Location", "final")
					w.WriteHeader(code)
					_, _ = fmt.Fprint(w, "moved")
					return
				}
				gotUA = r.Header.Get("User-Agent")
				_, _ = fmt.Fprint(w, "payload")
			}))
			defer server.Close()

			cfg := testHTTPConfig()
			dest := filepath.Join(t.TempDir(), "out.bin")

			result, err := NewFetcher(cfg).Download(context.Background(), server.URL+"/start", dest, BuildHeaders(cfg))
			if err != nil {
				t.Fatalf("Expected %d to be followed, got %v", code, err)
			}
			if !strings.HasSuffix(result.FinalURL, "/final") {
				t.Errorf("Unexpected final URL: %s", result.FinalURL)
			}
			if gotUA != "test-agent" {
				t.Errorf("Expected headers on the redirected request, got User-Agent %q", gotUA)
			}
			data, _ := os.ReadFile(dest)
			if string(data) != "payload" {
				t.Errorf("Unexpected content: %q", data)
			}
		})
	}
}

func TestRedirectHeaders(t *testing.T) {
	headers := BuildHeaders(model.HTTPConfig{UserAgent: "test-agent", Cookie: "xf_session=abc"})
	origin, _ := url.Parse("https://forum.test/attachments/1/")

	tests := []struct {
		target     string
		wantCookie bool
	}{
		{"https://forum.test/data/photo.jpg", true},
		{"https://FORUM.test:8443/data/photo.jpg", true},
		{"https://img.forum.test/photo.jpg", true},
		{"https://cdn.test/photo.jpg", false},
		{"https://notforum.test/photo.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			target, _ := url.Parse(tt.target)
			h := redirectHeaders(headers, origin, target)

			if got := h.Get("Cookie") != ""; got != tt.wantCookie {
				t.Errorf("Cookie sent = %v, want %v", got, tt.wantCookie)
			}
			if h.Get("User-Agent") != "test-agent" {
				t.Errorf("User-Agent lost on redirect: %q", h.Get("User-Agent"))
			}
		})
	}

	if headers.Get("Cookie") == "" {
		t.Error("shared headers must not be modified")
	}
}

func TestDownload_StatusFailures(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				_, _ = fmt.Fprint(w, "error page")
			}))
			defer server.Close()

			cfg := testHTTPConfig()
			dest := filepath.Join(t.TempDir(), "out.bin")

			_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Expected StatusError, got %v", err)
			}
			if statusErr.Code != code {
				t.Errorf("Expected code %d, got %d", code, statusErr.Code)
			}
			if want := fmt.Sprintf("unexpected status: %d %s", code, http.StatusText(code)); err.Error() != want {
				t.Errorf("Unexpected error: %s", err.Error())
			}
			if Classify(err) != KindHTTPStatus {
				t.Errorf("Expected kind %s, got %s", KindHTTPStatus, Classify(err))
			}
			assertNoFile(t, dest)
		})
	}
}

func TestDownload_RedirectWithoutLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if Classify(err) != KindHTTPStatus {
		t.Fatalf("Expected status failure, got %v", err)
	}
	assertNoFile(t, dest)
}

type failingWriter struct {
	f       *os.File
	limit   int
	written int
}

var errDiskFull = errors.New("no space left on device")

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		n, _ := w.f.Write(p[:w.limit-w.written])
		w.written += n
		return n, errDiskFull
	}
	n, err := w.f.Write(p)
	w.written += n
	return n, err
}

func (w *failingWriter) Close() error {
	return w.f.Close()
}

func TestDownload_WriteFailureRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "0123456789abcdef")
	}))
	defer server.Close()

	origCreate := createFunc
	createFunc = func(path string) (io.WriteCloser, error) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, err
		}
		return &failingWriter{f: f, limit: 4}, nil
	}
	defer func() { createFunc = origCreate }()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected underlying write error, got %v", err)
	}
	if Classify(err) != KindWrite {
		t.Errorf("Expected kind %s, got %s", KindWrite, Classify(err))
	}
	assertNoFile(t, dest)
}

func TestDownload_TruncatedBodyRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = fmt.Fprint(w, "short")
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if err == nil {
		t.Fatal("Expected error for truncated body")
	}
	if Classify(err) != KindNetwork {
		t.Errorf("Expected kind %s, got %s (%v)", KindNetwork, Classify(err), err)
	}
	assertNoFile(t, dest)
}

func TestDownload_ExistingDestinationUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "new")
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if Classify(err) != KindWrite {
		t.Fatalf("Expected write failure, got %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "old" {
		t.Errorf("Existing file was modified: %q", data)
	}
}

func TestDownload_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.Timeout = 100 * time.Millisecond
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if !IsTimeout(err) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Expected timeout in message, got %s", err.Error())
	}
	if Classify(err) != KindNetwork {
		t.Errorf("Expected kind %s, got %s", KindNetwork, Classify(err))
	}
	assertNoFile(t, dest)
}

func TestDownload_CompressedBodyStoredAsIs(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("plain text"))
	_ = gz.Close()
	compressed := buf.Bytes()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(compressed)
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	result, err := NewFetcher(cfg).Download(context.Background(), server.URL, dest, BuildHeaders(cfg))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.ContentEncoding != "gzip" {
		t.Errorf("Expected gzip content encoding, got %q", result.ContentEncoding)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, compressed) {
		t.Error("Expected body to be stored without decompression")
	}
}

func TestDownload_CookieJarReplaysRedirectCookies(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.SetCookie(w, &http.Cookie{Name: "xf_csrf", Value: "token", Path: "/"})
			http.Redirect(w, r, "/file", http.StatusFound)
			return
		}
		gotCookie = r.Header.Get("Cookie")
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	dest := filepath.Join(t.TempDir(), "out.bin")

	if _, err := NewFetcher(cfg).Download(context.Background(), server.URL+"/start", dest, BuildHeaders(cfg)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(gotCookie, "xf_csrf=token") {
		t.Errorf("Expected jar cookie to be sent, got %q", gotCookie)
	}
}

func TestBuildHeaders(t *testing.T) {
	cfg := testHTTPConfig()

	h := BuildHeaders(cfg)
	if h.Get("Cookie") != "" {
		t.Errorf("Expected no Cookie header without configuration, got %q", h.Get("Cookie"))
	}
	if h.Get("Accept-Encoding") != "gzip, deflate, br" {
		t.Errorf("Unexpected Accept-Encoding: %q", h.Get("Accept-Encoding"))
	}
	if h.Get("Connection") != "keep-alive" {
		t.Errorf("Unexpected Connection: %q", h.Get("Connection"))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"redirects", fmt.Errorf("fetch: %w", ErrTooManyRedirects), KindTooManyRedirects},
		{"robots", ErrRobotsDisallowed, KindRobots},
		{"status", &StatusError{Code: 500}, KindHTTPStatus},
		{"write", &WriteError{Path: "x", Err: errDiskFull}, KindWrite},
		{"read", &ReadError{Path: "x", Err: os.ErrPermission}, KindFileRead},
		{"unexpected EOF", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), KindNetwork},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
