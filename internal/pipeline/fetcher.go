package pipeline

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/xfattach/internal/model"
	"github.com/ppiankov/xfattach/internal/util"
	"golang.org/x/net/publicsuffix"
)

// MaxRedirects is the number of redirects followed for a single download
const MaxRedirects = 10

// createFunc opens the destination file; tests replace it to inject write failures
var createFunc = func(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

// removeFunc deletes a partial download
var removeFunc = os.Remove

// Fetcher downloads attachments to disk
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(cfg model.HTTPConfig) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	// Bodies are written exactly as the server sent them
	transport.DisableCompression = true
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --insecure
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		// Download follows redirects itself so that every 3xx with a Location counts
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if cfg.CookieJar {
		// cookiejar.New never returns a non-nil error
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client.Jar = jar
	}

	return &Fetcher{
		httpClient: client,
		timeout:    cfg.Timeout,
	}
}

// BuildHeaders returns the request headers shared by every download of a run
func BuildHeaders(cfg model.HTTPConfig) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", cfg.UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	if cfg.Cookie != "" {
		h.Set("Cookie", cfg.Cookie)
	}
	return h
}

// DownloadResult describes a completed download
type DownloadResult struct {
	Path            string
	Bytes           int64
	FinalURL        string
	ContentType     string
	ContentEncoding string // Non-empty when the body was stored compressed
}

// Download fetches rawURL and streams the body into dest.
// Any 3xx response with a Location header is followed, up to MaxRedirects hops.
// The timeout covers the whole chain and the body. dest must not exist; on any failure
// after it was created it is removed again.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string, headers http.Header) (*DownloadResult, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	origin, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	target := origin
	var resp *http.Response
	for hops := 0; ; hops++ {
		resp, err = f.get(ctx, target, redirectHeaders(headers, origin, target))
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode > 399 || location == "" {
			break
		}
		discard(resp)

		if hops >= MaxRedirects {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrTooManyRedirects)
		}
		next, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("fetch: bad redirect location %q: %w", location, err)
		}
		target = resp.Request.URL.ResolveReference(next)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return nil, &StatusError{URL: resp.Request.URL.String(), Code: resp.StatusCode}
	}

	written, err := stream(resp.Body, dest)
	if err != nil {
		return nil, err
	}

	return &DownloadResult{
		Path:            dest,
		Bytes:           written,
		FinalURL:        resp.Request.URL.String(),
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
	}, nil
}

// get sends one GET without following redirects
func (f *Fetcher) get(ctx context.Context, target *url.URL, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = headers

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("fetch: timeout after %s: %w", f.timeout, err)
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

// redirectHeaders returns the headers for a request to target. The configured Cookie is
// only sent to the origin host and its subdomains; cookies the jar collected still apply.
func redirectHeaders(headers http.Header, origin, target *url.URL) http.Header {
	h := headers.Clone()
	if !sameSite(origin, target) {
		h.Del("Cookie")
	}
	return h
}

// sameSite reports whether target's host is origin's host or a subdomain of it
func sameSite(origin, target *url.URL) bool {
	o := strings.ToLower(origin.Hostname())
	t := strings.ToLower(target.Hostname())
	return t == o || strings.HasSuffix(t, "."+o)
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
}

func discard(resp *http.Response) {
	drain(resp.Body)
	_ = resp.Body.Close()
}

// stream copies body into a newly created dest, removing dest if anything fails
func stream(body io.Reader, dest string) (int64, error) {
	out, err := createFunc(dest)
	if err != nil {
		return 0, &WriteError{Path: dest, Err: err}
	}

	w := &trackingWriter{w: out}
	written, copyErr := io.Copy(w, body)
	closeErr := out.Close()

	switch {
	case w.err != nil:
		_ = removeFunc(dest)
		return written, &WriteError{Path: dest, Err: w.err}
	case copyErr != nil:
		_ = removeFunc(dest)
		if IsTimeout(copyErr) {
			return written, fmt.Errorf("read body: timeout: %w", copyErr)
		}
		return written, fmt.Errorf("read body: %w", copyErr)
	case closeErr != nil:
		_ = removeFunc(dest)
		return written, &WriteError{Path: dest, Err: closeErr}
	}

	return written, nil
}

// trackingWriter remembers write errors so they can be told apart from body read errors
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}
