// Package network implements the serialized fetch fabric used by every other
// component: retrying fetches with exponential backoff, 429 back-pressure,
// domain rotation over the interchangeable Hako host lists, anti-ban pacing
// and optional proxy pool failover.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/proxy"
)

// Interchangeable front-end hostnames, preferred host first.
var DefaultDomains = []string{"docln.net", "ln.hako.vn", "docln.sbs"}

// Image hosting hostnames.
var DefaultImageDomains = []string{
	"i.hako.vip",
	"i.docln.net",
	"ln.hako.vn",
	"i2.docln.net",
	"i2.hako.vip",
}

const (
	DefaultTimeout           = 30 * time.Second
	DefaultAntiBanInterval   = 100
	DefaultAntiBanPause      = 30 * time.Second
	DefaultMaxRetry          = 3
	DefaultMaxRateLimitRetry = 5
)

// DefaultHeaders returns the static header set sent with every request.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Referer":         "https://" + DefaultDomains[0] + "/",
		"Accept-Encoding": "gzip, deflate, br, zstd",
	}
}

// Config carries all tunable constants of a fabric instance. Tests inject
// small intervals and a fake clock through this struct.
type Config struct {
	Domains      []string
	ImageDomains []string
	Headers      map[string]string

	Timeout           time.Duration
	AntiBanInterval   int
	AntiBanPause      time.Duration
	MaxRetry          int
	MaxRateLimitRetry int

	Pool *proxy.Pool

	// Sleep is the pause primitive used for anti-ban, 429 and backoff waits.
	// Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig returns a config with production constants and no proxy pool.
func DefaultConfig() Config {
	return Config{
		Domains:           DefaultDomains,
		ImageDomains:      DefaultImageDomains,
		Headers:           DefaultHeaders(),
		Timeout:           DefaultTimeout,
		AntiBanInterval:   DefaultAntiBanInterval,
		AntiBanPause:      DefaultAntiBanPause,
		MaxRetry:          DefaultMaxRetry,
		MaxRateLimitRetry: DefaultMaxRateLimitRetry,
	}
}

// Response is the parsed result of one completed exchange. Body carries the
// decoded bytes, except for streaming fetches where stream holds the undrained
// reader instead.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte

	stream io.ReadCloser
}

// IsSuccess reports whether status code is in the 2xx range.
func (resp *Response) IsSuccess() bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Fabric is one acquisition session. The request counter driving anti-ban
// pacing is local to an instance, new instances start from zero.
type Fabric struct {
	cfg    Config
	client *http.Client

	requestCount int
}

// New builds a fabric from given config, filling zero values with defaults.
func New(cfg Config) *Fabric {
	if cfg.Domains == nil {
		cfg.Domains = DefaultDomains
	}
	if cfg.ImageDomains == nil {
		cfg.ImageDomains = DefaultImageDomains
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	cfg.Timeout = common.GetDurationOr(cfg.Timeout, DefaultTimeout)
	cfg.AntiBanInterval = common.GetIntOr(cfg.AntiBanInterval, DefaultAntiBanInterval)
	if cfg.AntiBanPause == 0 {
		cfg.AntiBanPause = DefaultAntiBanPause
	}
	cfg.MaxRetry = common.GetIntOr(cfg.MaxRetry, DefaultMaxRetry)
	cfg.MaxRateLimitRetry = common.GetIntOr(cfg.MaxRateLimitRetry, DefaultMaxRateLimitRetry)
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	return &Fabric{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// RequestCount returns number of network calls issued so far.
func (f *Fabric) RequestCount() int {
	return f.requestCount
}

// ResetCount sets the request counter back to zero.
func (f *Fabric) ResetCount() {
	f.requestCount = 0
}

// HasProxy reports whether a proxy pool is configured.
func (f *Fabric) HasProxy() bool {
	return f.cfg.Pool != nil
}

// ProxyCount returns size of the configured pool, zero without one.
func (f *Fabric) ProxyCount() int {
	if f.cfg.Pool == nil {
		return 0
	}

	return f.cfg.Pool.Size()
}

// IsInternal reports whether the URL's host belongs to the front-end or image
// host lists, either exactly or as a subdomain.
func (f *Fabric) IsInternal(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := parsed.Hostname()
	for _, domain := range f.cfg.Domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	for _, domain := range f.cfg.ImageDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}

	return false
}

// normalizeURL patches scheme-less URLs found in page markup so they can be
// fetched directly.
func normalizeURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	if !strings.HasPrefix(rawURL, "http") {
		return "https://" + rawURL
	}

	return rawURL
}

// FetchWithRetry fetches the URL with the session timeout. See
// FetchWithTimeout for the retry discipline.
func (f *Fabric) FetchWithRetry(targetURL string, headers map[string]string) (*Response, error) {
	return f.FetchWithTimeout(targetURL, headers, f.cfg.Timeout)
}

// FetchWithTimeout runs the full retry state machine: anti-ban gate, proxy or
// direct dispatch, 429 back-pressure with its own budget, domain rotation for
// internal hosts and exponential backoff between attempts. A response is only
// returned with 2xx status.
func (f *Fabric) FetchWithTimeout(targetURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	return f.fetch(targetURL, headers, timeout, false)
}

func (f *Fabric) fetch(targetURL string, headers map[string]string, timeout time.Duration, stream bool) (*Response, error) {
	targetURL = normalizeURL(targetURL)

	parsed, err := url.Parse(targetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, targetURL)
	}

	merged := f.mergeHeaders(headers)

	if f.requestCount > 0 && f.requestCount%f.cfg.AntiBanInterval == 0 {
		log.Infof("anti-ban: pausing for %s", f.cfg.AntiBanPause)
		f.cfg.Sleep(f.cfg.AntiBanPause)
	}

	var lastErr error
	rateLimitHits := 0

retry:
	for attempt := 0; attempt < f.cfg.MaxRetry; attempt++ {
		var resp *Response
		var err error

		if f.cfg.Pool != nil {
			resp, err = f.fetchWithFailover(targetURL, merged, timeout, stream)
		} else {
			resp, err = f.fetchDirect(targetURL, merged, timeout, stream)
			if err == nil {
				f.requestCount++
			}
		}

		switch {
		case err == nil && resp.IsSuccess():
			return resp, nil

		case err == nil && resp.StatusCode == http.StatusTooManyRequests:
			rateLimitHits++
			if rateLimitHits <= f.cfg.MaxRateLimitRetry {
				wait := time.Duration(min(30*rateLimitHits, 120)) * time.Second
				log.Warnf("rate limited (hit %d), waiting %s: %s", rateLimitHits, wait, targetURL)
				f.cfg.Sleep(wait)
				attempt--
				continue
			}

			lastErr = ErrRateLimited
			break retry

		case err == nil:
			if rotated := f.rotateDomains(targetURL, merged, timeout, stream); rotated != nil {
				return rotated, nil
			}
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}

		default:
			if rotated := f.rotateDomains(targetURL, merged, timeout, stream); rotated != nil {
				return rotated, nil
			}
			lastErr = err
		}

		if attempt < f.cfg.MaxRetry-1 {
			f.cfg.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failed to fetch %s", targetURL)
	}

	return nil, lastErr
}

// mergeHeaders overlays caller supplied entries on the base header set.
func (f *Fabric) mergeHeaders(headers map[string]string) map[string]string {
	merged := make(map[string]string, len(f.cfg.Headers)+len(headers))
	for name, value := range f.cfg.Headers {
		merged[name] = value
	}
	for name, value := range headers {
		merged[name] = value
	}

	return merged
}

// fetchDirect issues a single request without proxy, bounded by timeout.
func (f *Fabric) fetchDirect(targetURL string, headers map[string]string, timeout time.Duration, stream bool) (*Response, error) {
	return f.doRequest(f.client, targetURL, headers, timeout, stream)
}

// bodyStream keeps the request context alive until the body is consumed.
type bodyStream struct {
	reader io.Reader
	body   io.Closer
	cancel context.CancelFunc
}

func (s *bodyStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *bodyStream) Close() error {
	s.cancel()
	return s.body.Close()
}

// doRequest issues one exchange. With stream set, a 2xx body is handed back
// undrained through Response.stream and the caller must close it; every other
// outcome is fully buffered.
func (f *Fabric) doRequest(client *http.Client, targetURL string, headers map[string]string, timeout time.Duration, stream bool) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, targetURL)
	}

	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{URL: targetURL}
		}

		return nil, &TransportError{Err: err}
	}

	if stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		decoded, err := DecompressReader(resp.Header.Get("Content-Encoding"), resp.Body)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, &TransportError{Err: err}
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Header,
			stream: &bodyStream{
				reader: decoded,
				body:   resp.Body,
				cancel: cancel,
			},
		}, nil
	}

	defer cancel()
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// rotateDomains retries the request against each sibling host of the URL's
// host list. Used for internal URLs only, and never under a proxy pool since
// the pool is the failover axis there.
func (f *Fabric) rotateDomains(targetURL string, headers map[string]string, timeout time.Duration, stream bool) *Response {
	if f.cfg.Pool != nil || !f.IsInternal(targetURL) {
		return nil
	}

	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil
	}

	host := parsed.Hostname()
	candidates := f.cfg.Domains
	for _, domain := range f.cfg.ImageDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			candidates = f.cfg.ImageDomains
			break
		}
	}

	for _, domain := range candidates {
		if domain == host {
			continue
		}

		rotated := *parsed
		rotated.Host = domain

		log.Debugf("domain rotation: %s -> %s", host, domain)

		f.requestCount++
		resp, err := f.fetchDirect(rotated.String(), headers, timeout, stream)
		if err == nil && resp.IsSuccess() {
			return resp
		}
	}

	return nil
}

// FetchWithFailover walks the proxy pool starting at the rotation cursor and
// tries the request through each descriptor in pool order. Any completed
// exchange is returned regardless of status so the retry state machine can
// classify it; only transport failures continue the walk, and
// AllProxiesFailedError is raised after the whole pool has been exhausted.
func (f *Fabric) FetchWithFailover(targetURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	return f.fetchWithFailover(targetURL, headers, timeout, false)
}

func (f *Fabric) fetchWithFailover(targetURL string, headers map[string]string, timeout time.Duration, stream bool) (*Response, error) {
	pool := f.cfg.Pool

	first := pool.Next()
	firstIndex := 0
	for i, desc := range pool.All() {
		if desc == first {
			firstIndex = i
			break
		}
	}

	var lastErr *ProxyError
	for step := 0; step < pool.Size(); step++ {
		desc := pool.GetAt((firstIndex + step) % pool.Size())

		resp, err := f.fetchThroughProxy(desc, targetURL, headers, timeout, stream)
		if err == nil {
			f.requestCount++
			return resp, nil
		}

		lastErr = categorizeProxyError(desc.Host, desc.Port, err)
		log.Warnf("%s", lastErr)
	}

	return nil, &AllProxiesFailedError{
		Count:    pool.Size(),
		LastKind: lastErr.Kind,
		LastErr:  lastErr,
	}
}

// fetchThroughProxy dispatches one attempt through a single proxy endpoint.
// HTTP(S) proxies go through the standard CONNECT transport, SOCKS5 uses the
// hand-rolled tunnel in socks.go. Status handling is left to the caller, an
// error here always means the exchange itself broke down.
func (f *Fabric) fetchThroughProxy(desc *proxy.Descriptor, targetURL string, headers map[string]string, timeout time.Duration, stream bool) (*Response, error) {
	if desc.Protocol == proxy.ProtocolSocks5 {
		resp, err := f.fetchViaSocks5(desc, targetURL, headers, timeout)
		if err != nil {
			return nil, err
		}
		if stream && resp.IsSuccess() {
			resp.stream = io.NopCloser(bytes.NewReader(resp.Body))
			resp.Body = nil
		}

		return resp, nil
	}

	proxyURL := &url.URL{
		Scheme: desc.Protocol,
		Host:   desc.Addr(),
	}
	if desc.HasAuth() {
		proxyURL.User = url.UserPassword(desc.Username, desc.Password)
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
	}
	client := &http.Client{Transport: transport}

	return f.doRequest(client, targetURL, headers, timeout, stream)
}

// DownloadToFile streams the URL's body into path without buffering it in
// memory. Returns true when the file already exists with non-zero size (no
// network call is made), or when the download and atomic write both succeed.
func (f *Fabric) DownloadToFile(targetURL string, path string) bool {
	if targetURL == "" {
		return false
	}

	if common.FileExistsNonEmpty(path) {
		return true
	}

	resp, err := f.fetch(targetURL, nil, f.cfg.Timeout, true)
	if err != nil {
		log.Warnf("download failed %s: %s", targetURL, err)
		return false
	}
	defer resp.stream.Close()

	if err = common.WriteFileAtomicFrom(path, resp.stream); err != nil {
		log.Warnf("failed to save %s: %s", path, err)
		return false
	}

	return true
}

// readResponseBody drains a response and undoes content encoding when the
// server honored our Accept-Encoding header.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return DecompressBody(resp.Header.Get("Content-Encoding"), body)
}
