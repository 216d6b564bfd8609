package network

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidURL marks target URLs that do not parse or use a scheme other
	// than http(s).
	ErrInvalidURL = errors.New("invalid URL")
	// ErrRateLimited is returned when the upstream keeps answering 429 past
	// the rate limit retry budget.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-2xx, non-429 HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", err.Code, err.Status)
}

// TransportError wraps a connection, TLS or read failure.
type TransportError struct {
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// TimeoutError marks an attempt whose per-attempt deadline elapsed.
type TimeoutError struct {
	URL string
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %s", err.URL)
}

// ProxyErrorKind categorizes per-proxy failures.
type ProxyErrorKind int

const (
	ProxyErrConnection ProxyErrorKind = iota
	ProxyErrAuth
	ProxyErrTimeout
)

func (kind ProxyErrorKind) String() string {
	switch kind {
	case ProxyErrConnection:
		return "connection"
	case ProxyErrAuth:
		return "authentication"
	case ProxyErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ProxyError is a failure of one proxy attempt, carrying the endpoint it
// happened on.
type ProxyError struct {
	Kind ProxyErrorKind
	Host string
	Port int
	Err  error
}

func (err *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s error at %s:%d: %s", err.Kind, err.Host, err.Port, err.Err)
}

func (err *ProxyError) Unwrap() error {
	return err.Err
}

// AllProxiesFailedError is raised after every descriptor of the pool has been
// tried without success.
type AllProxiesFailedError struct {
	Count    int
	LastKind ProxyErrorKind
	LastErr  error
}

func (err *AllProxiesFailedError) Error() string {
	return fmt.Sprintf("all %d proxies failed, last error kind %s: %s", err.Count, err.LastKind, err.LastErr)
}

func (err *AllProxiesFailedError) Unwrap() error {
	return err.LastErr
}

// categorizeProxyError derives a ProxyError from a raw transport failure by
// inspecting its message.
func categorizeProxyError(host string, port int, err error) *ProxyError {
	msg := strings.ToLower(err.Error())

	kind := ProxyErrConnection
	switch {
	case strings.Contains(msg, "407") || strings.Contains(msg, "authentication"):
		kind = ProxyErrAuth
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "aborted") ||
		strings.Contains(msg, "deadline exceeded"):
		kind = ProxyErrTimeout
	case strings.Contains(msg, "econnrefused") ||
		strings.Contains(msg, "enotfound") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host"):
		kind = ProxyErrConnection
	}

	return &ProxyError{
		Kind: kind,
		Host: host,
		Port: port,
		Err:  err,
	}
}
