// Package proxy implements the proxy URL grammar and the rotating proxy pool
// used by the network fabric.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidFormat       = errors.New("invalid proxy format")
	ErrUnsupportedProtocol = errors.New("unsupported proxy protocol")
	ErrMissingHost         = errors.New("missing proxy host")
	ErrInvalidPort         = errors.New("invalid proxy port")
)

const (
	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSocks5 = "socks5"
)

var defaultPorts = map[string]int{
	ProtocolHTTP:   80,
	ProtocolHTTPS:  443,
	ProtocolSocks5: 1080,
}

// Descriptor is one parsed proxy endpoint. Credentials are stored URL-decoded
// and re-encoded on reconstruction. Descriptors are immutable after parse.
type Descriptor struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
}

// Parse validates and decomposes a proxy URL of form
// `proto://[user[:pass]@]host:port`.
func Parse(rawURL string) (*Descriptor, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingHost, rawURL)
	}

	port := defaultPorts[scheme]
	if portStr := parsed.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPort, portStr)
		}
	}

	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	desc := &Descriptor{
		Protocol: scheme,
		Host:     host,
		Port:     port,
	}

	if user := parsed.User; user != nil {
		desc.Username = user.Username()
		desc.Password, _ = user.Password()
	}

	return desc, nil
}

// Validate reports whether the string parses as a well formed proxy URL with
// supported protocol, non-empty host and port inside [1, 65535].
func Validate(rawURL string) bool {
	_, err := Parse(rawURL)
	return err == nil
}

// URL reconstructs the canonical proxy URL with credentials URL-encoded.
func (desc *Descriptor) URL() string {
	builder := strings.Builder{}
	builder.WriteString(desc.Protocol)
	builder.WriteString("://")

	if desc.Username != "" {
		// userinfo escaping differs from query escaping, a space must become
		// %20 rather than + to survive a re-parse
		user := url.User(desc.Username)
		if desc.Password != "" {
			user = url.UserPassword(desc.Username, desc.Password)
		}
		builder.WriteString(user.String())
		builder.WriteString("@")
	}

	builder.WriteString(desc.Host)
	builder.WriteString(":")
	builder.WriteString(strconv.Itoa(desc.Port))

	return builder.String()
}

// Addr returns the host:port pair of this endpoint.
func (desc *Descriptor) Addr() string {
	return fmt.Sprintf("%s:%d", desc.Host, desc.Port)
}

// HasAuth reports whether the descriptor carries credentials.
func (desc *Descriptor) HasAuth() bool {
	return desc.Username != ""
}

var credentialPatt = regexp.MustCompile(`//[^/@]+@`)

// SanitizeForDisplay strips credentials from a proxy URL for logging. When the
// URL does not parse, any `//...@` run is masked instead.
func SanitizeForDisplay(rawURL string) string {
	desc, err := Parse(rawURL)
	if err != nil {
		return credentialPatt.ReplaceAllString(rawURL, "//***@")
	}

	stripped := *desc
	stripped.Username = ""
	stripped.Password = ""

	return stripped.URL()
}
