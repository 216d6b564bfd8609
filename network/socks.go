package network

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	hakoproxy "github.com/hako-dl/hako-dl/proxy"
	"golang.org/x/net/proxy"
)

// fetchViaSocks5 tunnels one GET exchange through a SOCKS5 proxy. The HTTP
// proxy transport and the SOCKS dialer have different shapes, so the request
// is framed by hand: CONNECT to the target, optional TLS wrap with the target
// hostname as SNI, one HTTP/1.1 GET, then read to EOF and parse the raw
// response.
func (f *Fabric) fetchViaSocks5(desc *hakoproxy.Descriptor, targetURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, targetURL)
	}

	port := target.Port()
	if port == "" {
		if target.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	var auth *proxy.Auth
	if desc.HasAuth() {
		auth = &proxy.Auth{
			User:     desc.Username,
			Password: desc.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", desc.Addr(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %s", desc.Addr(), err)
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(target.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connect failed: %s", err)
	}
	defer conn.Close()

	// one deadline covers tunnel setup, TLS handshake and the HTTP exchange
	if err = conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %s", err)
	}

	stream := conn
	if target.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: target.Hostname()})
		if err = tlsConn.Handshake(); err != nil {
			return nil, fmt.Errorf("TLS handshake failed: %s", err)
		}

		stream = tlsConn
	}

	if err = writeTunneledRequest(stream, target, headers); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(stream)
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("failed to read tunneled response: %s", err)
	}

	return parseRawResponse(raw)
}

// writeTunneledRequest emits a minimal HTTP/1.1 GET for the target path.
func writeTunneledRequest(conn io.Writer, target *url.URL, headers map[string]string) error {
	path := target.Path
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("GET %s HTTP/1.1\r\n", path))
	builder.WriteString(fmt.Sprintf("Host: %s\r\n", target.Host))
	for name, value := range headers {
		if strings.EqualFold(name, "Host") {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s\r\n", name, value))
	}
	builder.WriteString("Connection: close\r\n\r\n")

	if _, err := io.WriteString(conn, builder.String()); err != nil {
		return fmt.Errorf("failed to write tunneled request: %s", err)
	}

	return nil
}

// parseRawResponse splits a raw HTTP/1.1 byte stream into status line, headers
// and body.
func parseRawResponse(raw []byte) (*Response, error) {
	parts := strings.SplitN(string(raw), "\r\n\r\n", 2)
	head := parts[0]
	body := ""
	if len(parts) == 2 {
		body = parts[1]
	}

	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty tunneled response")
	}

	statusFields := strings.SplitN(lines[0], " ", 3)
	if len(statusFields) < 2 || !strings.HasPrefix(statusFields[0], "HTTP/") {
		return nil, fmt.Errorf("malformed status line: %s", lines[0])
	}

	code, err := strconv.Atoi(statusFields[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code: %s", statusFields[1])
	}

	statusText := http.StatusText(code)
	if len(statusFields) == 3 {
		statusText = statusFields[2]
	}

	header := http.Header{}
	if len(lines) > 1 {
		reader := textproto.NewReader(bufio.NewReader(strings.NewReader(strings.Join(lines[1:], "\r\n") + "\r\n\r\n")))
		if mimeHeader, err := reader.ReadMIMEHeader(); err == nil || err == io.EOF {
			header = http.Header(mimeHeader)
		}
	}

	bodyBytes := []byte(body)
	if strings.EqualFold(header.Get("Transfer-Encoding"), "chunked") {
		if decoded, err := decodeChunkedBody(bodyBytes); err == nil {
			bodyBytes = decoded
		}
	}

	if decoded, err := DecompressBody(header.Get("Content-Encoding"), bodyBytes); err == nil {
		bodyBytes = decoded
	}

	return &Response{
		StatusCode: code,
		Status:     fmt.Sprintf("%d %s", code, statusText),
		Headers:    header,
		Body:       bodyBytes,
	}, nil
}

// decodeChunkedBody undoes HTTP/1.1 chunked transfer encoding.
func decodeChunkedBody(body []byte) ([]byte, error) {
	reader := bufio.NewReader(strings.NewReader(string(body)))
	result := []byte{}

	for {
		sizeLine, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		sizeLine = strings.TrimSpace(sizeLine)
		if sizeLine == "" {
			continue
		}

		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk size: %s", sizeLine)
		}
		if size == 0 {
			break
		}

		chunk := make([]byte, size)
		if _, err = io.ReadFull(reader, chunk); err != nil {
			return nil, fmt.Errorf("truncated chunk: %s", err)
		}

		result = append(result, chunk...)
	}

	return result, nil
}
