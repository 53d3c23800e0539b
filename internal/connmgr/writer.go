package connmgr

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/titan-gateway/titan/internal/domain"
)

var statusText = map[int]string{
	200: "OK", 201: "Created", 204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 413: "Payload Too Large",
	429: "Too Many Requests",
	500: "Internal Server Error", 502: "Bad Gateway", 503: "Service Unavailable",
	504: "Gateway Timeout",
	101: "Switching Protocols",
}

func reasonPhrase(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown"
}

// WriteResponse serializes resp onto w as an HTTP/1.1 message, owning
// Content-Length and Connection itself (spec §4.1, mirroring the wire
// discipline internal/middleware/proxy.go's writeRequest applies on the
// backend leg). keepAlive controls which Connection value is emitted; the
// HTTP/1.1 serve loop passes true only when the parsed request allows
// keep-alive and the status is below 500.
func WriteResponse(w io.Writer, resp *domain.Response, keepAlive bool) error {
	var buf []byte
	buf = append(buf, fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.StatusCode, reasonPhrase(resp.StatusCode))...)

	for _, h := range resp.Headers {
		if domain.IsHopByHop(h.Name) {
			continue
		}
		buf = append(buf, h.Name...)
		buf = append(buf, ": "...)
		buf = append(buf, h.Value...)
		buf = append(buf, "\r\n"...)
	}

	if _, ok := resp.Headers.Get("Content-Length"); !ok {
		buf = append(buf, "Content-Length: "...)
		buf = append(buf, strconv.Itoa(len(resp.Body))...)
		buf = append(buf, "\r\n"...)
	}

	if keepAlive {
		buf = append(buf, "Connection: keep-alive\r\n"...)
	} else {
		buf = append(buf, "Connection: close\r\n"...)
	}
	buf = append(buf, "Date: "...)
	buf = append(buf, time.Now().UTC().Format(time.RFC1123)...)
	buf = append(buf, "\r\n\r\n"...)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		_, err := w.Write(resp.Body)
		return err
	}
	return nil
}
