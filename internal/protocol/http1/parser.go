// Package http1 implements the incremental HTTP/1.1 parser of spec §4.2:
// request-line, headers and body are parsed from a streaming buffer without
// re-validating bytes already scanned. The resulting request holds its own
// copies of the method, path, headers and body, independent of the caller's
// buffer.
package http1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/titan-gateway/titan/internal/domain"
)

type Result uint8

const (
	Incomplete Result = iota
	Complete
	Error
)

type stage uint8

const (
	stageRequestLine stage = iota
	stageHeaders
	stageBody
	stageChunkSize
	stageChunkData
	stageChunkTrailer
	stageDone
)

const (
	// MaxRequestLine and MaxHeaderLine bound a single line to prevent an
	// unbounded scan on a client that never sends a line terminator.
	MaxRequestLine = 8 * 1024
	MaxHeaderLine  = 16 * 1024
	MaxHeaderCount = 200
)

// ParseError carries the byte offset of the failure (spec §4.2, §8).
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("http1: parse error at offset %d: %s", e.Offset, e.Reason)
}

// Parser is reusable: call Reset after a Complete result before parsing the
// next pipelined request on the same connection (spec §4.2).
type Parser struct {
	stage   stage
	req     domain.Request
	scanPos int

	contentLength int
	haveLength    bool
	chunked       bool
	chunkRemain   int
	bodyBuf       []byte
}

func New() *Parser { return &Parser{} }

func (p *Parser) Reset() {
	*p = Parser{}
}

// Feed is called with the connection's full unconsumed buffer (same start
// each call, only growing at the tail as more bytes arrive). Internally the
// parser resumes from scanPos so it never re-validates bytes it already
// scanned, satisfying spec §9's "continues from where it stopped without
// re-seeing previously-consumed bytes" contract.
func (p *Parser) Feed(buf []byte) (Result, int, *domain.Request, error) {
	for {
		switch p.stage {
		case stageRequestLine:
			line, end, ok := nextLine(buf, p.scanPos, MaxRequestLine)
			if !ok {
				if end == -1 {
					return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "request line too long"}
				}
				return Incomplete, 0, nil, nil
			}
			if err := p.parseRequestLine(line); err != nil {
				return Error, 0, nil, err
			}
			p.scanPos = end
			p.stage = stageHeaders

		case stageHeaders:
			if bytes.HasPrefix(buf[p.scanPos:], []byte("\r\n")) {
				p.scanPos += 2
				if err := p.finishHeaders(); err != nil {
					return Error, 0, nil, err
				}
				continue
			}
			line, end, ok := nextLine(buf, p.scanPos, MaxHeaderLine)
			if !ok {
				if end == -1 {
					return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "header line too long"}
				}
				return Incomplete, 0, nil, nil
			}
			if len(p.req.Headers) >= MaxHeaderCount {
				return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "too many headers"}
			}
			name, value, err := parseHeaderLine(line)
			if err != nil {
				return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: err.Error()}
			}
			p.req.Headers.Add(name, value)
			p.scanPos = end

		case stageBody:
			need := p.contentLength
			if len(buf)-p.scanPos < need {
				return Incomplete, 0, nil, nil
			}
			p.req.Body = append([]byte(nil), buf[p.scanPos:p.scanPos+need]...)
			p.scanPos += need
			p.stage = stageDone
			return p.complete()

		case stageChunkSize:
			line, end, ok := nextLine(buf, p.scanPos, 64)
			if !ok {
				if end == -1 {
					return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "chunk size line too long"}
				}
				return Incomplete, 0, nil, nil
			}
			sizeStr := string(line)
			if i := strings.IndexByte(sizeStr, ';'); i >= 0 {
				sizeStr = sizeStr[:i]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
			if err != nil || size < 0 {
				return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "invalid chunk size"}
			}
			p.scanPos = end
			if size == 0 {
				p.stage = stageChunkTrailer
				continue
			}
			p.chunkRemain = int(size)
			p.stage = stageChunkData

		case stageChunkData:
			if len(buf)-p.scanPos < p.chunkRemain+2 {
				return Incomplete, 0, nil, nil
			}
			p.bodyBuf = append(p.bodyBuf, buf[p.scanPos:p.scanPos+p.chunkRemain]...)
			p.scanPos += p.chunkRemain
			if !bytes.HasPrefix(buf[p.scanPos:], []byte("\r\n")) {
				return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "missing chunk terminator"}
			}
			p.scanPos += 2
			p.stage = stageChunkSize

		case stageChunkTrailer:
			if bytes.HasPrefix(buf[p.scanPos:], []byte("\r\n")) {
				p.scanPos += 2
				p.req.Body = p.bodyBuf
				p.stage = stageDone
				return p.complete()
			}
			line, end, ok := nextLine(buf, p.scanPos, MaxHeaderLine)
			if !ok {
				if end == -1 {
					return Error, 0, nil, &ParseError{Offset: p.scanPos, Reason: "trailer line too long"}
				}
				return Incomplete, 0, nil, nil
			}
			_ = line
			p.scanPos = end

		case stageDone:
			return p.complete()
		}
	}
}

func (p *Parser) complete() (Result, int, *domain.Request, error) {
	req := p.req
	return Complete, p.scanPos, &req, nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return &ParseError{Offset: 0, Reason: "malformed request line"}
	}
	method, uri, version := string(parts[0]), string(parts[1]), string(parts[2])
	if method == "" || uri == "" {
		return &ParseError{Offset: 0, Reason: "empty method or uri"}
	}
	if !strings.HasPrefix(version, "HTTP/1.") {
		return &ParseError{Offset: 0, Reason: "unsupported version"}
	}
	path, query := uri, ""
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		path, query = uri[:i], uri[i+1:]
	}
	p.req.Method = method
	p.req.Path = path
	p.req.Query = query
	p.req.Version = version
	return nil
}

func (p *Parser) finishHeaders() error {
	if cl, ok := p.req.Headers.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return &ParseError{Offset: p.scanPos, Reason: "invalid content-length"}
		}
		p.contentLength = n
		p.haveLength = true
	}

	if te, ok := p.req.Headers.Get("Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		p.chunked = true
	}

	p.req.KeepAlive = inferKeepAlive(p.req.Version, p.req.Headers)

	switch {
	case p.chunked:
		p.stage = stageChunkSize
	case p.haveLength && p.contentLength > 0:
		p.stage = stageBody
	default:
		p.stage = stageDone
	}
	return nil
}

// inferKeepAlive implements spec §4.2's default rules: HTTP/1.1 defaults to
// keep-alive unless Connection: close; HTTP/1.0 defaults to close unless
// Connection: keep-alive.
func inferKeepAlive(version string, headers domain.Headers) bool {
	conn, has := headers.Get("Connection")
	conn = strings.TrimSpace(conn)
	if version == "HTTP/1.0" {
		return has && domain.EqualFold(conn, "keep-alive")
	}
	if has && domain.EqualFold(conn, "close") {
		return false
	}
	return true
}

// nextLine scans buf[from:] for a CRLF-terminated line, returning the line
// content (without CRLF), the index just past the CRLF, and ok=true. If no
// CRLF is found yet but the scanned span is within limit, ok=false with
// end=-2 (meaning "incomplete, more data needed"); if the span exceeds
// limit without a terminator, end=-1 signals a protocol error.
func nextLine(buf []byte, from, limit int) ([]byte, int, bool) {
	idx := bytes.Index(buf[from:], []byte("\r\n"))
	if idx == -1 {
		if len(buf)-from > limit {
			return nil, -1, false
		}
		return nil, -2, false
	}
	if idx > limit {
		return nil, -1, false
	}
	return buf[from : from+idx], from + idx + 2, true
}

func parseHeaderLine(line []byte) (string, string, error) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", fmt.Errorf("malformed header line")
	}
	name := string(bytes.TrimSpace(line[:idx]))
	value := string(bytes.TrimSpace(line[idx+1:]))
	if name == "" {
		return "", "", fmt.Errorf("empty header name")
	}
	return name, value, nil
}
