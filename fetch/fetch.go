// Package fetch implements the concurrent HTTP fetch engine: connection
// pooling with per-host and total caps, conditional GET, response size
// capping at the last complete item boundary, streaming UTF-8 validation,
// and completion-order delivery via a callback.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind classifies the outcome of a single fetch.
type Kind int

const (
	Success Kind = iota
	NotModified
	HttpError
	Failed
)

// FailureReason further classifies Failed/HttpError outcomes, matching the
// error taxonomy used across the core.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonNetworkError
	ReasonInvalidUtf8
	ReasonInvalidContentType
	ReasonInvalidUrl
	ReasonHttpError
	ReasonFileTooLarge
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "NetworkError"
	case ReasonInvalidUtf8:
		return "InvalidUtf8"
	case ReasonInvalidContentType:
		return "HttpError"
	case ReasonInvalidUrl:
		return "InvalidUrl"
	case ReasonHttpError:
		return "HttpError"
	case ReasonFileTooLarge:
		return "FileTooLarge"
	default:
		return "none"
	}
}

// Result is the outcome of fetching a single feed.
type Result struct {
	Index        int
	Kind         Kind
	Body         []byte
	Truncated    bool
	ETag         string
	LastModified string
	StatusCode   int
	Reason       FailureReason
	Err          error
}

// Request describes one feed to fetch.
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

// Config carries the network knobs from global configuration.
type Config struct {
	UserAgent           string
	MaxFeedSizeBytes    int64
	MaxTotalConnections int
	MaxPerHostConns     int
	ConnectTimeout      time.Duration
	TotalTimeout        time.Duration
	MaxRedirects        int
	EnforceContentType  bool
}

func DefaultConfig() Config {
	return Config{
		UserAgent:           "hys-rss/1.0",
		MaxFeedSizeBytes:    int64(0.2 * 1024 * 1024),
		MaxTotalConnections: 50,
		MaxPerHostConns:     6,
		ConnectTimeout:      10 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxRedirects:        10,
		EnforceContentType:  true,
	}
}

var allowedContentTypePrefixes = []string{
	"application/rss", "application/atom", "application/xml", "application/json",
	"text/xml", "text/rss", "text/atom",
}

// Batch fetches every request in parallel, bounded by Config's connection
// caps, and invokes onComplete as each transfer finishes (completion
// order, not input order).
type Batch struct {
	cfg    Config
	client *http.Client
	sem    *semaphore.Weighted
}

func NewBatch(cfg Config) *Batch {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxPerHostConns,
		MaxIdleConnsPerHost: cfg.MaxPerHostConns,
		MaxIdleConns:        cfg.MaxTotalConnections,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	// Enable HTTP/2 with multiplexing explicitly rather than relying on
	// the implicit upgrade http.Transport performs for https targets.
	_ = http2.ConfigureTransport(transport)

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("fetch: stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}

	return &Batch{
		cfg:    cfg,
		client: client,
		sem:    semaphore.NewWeighted(int64(cfg.MaxTotalConnections)),
	}
}

// Run fetches every request concurrently and calls onComplete once per
// result as soon as it is ready.
func (b *Batch) Run(ctx context.Context, requests []Request, onComplete func(Result)) {
	done := make(chan struct{}, len(requests))
	for i, req := range requests {
		i, req := i, req
		go func() {
			defer func() { done <- struct{}{} }()
			if err := b.sem.Acquire(ctx, 1); err != nil {
				onComplete(Result{Index: i, Kind: Failed, Reason: ReasonNetworkError, Err: err})
				return
			}
			defer b.sem.Release(1)
			onComplete(b.fetchOne(ctx, i, req))
		}()
	}
	for range requests {
		<-done
	}
}

func (b *Batch) fetchOne(ctx context.Context, index int, req Request) Result {
	if !validURL(req.URL) {
		return Result{Index: index, Kind: Failed, Reason: ReasonInvalidUrl, Err: fmt.Errorf("fetch: invalid url %q", req.URL)}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.TotalTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{Index: index, Kind: Failed, Reason: ReasonInvalidUrl, Err: err}
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, br")
	httpReq.Header.Set("User-Agent", b.cfg.UserAgent)
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{Index: index, Kind: Failed, Reason: ReasonNetworkError, Err: err}
	}
	defer resp.Body.Close()

	etag := headerFold(resp.Header, "ETag")
	lastMod := headerFold(resp.Header, "Last-Modified")

	if resp.StatusCode == http.StatusNotModified {
		return Result{Index: index, Kind: NotModified, ETag: etag, LastModified: lastMod, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return Result{Index: index, Kind: HttpError, StatusCode: resp.StatusCode, Reason: ReasonHttpError,
			Err: fmt.Errorf("fetch: http status %d", resp.StatusCode)}
	}

	if b.cfg.EnforceContentType {
		if ct := resp.Header.Get("Content-Type"); ct != "" && !contentTypeAllowed(ct) {
			return Result{Index: index, Kind: HttpError, StatusCode: resp.StatusCode, Reason: ReasonInvalidContentType,
				Err: fmt.Errorf("fetch: disallowed content-type %q", ct)}
		}
	}

	body, err := decompressingReader(resp)
	if err != nil {
		return Result{Index: index, Kind: Failed, Reason: ReasonNetworkError, Err: err}
	}

	buf, truncated, err := readCapped(body, b.cfg.MaxFeedSizeBytes)
	if err != nil {
		if err == errInvalidUTF8 {
			return Result{Index: index, Kind: Failed, Reason: ReasonInvalidUtf8, Err: err}
		}
		return Result{Index: index, Kind: Failed, Reason: ReasonNetworkError, Err: err}
	}
	if len(buf) == 0 {
		if truncated {
			return Result{Index: index, Kind: Failed, Reason: ReasonFileTooLarge,
				Err: fmt.Errorf("fetch: response exceeded %d bytes before a complete item boundary", b.cfg.MaxFeedSizeBytes)}
		}
		return Result{Index: index, Kind: Failed, Reason: ReasonNetworkError, Err: fmt.Errorf("fetch: empty body on 2xx response")}
	}

	return Result{
		Index: index, Kind: Success, Body: buf, Truncated: truncated,
		ETag: etag, LastModified: lastMod, StatusCode: resp.StatusCode,
	}
}

func decompressingReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

func headerFold(h http.Header, key string) string {
	return h.Get(key)
}

func validURL(u string) bool {
	if u == "" || strings.ContainsAny(u, " \t\r\n") {
		return false
	}
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func contentTypeAllowed(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	for _, prefix := range allowedContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

var errInvalidUTF8 = fmt.Errorf("fetch: invalid utf-8 sequence")

// readCapped reads from r up to maxBytes, validating UTF-8 as a stream via
// golang.org/x/text's UTF8Validator (carrying incomplete trailing
// multi-byte sequences across chunk reads), and on hitting the cap
// truncates at the last complete </item> or </entry> boundary so the
// parser never sees a half-item.
func readCapped(r io.Reader, maxBytes int64) (buf []byte, truncated bool, err error) {
	chunk := make([]byte, 32*1024)
	var out bytes.Buffer
	var pending []byte // incomplete trailing UTF-8 bytes carried to the next read

	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			data := append(pending, chunk[:n]...)
			complete, tail, verr := validateUTF8Chunk(data, false)
			if verr != nil {
				return nil, false, errInvalidUTF8
			}
			out.Write(complete)
			pending = tail

			if int64(out.Len()) >= maxBytes {
				truncatedBuf := truncateAtItemBoundary(out.Bytes()[:maxBytes])
				return truncatedBuf, true, nil
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, false, readErr
		}
	}
	if len(pending) > 0 {
		if _, _, verr := validateUTF8Chunk(pending, true); verr != nil {
			return nil, false, errInvalidUTF8
		}
		out.Write(pending)
	}
	return out.Bytes(), false, nil
}

// validateUTF8Chunk runs data through unicode.UTF8Validator, returning the
// maximal validated prefix and any trailing bytes that form an incomplete
// (but not yet known-invalid) sequence. At atEOF, a short trailing
// sequence is itself an error.
func validateUTF8Chunk(data []byte, atEOF bool) (complete, tail []byte, err error) {
	dst := make([]byte, len(data))
	_, nSrc, terr := unicode.UTF8Validator.Transform(dst, data, atEOF)
	if terr == transform.ErrShortSrc && !atEOF {
		return data[:nSrc], data[nSrc:], nil
	}
	if terr != nil {
		return nil, nil, errInvalidUTF8
	}
	return data[:nSrc], nil, nil
}

// truncateAtItemBoundary trims buf to end right after the last complete
// </item> or </entry> close tag, so the downstream parser never sees a
// half-written item.
func truncateAtItemBoundary(buf []byte) []byte {
	lower := bytes.ToLower(buf)
	bestEnd := -1
	for _, marker := range [][]byte{[]byte("</item>"), []byte("</entry>")} {
		if idx := bytes.LastIndex(lower, marker); idx != -1 {
			end := idx + len(marker)
			if end > bestEnd {
				bestEnd = end
			}
		}
	}
	if bestEnd == -1 {
		return nil
	}
	return buf[:bestEnd]
}
