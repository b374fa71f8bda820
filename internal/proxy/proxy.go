// Package proxy re-serves allow-listed remote media from the API origin so the
// editor can read it without cross-origin restrictions.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/urlresolve"
)

// DefaultCacheMaxAge is one year
const DefaultCacheMaxAge = 365 * 24 * time.Hour

var (
	// ErrMissingURL is returned when the url parameter is absent
	ErrMissingURL = errors.New("url parameter is required")
	// ErrInvalidURL is returned for URLs that are not absolute http(s)
	ErrInvalidURL = errors.New("url must be an absolute http(s) URL")
	// ErrHostNotAllowed is returned for hosts outside the allow-list
	ErrHostNotAllowed = errors.New("host is not allowed")
)

// Request headers forwarded upstream
var forwardedRequestHeaders = []string{
	"Range",
	"If-Range",
	"If-None-Match",
	"If-Modified-Since",
}

// Response headers copied from upstream
var copiedResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
}

// Config configures the media proxy
type Config struct {
	AllowedHosts    []string
	CacheMaxAge     time.Duration
	UpstreamTimeout time.Duration
}

// Handler serves GET, HEAD and OPTIONS on the proxy path
type Handler struct {
	allow        *AllowList
	client       *http.Client
	cacheControl string
	logger       *logging.Logger
}

// NewHandler creates a proxy handler. A zero UpstreamTimeout leaves the
// upstream transfer bounded only by the client request context.
func NewHandler(cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	maxAge := cfg.CacheMaxAge
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.UpstreamTimeout

	h := &Handler{
		allow:        NewAllowList(cfg.AllowedHosts),
		cacheControl: fmt.Sprintf("public, max-age=%d, immutable", int64(maxAge.Seconds())),
		logger:       logger,
	}
	h.client = &http.Client{Transport: transport, CheckRedirect: h.checkRedirect}
	return h
}

// maxRedirects matches the net/http default
const maxRedirects = 10

// checkRedirect applies the allow-list to every hop
func (h *Handler) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return ErrInvalidURL
	}
	if !h.allow.Allowed(req.URL.Host) {
		return fmt.Errorf("%w: redirect to %s", ErrHostNotAllowed, req.URL.Hostname())
	}
	return nil
}

// Register mounts the handler on the proxy path
func (h *Handler) Register(r gin.IRoutes, middleware ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, middleware...), h.Serve)
	r.GET(urlresolve.ProxyPath, handlers...)
	r.HEAD(urlresolve.ProxyPath, handlers...)
	r.OPTIONS(urlresolve.ProxyPath, h.Preflight)
}

// Preflight answers CORS preflight requests
func (h *Handler) Preflight(c *gin.Context) {
	setCORSHeaders(c.Writer.Header())
	c.Header("Access-Control-Max-Age", "86400")
	c.Status(http.StatusNoContent)
}

// Serve streams the upstream resource named by the url query parameter
func (h *Handler) Serve(c *gin.Context) {
	start := time.Now()
	setCORSHeaders(c.Writer.Header())

	target, err := h.Target(c.Query("url"))
	if err != nil {
		status := StatusFor(err)
		h.finish(target, status, 0, start, err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), nil)
	if err != nil {
		h.finish(target, http.StatusBadRequest, 0, start, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidURL.Error()})
		return
	}
	for _, name := range forwardedRequestHeaders {
		if v := c.GetHeader(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if errors.Is(err, ErrHostNotAllowed) {
		h.finish(target, http.StatusForbidden, 0, start, err)
		c.JSON(http.StatusForbidden, gin.H{"error": ErrHostNotAllowed.Error()})
		return
	}
	if err != nil {
		h.finish(target, http.StatusBadGateway, 0, start, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch upstream resource"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("upstream responded with HTTP %d", resp.StatusCode)
		status := http.StatusBadGateway
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			status = resp.StatusCode
		}
		h.finish(target, status, 0, start, err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	header := c.Writer.Header()
	for _, name := range copiedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}
	header.Set("Cache-Control", h.cacheControl)
	c.Status(resp.StatusCode)

	if c.Request.Method == http.MethodHead {
		c.Writer.WriteHeaderNow()
		h.finish(target, resp.StatusCode, 0, start, nil)
		return
	}

	n, err := io.Copy(c.Writer, resp.Body)
	if err != nil && c.Request.Context().Err() == nil {
		h.finish(target, resp.StatusCode, n, start, fmt.Errorf("stream interrupted: %w", err))
		return
	}
	h.finish(target, resp.StatusCode, n, start, nil)
}

// Target validates a raw url parameter against the allow-list
func (h *Handler) Target(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	if !h.allow.Allowed(u.Host) {
		return u, fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return u, nil
}

func (h *Handler) finish(target *url.URL, status int, n int64, start time.Time, err error) {
	host := ""
	if target != nil {
		host = target.Hostname()
	}
	elapsed := time.Since(start)
	metrics.RecordProxyRequest(status, n, elapsed.Seconds())
	h.logger.LogProxyRequest(host, status, n, elapsed, err)
}

func setCORSHeaders(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Range, Content-Type")
	header.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}

// StatusFor maps a Target error to its HTTP status
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrHostNotAllowed):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
