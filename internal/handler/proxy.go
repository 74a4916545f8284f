package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webproxy-go/internal/client"
	"webproxy-go/internal/config"
	"webproxy-go/internal/model"
	"webproxy-go/internal/service"
)

// ProxyHandler forwards requests under the mount path to the target
// service and relays the responses back.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle dispatches one inbound request. Preflight OPTIONS requests are
// answered locally without contacting the target; everything else runs
// the forwarding pipeline. A transport failure becomes a bare 404,
// deliberately indistinguishable from an unknown resource.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return h.preflight(c)
	}

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return h.relay(c, resp)
}

// preflight answers an OPTIONS request with status 200, the configured
// response headers, and no body.
func (h *ProxyHandler) preflight(c echo.Context) error {
	service.InjectHeaders(c.Response().Header(), h.cfg.Proxy.ResponseHeaderSet)
	return c.NoContent(http.StatusOK)
}

// relay copies the upstream status and headers onto the caller-facing
// response, overlays the configured response headers, then streams the
// body in a single pass. Injection happens before WriteHeader because
// Go flushes the header block together with the status line; injected
// headers still win over anything copied from upstream, Content-Length
// included.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse) error {
	hdr := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			hdr.Add(key, v)
		}
	}
	service.InjectHeaders(hdr, h.cfg.Proxy.ResponseHeaderSet)

	c.Response().WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream the status line is already on the
	// wire, so the client receives a truncated body with the original
	// status. There is no recovery path; we log for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

// mapError translates any forwarding failure into the caller-facing
// 404 with an empty body and no injected headers. Every transport
// sub-cause collapses into the same status: the caller cannot tell an
// unreachable host from a DNS failure.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var te *client.TransportError
	if errors.As(err, &te) {
		h.logger.Error("upstream transport failure",
			"err", te.Err,
			"path", c.Request().URL.Path,
		)
	} else {
		h.logger.Error("proxy error",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return c.NoContent(http.StatusNotFound)
}
