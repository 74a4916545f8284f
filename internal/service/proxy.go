// Package service implements the core proxy forwarding logic.
package service

import (
	"log/slog"
	"net/http"
	"strings"

	"webproxy-go/internal/client"
	"webproxy-go/internal/config"
	"webproxy-go/internal/model"
)

// forwardMethods is the closed set of outbound methods. Anything the
// client sends outside this set is forwarded as GET.
var forwardMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// MapMethod maps an inbound method string onto the closed outbound set,
// falling back to GET for anything unrecognized or empty.
func MapMethod(method string) string {
	if forwardMethods[method] {
		return method
	}
	return http.MethodGet
}

// InjectHeaders sets each configured header on h, overwriting any
// existing value for that name regardless of case. The configured
// spelling of the name is written as-is — keys are deliberately not
// canonicalized.
func InjectHeaders(h http.Header, set []config.Header) {
	for _, hd := range set {
		for k := range h {
			if strings.EqualFold(k, hd.Name) {
				delete(h, k)
			}
		}
		h[hd.Name] = []string{hd.Value}
	}
}

// ProxyService drives the forwarding pipeline: method mapping, target
// URL construction, request-header injection, and the upstream call.
type ProxyService struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "proxy_service"),
	}
}

// TargetURL builds the outbound URL: base_uri + everything after the
// mount path + "?" + raw query. The "?" is appended even when the query
// is empty, and the suffix and query pass through verbatim. Both
// quirks are intentional compatibility behavior, pinned by tests.
func (s *ProxyService) TargetURL(path, rawQuery string) string {
	suffix := path
	if i := strings.Index(path, s.cfg.Proxy.MountPath); i >= 0 {
		suffix = path[i+len(s.cfg.Proxy.MountPath):]
	}
	return s.cfg.Proxy.BaseURI + suffix + "?" + rawQuery
}

// Forward executes one outbound call for the given request. The caller
// is responsible for closing the response body. Any failure is a
// *client.TransportError.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	method := MapMethod(pr.Method)
	url := s.TargetURL(pr.Path, pr.RawQuery)

	header := make(http.Header, len(s.cfg.Proxy.RequestHeaderSet))
	InjectHeaders(header, s.cfg.Proxy.RequestHeaderSet)

	s.logger.Debug("forwarding request",
		"method", method,
		"url", url,
	)

	return s.client.Do(pr.Ctx, method, url, header)
}
