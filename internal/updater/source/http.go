package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/pkg/log"
)

// HTTP streams an image from the body of a GET response.
type HTTP struct {
	url    string
	client *http.Client
}

var _ Source = (*HTTP)(nil)

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// NewHTTP returns a source for url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{url: url, client: NewHTTPClient(10*time.Minute, false)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewHTTPClient returns a client for firmware downloads. timeout bounds the
// whole download including the body.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecureSkipVerify,
			},
		},
	}
}

func (h *HTTP) Kind() Kind            { return KindHTTP }
func (h *HTTP) RequiresNetwork() bool { return true }

func (h *HTTP) Open(ctx context.Context) (Stream, error) {
	log.Info("About to download firmware", "url", h.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, core.OpError(core.KindTransportSetup, core.OpRequest, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, core.OpError(core.KindTransportSetup, core.OpRequest, err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, core.OpError(core.KindTransportSetup, core.OpResponse,
			fmt.Errorf("server returned status: %s", resp.Status))
	}

	size := resp.ContentLength
	if size < 0 {
		size = UnknownSize
	}
	return &stream{ReadCloser: resp.Body, size: size}, nil
}
