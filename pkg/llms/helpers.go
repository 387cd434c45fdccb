package llms

import (
	"net/http"
	"time"

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/httpclient"
)

// createHTTPClient builds a retrying HTTP client for a provider. The timeout
// covers the full request including body read, so streaming requests get the
// longer stream timeout.
func createHTTPClient(cfg *config.LLMConfig, timeout time.Duration, opts ...httpclient.Option) *httpclient.Client {
	all := append([]httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	}, opts...)
	return httpclient.New(all...)
}
