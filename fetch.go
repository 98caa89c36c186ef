package i3s

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Fetcher retrieves raw bytes for the provider. Implementations own
// caching and transport concerns; the provider never retries internally.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches over HTTP using the given client, or
// http.DefaultClient when nil.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Fetch issues a GET and returns the body. Non-2xx responses and
// unreachable addresses produce a *TransportError; unreachable addresses
// report status 404.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{StatusCode: http.StatusNotFound, URL: url, Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &TransportError{StatusCode: http.StatusNotFound, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, URL: url, Err: err}
	}
	return body, nil
}

// traceFetch logs the resolved address when fetch tracing is enabled.
func (p *Provider) traceFetch(url string) {
	if p.cfg.fetchTracing {
		Logger().Debug("i3s fetch", "provider", p.cfg.name, "url", url)
	}
}

// fetchBinary retrieves a binary resource.
func (p *Provider) fetchBinary(ctx context.Context, url string) ([]byte, error) {
	p.traceFetch(url)
	p.metrics.fetches.Inc()
	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		p.metrics.fetchErrors.Inc()
		return nil, err
	}
	return data, nil
}

// fetchJSON retrieves and decodes a JSON resource into v. A body carrying
// a service-level error envelope rejects with the embedded *ServiceError
// even though the transport succeeded.
func (p *Provider) fetchJSON(ctx context.Context, url string, v any) error {
	data, err := p.fetchBinary(ctx, url)
	if err != nil {
		return err
	}
	if svcErr := serviceErrorIn(data); svcErr != nil {
		p.metrics.fetchErrors.Inc()
		return svcErr
	}
	return decodeJSON(data, url, v)
}

// serviceErrorIn detects the logical error envelope some services embed in
// successful responses.
func serviceErrorIn(data []byte) *ServiceError {
	var env struct {
		Error *ServiceError `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	return env.Error
}

func decodeJSON(data []byte, url string, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("i3s: decode %s: %w", url, err)
	}
	return nil
}
