// Package provider describes the external IP and geolocation services the dashboard
// consults, and maps each service's response shape onto a canonical payload.
package provider

import (
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/gustycube/ip-sentinel/internal/httpclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provider is one entry of a fallback chain: where to fetch and how to read the answer.
type Provider[T any] struct {
	Name   string
	URL    string
	Decode func([]byte) (T, error)
}

// Fetch retrieves p.URL through f and decodes the body.
func (p Provider[T]) Fetch(ctx context.Context, f Fetcher) (T, error) {
	var zero T
	body, err := f.Fetch(ctx, p.URL)
	if err != nil {
		return zero, err
	}
	v, err := p.Decode(body)
	if err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

// Fetcher performs a GET and returns the body of a successful response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTP is the production Fetcher.
type HTTP struct {
	Client *http.Client
	UA     string
}

func NewHTTP(client *http.Client, ua string) *HTTP {
	if client == nil {
		client = httpclient.Default()
	}
	return &HTTP{Client: client, UA: ua}
}

func (h *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	return httpclient.Get(ctx, h.Client, url, h.UA)
}

// FetchFunc adapts a plain function to Fetcher.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
