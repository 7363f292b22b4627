// Package resolver runs the dashboard's address lanes: ordered provider chains whose
// results land on a shared Board.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gustycube/ip-sentinel/internal/httpclient"
	"github.com/gustycube/ip-sentinel/internal/provider"
)

// ErrExhausted is returned when every provider of a chain failed.
var ErrExhausted = errors.New("all providers failed")

// FirstSuccess tries chain strictly in order and returns the first decoded payload,
// the winning provider's name and the number of providers tried.
func FirstSuccess[T any](ctx context.Context, f provider.Fetcher, chain []provider.Provider[T]) (T, string, int, error) {
	return firstSuccess(ctx, f, chain, nil)
}

// firstSuccess is FirstSuccess with a hook called for every failed provider.
func firstSuccess[T any](ctx context.Context, f provider.Fetcher, chain []provider.Provider[T], failed func(name string, err error)) (T, string, int, error) {
	var zero T
	tr := otel.Tracer("sentinel/resolver")
	var errs []error
	for i, p := range chain {
		if err := ctx.Err(); err != nil {
			return zero, "", i, err
		}
		actx, span := tr.Start(ctx, "provider.Fetch")
		span.SetAttributes(attribute.String("provider", p.Name), attribute.Int("position", i))
		v, err := p.Fetch(actx, f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if code := httpclient.StatusCode(err); code != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", code))
			}
			span.End()
			if failed != nil {
				failed(p.Name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		span.End()
		return v, p.Name, i + 1, nil
	}
	if len(errs) == 0 {
		return zero, "", 0, ErrExhausted
	}
	return zero, "", len(chain), fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
