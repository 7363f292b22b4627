// Package edge serves the dashboard page and its web manifest.
package edge

import (
	"bytes"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	RouteManifest = "manifest"
	RoutePage     = "page"
)

type handler struct {
	site     Site
	src      snapshot.EdgeSource
	log      *logging.Logger
	manifest []byte
}

// NewHandler returns the responder with request ID, tracing, metrics and access logging applied.
func NewHandler(site Site, src snapshot.EdgeSource, log *logging.Logger) http.Handler {
	if src == nil {
		src = snapshot.HeaderSource{}
	}
	if log == nil {
		log = logging.Nop()
	}
	// Manifest only depends on the site, so encode it once.
	m, _ := json.Marshal(NewManifest(site))
	h := &handler{site: site, src: src, log: log, manifest: m}

	mux := http.NewServeMux()
	mux.Handle("/manifest.json", instrument(RouteManifest, log, http.HandlerFunc(h.serveManifest)))
	mux.Handle("/", instrument(RoutePage, log, http.HandlerFunc(h.servePage)))
	return mux
}

func (h *handler) serveManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.manifest)
}

func (h *handler) servePage(w http.ResponseWriter, r *http.Request) {
	conn := snapshot.Derive(h.src.Meta(r))
	var buf bytes.Buffer
	if err := page.Execute(&buf, pageData{Site: h.site, Conn: conn}); err != nil {
		h.log.Errorw("render page", "error", err)
		buf.Reset()
		buf.WriteString("<!DOCTYPE html><title>error</title>")
	}
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	w.Write(buf.Bytes())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func instrument(route string, log *logging.Logger, next http.Handler) http.Handler {
	tracer := otel.Tracer("sentinel/edge")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx, span := tracer.Start(r.Context(), "edge."+route)
		span.SetAttributes(
			attribute.String("request_id", id),
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		metrics.EdgeRequests.WithLabelValues(route).Inc()
		metrics.EdgeDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		log.Infow("edge request",
			"request_id", id,
			"route", route,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
