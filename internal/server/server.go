// Package server implements the mantabridge HTTP server and S3-compatible
// route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/mantabridge/mantabridge/internal/config"
	s3err "github.com/mantabridge/mantabridge/internal/errors"
	"github.com/mantabridge/mantabridge/internal/handlers"
	"github.com/mantabridge/mantabridge/internal/manta"
	"github.com/mantabridge/mantabridge/internal/metacodec"
	"github.com/mantabridge/mantabridge/internal/metrics"
	"github.com/mantabridge/mantabridge/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the mantabridge HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on the request method and path.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      manta.Client
	render     *xmlutil.Renderer
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server with the given configuration and backing store,
// and wires up all S3-compatible routes on the Chi router with Huma API.
func New(cfg *config.Config, store manta.Client) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("mantabridge S3 API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	render := xmlutil.NewRenderer(cfg.S3.Version, cfg.S3.PrettyPrint)
	root := cfg.BucketRoot(store.User())
	durability := metacodec.NewDurabilityMap(
		cfg.Store.StorageClassToDurability,
		cfg.Store.DurabilityToStorageClass,
		cfg.Store.DefaultDurability,
	)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		store:  store,
		render: render,
		bucket: handlers.NewBucketHandler(store, render, root),
		object: handlers.NewObjectHandler(store, render, root, durability, cfg.Store.MaxFilenameLength),
	}

	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
// Middleware chain: metricsMiddleware -> commonHeaders -> metadataHeaderMiddleware -> router.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
// Huma routes (/health, /docs, /openapi.json) and /metrics are registered
// first. The S3 catch-all /* is registered last. Chi matches more specific
// routes first.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the mantabridge server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())

	// S3 catch-all: all remaining requests go through the dispatch function.
	s.router.HandleFunc("/*", s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// instrument wraps an S3 handler to count the per-operation outcome.
func instrument(name string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		fn(rec, r)
		outcome := "success"
		if rec.statusCode >= 400 {
			outcome = "error"
		}
		metrics.S3OperationsTotal.WithLabelValues(name, outcome).Inc()
	}
}

// dispatch is the main request dispatcher. It parses the path to extract
// bucket and object key, then routes by HTTP method and query parameters.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	name, fn := s.route(r)
	instrument(name, fn)(w, r)
}

// route resolves a request to its S3 operation name and handler.
func (s *Server) route(r *http.Request) (string, http.HandlerFunc) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	notImplemented := func(w http.ResponseWriter, r *http.Request) {
		s.render.RenderError(w, r, s3err.ErrNotImplemented)
	}

	// Service-level operations (no bucket in path).
	if bucket == "" {
		if r.Method == http.MethodGet {
			return "ListBuckets", s.bucket.ListBuckets
		}
		return "NotImplemented", notImplemented
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("acl"):
				return "PutObjectAcl", s.object.PutObjectAcl
			case r.Header.Get("X-Amz-Copy-Source") != "":
				return "CopyObject", s.object.CopyObject
			default:
				return "PutObject", s.object.PutObject
			}
		case http.MethodGet:
			if q.Has("acl") {
				return "GetObjectAcl", s.object.GetObjectAcl
			}
			return "GetObject", s.object.GetObject
		case http.MethodHead:
			return "HeadObject", s.object.HeadObject
		case http.MethodDelete:
			return "DeleteObject", s.object.DeleteObject
		default:
			// Multipart upload mutations arrive as POSTs.
			return "NotImplemented", notImplemented
		}
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		return "CreateBucket", s.bucket.CreateBucket
	case http.MethodGet:
		if q.Has("uploads") {
			return "ListMultipartUploads", s.bucket.ListMultipartUploads
		}
		return "ListObjects", s.object.ListObjects
	case http.MethodHead:
		return "HeadBucket", s.bucket.HeadBucket
	case http.MethodDelete:
		return "DeleteBucket", s.bucket.DeleteBucket
	default:
		return "NotImplemented", notImplemented
	}
}
