// Package server exposes the upload, removal and download endpoints of
// every configured repository over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ralt/repoindex/internal/generator"
	"github.com/ralt/repoindex/internal/repository"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/txn"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// MaxRequestBodySize bounds uploaded packages
const MaxRequestBodySize = 2 * 1024 * 1024 * 1024

// checksumAlgorithms are the X-Checksum-<alg> headers a removal may carry,
// strongest first
var checksumAlgorithms = []string{"sha512", "sha256", "sha1", "md5"}

// Server routes requests to the coordinator
type Server struct {
	registry    *repository.Registry
	coordinator *txn.Coordinator
	storage     storage.Storage
	metrics     fasthttp.RequestHandler
}

// New creates a server. gatherer may be nil to disable /metrics.
func New(registry *repository.Registry, coordinator *txn.Coordinator, st storage.Storage, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		registry:    registry,
		coordinator: coordinator,
		storage:     st,
	}
	if gatherer != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the request handler with request logging.
func (s *Server) Handler() fasthttp.RequestHandler {
	return logging(s.route)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "repoindex",
		MaxRequestBodySize: MaxRequestBodySize,
		ReadTimeout:        5 * time.Minute,
		WriteTimeout:       5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("Server starting")
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logrus.Info("Shutting down server")
		return server.Shutdown()
	}
}

func logging(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		logrus.WithFields(logrus.Fields{
			"method":   string(ctx.Method()),
			"path":     string(ctx.Path()),
			"status":   ctx.Response.StatusCode(),
			"duration": time.Since(start),
		}).Info("Request handled")
	}
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	p := string(ctx.Path())
	switch p {
	case "/health":
		success(fasthttp.StatusOK, Status{Message: "healthy"}).write(ctx)
		return
	case "/metrics":
		if s.metrics != nil && (ctx.IsGet() || ctx.IsHead()) {
			s.metrics(ctx)
			return
		}
	}

	repo, target, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	gen, ok := s.registry.Get(repo)
	if !ok {
		failure(fasthttp.StatusNotFound, fmt.Sprintf("repository %q does not exist", repo)).write(ctx)
		return
	}

	var r *response
	switch {
	case ctx.IsPut() || ctx.IsPost():
		r = s.upload(ctx, gen, target)
	case ctx.IsDelete():
		r = s.remove(ctx, gen, target)
	case ctx.IsGet() || ctx.IsHead():
		r = s.download(ctx, gen, target)
	default:
		r = failure(fasthttp.StatusMethodNotAllowed, "method not allowed")
		r.headers = map[string]string{"Allow": "GET, HEAD, PUT, POST, DELETE"}
	}
	r.write(ctx)
}

func (s *Server) upload(ctx *fasthttp.RequestCtx, gen generator.Generator, target string) *response {
	body := ctx.PostBody()
	if len(body) == 0 {
		return failure(fasthttp.StatusBadRequest, "empty request body")
	}

	res, err := s.coordinator.Upload(ctx, gen, txn.UploadRequest{
		// fasthttp reuses the body buffer once the handler returns
		Blob:     append([]byte(nil), body...),
		Filename: path.Base(target),
		Override: ctx.QueryArgs().GetBool("override"),
	})
	if err != nil {
		return errorResponse(err)
	}

	status := fasthttp.StatusCreated
	if res.Replaced {
		status = fasthttp.StatusOK
	}
	return success(status, describe(res))
}

func (s *Server) remove(ctx *fasthttp.RequestCtx, gen generator.Generator, target string) *response {
	req := txn.RemoveRequest{
		Target: target,
		Force:  ctx.QueryArgs().GetBool("force"),
	}
	for _, alg := range checksumAlgorithms {
		if v := ctx.Request.Header.Peek("X-Checksum-" + alg); len(v) > 0 {
			req.ChecksumType = alg
			req.Checksum = string(v)
			break
		}
	}

	res, err := s.coordinator.Remove(ctx, gen, req)
	if err != nil {
		return errorResponse(err)
	}
	return success(fasthttp.StatusAccepted, describe(res))
}

func (s *Server) download(ctx *fasthttp.RequestCtx, gen generator.Generator, target string) *response {
	config := gen.Config()
	key := config.Key(target)
	// Temporary uploads and other repositories are not reachable
	if !strings.HasPrefix(key, config.Name+"/") || strings.HasPrefix(config.Relative(key), ".upload/") {
		return failure(fasthttp.StatusNotFound, "not found")
	}
	if err := storage.ValidateKey(key); err != nil {
		return failure(fasthttp.StatusNotFound, "not found")
	}

	data, err := s.storage.Read(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return failure(fasthttp.StatusNotFound, "not found")
	}
	if err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to read artifact")
		return errorResponse(err)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	return &response{status: fasthttp.StatusOK, contentType: contentType, body: data}
}

func describe(res *txn.Result) Status {
	st := Status{
		Repository: res.Repository,
		Key:        res.Key,
		Replaced:   res.Replaced,
	}
	if res.Package != nil {
		st.Package = res.Package.Name
		st.Version = res.Package.Version
	}
	for _, id := range res.Identities {
		st.Identities = append(st.Identities, id.String())
	}
	return st
}
