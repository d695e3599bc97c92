package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// ListenAndServe runs the given servers until ctx is done. Servers get
// shutdownTimeout to drain their connections before being closed.
func ListenAndServe(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logs.Warn(errors.Newf("shutting down the server failed").
					WithTag("addr", s.Addr).
					WithTag("timeout", shutdownTimeout).
					Wrap(err))
				s.Close()
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(len(servers))

	for _, s := range servers {
		go func(s *http.Server) {
			defer wg.Done()

			logs.WithTag("addr", s.Addr).Info("starting server")

			switch err := s.ListenAndServe(); err {
			case nil, http.ErrServerClosed, context.Canceled:
				logs.WithTag("addr", s.Addr).Info("stopping server")

			default:
				logs.Warn(errors.Newf("server stopped").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}(s)
	}

	wg.Wait()
}

// ViewerMetricsPath is the path reported for requests that no named route
// serves. Viewers may connect on any path.
const ViewerMetricsPath = "/viewer"

// MetricsPathFormatter returns a path formatter for metrics.HTTPHandler.
// Named routes are reported as is, other paths are collapsed into
// ViewerMetricsPath. Failed lookups (301, 400, 404 and 405) are not
// reported.
func MetricsPathFormatter(routes ...string) func(statusCode int, path string) string {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}

	return func(statusCode int, path string) string {
		switch statusCode {
		case http.StatusMovedPermanently,
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusMethodNotAllowed:
			return ""
		}

		if _, ok := known[path]; ok {
			return path
		}
		return ViewerMetricsPath
	}
}
