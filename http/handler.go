package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"

	"github.com/aukilabs/terrain/heightmap"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithCORS allows cross origin GET requests to the given handler.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// HeightResponse is the response of the height query endpoint.
type HeightResponse struct {
	X      float32     `json:"x"`
	Z      float32     `json:"z"`
	Height float32     `json:"height"`
	Normal mgl32.Vec3  `json:"normal"`
	Hit    *mgl32.Vec3 `json:"hit,omitempty"`
}

// HandleHeight answers terrain height queries at ?x=..&z=... When max_height
// is set, the ground hit of a vertical ray cast from it is included.
func HandleHeight(q heightmap.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		x, err := parseFloat(r, "x")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		z, err := parseFloat(r, "z")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		res := HeightResponse{
			X:      x,
			Z:      z,
			Height: q.Height(x, z),
			Normal: q.Normal(x, z),
		}

		if r.URL.Query().Has("max_height") {
			maxHeight, err := parseFloat(r, "max_height")
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}

			if hit, ok := q.RaycastVertical(x, z, maxHeight); ok {
				res.Hit = &hit
			}
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// HandleJSON writes the value returned by get as JSON.
func HandleJSON[T any](get func() T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, get())
	}
}

func parseFloat(r *http.Request, name string) (float32, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.New("missing query parameter").
			WithTag("name", name)
	}

	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, errors.New("invalid query parameter").
			WithTag("name", name).
			WithTag("value", v).
			Wrap(err)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("query parameter is not finite").
			WithTag("name", name).
			WithTag("value", v)
	}
	return float32(f), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	})
}
