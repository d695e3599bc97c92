package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"

	"github.com/aukilabs/terrain/heightmap"
)

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestHandleWithCORS(t *testing.T) {
	h := HandleWithCORS(http.HandlerFunc(HandleHealthCheck))

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHandleHeight(t *testing.T) {
	h := HandleHeight(heightmap.Query{Source: heightmap.Procedural(func(x, z float32) float32 {
		return x + z
	})})

	get := func(t *testing.T, query string) (int, HeightResponse) {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/height?"+query, nil))

		var res HeightResponse
		if w.Code == http.StatusOK {
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		}
		return w.Code, res
	}

	t.Run("height and normal", func(t *testing.T) {
		code, res := get(t, "x=10&z=5")
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, float32(15), res.Height)
		require.InDelta(t, 1, res.Normal.Len(), 1e-4)
		require.Nil(t, res.Hit)
	})

	t.Run("raycast hit", func(t *testing.T) {
		code, res := get(t, "x=10&z=5&max_height=100")
		require.Equal(t, http.StatusOK, code)
		require.NotNil(t, res.Hit)
		require.Equal(t, mgl32.Vec3{10, 15, 5}, *res.Hit)
	})

	t.Run("raycast miss", func(t *testing.T) {
		code, res := get(t, "x=10&z=5&max_height=1")
		require.Equal(t, http.StatusOK, code)
		require.Nil(t, res.Hit)
	})

	t.Run("bad requests", func(t *testing.T) {
		for _, q := range []string{"", "x=1", "z=1", "x=a&z=1", "x=NaN&z=1", "x=1&z=2&max_height=Inf"} {
			code, _ := get(t, q)
			require.Equal(t, http.StatusBadRequest, code, q)
		}
	})
}

func TestHandleJSON(t *testing.T) {
	w := httptest.NewRecorder()
	HandleJSON(func() map[string]int {
		return map[string]int{"selected": 3}
	})(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"selected":3}`, w.Body.String())
}

func TestMetricsPathFormatter(t *testing.T) {
	format := MetricsPathFormatter("/height", "/stats")

	require.Equal(t, "", format(http.StatusNotFound, "/missing"))
	require.Equal(t, "", format(http.StatusBadRequest, "/height"))
	require.Equal(t, "/height", format(http.StatusOK, "/height"))
	require.Equal(t, "/stats", format(http.StatusOK, "/stats"))
	require.Equal(t, ViewerMetricsPath, format(http.StatusSwitchingProtocols, "/some/viewer"))
}
