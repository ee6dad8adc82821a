package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileseam/internal/raster"
	"tileseam/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModel(t *testing.T, url string) *ModelClient {
	t.Helper()
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "model-test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		userAgent, WithSleepFunc(noopSleep))
	return NewModelClientWithBase(base, ModelClientConfig{
		Name:   "temporal",
		URL:    url + "/",
		APIKey: types.SecretString("k-123"),
		Logger: testLogger(),
	})
}

// echoServer decodes the request tensor, hands it to respond and encodes
// whatever respond returns.
func echoServer(t *testing.T, respond func(r *http.Request, shape []int, data []float32) ([]int, []float32)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shape, err := parseShape(r.Header.Get(headerShape))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		data, err := decodeTensor(body, shape)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		outShape, out := respond(r, shape, data)
		w.Header().Set(headerShape, formatInts(outShape))
		w.WriteHeader(http.StatusOK)
		w.Write(encodeTensor(out))
	}))
}

func TestTensorCodecRoundTrip(t *testing.T) {
	data := []float32{0, 0.25, -1, 3.5, 1e-7, 255}
	got, err := decodeTensor(encodeTensor(data), []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = decodeTensor(encodeTensor(data), []int{7})
	assert.Error(t, err)
}

func TestParseShape(t *testing.T) {
	shape, err := parseShape("12, 182,182,13")
	require.NoError(t, err)
	assert.Equal(t, []int{12, 182, 182, 13}, shape)

	for _, bad := range []string{"", "12,x", "0,3"} {
		_, err := parseShape(bad)
		assert.Error(t, err, "header %q", bad)
	}
}

func TestTemporalClientPredict(t *testing.T) {
	var gotHeaders http.Header
	server := echoServer(t, func(r *http.Request, shape []int, data []float32) ([]int, []float32) {
		gotHeaders = r.Header.Clone()
		out := make([]float32, 4*4)
		for i := range out {
			out[i] = data[0]
		}
		return []int{1, 4, 4}, out
	})
	defer server.Close()

	tensor := raster.NewCube(12, 3, 3, 13)
	tensor.Data[0] = 0.42

	ctx := types.WithRunID(context.Background(), "run-1")
	g, err := TemporalClient{newTestModel(t, server.URL)}.PredictTemporal(ctx, tensor, []int{12})
	require.NoError(t, err)
	assert.Equal(t, 4, g.H)
	assert.InDelta(t, 0.42, g.At(3, 3), 1e-6)

	assert.Equal(t, "12,3,3,13", gotHeaders.Get(headerShape))
	assert.Equal(t, "12", gotHeaders.Get(headerLengths))
	assert.Equal(t, "Bearer k-123", gotHeaders.Get("Authorization"))
	assert.Equal(t, "zstd", gotHeaders.Get("Content-Encoding"))
	assert.Equal(t, "run-1", gotHeaders.Get("X-Run-Id"))
}

func TestMedianClientRejectsBatchOutput(t *testing.T) {
	server := echoServer(t, func(_ *http.Request, _ []int, _ []float32) ([]int, []float32) {
		return []int{2, 2, 2}, make([]float32, 8)
	})
	defer server.Close()

	_, err := MedianClient{newTestModel(t, server.URL)}.PredictMedian(context.Background(), raster.NewCube(12, 2, 2, 13))
	assert.Equal(t, types.ErrCodeUpstreamPredictor, types.CodeOf(err))
}

func TestSuperResolveClient(t *testing.T) {
	server := echoServer(t, func(_ *http.Request, shape []int, data []float32) ([]int, []float32) {
		for i := range data {
			data[i] *= 2
		}
		return shape, data
	})
	defer server.Close()

	cube := raster.NewCube(2, 2, 2, 10)
	cube.Data[5] = 0.1
	out, err := SuperResolveClient{newTestModel(t, server.URL)}.SuperResolve(context.Background(), cube)
	require.NoError(t, err)
	assert.Equal(t, cube.Shape(), out.Shape())
	assert.InDelta(t, 0.2, out.Data[5], 1e-6)
}

func TestModelClientMapsErrorResponses(t *testing.T) {
	tests := []struct {
		status int
		want   types.ErrorCode
	}{
		{http.StatusBadRequest, types.ErrCodeValidationTensorShape},
		{http.StatusUnauthorized, types.ErrCodeUpstreamPredictor},
		{http.StatusNotFound, types.ErrCodeUpstreamPredictor},
		{http.StatusServiceUnavailable, types.ErrCodeUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, _, err := newTestModel(t, server.URL).Invoke(context.Background(), []int{1}, []float32{0}, nil)
			assert.Equal(t, tt.want, types.CodeOf(err))
		})
	}
}

func TestModelClientMissingShapeHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, _, err := newTestModel(t, server.URL).Invoke(context.Background(), []int{1}, []float32{0}, nil)
	assert.Equal(t, types.ErrCodeUpstreamPredictor, types.CodeOf(err))
}
