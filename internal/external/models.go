package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"tileseam/internal/inference"
	"tileseam/internal/preprocess"
	"tileseam/internal/raster"
	"tileseam/internal/types"
)

const userAgent = "tileseam/1.0"

// maxResponseBytes bounds a model response; the largest is a superresolved
// window of roughly 20 MB before compression.
const maxResponseBytes = 64 << 20

// ModelClientConfig holds the configuration for one model endpoint.
type ModelClientConfig struct {
	Name   string // breaker name and log label
	URL    string
	APIKey types.SecretString
	Logger *slog.Logger
}

// ModelClient posts tensors to a model endpoint and decodes the tensor it
// answers with.
type ModelClient struct {
	base   *BaseClient
	name   string
	url    string
	apiKey types.SecretString
	logger *slog.Logger
}

// NewModelClient creates a ModelClient with its own breaker. The http client
// timeout bounds a single attempt.
func NewModelClient(httpClient *http.Client, cfg ModelClientConfig, opts ...BaseClientOption) *ModelClient {
	base := NewBaseClient(httpClient, cfg.Name, DefaultRetryPolicy(), userAgent, opts...)
	return NewModelClientWithBase(base, cfg)
}

// NewModelClientWithBase uses a pre-configured BaseClient.
func NewModelClientWithBase(base *BaseClient, cfg ModelClientConfig) *ModelClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelClient{
		base:   base,
		name:   cfg.Name,
		url:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

// Invoke sends one tensor and returns the response tensor and its shape.
func (c *ModelClient) Invoke(ctx context.Context, shape []int, data []float32, lengths []int) ([]int, []float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encodeTensor(data)))
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("create %s request", c.name), err)
	}
	req.Header.Set("Content-Type", tensorContentType)
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set(headerShape, formatInts(shape))
	if len(lengths) > 0 {
		req.Header.Set(headerLengths, formatInts(lengths))
	}
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, nil, c.wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, c.handleErrorResponse(resp)
	}

	outShape, err := parseShape(resp.Header.Get(headerShape))
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeUpstreamPredictor, c.name+" response", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeUpstreamPredictor, "read "+c.name+" response", err)
	}
	out, err := decodeTensor(body, outShape)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeUpstreamPredictor, c.name+" response", err)
	}

	c.logger.DebugContext(ctx, "model call completed",
		"model", c.name,
		"input_shape", formatInts(shape),
		"output_shape", formatInts(outShape),
	)
	return outShape, out, nil
}

// handleErrorResponse reads a bounded error body and maps the status.
func (c *ModelClient) handleErrorResponse(resp *http.Response) *types.AppError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("model API error",
		"model", c.name,
		"status_code", resp.StatusCode,
		"response_body", string(body),
	)

	cause := fmt.Errorf("%s returned %d: %s", c.name, resp.StatusCode, body)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return types.NewAppError(types.ErrCodeValidationTensorShape,
			fmt.Sprintf("%s rejected the input tensor", c.name), cause)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewAppError(types.ErrCodeUpstreamPredictor,
			fmt.Sprintf("%s authentication failed (%d)", c.name, resp.StatusCode), cause)
	default:
		return types.NewAppError(types.ErrCodeUpstreamPredictor,
			fmt.Sprintf("%s client error (%d)", c.name, resp.StatusCode), cause)
	}
}

// wrapError prefixes the model name while keeping the code.
func (c *ModelClient) wrapError(err error) error {
	if code := types.CodeOf(err); code != types.ErrCodeInternalUnexpected {
		return types.NewAppError(code, c.name+" call failed", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamPredictor, c.name+" call failed", err)
}

func toGrid(name string, shape []int, data []float32) (*raster.Grid, error) {
	switch {
	case len(shape) == 2:
	case len(shape) == 3 && shape[0] == 1:
		shape = shape[1:]
	default:
		return nil, types.NewAppError(types.ErrCodeUpstreamPredictor,
			fmt.Sprintf("%s returned shape %v, want a single 2-D patch", name, shape), nil)
	}
	return raster.GridFrom(shape[0], shape[1], data)
}

// TemporalClient is the sequence model.
type TemporalClient struct{ *ModelClient }

func (c TemporalClient) PredictTemporal(ctx context.Context, tensor *raster.Cube, lengths []int) (*raster.Grid, error) {
	shape, data, err := c.Invoke(ctx, tensor.Shape(), tensor.Data, lengths)
	if err != nil {
		return nil, err
	}
	return toGrid(c.name, shape, data)
}

// MedianClient is the single-composite model.
type MedianClient struct{ *ModelClient }

func (c MedianClient) PredictMedian(ctx context.Context, tensor *raster.Cube) (*raster.Grid, error) {
	shape, data, err := c.Invoke(ctx, tensor.Shape(), tensor.Data, nil)
	if err != nil {
		return nil, err
	}
	return toGrid(c.name, shape, data)
}

// SuperResolveClient sharpens the 20 m bands.
type SuperResolveClient struct{ *ModelClient }

func (c SuperResolveClient) SuperResolve(ctx context.Context, cube *raster.Cube) (*raster.Cube, error) {
	shape, data, err := c.Invoke(ctx, cube.Shape(), cube.Data, nil)
	if err != nil {
		return nil, err
	}
	out, err := raster.CubeFrom(shape, data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPredictor, c.name+" response", err)
	}
	return out, nil
}

// Compile-time interface compliance checks.
var (
	_ inference.TemporalPredictor = TemporalClient{}
	_ inference.MedianPredictor   = MedianClient{}
	_ preprocess.SuperResolver    = SuperResolveClient{}
)
