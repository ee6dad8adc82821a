// Package metrics publishes batch outcomes to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names and dimensions.
const (
	MetricPairOutcome   = "PairOutcome"
	MetricPairDuration  = "PairDuration"
	MetricTileFused     = "TileFused"
	MetricPatchesReject = "PatchesRejected"

	DimCountry = "Country"
	DimOutcome = "Outcome"
	DimReason  = "Reason"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder receives batch events. Implementations must not fail the batch:
// publishing errors are logged and dropped.
type Recorder interface {
	RecordPair(ctx context.Context, outcome, reason string, d time.Duration)
	RecordFused(ctx context.Context, rejected int)
}

// Compile-time assertions.
var (
	_ Recorder = (*CloudWatchPublisher)(nil)
	_ Recorder = Noop{}
)

// CloudWatchPublisher emits one datum per event, dimensioned by country.
//
// Metrics emitted:
//   - PairOutcome: Dims {Country, Outcome, Reason}, on every finished pair
//   - PairDuration: Dims {Country, Outcome}, milliseconds
//   - TileFused: Dims {Country}, on every written smoothed raster
//   - PatchesRejected: Dims {Country}, outlier patches dropped while fusing
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
	country   string
	logger    *slog.Logger
}

func NewCloudWatchPublisher(client CloudWatchClient, namespace, country string, logger *slog.Logger) *CloudWatchPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, country: country, logger: logger}
}

func (p *CloudWatchPublisher) RecordPair(ctx context.Context, outcome, reason string, d time.Duration) {
	dims := []cwtypes.Dimension{p.dim(DimOutcome, outcome)}
	if reason != "" {
		dims = append(dims, p.dim(DimReason, reason))
	}
	p.put(ctx,
		p.datum(MetricPairOutcome, 1, cwtypes.StandardUnitCount, dims...),
		p.datum(MetricPairDuration, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, p.dim(DimOutcome, outcome)),
	)
}

func (p *CloudWatchPublisher) RecordFused(ctx context.Context, rejected int) {
	p.put(ctx,
		p.datum(MetricTileFused, 1, cwtypes.StandardUnitCount),
		p.datum(MetricPatchesReject, float64(rejected), cwtypes.StandardUnitCount),
	)
}

func (p *CloudWatchPublisher) dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (p *CloudWatchPublisher) datum(name string, v float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(v),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now().UTC()),
		Dimensions: append([]cwtypes.Dimension{p.dim(DimCountry, p.country)}, dims...),
	}
}

func (p *CloudWatchPublisher) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}
	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish metrics",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

// Noop discards every event. It is used when metrics are disabled.
type Noop struct{}

func (Noop) RecordPair(context.Context, string, string, time.Duration) {}

func (Noop) RecordFused(context.Context, int) {}
