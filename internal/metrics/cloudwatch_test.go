package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dims(d cwtypes.MetricDatum) map[string]string {
	out := map[string]string{}
	for _, dim := range d.Dimensions {
		out[aws.ToString(dim.Name)] = aws.ToString(dim.Value)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordPair(t *testing.T) {
	cw := &mockCloudWatch{}
	p := NewCloudWatchPublisher(cw, "TileSeam", "Ghana", testLogger())

	p.RecordPair(context.Background(), "skipped", "skip_tiles_agree", 2500*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	in := cw.inputs[0]
	assert.Equal(t, "TileSeam", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 2)

	outcome := in.MetricData[0]
	assert.Equal(t, MetricPairOutcome, aws.ToString(outcome.MetricName))
	assert.Equal(t, map[string]string{DimCountry: "Ghana", DimOutcome: "skipped", DimReason: "skip_tiles_agree"}, dims(outcome))

	duration := in.MetricData[1]
	assert.Equal(t, 2500.0, aws.ToFloat64(duration.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, duration.Unit)
	assert.NotContains(t, dims(duration), DimReason)
}

func TestRecordPairWithoutReason(t *testing.T) {
	cw := &mockCloudWatch{}
	NewCloudWatchPublisher(cw, "TileSeam", "Ghana", testLogger()).RecordPair(context.Background(), "done", "", time.Second)

	require.Len(t, cw.inputs, 1)
	assert.NotContains(t, dims(cw.inputs[0].MetricData[0]), DimReason)
}

func TestRecordFused(t *testing.T) {
	cw := &mockCloudWatch{}
	NewCloudWatchPublisher(cw, "TileSeam", "Ghana", testLogger()).RecordFused(context.Background(), 3)

	require.Len(t, cw.inputs, 1)
	data := cw.inputs[0].MetricData
	assert.Equal(t, MetricTileFused, aws.ToString(data[0].MetricName))
	assert.Equal(t, 3.0, aws.ToFloat64(data[1].Value))
}

func TestPublishErrorsAreSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	p := NewCloudWatchPublisher(cw, "TileSeam", "Ghana", testLogger())

	assert.NotPanics(t, func() {
		p.RecordPair(context.Background(), "failed", "upstream_predictor_unavailable", time.Second)
		p.RecordFused(context.Background(), 0)
	})
	assert.Len(t, cw.inputs, 2)
}
