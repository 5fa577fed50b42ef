// Package metrics emits the two operational counters of the replication
// pipeline: records processed per cycle and the lag behind the head of the
// stream. The production sink publishes to CloudWatch under the AWS/Neptune
// namespace, dimensioned by the stream endpoint.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Sink receives the per-cycle counters.
type Sink interface {
	// PublishRecordsProcessed emits how many stream records were handled.
	PublishRecordsProcessed(ctx context.Context, count int) error

	// PublishStreamLag emits how far the poller trails the latest commit.
	PublishStreamLag(ctx context.Context, lag time.Duration) error
}

// Nop is a Sink that discards all counters. Used in tests and local runs.
type Nop struct{}

// PublishRecordsProcessed implements Sink.
func (Nop) PublishRecordsProcessed(context.Context, int) error { return nil }

// PublishStreamLag implements Sink.
func (Nop) PublishStreamLag(context.Context, time.Duration) error { return nil }

// namespace groups the replication counters with the source database's own
// metrics.
const namespace = "AWS/Neptune"

// CloudWatchPublisher publishes the counters as CloudWatch metric data.
type CloudWatchPublisher struct {
	client          *cloudwatch.Client
	applicationName string
	streamEndpoint  string
}

// NewCloudWatchPublisher creates a publisher whose metric names are
// prefixed with the application name and whose single dimension is the
// stream endpoint.
func NewCloudWatchPublisher(cfg aws.Config, applicationName, streamEndpoint string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:          cloudwatch.NewFromConfig(cfg),
		applicationName: applicationName,
		streamEndpoint:  streamEndpoint,
	}
}

// PublishRecordsProcessed implements Sink.
func (p *CloudWatchPublisher) PublishRecordsProcessed(ctx context.Context, count int) error {
	return p.publish(ctx, p.applicationName+" - Stream Records Processed", types.StandardUnitCount, float64(count))
}

// PublishStreamLag implements Sink.
func (p *CloudWatchPublisher) PublishStreamLag(ctx context.Context, lag time.Duration) error {
	return p.publish(ctx, p.applicationName+" - Stream Lag from Neptune DB", types.StandardUnitMilliseconds, float64(lag.Milliseconds()))
}

func (p *CloudWatchPublisher) publish(ctx context.Context, metricName string, unit types.StandardUnit, value float64) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Dimensions: []types.Dimension{
					{Name: aws.String("Neptune Stream"), Value: aws.String(p.streamEndpoint)},
				},
				Unit:  unit,
				Value: aws.Float64(value),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", metricName, err)
	}
	return nil
}
