package delivery

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"lifeline/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMetrics_Count(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, &recordingLogger{})

	metrics.Count(context.Background(), types.MetricSwitchesTriggered, 3,
		map[string]string{types.DimReason: "grace_period_expired"})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}

	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	if len(input.MetricData) != 1 {
		t.Fatalf("expected 1 metric datum, got %d", len(input.MetricData))
	}

	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricSwitchesTriggered {
		t.Errorf("expected metric name %q, got %q", types.MetricSwitchesTriggered, *datum.MetricName)
	}
	if *datum.Value != 3.0 {
		t.Errorf("expected value 3.0, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", datum.Unit)
	}
	if len(datum.Dimensions) != 1 {
		t.Fatalf("expected 1 dimension, got %d", len(datum.Dimensions))
	}
	if *datum.Dimensions[0].Name != types.DimReason || *datum.Dimensions[0].Value != "grace_period_expired" {
		t.Errorf("unexpected dimension %q=%q", *datum.Dimensions[0].Name, *datum.Dimensions[0].Value)
	}
}

func TestCloudWatchMetrics_Count_NoDimensions(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, &recordingLogger{})

	metrics.Count(context.Background(), types.MetricDeliverySuccess, 1, nil)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	if len(cw.calls[0].MetricData[0].Dimensions) != 0 {
		t.Error("expected no dimensions")
	}
}

func TestCloudWatchMetrics_Count_PublishErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("throttled")}
	logger := &recordingLogger{}
	metrics := NewCloudWatchMetrics(cw, logger)

	// Must not panic or propagate; the error is logged.
	metrics.Count(context.Background(), types.MetricDeliveryFailed, 1, nil)

	if len(logger.errorMsgs) != 1 {
		t.Errorf("expected 1 error log, got %d", len(logger.errorMsgs))
	}
}
