package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"fixturefeed/logger"
)

// metricPutter is the subset of the CloudWatch client used for publishing.
type metricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, params *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type cloudWatchState struct {
	client        metricPutter
	namespace     string
	dashboardName string
	region        string
}

var (
	cwState atomic.Pointer[cloudWatchState]

	publishMu       sync.Mutex
	publishInterval = time.Minute
	lastPublished   = make(map[string]time.Time)

	timeNow = time.Now
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "FixtureFeed",
		dashboardName: "FixtureFeed",
	})
}

func setPublishInterval(d time.Duration) {
	publishMu.Lock()
	publishInterval = d
	publishMu.Unlock()
}

// InitCloudWatch initialises the CloudWatch client. When the AWS configuration
// cannot be loaded publishing stays disabled and the error is returned.
func InitCloudWatch(ctx context.Context, region, namespace string) error {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS configuration: %w", err)
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
		state.dashboardName = namespace
	}
	state.region = cfg.Region
	if state.region == "" {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := putDashboard(ctx, &state); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
	return nil
}

// dashboardBody renders a single-widget dashboard for the feed metrics.
func dashboardBody(state *cloudWatchState) (string, error) {
	names := []string{MetricRefresh, MetricRows, MetricSkippedLines, MetricIssues, MetricFetchDuration}
	series := make([][]string, 0, len(names))
	for _, n := range names {
		series = append(series, []string{state.namespace, n, "component", "pipeline"})
	}
	body := map[string]interface{}{
		"widgets": []map[string]interface{}{{
			"type":   "metric",
			"width":  24,
			"height": 6,
			"properties": map[string]interface{}{
				"metrics": series,
				"period":  300,
				"stat":    "Sum",
				"region":  state.region,
				"title":   state.namespace + " feed",
			},
		}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode dashboard: %w", err)
	}
	return string(data), nil
}

func putDashboard(ctx context.Context, state *cloudWatchState) error {
	if state == nil || state.client == nil {
		return nil
	}
	body, err := dashboardBody(state)
	if err != nil {
		return err
	}
	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}

// allowPublish throttles each component/metric pair to one datum per interval.
func allowPublish(key string, now time.Time) bool {
	publishMu.Lock()
	defer publishMu.Unlock()

	if last, ok := lastPublished[key]; ok && now.Sub(last) < publishInterval {
		return false
	}
	lastPublished[key] = now
	return true
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}
	if !allowPublish(metric.Component+"/"+metric.Name, timeNow()) {
		return
	}

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := metric.Fields["unit"].(string); ok {
		unit = metricUnitFromString(rawUnit)
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}
	for k, v := range metric.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	publishMetrics(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(metric.Timestamp),
	}})
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	log := logger.GetLogger().WithComponent("cloudwatch")
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithFields(logger.Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

func metricUnitFromString(unit string) cwtypes.StandardUnit {
	switch strings.ToLower(unit) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "bytes":
		return cwtypes.StandardUnitBytes
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds
	default:
		return cwtypes.StandardUnitCount
	}
}
