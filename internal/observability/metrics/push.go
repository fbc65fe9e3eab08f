package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the gathered metrics to a Prometheus Pushgateway under job,
// replacing the previous push for the same grouping. Batch commands use it
// because they exit before any scrape could see them.
func Push(ctx context.Context, endpoint, job string, grouping map[string]string, gatherer prometheus.Gatherer) error {
	endpoint = strings.TrimSpace(endpoint)
	job = strings.TrimSpace(job)
	if endpoint == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if job == "" {
		return errors.New("pushgateway job is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	pusher := push.New(endpoint, job).Gatherer(gatherer)
	for key, value := range grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}
