package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	montage = "montage"

	// Job metrics
	jobSubmissionsTotal = "job_submissions_total"
	jobPollsTotal       = "job_polls_total"
	jobTerminalTotal    = "job_terminal_total"
	jobsTracked         = "jobs_tracked"

	// Transport metrics
	uploadBytesTotal      = "upload_bytes_total"
	requestDurationMillis = "request_duration_milliseconds"

	// Labels
	resultLabel    = "result"
	stateLabel     = "state"
	operationLabel = "operation"
	codeLabel      = "code"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

var requestDurationBuckets = []float64{50, 100, 300, 500, 1000, 5000, 30000}

/**
* Metrics definition
**/
var jobSubmissionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: montage,
		Name:      jobSubmissionsTotal,
		Help:      "number of job submissions partitioned by result",
	},
	[]string{resultLabel},
)

var jobPollsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: montage,
		Name:      jobPollsTotal,
		Help:      "number of job status requests partitioned by result",
	},
	[]string{resultLabel},
)

var jobTerminalTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: montage,
		Name:      jobTerminalTotal,
		Help:      "number of tracked jobs that reached a terminal workflow state",
	},
	[]string{stateLabel},
)

var jobsTrackedMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: montage,
		Name:      jobsTracked,
		Help:      "number of jobs currently being polled",
	},
)

var uploadBytesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: montage,
		Name:      uploadBytesTotal,
		Help:      "number of request body bytes sent while creating jobs",
	},
)

var requestDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: montage,
		Name:      requestDurationMillis,
		Help:      "time spent on backend requests partitioned by operation and status code",
		Buckets:   requestDurationBuckets,
	},
	[]string{operationLabel, codeLabel},
)

func IncreaseJobSubmissionsMetric(result string) {
	jobSubmissionsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseJobPollsMetric(result string) {
	jobPollsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseJobTerminalMetric(state string) {
	jobTerminalTotalMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

func IncreaseJobsTrackedMetric() {
	jobsTrackedMetric.Inc()
}

func DecreaseJobsTrackedMetric() {
	jobsTrackedMetric.Dec()
}

func AddUploadBytesMetric(n int64) {
	if n <= 0 {
		return
	}
	uploadBytesTotalMetric.Add(float64(n))
}

// ObserveRequestDuration records a backend call. A zero code means the request
// never got a response.
func ObserveRequestDuration(operation string, code int, d time.Duration) {
	requestDurationMetric.With(prometheus.Labels{
		operationLabel: operation,
		codeLabel:      strconv.Itoa(code),
	}).Observe(float64(d.Milliseconds()))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobSubmissionsTotalMetric)
	prometheus.MustRegister(jobPollsTotalMetric)
	prometheus.MustRegister(jobTerminalTotalMetric)
	prometheus.MustRegister(jobsTrackedMetric)
	prometheus.MustRegister(uploadBytesTotalMetric)
	prometheus.MustRegister(requestDurationMetric)
}
