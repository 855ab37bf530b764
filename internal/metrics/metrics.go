package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/keithlinneman/sitedeploy/internal/version"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// file results, also used as the "result" label
const (
	ResultUploaded = "uploaded"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

type DeployMetrics struct {
	reg *prometheus.Registry

	filesTotal    *prometheus.CounterVec
	bytesTotal    prometheus.Counter
	fileDuration  prometheus.Histogram
	hookErrors    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	lastSuccessTs prometheus.Gauge
	lastBatchOK   prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

// New returns a fresh registry with the deploy collectors plus the go collector
func New() *DeployMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &DeployMetrics{
		reg: reg,
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitedeploy_files_total",
			Help: "Files processed by result (uploaded, skipped, failed)",
		}, []string{"result"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitedeploy_bytes_uploaded_total",
			Help: "Payload bytes sent to the bucket, after compression",
		}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitedeploy_file_duration_seconds",
			Help:    "Time from header resolution to upload completion per file",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		hookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitedeploy_hook_errors_total",
			Help: "Plugin hook failures by plugin and event",
		}, []string{"plugin", "event"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitedeploy_batch_duration_seconds",
			Help:    "Wall time of a full deploy batch",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitedeploy_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last batch with no failed files",
		}),
		lastBatchOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitedeploy_last_batch_success",
			Help: "Whether the last batch finished without failures (1) or not (0)",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "build_id", "go_version", "vcs_dirty"}),
	}
	reg.MustRegister(
		m.filesTotal,
		m.bytesTotal,
		m.fileDuration,
		m.hookErrors,
		m.batchDuration,
		m.lastSuccessTs,
		m.lastBatchOK,
		m.buildInfo,
	)
	return m
}

func (m *DeployMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *DeployMetrics) SetBuildInfo(vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

// ObserveFile records one file's outcome; bytes only count for uploads
func (m *DeployMetrics) ObserveFile(result string, bytes int, d time.Duration) {
	m.filesTotal.WithLabelValues(result).Inc()
	if result == ResultUploaded {
		m.bytesTotal.Add(float64(bytes))
	}
	m.fileDuration.Observe(d.Seconds())
}

func (m *DeployMetrics) IncHookError(plugin, event string) {
	m.hookErrors.WithLabelValues(plugin, event).Inc()
}

func (m *DeployMetrics) ObserveBatch(d time.Duration, ok bool) {
	m.batchDuration.Observe(d.Seconds())
	if ok {
		m.lastBatchOK.Set(1)
		m.lastSuccessTs.SetToCurrentTime()
	} else {
		m.lastBatchOK.Set(0)
	}
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The write is atomic, so a collector never reads a partial file.
func (m *DeployMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return xerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
