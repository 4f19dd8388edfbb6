package sink

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/adlens/adlens/pkg/types"
)

var resultStates = []string{types.StateOK, types.StateWarning, types.StateCritical, types.StateUnknown}

var severities = []string{types.SeverityInfo, types.SeverityWarning, types.SeverityCritical}

// Prometheus keeps the latest result of every job and rewrites a
// node-exporter textfile collector file on each Write.
type Prometheus struct {
	path string

	mu     sync.Mutex
	latest map[string]*types.Result
}

// NewPrometheus returns a sink writing the textfile at path.
func NewPrometheus(path string) *Prometheus {
	return &Prometheus{path: path, latest: make(map[string]*types.Result)}
}

// Name implements Sink.
func (s *Prometheus) Name() string { return "prometheus:" + s.path }

// Write records res and rewrites the textfile.
func (s *Prometheus) Write(_ context.Context, res *types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[res.JobID] = res

	var buf bytes.Buffer
	for _, mf := range s.families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("sink: prometheus: encode %s: %w", mf.GetName(), err)
		}
	}
	return writeAtomic(s.path, buf.Bytes())
}

func (s *Prometheus) families() []*dto.MetricFamily {
	jobs := make([]string, 0, len(s.latest))
	for id := range s.latest {
		jobs = append(jobs, id)
	}
	sort.Strings(jobs)

	summary := gaugeFamily("adlens_summary", "Headline numbers of the latest run, per job and metric.")
	findings := gaugeFamily("adlens_findings", "Findings of the latest run, per job and severity.")
	state := gaugeFamily("adlens_result_state", "1 for the state of the latest run, 0 otherwise.")
	lastRun := gaugeFamily("adlens_last_run_timestamp_seconds", "Unix time of the latest run.")
	rows := gaugeFamily("adlens_rows_read", "Report rows read by the latest run.")

	for _, id := range jobs {
		res := s.latest[id]
		keys := make([]string, 0, len(res.Summary))
		for k := range res.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			summary.Metric = append(summary.Metric, gauge(res.Summary[k], "job", id, "kind", res.Kind, "metric", k))
		}
		for _, sev := range severities {
			findings.Metric = append(findings.Metric, gauge(float64(res.CountBySeverity(sev)), "job", id, "severity", sev))
		}
		for _, st := range resultStates {
			v := 0.0
			if res.State == st {
				v = 1
			}
			state.Metric = append(state.Metric, gauge(v, "job", id, "state", st))
		}
		lastRun.Metric = append(lastRun.Metric, gauge(float64(res.Timestamp.Unix()), "job", id))
		rows.Metric = append(rows.Metric, gauge(float64(res.RowsRead), "job", id))
	}
	return []*dto.MetricFamily{summary, findings, state, lastRun, rows}
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

// gauge builds one sample; labels are name/value pairs.
func gauge(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: proto.String(labels[i]), Value: proto.String(labels[i+1])})
	}
	return m
}
