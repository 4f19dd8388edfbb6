package stats

// Counts are the aggregated totals of one test group.
type Counts struct {
	Impressions float64
	Clicks      float64
	Conversions float64
	Cost        float64
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Impressions += o.Impressions
	c.Clicks += o.Clicks
	c.Conversions += o.Conversions
	c.Cost += o.Cost
}

// Metric names the rates Compare evaluates.
const (
	MetricCTR            = "ctr"
	MetricConversionRate = "conversion_rate"
	MetricConvPerImpr    = "conversions_per_impression"
)

// MetricTest is the z-test of one rate between two groups.
type MetricTest struct {
	Metric string `json:"metric"`
	Test

	// Lift is (r2-r1)/r1 as a percentage; 0 when r1 is 0.
	Lift        float64 `json:"lift"`
	Significant bool    `json:"significant"`

	// Err is set when the metric could not be tested: no trials, or more
	// successes than trials.
	Err error `json:"-"`
}

// Compare runs a z-test per metric. Metrics whose denominator is zero in
// either group carry ErrZeroDenominator in Err, and those with more
// successes than trials ErrInvalidProportion; neither is significant.
// threshold is a confidence percentage (e.g. 95).
func Compare(control, experiment Counts, threshold float64) []MetricTest {
	pairs := []struct {
		metric string
		c, e   Sample
	}{
		{MetricCTR, Sample{control.Clicks, control.Impressions}, Sample{experiment.Clicks, experiment.Impressions}},
		{MetricConversionRate, Sample{control.Conversions, control.Clicks}, Sample{experiment.Conversions, experiment.Clicks}},
		{MetricConvPerImpr, Sample{control.Conversions, control.Impressions}, Sample{experiment.Conversions, experiment.Impressions}},
	}
	out := make([]MetricTest, 0, len(pairs))
	for _, p := range pairs {
		mt := MetricTest{Metric: p.metric}
		t, err := TwoProportion(p.c, p.e)
		if err != nil {
			mt.Err = err
			out = append(out, mt)
			continue
		}
		mt.Test = t
		if t.R1 != 0 {
			mt.Lift = (t.R2 - t.R1) / t.R1 * 100
		}
		mt.Significant = t.Confidence >= threshold
		out = append(out, mt)
	}
	return out
}
