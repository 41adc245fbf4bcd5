package models

// PlanReport is the metrics extracted from one plan-with-timing run.
type PlanReport struct {
	Source          string  `json:"source"`
	PlanningTimeMs  float64 `json:"planning_time_ms"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	RowCount        int64   `json:"row_count"`
}

// Stat summarises repeated timing samples in milliseconds.
type Stat struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// PlanSummary aggregates repeated PlanReports of one backend.
type PlanSummary struct {
	Source         string `json:"source"`
	Iterations     int    `json:"iterations"`
	PlanningTime   Stat   `json:"planning_time_ms"`
	ExecutionTime  Stat   `json:"execution_time_ms"`
	RowCount       int64  `json:"row_count"`
	ConsistentRows bool   `json:"consistent_rows"`
}

// Summarize folds reports of a single backend into a PlanSummary. The row
// count is taken from the first report.
func Summarize(source string, reports []*PlanReport) PlanSummary {
	s := PlanSummary{Source: source, Iterations: len(reports), ConsistentRows: true}
	if len(reports) == 0 {
		return s
	}
	planning := make([]float64, 0, len(reports))
	execution := make([]float64, 0, len(reports))
	s.RowCount = reports[0].RowCount
	for _, r := range reports {
		planning = append(planning, r.PlanningTimeMs)
		execution = append(execution, r.ExecutionTimeMs)
		if r.RowCount != s.RowCount {
			s.ConsistentRows = false
		}
	}
	s.PlanningTime = newStat(planning)
	s.ExecutionTime = newStat(execution)
	return s
}

func newStat(samples []float64) Stat {
	st := Stat{Min: samples[0], Max: samples[0]}
	var sum float64
	for _, v := range samples {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / float64(len(samples))
	return st
}
