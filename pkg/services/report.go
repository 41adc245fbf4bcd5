package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/models"
)

// Report formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

// WriteSummaries renders summaries sorted by backend identity.
func WriteSummaries(w io.Writer, format string, summaries map[string]models.PlanSummary) error {
	list := make([]models.PlanSummary, 0, len(summaries))
	for _, s := range summaries {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Source < list[j].Source })

	switch format {
	case FormatJSON:
		return writeJSON(w, list)
	case FormatCSV:
		return writeCSV(w, list)
	case FormatMarkdown, "md", "":
		return writeMarkdown(w, list)
	default:
		return errors.Newf(errors.CodeInvalidArgument, "unsupported report format %q", format)
	}
}

func writeJSON(w io.Writer, list []models.PlanSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func writeCSV(w io.Writer, list []models.PlanSummary) error {
	cw := csv.NewWriter(w)
	header := []string{
		"backend", "iterations",
		"planning_mean_ms", "planning_min_ms", "planning_max_ms",
		"execution_mean_ms", "execution_min_ms", "execution_max_ms",
		"rows", "consistent_rows",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range list {
		record := []string{
			s.Source,
			strconv.Itoa(s.Iterations),
			formatMs(s.PlanningTime.Mean), formatMs(s.PlanningTime.Min), formatMs(s.PlanningTime.Max),
			formatMs(s.ExecutionTime.Mean), formatMs(s.ExecutionTime.Min), formatMs(s.ExecutionTime.Max),
			strconv.FormatInt(s.RowCount, 10),
			strconv.FormatBool(s.ConsistentRows),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeMarkdown(w io.Writer, list []models.PlanSummary) error {
	tw := tabwriter.NewWriter(w, 0, 2, 1, ' ', 0)
	fmt.Fprintf(tw, "| Backend\t| Runs\t| Planning mean (ms)\t| Planning min/max (ms)\t| Execution mean (ms)\t| Execution min/max (ms)\t| Rows\t|\n")
	fmt.Fprintf(tw, "|---\t|---\t|---\t|---\t|---\t|---\t|---\t|\n")
	for _, s := range list {
		rows := strconv.FormatInt(s.RowCount, 10)
		if !s.ConsistentRows {
			rows += " (varies)"
		}
		fmt.Fprintf(tw, "| %s\t| %d\t| %s\t| %s / %s\t| %s\t| %s / %s\t| %s\t|\n",
			s.Source, s.Iterations,
			formatMs(s.PlanningTime.Mean), formatMs(s.PlanningTime.Min), formatMs(s.PlanningTime.Max),
			formatMs(s.ExecutionTime.Mean), formatMs(s.ExecutionTime.Min), formatMs(s.ExecutionTime.Max),
			rows)
	}
	return tw.Flush()
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
