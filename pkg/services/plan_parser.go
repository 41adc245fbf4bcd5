package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/models"
)

var (
	planningTimeRe  = regexp.MustCompile(`Planning Time:\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)
	executionTimeRe = regexp.MustCompile(`Execution Time:\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)
	// first actual-rows block belongs to the top plan node
	actualRowsRe = regexp.MustCompile(`\(actual[^)]*?\brows=([0-9]+(?:\.[0-9]+)?)`)
)

// ParsePlan extracts planning time, execution time and the returned row count
// from EXPLAIN ANALYZE text. A missing marker is a ParseError.
func ParsePlan(source string, lines []string) (*models.PlanReport, error) {
	text := strings.Join(lines, "\n")

	planning, err := matchFloat(planningTimeRe, text, "planning time")
	if err != nil {
		return nil, err.WithDetail("source", source)
	}
	execution, err := matchFloat(executionTimeRe, text, "execution time")
	if err != nil {
		return nil, err.WithDetail("source", source)
	}
	rows, err := matchFloat(actualRowsRe, text, "actual rows")
	if err != nil {
		return nil, err.WithDetail("source", source)
	}

	return &models.PlanReport{
		Source:          source,
		PlanningTimeMs:  planning,
		ExecutionTimeMs: execution,
		RowCount:        int64(rows),
	}, nil
}

func matchFloat(re *regexp.Regexp, text, marker string) (float64, *errors.Error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, errors.Newf(errors.CodeParseFailed, "plan has no %s marker", marker).
			WithDetail("marker", marker)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeParseFailed, "invalid %s value %q", marker, m[1])
	}
	return v, nil
}
