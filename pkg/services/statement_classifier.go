package services

import (
	"regexp"
	"strings"

	"github.com/TFMV/arbor/pkg/errors"
)

// StatementType represents the type of SQL statement.
type StatementType int

const (
	StatementTypeDDL     StatementType = iota // CREATE, DROP, ALTER, TRUNCATE
	StatementTypeDML                          // INSERT, UPDATE, DELETE, MERGE, COPY
	StatementTypeDQL                          // SELECT, WITH...SELECT, VALUES, TABLE
	StatementTypeTCL                          // BEGIN, COMMIT, ROLLBACK, SAVEPOINT
	StatementTypeDCL                          // GRANT, REVOKE
	StatementTypeUtility                      // EXPLAIN, SET, VACUUM, ...
	StatementTypeOther                        // predicates and anything unrecognised
)

// String returns the string representation of the statement type.
func (st StatementType) String() string {
	switch st {
	case StatementTypeDDL:
		return "DDL"
	case StatementTypeDML:
		return "DML"
	case StatementTypeDQL:
		return "DQL"
	case StatementTypeTCL:
		return "TCL"
	case StatementTypeDCL:
		return "DCL"
	case StatementTypeUtility:
		return "UTILITY"
	case StatementTypeOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

var statementPatterns = []struct {
	typ      StatementType
	patterns []*regexp.Regexp
}{
	{StatementTypeDCL, compileAll(`GRANT\s+`, `REVOKE\s+`, `(CREATE|ALTER|DROP)\s+(USER|ROLE)\s+`)},
	{StatementTypeDDL, compileAll(`CREATE\s+`, `DROP\s+`, `ALTER\s+`, `TRUNCATE\s+`, `COMMENT\s+ON\s+`)},
	{StatementTypeDML, compileAll(`INSERT\s+`, `UPDATE\s+`, `DELETE\s+`, `MERGE\s+`, `COPY\s+`)},
	{StatementTypeTCL, compileAll(`BEGIN\b`, `START\s+TRANSACTION\b`, `COMMIT\b`, `ROLLBACK\b`, `SAVEPOINT\s+`, `RELEASE\s+`)},
	{StatementTypeUtility, compileAll(`EXPLAIN\s+`, `ANALYZE\b`, `SET\s+`, `RESET\s+`, `SHOW\s+`, `VACUUM\b`, `REINDEX\s+`, `CHECKPOINT\b`, `CALL\s+`, `DO\s+`)},
	{StatementTypeDQL, compileAll(`SELECT\b`, `WITH\b`, `\([(\s]*SELECT\b`, `VALUES\b`, `TABLE\b`)},
}

// the projection is itself a WITH clause; RECURSIVE may only follow its first WITH
var recursiveCTE = regexp.MustCompile(`(?i)^\s*WITH\s+RECURSIVE\b`)

// data-modifying CTEs hide writes behind a leading WITH
var modifyingCTE = regexp.MustCompile(`(?is)\bAS\s*(NOT\s+MATERIALIZED\s*|MATERIALIZED\s*)?\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)^\s*` + e)
	}
	return out
}

// ClassifyStatement returns the type of the leading statement of sql. A bare
// predicate such as "category_name = 'x'" is StatementTypeOther.
func ClassifyStatement(sql string) StatementType {
	for _, group := range statementPatterns {
		for _, p := range group.patterns {
			if p.MatchString(sql) {
				return group.typ
			}
		}
	}
	return StatementTypeOther
}

// ValidateFragment rejects query fragments that are not a read: any leading
// statement other than a query or a predicate, a recursive or data-modifying
// CTE, or a second statement after a semicolon.
func ValidateFragment(fragment string) error {
	trimmed := strings.TrimSuffix(strings.TrimSpace(fragment), ";")

	switch typ := ClassifyStatement(trimmed); typ {
	case StatementTypeDQL, StatementTypeOther:
	default:
		return errors.Newf(errors.CodeInvalidArgument, "fragment is a %s statement, only queries and predicates can be analyzed", typ).
			WithDetail("fragment", trimmed)
	}
	if recursiveCTE.MatchString(trimmed) {
		return errors.New(errors.CodeInvalidArgument, "fragment cannot open with WITH RECURSIVE").
			WithDetail("fragment", trimmed)
	}
	if modifyingCTE.MatchString(trimmed) {
		return errors.New(errors.CodeInvalidArgument, "fragment contains a data-modifying WITH clause").
			WithDetail("fragment", trimmed)
	}
	if containsStatementBreak(trimmed) {
		return errors.New(errors.CodeInvalidArgument, "fragment must be a single statement").
			WithDetail("fragment", trimmed)
	}
	return nil
}

// containsStatementBreak reports a semicolon outside quotes.
func containsStatementBreak(sql string) bool {
	var quote rune
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			return true
		}
	}
	return false
}
