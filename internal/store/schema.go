package store

import (
	"fmt"
	"strings"

	"github.com/rsclarke/auditdesk/internal/models"
)

type columnKind int

const (
	textColumn columnKind = iota
	boolColumn
	jsonColumn
	timeColumn
)

type column struct {
	name string
	kind columnKind
}

// table describes one entity table. Every table also has id, created_at
// and updated_at.
type table struct {
	kind    models.Kind
	columns []column
	// childOrder orders rows scoped to one audit run.
	childOrder string
}

const auditRunColumn = "audit_run_id"

var severityOrder = rankBy("severity", models.Severities) + ", created_at ASC"

// rankBy returns a CASE expression ranking col by its position in values.
// Values outside the list sort last.
func rankBy(col string, values []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CASE %s", col)
	for i, v := range values {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", v, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(values))
	return b.String()
}

var tables = map[models.Kind]*table{
	models.AuditRuns: {
		kind: models.AuditRuns,
		columns: []column{
			{"site_url", textColumn},
			{"included_properties", jsonColumn},
			{"detected_stack", jsonColumn},
			{"is_complete", boolColumn},
			{"overall_risk", textColumn},
			{"notes", textColumn},
			{"summary", textColumn},
			{"audit_date", textColumn},
		},
		childOrder: "created_at ASC",
	},
	models.PagesFlows: {
		kind: models.PagesFlows,
		columns: []column{
			{auditRunColumn, textColumn},
			{"name", textColumn},
			{"url", textColumn},
			{"purpose", textColumn},
			{"data_collected", jsonColumn},
			{"consent_method", textColumn},
			{"retention", textColumn},
			{"evidence", jsonColumn},
		},
		childOrder: "created_at ASC",
	},
	models.TrackersCookies: {
		kind: models.TrackersCookies,
		columns: []column{
			{auditRunColumn, textColumn},
			{"name", textColumn},
			{"vendor", textColumn},
			{"type", textColumn},
			{"expiry", textColumn},
			{"is_essential", boolColumn},
			{"fires_before_consent", boolColumn},
			{"evidence", jsonColumn},
		},
		childOrder: "created_at ASC",
	},
	models.ThirdPartyVendors: {
		kind: models.ThirdPartyVendors,
		columns: []column{
			{auditRunColumn, textColumn},
			{"name", textColumn},
			{"category", textColumn},
			{"dpa_status", textColumn},
			{"cross_border_status", textColumn},
			{"countries", jsonColumn},
			{"data_shared", jsonColumn},
			{"evidence", jsonColumn},
		},
		childOrder: "created_at ASC",
	},
	models.Findings: {
		kind: models.Findings,
		columns: []column{
			{auditRunColumn, textColumn},
			{"title", textColumn},
			{"severity", textColumn},
			{"status", textColumn},
			{"owner", textColumn},
			{"principles", jsonColumn},
			{"fix_guidance", textColumn},
			{"evidence", jsonColumn},
		},
		childOrder: severityOrder,
	},
}

// allColumns returns id, the entity columns and the timestamps in select order.
func (t *table) allColumns() []column {
	cols := make([]column, 0, len(t.columns)+3)
	cols = append(cols, column{"id", textColumn})
	cols = append(cols, t.columns...)
	cols = append(cols, column{"created_at", timeColumn}, column{"updated_at", timeColumn})
	return cols
}

func (t *table) selectList() string {
	cols := t.allColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

func (t *table) lookup(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (t *table) hasParent() bool {
	_, ok := t.lookup(auditRunColumn)
	return ok
}

// readOnly columns are accepted in input and ignored so clients can send
// back a record they fetched.
func readOnly(name string) bool {
	return name == "id" || name == "created_at" || name == "updated_at"
}
