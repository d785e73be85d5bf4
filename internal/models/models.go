// Package models defines the audit entity kinds and aggregate shapes.
package models

// Kind names an entity table.
type Kind string

const (
	AuditRuns         Kind = "audit_runs"
	PagesFlows        Kind = "pages_flows"
	TrackersCookies   Kind = "trackers_cookies"
	ThirdPartyVendors Kind = "third_party_vendors"
	Findings          Kind = "findings"
)

// Kinds lists every entity kind, root first.
var Kinds = []Kind{AuditRuns, PagesFlows, TrackersCookies, ThirdPartyVendors, Findings}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is one entity row keyed by column name. Enumerated values are
// passed through as stored.
type Record map[string]any

// ID returns the record's id column when it is a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Overall risk ratings for an audit run.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Risks lists the accepted overall_risk values.
var Risks = []string{RiskLow, RiskMedium, RiskHigh}

// Finding severities, most severe first.
var Severities = []string{"Critical", "High", "Medium", "Low"}

// Finding statuses.
const (
	StatusOpen       = "Open"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
	StatusDeferred   = "Deferred"
)

// Statuses lists the accepted finding statuses. New findings start Open.
var Statuses = []string{StatusOpen, StatusInProgress, StatusDone, StatusDeferred}

// FullAuditData is one audit run with every child row.
type FullAuditData struct {
	AuditRun          Record   `json:"auditRun"`
	PagesFlows        []Record `json:"pagesFlows"`
	TrackersCookies   []Record `json:"trackersCookies"`
	ThirdPartyVendors []Record `json:"thirdPartyVendors"`
	Findings          []Record `json:"findings"`
}

// DashboardStats summarizes the store across all audit runs.
type DashboardStats struct {
	LatestAudit            Record   `json:"latestAudit"`
	Findings               []Record `json:"findings"`
	PagesFlowsCount        int      `json:"pagesFlowsCount"`
	TrackersCookiesCount   int      `json:"trackersCookiesCount"`
	ThirdPartyVendorsCount int      `json:"thirdPartyVendorsCount"`
}
