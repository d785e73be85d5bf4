package dispatch

import "github.com/rsclarke/auditdesk/internal/models"

type operation int

const (
	opList operation = iota
	opGet
	opCreate
	opUpdate
	opDelete
	opFullAuditData
	opDashboardStats
)

type route struct {
	kind models.Kind
	op   operation
}

// Action names handled outside the route table.
const (
	ActionLogin  = "login"
	ActionLogout = "logout"
)

var routes = map[string]route{
	"getAuditRuns":   {models.AuditRuns, opList},
	"getAuditRun":    {models.AuditRuns, opGet},
	"createAuditRun": {models.AuditRuns, opCreate},
	"updateAuditRun": {models.AuditRuns, opUpdate},
	"deleteAuditRun": {models.AuditRuns, opDelete},

	"getPagesFlows":  {models.PagesFlows, opList},
	"createPageFlow": {models.PagesFlows, opCreate},
	"updatePageFlow": {models.PagesFlows, opUpdate},
	"deletePageFlow": {models.PagesFlows, opDelete},

	"getTrackersCookies":  {models.TrackersCookies, opList},
	"createTrackerCookie": {models.TrackersCookies, opCreate},
	"updateTrackerCookie": {models.TrackersCookies, opUpdate},
	"deleteTrackerCookie": {models.TrackersCookies, opDelete},

	"getThirdPartyVendors":   {models.ThirdPartyVendors, opList},
	"createThirdPartyVendor": {models.ThirdPartyVendors, opCreate},
	"updateThirdPartyVendor": {models.ThirdPartyVendors, opUpdate},
	"deleteThirdPartyVendor": {models.ThirdPartyVendors, opDelete},

	"getFindings":   {models.Findings, opList},
	"createFinding": {models.Findings, opCreate},
	"updateFinding": {models.Findings, opUpdate},
	"deleteFinding": {models.Findings, opDelete},

	"getFullAuditData":  {models.AuditRuns, opFullAuditData},
	"getDashboardStats": {models.AuditRuns, opDashboardStats},
}

// Actions returns every recognized action name.
func Actions() []string {
	out := []string{ActionLogin, ActionLogout}
	for name := range routes {
		out = append(out, name)
	}
	return out
}
