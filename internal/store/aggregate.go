package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/auditdesk/internal/models"
)

// FullAuditData fetches one audit run and all of its child rows
// concurrently. If any read fails the whole result is discarded and the
// error names the failing read.
func (s *Store) FullAuditData(ctx context.Context, auditRunID string) (*models.FullAuditData, error) {
	var out models.FullAuditData
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rec, err := s.Get(gctx, models.AuditRuns, auditRunID)
		if err != nil {
			return fmt.Errorf("fetch audit run: %w", err)
		}
		out.AuditRun = rec
		return nil
	})

	children := []struct {
		kind  models.Kind
		label string
		dst   *[]models.Record
	}{
		{models.PagesFlows, "pages flows", &out.PagesFlows},
		{models.TrackersCookies, "trackers cookies", &out.TrackersCookies},
		{models.ThirdPartyVendors, "third party vendors", &out.ThirdPartyVendors},
		{models.Findings, "findings", &out.Findings},
	}
	for _, c := range children {
		g.Go(func() error {
			recs, err := s.ListByAuditRun(gctx, c.kind, auditRunID)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", c.label, err)
			}
			*c.dst = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// DashboardStats fetches the latest audit run, every finding and the row
// counts of the other child tables concurrently.
func (s *Store) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var out models.DashboardStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rec, err := s.LatestAuditRun(gctx)
		if err != nil {
			return fmt.Errorf("fetch latest audit: %w", err)
		}
		out.LatestAudit = rec
		return nil
	})
	g.Go(func() error {
		recs, err := s.List(gctx, models.Findings)
		if err != nil {
			return fmt.Errorf("fetch findings: %w", err)
		}
		out.Findings = recs
		return nil
	})

	counts := []struct {
		kind  models.Kind
		label string
		dst   *int
	}{
		{models.PagesFlows, "pages flows", &out.PagesFlowsCount},
		{models.TrackersCookies, "trackers cookies", &out.TrackersCookiesCount},
		{models.ThirdPartyVendors, "third party vendors", &out.ThirdPartyVendorsCount},
	}
	for _, c := range counts {
		g.Go(func() error {
			n, err := s.Count(gctx, c.kind)
			if err != nil {
				return fmt.Errorf("count %s: %w", c.label, err)
			}
			*c.dst = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
