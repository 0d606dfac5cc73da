// Package catalog discovers crawled sites in the blob store and maintains
// the item catalog.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/models"
)

// crawlFileName is the per-site artifact the crawler leaves behind; only
// these keys enter the catalog.
const crawlFileName = "big_markdown.md"

var dealDirPattern = regexp.MustCompile(`^deal_(\d+)_(.+)$`)

// SiteStore is the catalog's persistence surface.
type SiteStore interface {
	UpsertSite(ctx context.Context, site models.Site) error
}

// Discoverer lists crawled content and upserts catalog entries.
type Discoverer struct {
	store  blob.Store
	sites  SiteStore
	prefix string
	log    *slog.Logger
}

// NewDiscoverer wires a discoverer over the blob store and the catalog.
func NewDiscoverer(store blob.Store, sites SiteStore, prefix string, log *slog.Logger) *Discoverer {
	return &Discoverer{store: store, sites: sites, prefix: prefix, log: log}
}

// Report summarizes one discovery run.
type Report struct {
	Listed     int
	Discovered int
	Skipped    int
	TotalBytes int64
}

// Run lists the crawled prefix and upserts every parseable site, up to
// limit entries when limit > 0. Unparseable keys are logged and skipped.
func (d *Discoverer) Run(ctx context.Context, limit int) (Report, error) {
	objects, err := d.store.List(ctx, d.prefix)
	if err != nil {
		return Report{}, fmt.Errorf("list crawled content: %w", err)
	}

	var report Report
	report.Listed = len(objects)

	for _, obj := range objects {
		if limit > 0 && report.Discovered >= limit {
			break
		}
		site, err := ParseKey(obj.Key)
		if err != nil {
			if strings.HasSuffix(obj.Key, crawlFileName) {
				d.log.Warn("skipping unparseable key", "key", obj.Key, "error", err)
				report.Skipped++
			}
			continue
		}
		site.SizeBytes = obj.Size
		if err := d.sites.UpsertSite(ctx, site); err != nil {
			return report, fmt.Errorf("upsert site %s: %w", site.CustomID, err)
		}
		report.Discovered++
		report.TotalBytes += obj.Size
	}

	d.log.Info("discovery complete",
		"listed", report.Listed,
		"discovered", report.Discovered,
		"skipped", report.Skipped,
		"total_bytes", report.TotalBytes)
	return report, nil
}

// ParseKey extracts site identity from a crawl blob key. Expected layout:
// .../deal_<id>_<domain>/<timestamp>/big_markdown.md
func ParseKey(key string) (models.Site, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return models.Site{}, fmt.Errorf("key %q: too few path segments", key)
	}
	if parts[len(parts)-1] != crawlFileName {
		return models.Site{}, fmt.Errorf("key %q: not a %s", key, crawlFileName)
	}

	timestamp := parts[len(parts)-2]
	dealDir := parts[len(parts)-3]

	m := dealDirPattern.FindStringSubmatch(dealDir)
	if m == nil {
		return models.Site{}, fmt.Errorf("key %q: segment %q does not match deal_<id>_<domain>", key, dealDir)
	}
	dealID, domain := m[1], m[2]

	return models.Site{
		CustomID:  models.CustomID(dealID, domain, timestamp),
		DealID:    dealID,
		Domain:    domain,
		URL:       "http://" + domain,
		BlobKey:   key,
		Timestamp: timestamp,
	}, nil
}
