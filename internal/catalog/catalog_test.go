package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/siftworks/sitesift/internal/blob"
	"github.com/siftworks/sitesift/internal/models"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    models.Site
		wantErr bool
	}{
		{
			name: "standard key",
			key:  "crawler-results/processed/deal_105_www.amutecsrl.com/20251105_141718/big_markdown.md",
			want: models.Site{
				CustomID:  "deal_105__www.amutecsrl.com__20251105_141718",
				DealID:    "105",
				Domain:    "www.amutecsrl.com",
				URL:       "http://www.amutecsrl.com",
				Timestamp: "20251105_141718",
			},
		},
		{
			name: "domain containing underscores",
			key:  "p/deal_7_my_odd_domain.io/20250101_000000/big_markdown.md",
			want: models.Site{
				CustomID:  "deal_7__my_odd_domain.io__20250101_000000",
				DealID:    "7",
				Domain:    "my_odd_domain.io",
				URL:       "http://my_odd_domain.io",
				Timestamp: "20250101_000000",
			},
		},
		{name: "wrong file", key: "p/deal_1_x.com/20250101_000000/notes.txt", wantErr: true},
		{name: "missing deal segment", key: "p/x.com/20250101_000000/big_markdown.md", wantErr: true},
		{name: "too shallow", key: "big_markdown.md", wantErr: true},
		{name: "non-numeric deal id", key: "p/deal_abc_x.com/20250101_000000/big_markdown.md", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q): expected error, got %+v", tt.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", tt.key, err)
			}
			tt.want.BlobKey = tt.key
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

type recordingSiteStore struct {
	sites []models.Site
}

func (r *recordingSiteStore) UpsertSite(_ context.Context, site models.Site) error {
	r.sites = append(r.sites, site)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoverer_Run(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	keys := []string{
		"crawled/deal_1_a.com/20250101_000000/big_markdown.md",
		"crawled/deal_2_b.com/20250102_000000/big_markdown.md",
		"crawled/deal_3_c.com/20250103_000000/big_markdown.md",
		"crawled/deal_1_a.com/20250101_000000/other.txt",     // ignored
		"crawled/broken_dir/20250101_000000/big_markdown.md", // unparseable, skipped
	}
	for _, k := range keys {
		if err := store.Put(ctx, k, []byte("content of "+k)); err != nil {
			t.Fatal(err)
		}
	}

	sites := &recordingSiteStore{}
	d := NewDiscoverer(store, sites, "crawled/", discardLogger())

	report, err := d.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Discovered != 3 {
		t.Errorf("Discovered = %d, want 3", report.Discovered)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if len(sites.sites) != 3 {
		t.Fatalf("stored %d sites, want 3", len(sites.sites))
	}
	if sites.sites[0].SizeBytes == 0 {
		t.Error("site size not carried over from listing")
	}
}

func TestDiscoverer_RunWithLimit(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	for _, k := range []string{
		"c/deal_1_a.com/20250101_000000/big_markdown.md",
		"c/deal_2_b.com/20250102_000000/big_markdown.md",
		"c/deal_3_c.com/20250103_000000/big_markdown.md",
	} {
		if err := store.Put(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	sites := &recordingSiteStore{}
	report, err := NewDiscoverer(store, sites, "c/", discardLogger()).Run(ctx, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Discovered != 2 {
		t.Errorf("Discovered = %d, want 2", report.Discovered)
	}
}
