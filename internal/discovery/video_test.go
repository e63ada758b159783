package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/normalize"
)

func TestVideoDiscoverFilters(t *testing.T) {
	t.Parallel()

	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	body := fmt.Sprintf(`{"items":[
  {"id":"v1","title":"Long Talk","url":"https://video.example.com/v1","channel":"GopherCon","published_at":%q,"duration_seconds":3600,"has_captions":true,"thumbnails":["https://img.example.com/v1.jpg"]},
  {"id":"v2","title":"Short Clip","url":"https://video.example.com/v2","published_at":%q,"duration_seconds":45,"has_captions":true},
  {"id":"v3","title":"No Captions","url":"https://video.example.com/v3","published_at":%q,"duration_seconds":1200,"has_captions":false}
]}`, recent, recent, recent)

	fetcher := &stubFetcher{pages: map[string]string{
		"https://video.example.com/api/channel": body,
	}}

	d := NewVideoDiscoverer(fetcher, normalize.New(nil), nil)

	items, err := d.Discover(context.Background(), config.SourceConfig{
		Type:            "video",
		CampaignID:      "c1",
		URL:             "https://video.example.com/api/channel",
		MinDuration:     config.Duration(5 * time.Minute),
		RequireCaptions: true,
	})
	if err != nil {
		t.Fatalf("Discover error: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("expected only the long captioned video, got %d", len(items))
	}
	if items[0].ItemID != "v1" {
		t.Fatalf("unexpected item id: %s", items[0].ItemID)
	}
	if items[0].Author != "GopherCon" {
		t.Fatalf("channel not mapped to author: %s", items[0].Author)
	}
	if len(items[0].MediaURLs) != 1 {
		t.Fatalf("thumbnails not mapped to media urls: %v", items[0].MediaURLs)
	}
	if items[0].RawMetadata["duration_seconds"] != "3600" {
		t.Fatalf("duration metadata lost: %q", items[0].RawMetadata["duration_seconds"])
	}
}
