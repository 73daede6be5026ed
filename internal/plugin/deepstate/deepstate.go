// Package deepstate implements the Deepstate built-in OSINT provider
// plugin (spec.md §1 "Deepstate"), polling the public Deepstate Map
// GeoJSON feed of reported events/markers.
package deepstate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/plugin/httpfetch"
)

const ID = "deepstate"

func init() { Builtin = func() plugin.Plugin { return New() } }

var Builtin plugin.Factory

// Config fields expected under Stream.PluginConfig for this plugin.
type Config struct {
	FeedURL string `json:"feed_url"`
}

// Plugin implements plugin.Plugin. Deepstate publishes anonymous public
// events rather than per-device tracks, so it has no CallsignMappable
// identifier field worth exposing.
type Plugin struct {
	client *httpfetch.Client
}

func New() *Plugin {
	return &Plugin{client: httpfetch.New(httpfetch.DefaultTimeout)}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:             ID,
		DisplayName:    "Deepstate",
		Category:       plugin.CategoryOSINT,
		DefaultCotType: "a-u-G",
		HelpSections:   []string{"Polls the public Deepstate Map event feed; no credentials required."},
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]interface{}) []plugin.FieldError {
	return nil
}

type geoJSONFeed struct {
	Features []struct {
		Properties struct {
			ID    json.Number `json:"id"`
			Name  string      `json:"name"`
			Description string `json:"description"`
			UpdatedAt string  `json:"updated_at"`
		} `json:"properties"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

func (p *Plugin) Fetch(ctx context.Context, cfg map[string]interface{}) ([]plugin.Location, error) {
	c := decodeConfig(cfg)
	resp, err := p.client.Get(ctx, c.FeedURL, nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return nil, mapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	var feed geoJSONFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	locations := make([]plugin.Location, 0, len(feed.Features))
	for _, f := range feed.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, f.Properties.UpdatedAt)
		if err != nil {
			ts = time.Now().UTC()
		}
		locations = append(locations, plugin.Location{
			DeviceUID: fmt.Sprintf("deepstate:%s", f.Properties.ID.String()),
			Name:      f.Properties.Name,
			Timestamp: ts.UTC(),
			Lon:       f.Geometry.Coordinates[0],
			Lat:       f.Geometry.Coordinates[1],
			AdditionalData: map[string]interface{}{
				"description": f.Properties.Description,
			},
		})
	}
	return locations, nil
}

func (p *Plugin) TestConnection(ctx context.Context, cfg map[string]interface{}) (plugin.HealthReport, error) {
	c := decodeConfig(cfg)
	resp, err := p.client.Get(ctx, c.FeedURL, nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return plugin.HealthReport{OK: false, Message: mapped.Error()}, nil
	}
	defer resp.Body.Close()
	return plugin.HealthReport{OK: resp.StatusCode == http.StatusOK}, nil
}

func decodeConfig(cfg map[string]interface{}) Config {
	var c Config
	if v, ok := cfg["feed_url"].(string); ok {
		c.FeedURL = v
	}
	if c.FeedURL == "" {
		c.FeedURL = "https://deepstatemap.live/api/history/last"
	}
	return c
}
