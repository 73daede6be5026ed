// Package garmin implements the Garmin InReach built-in provider plugin
// (spec.md §1 "Garmin InReach"). It polls a MapShare feed's JSON
// point-history endpoint and normalizes each point into a plugin.Location.
package garmin

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

const ID = "garmin_inreach"

func init() {
	// init only sets Builtin; it does not register the plugin with any
	// Registry. cmd/trakbridged registers it explicitly via RegisterBuiltin.
	Builtin = func() plugin.Plugin { return New() }
}

// Builtin is a ready-made factory for this plugin, set by init. The
// daemon's registry bootstrap builds its own factory from New instead.
var Builtin plugin.Factory

// Config fields expected under Stream.PluginConfig for this plugin.
type Config struct {
	MapShareID   string `json:"mapshare_id"`
	MapSharePIN  string `json:"mapshare_pin"`
	FeedBaseURL  string `json:"feed_base_url"` // defaults to share.garmin.com
}

// Plugin implements plugin.Plugin and plugin.CallsignMappable.
type Plugin struct {
	client *httpfetch.Client
}

// New constructs a Garmin InReach plugin instance.
func New() *Plugin {
	return &Plugin{client: httpfetch.New(httpfetch.DefaultTimeout)}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:             ID,
		DisplayName:    "Garmin InReach",
		Category:       plugin.CategoryTracker,
		DefaultCotType: "a-f-G-E-V-C",
		HelpSections:   []string{"Requires a public or PIN-protected MapShare page."},
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]interface{}) []plugin.FieldError {
	var errs []plugin.FieldError
	if _, ok := cfg["mapshare_id"].(string); !ok {
		errs = append(errs, plugin.FieldError{Field: "mapshare_id", Message: "required string"})
	}
	return errs
}

func (p *Plugin) Fetch(ctx context.Context, cfg map[string]interface{}) ([]plugin.Location, error) {
	c := decodeConfig(cfg)
	url := feedURL(c)

	resp, err := p.client.Get(ctx, url, nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return nil, mapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	var feed struct {
		Points []struct {
			ID        string  `json:"Id"`
			DeviceName string `json:"DeviceName"`
			Lat       float64 `json:"Latitude"`
			Lon       float64 `json:"Longitude"`
			Alt       float64 `json:"Elevation"`
			Course    float64 `json:"Course"`
			Speed     float64 `json:"Velocity"`
			Timestamp string  `json:"Timestamp"`
		} `json:"Points"`
	}
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	locations := make([]plugin.Location, 0, len(feed.Points))
	for _, pt := range feed.Points {
		ts, err := time.Parse(time.RFC3339, pt.Timestamp)
		if err != nil {
			continue
		}
		alt, course, speed := pt.Alt, pt.Course, pt.Speed
		locations = append(locations, plugin.Location{
			DeviceUID: fmt.Sprintf("garmin:%s", pt.ID),
			Name:      pt.DeviceName,
			Timestamp: ts.UTC(),
			Lat:       pt.Lat,
			Lon:       pt.Lon,
			Alt:       &alt,
			Course:    &course,
			Speed:     &speed,
			AdditionalData: map[string]interface{}{
				"device_name": pt.DeviceName,
			},
		})
	}
	return locations, nil
}

func (p *Plugin) TestConnection(ctx context.Context, cfg map[string]interface{}) (plugin.HealthReport, error) {
	c := decodeConfig(cfg)
	if c.MapShareID == "" {
		return plugin.HealthReport{OK: false, Message: "mapshare_id not configured"}, nil
	}
	resp, err := p.client.Get(ctx, feedURL(c), nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return plugin.HealthReport{OK: false, Message: mapped.Error()}, nil
	}
	defer resp.Body.Close()
	return plugin.HealthReport{OK: resp.StatusCode == http.StatusOK}, nil
}

func (p *Plugin) AvailableIdentifierFields() []plugin.FieldMeta {
	return []plugin.FieldMeta{{Name: "device_name", Display: "Device Name", Type: "string"}}
}

func (p *Plugin) ApplyCallsigns(locations []plugin.Location, fieldName string, mapping map[string]string) {
	for i := range locations {
		key, _ := locations[i].AdditionalData[fieldName].(string)
		if callsign, ok := mapping[key]; ok {
			locations[i].Name = callsign
		}
	}
}

func decodeConfig(cfg map[string]interface{}) Config {
	var c Config
	if v, ok := cfg["mapshare_id"].(string); ok {
		c.MapShareID = v
	}
	if v, ok := cfg["mapshare_pin"].(string); ok {
		c.MapSharePIN = v
	}
	if v, ok := cfg["feed_base_url"].(string); ok {
		c.FeedBaseURL = v
	}
	if c.FeedBaseURL == "" {
		c.FeedBaseURL = "https://share.garmin.com"
	}
	return c
}

func feedURL(c Config) string {
	url := fmt.Sprintf("%s/Feed/Share/%s", c.FeedBaseURL, c.MapShareID)
	if c.MapSharePIN != "" {
		url += "?pin=" + c.MapSharePIN
	}
	return url
}
