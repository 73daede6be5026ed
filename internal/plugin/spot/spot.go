// Package spot implements the SPOT built-in provider plugin (spec.md §1
// "SPOT"), polling the public SPOT shared-page JSON feed.
package spot

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

const ID = "spot"

func init() { Builtin = func() plugin.Plugin { return New() } }

// Builtin is a ready-made factory for this plugin; the daemon's registry
// bootstrap builds its own factory from New instead.
var Builtin plugin.Factory

// Config fields expected under Stream.PluginConfig for this plugin.
type Config struct {
	FeedID  string `json:"feed_id"`
	FeedURL string `json:"feed_url"` // defaults to the public API host
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	client *httpfetch.Client
}

func New() *Plugin {
	return &Plugin{client: httpfetch.New(httpfetch.DefaultTimeout)}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:             ID,
		DisplayName:    "SPOT",
		Category:       plugin.CategoryTracker,
		DefaultCotType: "a-f-G-E-V-C",
		HelpSections:   []string{"Requires the numeric feed id from a shared SPOT page URL."},
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]interface{}) []plugin.FieldError {
	var errs []plugin.FieldError
	if _, ok := cfg["feed_id"].(string); !ok {
		errs = append(errs, plugin.FieldError{Field: "feed_id", Message: "required string"})
	}
	return errs
}

func (p *Plugin) Fetch(ctx context.Context, cfg map[string]interface{}) ([]plugin.Location, error) {
	c := decodeConfig(cfg)
	resp, err := p.client.Get(ctx, feedURL(c), nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return nil, mapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	var feed struct {
		Response struct {
			FeedMessageResponse struct {
				Message []struct {
					ID          json.Number `json:"id"`
					MessengerID string      `json:"messengerId"`
					MessengerName string    `json:"messengerName"`
					Latitude    float64     `json:"latitude"`
					Longitude   float64     `json:"longitude"`
					Altitude    float64     `json:"altitude"`
					UnixTime    int64       `json:"unixTime"`
				} `json:"message"`
			} `json:"feedMessageResponse"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	msgs := feed.Response.FeedMessageResponse.Message
	locations := make([]plugin.Location, 0, len(msgs))
	for _, m := range msgs {
		alt := m.Altitude
		locations = append(locations, plugin.Location{
			DeviceUID: fmt.Sprintf("spot:%s", m.MessengerID),
			Name:      m.MessengerName,
			Timestamp: time.Unix(m.UnixTime, 0).UTC(),
			Lat:       m.Latitude,
			Lon:       m.Longitude,
			Alt:       &alt,
			AdditionalData: map[string]interface{}{
				"messenger_name": m.MessengerName,
			},
		})
	}
	return locations, nil
}

func (p *Plugin) TestConnection(ctx context.Context, cfg map[string]interface{}) (plugin.HealthReport, error) {
	c := decodeConfig(cfg)
	if c.FeedID == "" {
		return plugin.HealthReport{OK: false, Message: "feed_id not configured"}, nil
	}
	resp, err := p.client.Get(ctx, feedURL(c), nil)
	if mapped := httpfetch.MapError(ctx, resp, err); mapped != nil {
		return plugin.HealthReport{OK: false, Message: mapped.Error()}, nil
	}
	defer resp.Body.Close()
	return plugin.HealthReport{OK: resp.StatusCode == http.StatusOK}, nil
}

func decodeConfig(cfg map[string]interface{}) Config {
	var c Config
	if v, ok := cfg["feed_id"].(string); ok {
		c.FeedID = v
	}
	if v, ok := cfg["feed_url"].(string); ok {
		c.FeedURL = v
	}
	if c.FeedURL == "" {
		c.FeedURL = "https://api.findmespot.com/spot-main-web/consumer/rest-api/2.0/public/feed"
	}
	return c
}

func feedURL(c Config) string {
	return fmt.Sprintf("%s/%s/message.json", c.FeedURL, c.FeedID)
}
