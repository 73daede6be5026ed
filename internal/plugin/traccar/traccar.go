// Package traccar implements the Traccar built-in provider plugin
// (spec.md §1 "Traccar"), polling a self-hosted Traccar server's REST API
// for current device positions.
package traccar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/plugin/httpfetch"
)

const ID = "traccar"

func init() { Builtin = func() plugin.Plugin { return New() } }

var Builtin plugin.Factory

// Config fields expected under Stream.PluginConfig for this plugin.
type Config struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Plugin implements plugin.Plugin and plugin.CallsignMappable.
type Plugin struct {
	client *httpfetch.Client
}

func New() *Plugin {
	return &Plugin{client: httpfetch.New(httpfetch.DefaultTimeout)}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:             ID,
		DisplayName:    "Traccar",
		Category:       plugin.CategoryTracker,
		DefaultCotType: "a-f-G-E-V-C",
		HelpSections:   []string{"Connects to a self-hosted Traccar server's REST API."},
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]interface{}) []plugin.FieldError {
	var errs []plugin.FieldError
	if _, ok := cfg["base_url"].(string); !ok {
		errs = append(errs, plugin.FieldError{Field: "base_url", Message: "required string"})
	}
	if _, ok := cfg["username"].(string); !ok {
		errs = append(errs, plugin.FieldError{Field: "username", Message: "required string"})
	}
	return errs
}

type device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type position struct {
	DeviceID  int     `json:"deviceId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Course    float64 `json:"course"`
	Speed     float64 `json:"speed"`
	Accuracy  float64 `json:"accuracy"`
	FixTime   string  `json:"fixTime"`
}

func (p *Plugin) Fetch(ctx context.Context, cfg map[string]interface{}) ([]plugin.Location, error) {
	c := decodeConfig(cfg)
	headers := authHeader(c)

	devicesResp, err := p.client.Get(ctx, c.BaseURL+"/api/devices", headers)
	if mapped := httpfetch.MapError(ctx, devicesResp, err); mapped != nil {
		return nil, mapped
	}
	defer devicesResp.Body.Close()
	devicesBody, err := io.ReadAll(devicesResp.Body)
	if err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}
	var devices []device
	if err := json.Unmarshal(devicesBody, &devices); err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}
	names := make(map[int]string, len(devices))
	for _, d := range devices {
		names[d.ID] = d.Name
	}

	posResp, err := p.client.Get(ctx, c.BaseURL+"/api/positions", headers)
	if mapped := httpfetch.MapError(ctx, posResp, err); mapped != nil {
		return nil, mapped
	}
	defer posResp.Body.Close()
	posBody, err := io.ReadAll(posResp.Body)
	if err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}
	var positions []position
	if err := json.Unmarshal(posBody, &positions); err != nil {
		return nil, &plugin.MalformedResponse{Cause: err}
	}

	locations := make([]plugin.Location, 0, len(positions))
	for _, pos := range positions {
		ts, err := time.Parse(time.RFC3339, pos.FixTime)
		if err != nil {
			continue
		}
		alt, course, speed, accuracy := pos.Altitude, pos.Course, pos.Speed, pos.Accuracy
		locations = append(locations, plugin.Location{
			DeviceUID: fmt.Sprintf("traccar:%d", pos.DeviceID),
			Name:      names[pos.DeviceID],
			Timestamp: ts.UTC(),
			Lat:       pos.Latitude,
			Lon:       pos.Longitude,
			Alt:       &alt,
			Course:    &course,
			Speed:     &speed,
			Accuracy:  &accuracy,
			AdditionalData: map[string]interface{}{
				"device_name": names[pos.DeviceID],
			},
		})
	}
	return locations, nil
}

func (p *Plugin) TestConnection(ctx context.Context, cfg map[string]interface{}) (plugin.HealthReport, error) {
	c := decodeConfig(cfg)
	resp, err := p.client.Get(ctx, c.BaseURL+"/api/server", authHeader(c))
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
	if v, ok := cfg["base_url"].(string); ok {
		c.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := cfg["username"].(string); ok {
		c.Username = v
	}
	if v, ok := cfg["password"].(string); ok {
		c.Password = v
	}
	return c
}

func authHeader(c Config) map[string]string {
	// Traccar accepts HTTP Basic auth on its REST API.
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return map[string]string{"Authorization": "Basic " + token}
}
