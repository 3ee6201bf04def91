package dali

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/device"
	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// ConnectorDALI is the activeConnector value of instances on the DALI bus.
const ConnectorDALI = "dali"

// Gateway template ids per device kind.
var kindTemplates = map[device.Kind]string{
	device.KindDimmable: "daliDimmableLight",
	device.KindGroup:    "daliDimmableGroup",
	device.KindBistable: "daliBistableLight",
	device.KindScene:    "daliSceneController",
}

// TemplateFor returns the gateway internalId paired as kind.
func TemplateFor(kind device.Kind) (string, bool) {
	t, ok := kindTemplates[kind]
	return t, ok
}

// SettingsSource provides the server address and current access token.
// It is satisfied by *settings.Store.
type SettingsSource interface {
	Credentials() settings.Credentials
}

// Instance is a gateway instance reduced to the fields the bridge uses.
type Instance struct {
	InstanceID      string `json:"instance_id"`
	Name            string `json:"name"`
	ActiveConnector string `json:"active_connector"`
	InternalID      string `json:"internal_id"`
}

// Candidate is an instance offered for pairing as a device of Kind.
type Candidate struct {
	ExternalID string      `json:"external_id"`
	Name       string      `json:"name"`
	Kind       device.Kind `json:"kind"`
}

type instanceDescriptor struct {
	General struct {
		InstanceID flexibleID `json:"instanceId"`
	} `json:"general"`
	Device struct {
		InternalID string `json:"internalId"`
	} `json:"device"`
	Configuration struct {
		ActiveConnector string `json:"activeConnector"`
		Name            string `json:"name"`
	} `json:"configuration"`
}

// flexibleID accepts an instance id sent as either a number or a string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// RESTClient calls the gateway REST API on behalf of paired devices.
// The server address and access token are read from the settings store
// on every call, so a new session is picked up without rebuilding it.
type RESTClient struct {
	http  *http.Client
	creds SettingsSource
}

// NewRESTClient creates a REST client. A zero timeout uses
// DefaultRequestTimeout.
func NewRESTClient(creds SettingsSource, timeout time.Duration) *RESTClient {
	return &RESTClient{http: newHTTPClient(timeout), creds: creds}
}

// target returns the server and token for a call.
func (c *RESTClient) target() (server, token string, err error) {
	creds := c.creds.Credentials()
	if creds.ServerURL == "" {
		return "", "", ErrConfigIncomplete
	}
	if creds.AccessToken == "" {
		return "", "", ErrNoAccessToken
	}
	return creds.ServerURL, creds.AccessToken, nil
}

// ListInstances returns every instance the gateway knows about.
func (c *RESTClient) ListInstances(ctx context.Context) ([]Instance, error) {
	server, token, err := c.target()
	if err != nil {
		return nil, err
	}

	var descriptors []instanceDescriptor
	status, err := doJSON(ctx, c.http, http.MethodGet, gatewayURL(server, instancePath), token, nil, &descriptors)
	if err != nil {
		return nil, &GatewayError{Op: "list instances", StatusCode: status, Err: err}
	}

	instances := make([]Instance, 0, len(descriptors))
	for _, d := range descriptors {
		instances = append(instances, Instance{
			InstanceID:      string(d.General.InstanceID),
			Name:            d.Configuration.Name,
			ActiveConnector: d.Configuration.ActiveConnector,
			InternalID:      d.Device.InternalID,
		})
	}
	return instances, nil
}

// Candidates lists the DALI instances that can be paired as kind.
func (c *RESTClient) Candidates(ctx context.Context, kind device.Kind) ([]Candidate, error) {
	template, ok := TemplateFor(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", device.ErrInvalidKind, kind)
	}

	instances, err := c.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0)
	for _, in := range instances {
		if in.ActiveConnector != ConnectorDALI || in.InternalID != template {
			continue
		}
		candidates = append(candidates, Candidate{
			ExternalID: in.InstanceID,
			Name:       in.Name,
			Kind:       kind,
		})
	}
	return candidates, nil
}
