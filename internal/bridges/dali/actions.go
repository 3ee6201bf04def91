package dali

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Panel action sources and rows.
const (
	sourceButton = "button"
	sourceSlider = "slider"

	rowToggle = 0
	rowOnOff  = 1
	rowLevel  = 2

	// sceneRows is the number of scene buttons on a scene controller panel.
	sceneRows = 4

	// MaxLevel is the top of the gateway's slider range.
	MaxLevel = 100
)

// PanelAction is the body of PUT /api/v1/instance/{id}/panel/action.
type PanelAction struct {
	Source  string         `json:"source"`
	RowID   int            `json:"rowId"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// SetOnOff switches an instance on or off.
func (c *RESTClient) SetOnOff(ctx context.Context, instanceID string, on bool) error {
	command := "turnOff"
	if on {
		command = "turnOn"
	}
	return c.PanelAction(ctx, instanceID, PanelAction{
		Source:  sourceButton,
		RowID:   rowOnOff,
		Command: command,
		Params:  map[string]any{},
	})
}

// Toggle inverts an instance's on/off state.
func (c *RESTClient) Toggle(ctx context.Context, instanceID string) error {
	return c.PanelAction(ctx, instanceID, PanelAction{
		Source:  sourceButton,
		RowID:   rowToggle,
		Command: "toggle",
		Params:  map[string]any{},
	})
}

// SetLevel sets an instance's level, 0..MaxLevel.
func (c *RESTClient) SetLevel(ctx context.Context, instanceID string, level int) error {
	if level < 0 || level > MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return c.PanelAction(ctx, instanceID, PanelAction{
		Source:  sourceSlider,
		RowID:   rowLevel,
		Command: "setLevel",
		Params:  map[string]any{"slider": level},
	})
}

// RecallScene triggers scene sceneID (zero-based) on a scene controller.
func (c *RESTClient) RecallScene(ctx context.Context, instanceID string, sceneID int) error {
	if sceneID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidScene, sceneID)
	}
	return c.PanelAction(ctx, instanceID, PanelAction{
		Source:  sourceButton,
		RowID:   sceneID % sceneRows,
		Command: "setScene" + strconv.Itoa(sceneID+1),
		Params:  map[string]any{},
	})
}

// PanelAction sends a raw panel action to one instance.
//
// No retry is attempted; callers decide whether to resend.
//
// Parameters:
//   - ctx: Cancels the request
//   - instanceID: Gateway instance identifier
//   - action: Panel source, row, command and parameters
//
// Returns:
//   - error: ErrConfigIncomplete or ErrNoAccessToken when no session is
//     available, otherwise *GatewayError with Op set to action.Command
func (c *RESTClient) PanelAction(ctx context.Context, instanceID string, action PanelAction) error {
	server, token, err := c.target()
	if err != nil {
		return err
	}

	path := instancePath + "/" + url.PathEscape(instanceID) + "/panel/action"
	status, err := doJSON(ctx, c.http, http.MethodPut, gatewayURL(server, path), token, action, nil)
	if err != nil {
		return &GatewayError{Op: action.Command, StatusCode: status, Err: err}
	}
	return nil
}
