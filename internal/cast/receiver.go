// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"encoding/json"
	"fmt"
)

// Application is one running receiver app as reported by RECEIVER_STATUS.
type Application struct {
	AppID       string `json:"appId"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
	DisplayName string `json:"displayName"`
}

type receiverStatus struct {
	Status struct {
		Applications []Application `json:"applications"`
	} `json:"status"`
}

// idleAppID is the Chromecast backdrop.
const idleAppID = "E8C28D3C"

// ReceiverStatus fetches the device-level status.
func (c *Client) ReceiverStatus(ctx context.Context) ([]Application, error) {
	raw, err := c.request(ctx, nsReceiver, receiverPlatform, map[string]any{"type": "GET_STATUS"})
	if err != nil {
		return nil, err
	}
	var status receiverStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode receiver status: %w", err)
	}
	return status.Status.Applications, nil
}

// RunningApp returns the current foreground application, nil when only the
// backdrop is up.
func (c *Client) RunningApp(ctx context.Context) (*Application, error) {
	apps, err := c.ReceiverStatus(ctx)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].AppID != idleAppID {
			return &apps[i], nil
		}
	}
	return nil, nil
}

// Launch starts appID and opens a virtual connection to its transport so
// media commands can follow.
func (c *Client) Launch(ctx context.Context, appID string) (*Application, error) {
	raw, err := c.request(ctx, nsReceiver, receiverPlatform, map[string]any{
		"type":  "LAUNCH",
		"appId": appID,
	})
	if err != nil {
		return nil, err
	}
	var status receiverStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode launch response: %w", err)
	}
	for i := range status.Status.Applications {
		app := &status.Status.Applications[i]
		if app.AppID == appID {
			if err := c.connect(app.TransportID); err != nil {
				return nil, err
			}
			return app, nil
		}
	}
	return nil, fmt.Errorf("launch of app %s not confirmed", appID)
}

// StopApp quits the session's application.
func (c *Client) StopApp(ctx context.Context, sessionID string) error {
	_, err := c.request(ctx, nsReceiver, receiverPlatform, map[string]any{
		"type":      "STOP",
		"sessionId": sessionID,
	})
	return err
}
