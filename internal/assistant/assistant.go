// Package assistant turns free-form requests into candidate command
// batches using a language-model collaborator. The model only sees the
// devices and scenes the requesting user is permitted to address, and its
// output is candidate actions only: the executor authorizes every one of
// them again before dispatch.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/viaclara/clarad/internal/executor"
	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/selector"
)

// ErrBadProposal is returned when the model's output cannot be parsed or
// fails schema validation
var ErrBadProposal = errors.New("assistant: bad proposal")

const systemPrompt = `You are a lighting assistant. Based on the user's request and the
device context below, propose the operations to perform.

Respond with a single JSON object:
{"actions": [{"kind": "...", "selector": "...", "params": {...}}], "summary": "..."}

Operation kinds (no others exist):
- "toggle": flip power. No params.
- "set_state": params may carry "power" ("on"/"off"), "brightness" (0.0-1.0),
  "color" (e.g. "red", "#ff0000", "hue:120 saturation:1.0", "kelvin:2700"),
  "duration" (seconds).
- "activate_scene": selector must be "scene_id:{uuid}". No params.

Selector formats:
- "id:{device_id}" for one device
- "group_id:{group_id}" for a room
- "all" for every light you were shown
- "id:{device_id}|{start}-{end}" addresses a zone range on a multizone
  device; gradients need one action per color span.

Use ONLY device ids, group ids and scene uuids present in the context.
When setting a color, include "power": "on" and a brightness unless the
user asked otherwise. If the request cannot be satisfied with the devices
shown, respond {"actions": [], "summary": "<why>"}.`

// Proposal is a candidate batch returned by the collaborator. Nothing in
// it is pre-authorized.
type Proposal struct {
	Actions []executor.Action `json:"actions"`
	Summary string            `json:"summary"`
}

// Collaborator proposes a command batch for a free-form request given the
// permitted-device context
type Collaborator interface {
	Propose(ctx context.Context, request string, permitted DeviceContext) (*Proposal, error)
}

// DeviceContext is the permission-scoped directory slice shown to the model
type DeviceContext struct {
	Lights []lifx.Device `json:"lights"`
	Scenes []lifx.Scene  `json:"scenes"`
}

// Config contains settings for the messages-API client
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls an Anthropic-style messages API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a messages-API collaborator client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Propose asks the model for a candidate batch. The permitted context is
// appended to the system prompt so the model cannot reference devices the
// user may not see.
func (c *Client) Propose(ctx context.Context, request string, permitted DeviceContext) (*Proposal, error) {
	contextJSON, err := json.Marshal(permitted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device context: %w", err)
	}

	reqBody := messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    systemPrompt + "\n\nCurrent lights and scenes context: " + string(contextJSON),
		Messages:  []message{{Role: "user", Content: request}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read assistant response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assistant: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("failed to decode assistant response: %w", err)
	}
	if mr.Error != nil {
		return nil, fmt.Errorf("assistant: %s: %s", mr.Error.Type, mr.Error.Message)
	}
	if len(mr.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrBadProposal)
	}

	proposal, err := ParseProposal(mr.Content[0].Text)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("actions", len(proposal.Actions)).
		Str("summary", proposal.Summary).
		Msg("Assistant proposed a batch")
	return proposal, nil
}

// ParseProposal decodes and validates the model's text output. Markdown
// code fences are stripped first; newer models wrap JSON in them.
func ParseProposal(text string) (*Proposal, error) {
	text = StripFences(text)

	var p Proposal
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadProposal, err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// validate enforces the closed action schema before anything reaches the
// executor
func validate(p *Proposal) error {
	for i, act := range p.Actions {
		if !act.Kind.Valid() {
			return fmt.Errorf("%w: action %d has unknown kind %q", ErrBadProposal, i, act.Kind)
		}
		if strings.TrimSpace(act.Selector) == "" {
			return fmt.Errorf("%w: action %d has no selector", ErrBadProposal, i)
		}
		if act.Params.Brightness != nil && (*act.Params.Brightness < 0 || *act.Params.Brightness > 1) {
			return fmt.Errorf("%w: action %d brightness %v out of range", ErrBadProposal, i, *act.Params.Brightness)
		}
	}
	return nil
}

// StripFences removes a wrapping markdown code fence from text
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// BuildContext assembles the permission-scoped context for a request.
// Scene states are filtered too: a scene the user may activate can still
// reference state entries for devices outside their permissions, and those
// entries are not the model's business.
func BuildContext(devices []lifx.Device, scenes []lifx.Scene) DeviceContext {
	visible := lo.SliceToMap(devices, func(d lifx.Device) (string, struct{}) {
		return d.ID, struct{}{}
	})
	scoped := lo.Map(scenes, func(sc lifx.Scene, _ int) lifx.Scene {
		sc.States = lo.Filter(sc.States, func(st lifx.TargetState, _ int) bool {
			sel, err := selector.Parse(st.Selector)
			if err != nil {
				return false
			}
			if sel.Kind != selector.KindDeviceID {
				// group/label states stay; the device filter already
				// scoped what those selectors can reach
				return true
			}
			_, ok := visible[sel.Value]
			return ok
		})
		return sc
	})
	return DeviceContext{Lights: devices, Scenes: scoped}
}
