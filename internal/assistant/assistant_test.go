package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viaclara/clarad/internal/executor"
	"github.com/viaclara/clarad/internal/lifx"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"actions": []}`, `{"actions": []}`},
		{"json_fence", "```json\n{\"actions\": []}\n```", `{"actions": []}`},
		{"plain_fence", "```\n{\"actions\": []}\n```", `{"actions": []}`},
		{"surrounding_whitespace", "  ```json\n{}\n```  ", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestParseProposal(t *testing.T) {
	p, err := ParseProposal("```json\n" + `{
		"actions": [
			{"kind": "toggle", "selector": "id:d1"},
			{"kind": "set_state", "selector": "group_id:grp-bed",
			 "params": {"power": "on", "brightness": 0.8, "color": "red"}}
		],
		"summary": "toggle one, redden the bedroom"
	}` + "\n```")
	require.NoError(t, err)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, executor.KindToggle, p.Actions[0].Kind)
	assert.Equal(t, "group_id:grp-bed", p.Actions[1].Selector)
	assert.Equal(t, 0.8, *p.Actions[1].Params.Brightness)
	assert.Equal(t, "toggle one, redden the bedroom", p.Summary)
}

func TestParseProposalRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not_json", "sure, turning the lights on now!"},
		{"unknown_kind", `{"actions": [{"kind": "strobe", "selector": "id:d1"}]}`},
		{"missing_selector", `{"actions": [{"kind": "toggle", "selector": ""}]}`},
		{"brightness_out_of_range", `{"actions": [{"kind": "set_state", "selector": "id:d1", "params": {"brightness": 1.5}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProposal(tt.in)
			assert.ErrorIs(t, err, ErrBadProposal)
		})
	}
}

func TestParseProposalEmptyActions(t *testing.T) {
	p, err := ParseProposal(`{"actions": [], "summary": "no matching lights"}`)
	require.NoError(t, err)
	assert.Empty(t, p.Actions)
	assert.Equal(t, "no matching lights", p.Summary)
}

func TestBuildContextScopesSceneStates(t *testing.T) {
	permitted := []lifx.Device{
		{ID: "d1", Label: "Bed Left"},
	}
	scenes := []lifx.Scene{
		{
			UUID: "11111111-2222-4333-8444-555555555555",
			Name: "Evening",
			States: []lifx.TargetState{
				{Selector: "id:d1", Power: "on"},
				{Selector: "id:d9", Power: "on"}, // not visible to this user
				{Selector: "group_id:grp-bed", Power: "on"},
			},
		},
	}

	dc := BuildContext(permitted, scenes)
	require.Len(t, dc.Scenes, 1)
	var sels []string
	for _, st := range dc.Scenes[0].States {
		sels = append(sels, st.Selector)
	}
	assert.Equal(t, []string{"id:d1", "group_id:grp-bed"}, sels)
}

func TestPropose(t *testing.T) {
	var gotAuth, gotVersion string
	var gotReq messagesRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": "```json\n{\"actions\": [{\"kind\": \"toggle\", \"selector\": \"id:d1\"}], \"summary\": \"done\"}\n```"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})

	p, err := c.Propose(context.Background(), "turn on the bed light", DeviceContext{
		Lights: []lifx.Device{{ID: "d1", Label: "Bed Left"}},
	})
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, executor.KindToggle, p.Actions[0].Kind)

	assert.Equal(t, "test-key", gotAuth)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "turn on the bed light", gotReq.Messages[0].Content)
	assert.Contains(t, gotReq.System, `"id":"d1"`, "permitted context rides in the system prompt")
}

func TestProposeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "nope"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := c.Propose(context.Background(), "hi", DeviceContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
