// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zoom

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

type fakeZoom struct {
	*httptest.Server
	tokenCalls atomic.Int32
}

func newFakeZoom(t *testing.T) *fakeZoom {
	t.Helper()
	f := &fakeZoom{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			f.tokenCalls.Add(1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "account_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "acct-9", r.PostForm.Get("account_id"))
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "cid", user)
			assert.Equal(t, "secret", pass)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"s2s-token","token_type":"bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer s2s-token", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/me/meetings":
			assert.Equal(t, "upcoming", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(`{"meetings":[{"id":111,"topic":"Sync"}],"next_page_token":"tok2","total_records":3}`))
		case r.Method == http.MethodPost && r.URL.Path == "/users/me/meetings":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "Kickoff", body["topic"])
			assert.Equal(t, 2.0, body["type"])
			assert.Equal(t, 45.0, body["duration"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":222,"join_url":"https://zoom.us/j/222"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/meetings/222":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/meetings/222":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/meetings/222/registrants":
			_, _ = w.Write([]byte(`{"registrant_id":"r1","join_url":"https://zoom.us/w/222"}`))
		case r.URL.Path == "/past_meetings/333/participants":
			_, _ = w.Write([]byte(`{"participants":[{"name":"Ada"},{"name":"Lin"}]}`))
		case r.URL.Path == "/meetings/404":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":3001,"message":"Meeting does not exist: 404."}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func connect(t *testing.T, f *fakeZoom) (*Connector, *sdk.TestHarness) {
	h := sdk.NewTestHarness(t)
	cfg := h.NewConfig("zoom", f.URL, map[string]string{
		"account_id": "acct-9", "client_id": "cid", "client_secret": "secret",
	})
	cfg.Options["token_url"] = f.URL + "/oauth/token"
	c := NewConnector()
	h.Connect(c, cfg)
	return c, h
}

func TestConnectValidatesCredentials(t *testing.T) {
	h := sdk.NewTestHarness(t)
	err := NewConnector().Connect(h.Context(), h.NewConfig("zoom", "", map[string]string{"client_id": "cid"}))
	h.AssertErrorContains(err, "access_token")
}

func TestListMeetingsUsesCachedToken(t *testing.T) {
	f := newFakeZoom(t)
	c, h := connect(t, f)

	res := h.Query(c, "list_meetings", map[string]interface{}{"type": "upcoming"})
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, "Sync", res.Rows[0]["topic"])
	assert.Equal(t, "tok2", res.Metadata["next_page_token"])
	assert.Equal(t, true, res.Metadata["has_more"])
	assert.Equal(t, 3, res.Metadata["total_records"])

	h.Query(c, "list_meetings", map[string]interface{}{"type": "upcoming"})
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestMeetingLifecycle(t *testing.T) {
	c, h := connect(t, newFakeZoom(t))

	created := h.Execute(c, "create_meeting", map[string]interface{}{
		"topic": "Kickoff", "start_time": "2024-05-02T10:00:00Z", "duration": 45,
	})
	assert.Equal(t, "https://zoom.us/j/222", created.Data["join_url"])

	updated := h.Execute(c, "update_meeting", map[string]interface{}{"meeting_id": "222", "topic": "Kickoff v2"})
	assert.Equal(t, true, updated.Data["updated"])

	reg := h.Execute(c, "add_registrant", map[string]interface{}{"meeting_id": "222", "email": "ada@example.com"})
	assert.Equal(t, "r1", reg.Data["registrant_id"])

	deleted := h.Execute(c, "delete_meeting", map[string]interface{}{"meeting_id": "222"})
	assert.Equal(t, 1, deleted.RowsAffected)
}

func TestListParticipants(t *testing.T) {
	c, h := connect(t, newFakeZoom(t))
	res := h.Query(c, "list_participants", map[string]interface{}{"meeting_id": "333"})
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, false, res.Metadata["has_more"])
}

func TestMeetingNotFound(t *testing.T) {
	c, h := connect(t, newFakeZoom(t))
	_, err := c.Query(h.Context(), &base.Query{Statement: "get_meeting", Parameters: map[string]interface{}{"meeting_id": "404"}})
	require.Error(t, err)
	assert.True(t, base.IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "Meeting does not exist")
}

func TestCreateMeetingRequiresTopic(t *testing.T) {
	c, h := connect(t, newFakeZoom(t))
	_, err := c.Execute(h.Context(), &base.Command{Action: "create_meeting", Parameters: map[string]interface{}{}})
	h.AssertErrorContains(err, "topic")
}

func TestMeetingBody(t *testing.T) {
	body := meetingBody(map[string]interface{}{
		"topic":    "x",
		"duration": "30",
		"settings": map[string]interface{}{"waiting_room": true},
		"ignored":  "y",
	})
	assert.Equal(t, map[string]interface{}{
		"topic":    "x",
		"duration": 30,
		"settings": map[string]interface{}{"waiting_room": true},
	}, body)
}
