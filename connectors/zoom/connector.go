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

// Package zoom provides a Zoom connector for meetings, users and cloud
// recordings.
//
// Server-to-Server OAuth apps authenticate with account_id, client_id and
// client_secret; tokens are fetched with the account_credentials grant and
// cached until expiry. A pre-issued access_token may be supplied instead.
package zoom

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

const (
	// DefaultBaseURL is the Zoom API root
	DefaultBaseURL = "https://api.zoom.us/v2"
	// DefaultTokenURL issues account-credentials tokens
	DefaultTokenURL = "https://zoom.us/oauth/token"
)

// Meeting types accepted by create_meeting
const (
	MeetingInstant   = 1
	MeetingScheduled = 2
	MeetingRecurring = 8
)

// Connector implements base.Connector for Zoom
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a Zoom connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("zoom")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"access_token|account_id+client_id+client_secret"},
		map[string]interface{}{"user_id": "me"},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("list_meetings", "List a user's meetings"),
		base.Read("get_meeting", "Get a meeting", "meeting_id"),
		base.Read("list_users", "List account users"),
		base.Read("get_user", "Get a user"),
		base.Read("list_recordings", "List a user's cloud recordings"),
		base.Read("list_participants", "List participants of a past meeting", "meeting_id"),
		base.Write("create_meeting", "Schedule a meeting", "topic"),
		base.Write("update_meeting", "Update a meeting", "meeting_id"),
		base.Write("delete_meeting", "Delete a meeting", "meeting_id"),
		base.Write("add_registrant", "Register an attendee for a meeting", "meeting_id", "email"),
	})
	return c
}

// Connect prepares the token source. No token is fetched until the first call.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}

	var auth sdk.AuthProvider
	if token := c.GetCredential("access_token"); token != "" {
		auth = sdk.NewBearerTokenAuth(token, time.Time{})
	} else {
		auth = sdk.NewClientCredentialsAuth(ctx, &clientcredentials.Config{
			ClientID:     c.GetCredential("client_id"),
			ClientSecret: c.GetCredential("client_secret"),
			TokenURL:     c.GetStringOption("token_url", DefaultTokenURL),
			AuthStyle:    oauth2.AuthStyleInHeader,
			EndpointParams: url.Values{
				"grant_type": {"account_credentials"},
				"account_id": {c.GetCredential("account_id")},
			},
		})
	}
	c.client = c.NewRESTClient(baseURL, auth)
	return nil
}

// HealthCheck fetches the configured user
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Get(ctx, "/users/"+url.PathEscape(c.GetStringOption("user_id", "me")), nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_meetings":     c.listMeetings,
		"get_meeting":       c.getMeeting,
		"list_users":        c.listUsers,
		"get_user":          c.getUser,
		"list_recordings":   c.listRecordings,
		"list_participants": c.listParticipants,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"create_meeting": c.createMeeting,
		"update_meeting": c.updateMeeting,
		"delete_meeting": c.deleteMeeting,
		"add_registrant": c.addRegistrant,
	})
}

func (c *Connector) listMeetings(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	q := pageQuery(p)
	q.Set("type", base.GetString(p, "type", "scheduled"))
	return c.list(ctx, c.userPath(p)+"/meetings", q, "meetings")
}

func (c *Connector) getMeeting(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, meetingPath(p), nil)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
}

func (c *Connector) listUsers(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	q := pageQuery(p)
	q.Set("status", base.GetString(p, "status", "active"))
	return c.list(ctx, "/users", q, "users")
}

func (c *Connector) getUser(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, c.userPath(p), nil)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
}

func (c *Connector) listRecordings(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	q := pageQuery(p)
	// Zoom defaults to the current day only; widen to the last 30 days.
	from := base.GetString(p, "from", time.Now().UTC().AddDate(0, 0, -30).Format(time.DateOnly))
	q.Set("from", from)
	if to := base.GetString(p, "to", ""); to != "" {
		q.Set("to", to)
	}
	return c.list(ctx, c.userPath(p)+"/recordings", q, "meetings")
}

func (c *Connector) listParticipants(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	path := "/past_meetings/" + meetingID(p) + "/participants"
	return c.list(ctx, path, pageQuery(p), "participants")
}

func (c *Connector) createMeeting(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := meetingBody(p)
	if _, ok := body["type"]; !ok {
		if body["start_time"] != nil {
			body["type"] = MeetingScheduled
		} else {
			body["type"] = MeetingInstant
		}
	}
	return c.client.Post(ctx, c.userPath(p)+"/meetings", body)
}

func (c *Connector) updateMeeting(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	if _, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodPatch, Path: meetingPath(p), JSON: meetingBody(p)}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"meeting_id": meetingID(p), "updated": true}, nil
}

func (c *Connector) deleteMeeting(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	q := url.Values{}
	if occ := base.GetString(p, "occurrence_id", ""); occ != "" {
		q.Set("occurrence_id", occ)
	}
	if base.GetBool(p, "notify", false) {
		q.Set("schedule_for_reminder", "true")
	}
	if _, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodDelete, Path: meetingPath(p), Query: q}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"meeting_id": meetingID(p), "deleted_count": 1}, nil
}

func (c *Connector) addRegistrant(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{"email": base.GetString(p, "email", "")}
	for _, key := range []string{"first_name", "last_name", "org", "job_title", "comments"} {
		if v := base.GetString(p, key, ""); v != "" {
			body[key] = v
		}
	}
	if body["first_name"] == nil {
		body["first_name"] = body["email"]
	}
	return c.client.Post(ctx, meetingPath(p)+"/registrants", body)
}

func (c *Connector) list(ctx context.Context, path string, q url.Values, key string) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	next := base.GetString(obj, "next_page_token", "")
	meta := map[string]interface{}{"has_more": next != ""}
	if next != "" {
		meta["next_page_token"] = next
	}
	if total := base.GetInt(obj, "total_records", -1); total >= 0 {
		meta["total_records"] = total
	}
	return &sdk.Page{Rows: base.RowsFrom(obj, key), Metadata: meta}, nil
}

func (c *Connector) userPath(p map[string]interface{}) string {
	return "/users/" + url.PathEscape(base.GetString(p, "user_id", c.GetStringOption("user_id", "me")))
}

func meetingID(p map[string]interface{}) string {
	return url.PathEscape(base.GetString(p, "meeting_id", ""))
}

func meetingPath(p map[string]interface{}) string {
	return "/meetings/" + meetingID(p)
}

func pageQuery(p map[string]interface{}) url.Values {
	q := url.Values{}
	if n := base.GetInt(p, "page_size", base.GetInt(p, "limit", 0)); n > 0 {
		q.Set("page_size", strconv.Itoa(n))
	}
	if token := base.GetString(p, "next_page_token", base.GetString(p, "cursor", "")); token != "" {
		q.Set("next_page_token", token)
	}
	return q
}

// meetingBody copies the meeting fields present in p; settings and
// recurrence objects pass through unchanged.
func meetingBody(p map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{}
	for _, key := range []string{"topic", "agenda", "start_time", "timezone", "password", "schedule_for"} {
		if v := base.GetString(p, key, ""); v != "" {
			body[key] = v
		}
	}
	if d := base.GetInt(p, "duration", 0); d > 0 {
		body["duration"] = d
	}
	if t := base.GetInt(p, "type", 0); t > 0 {
		body["type"] = t
	}
	for _, key := range []string{"settings", "recurrence"} {
		if m := base.GetMap(p, key); m != nil {
			body[key] = m
		}
	}
	return body
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
