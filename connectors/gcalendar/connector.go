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

// Package gcalendar provides a Google Calendar connector on the
// google.golang.org/api calendar/v3 client.
//
// Credentials: service_account_json (with optional subject for domain-wide
// delegation), refresh_token with client_id and client_secret, or a bare
// access_token.
package gcalendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// Connector implements base.Connector for Google Calendar
type Connector struct {
	*sdk.BaseConnector
	svc        *calendar.Service
	httpClient *http.Client // replaces token auth when set (tests)
}

// NewConnector creates a Google Calendar connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("gcalendar")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"service_account_json|refresh_token+client_id+client_secret|access_token"},
		map[string]interface{}{"calendar_id": "primary"},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("list_calendars", "List calendars on the user's calendar list"),
		base.Read("list_events", "List events in a calendar"),
		base.Read("get_event", "Get an event", "event_id"),
		base.Read("free_busy", "Query busy intervals", "time_min", "time_max"),
		base.Write("create_event", "Create an event", "summary", "start", "end"),
		base.Write("update_event", "Patch an event", "event_id"),
		base.Write("delete_event", "Delete an event", "event_id"),
		base.Write("quick_add", "Create an event from free text", "text"),
	})
	return c
}

// Connect builds the Calendar service
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	endpoint, err := c.BaseURL("")
	if err != nil {
		return err
	}
	opts, err := sdk.GoogleClientOptions(ctx, cfg.Credentials, endpoint, c.httpClient, calendar.CalendarScope)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "invalid Google credentials", err)
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "failed to create calendar service", err)
	}
	c.svc = svc
	return nil
}

// HealthCheck reads the configured calendar
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.svc.Calendars.Get(c.GetStringOption("calendar_id", "primary")).Context(ctx).Do()
		return sdk.GoogleAPIError(err)
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_calendars": c.listCalendars,
		"list_events":    c.listEvents,
		"get_event":      c.getEvent,
		"free_busy":      c.freeBusy,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"create_event": c.createEvent,
		"update_event": c.updateEvent,
		"delete_event": c.deleteEvent,
		"quick_add":    c.quickAdd,
	})
}

func (c *Connector) listCalendars(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	call := c.svc.CalendarList.List().Context(ctx)
	if n := base.GetInt(p, "max_results", 0); n > 0 {
		call = call.MaxResults(int64(n))
	}
	if token := pageToken(p); token != "" {
		call = call.PageToken(token)
	}
	list, err := call.Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	rows, err := base.ToRowsOf(list.Items)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: rows, Metadata: tokenMeta(list.NextPageToken)}, nil
}

func (c *Connector) listEvents(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	call := c.svc.Events.List(c.calendarID(p)).Context(ctx).SingleEvents(base.GetBool(p, "single_events", true))
	if base.GetBool(p, "single_events", true) {
		call = call.OrderBy("startTime")
	}
	if v := base.GetString(p, "time_min", ""); v != "" {
		call = call.TimeMin(v)
	}
	if v := base.GetString(p, "time_max", ""); v != "" {
		call = call.TimeMax(v)
	}
	if q := base.GetString(p, "query", ""); q != "" {
		call = call.Q(q)
	}
	if n := base.GetInt(p, "max_results", 0); n > 0 {
		call = call.MaxResults(int64(n))
	}
	if token := pageToken(p); token != "" {
		call = call.PageToken(token)
	}
	events, err := call.Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	rows, err := base.ToRowsOf(events.Items)
	if err != nil {
		return nil, err
	}
	meta := tokenMeta(events.NextPageToken)
	meta["time_zone"] = events.TimeZone
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

func (c *Connector) getEvent(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	ev, err := c.svc.Events.Get(c.calendarID(p), base.GetString(p, "event_id", "")).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	row, err := base.ToMap(ev)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
}

func (c *Connector) freeBusy(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	ids := base.GetStringSlice(p, "calendar_ids")
	if len(ids) == 0 {
		ids = []string{c.calendarID(p)}
	}
	req := &calendar.FreeBusyRequest{
		TimeMin:  base.GetString(p, "time_min", ""),
		TimeMax:  base.GetString(p, "time_max", ""),
		TimeZone: base.GetString(p, "timezone", ""),
	}
	for _, id := range ids {
		req.Items = append(req.Items, &calendar.FreeBusyRequestItem{Id: id})
	}
	resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}

	var rows []map[string]interface{}
	for _, id := range ids {
		cal, ok := resp.Calendars[id]
		if !ok {
			continue
		}
		for _, period := range cal.Busy {
			rows = append(rows, map[string]interface{}{"calendar_id": id, "start": period.Start, "end": period.End})
		}
		for _, e := range cal.Errors {
			rows = append(rows, map[string]interface{}{"calendar_id": id, "error": e.Reason})
		}
	}
	return &sdk.Page{Rows: rows}, nil
}

func (c *Connector) createEvent(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	ev, err := eventFromParams(p)
	if err != nil {
		return nil, err
	}
	call := c.svc.Events.Insert(c.calendarID(p), ev).Context(ctx).SendUpdates(base.GetString(p, "send_updates", "none"))
	if base.GetBool(p, "add_meet", false) {
		ev.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
		call = call.ConferenceDataVersion(1)
	}
	created, err := call.Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	return base.ToMap(created)
}

func (c *Connector) updateEvent(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	ev, err := eventFromParams(p)
	if err != nil {
		return nil, err
	}
	updated, err := c.svc.Events.Patch(c.calendarID(p), base.GetString(p, "event_id", ""), ev).
		Context(ctx).SendUpdates(base.GetString(p, "send_updates", "none")).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	return base.ToMap(updated)
}

func (c *Connector) deleteEvent(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	id := base.GetString(p, "event_id", "")
	err := c.svc.Events.Delete(c.calendarID(p), id).Context(ctx).SendUpdates(base.GetString(p, "send_updates", "none")).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	return map[string]interface{}{"event_id": id, "deleted_count": 1}, nil
}

func (c *Connector) quickAdd(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	ev, err := c.svc.Events.QuickAdd(c.calendarID(p), base.GetString(p, "text", "")).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	return base.ToMap(ev)
}

func (c *Connector) calendarID(p map[string]interface{}) string {
	return base.GetString(p, "calendar_id", c.GetStringOption("calendar_id", "primary"))
}

// eventFromParams builds an event from the fields present in p. Missing
// fields stay empty so the same builder serves inserts and patches.
func eventFromParams(p map[string]interface{}) (*calendar.Event, error) {
	ev := &calendar.Event{
		Summary:     base.GetString(p, "summary", ""),
		Description: base.GetString(p, "description", ""),
		Location:    base.GetString(p, "location", ""),
	}
	tz := base.GetString(p, "timezone", "")
	var err error
	if ev.Start, err = eventTime(base.GetString(p, "start", ""), tz); err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	if ev.End, err = eventTime(base.GetString(p, "end", ""), tz); err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}
	for _, email := range base.GetStringSlice(p, "attendees") {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}
	return ev, nil
}

// eventTime accepts RFC 3339 timestamps and YYYY-MM-DD dates for all-day events
func eventTime(value, tz string) (*calendar.EventDateTime, error) {
	if value == "" {
		return nil, nil
	}
	if _, err := time.Parse(time.DateOnly, value); err == nil {
		return &calendar.EventDateTime{Date: value, TimeZone: tz}, nil
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", value)
	}
	return &calendar.EventDateTime{DateTime: value, TimeZone: tz}, nil
}

func pageToken(p map[string]interface{}) string {
	return base.GetString(p, "page_token", base.GetString(p, "cursor", ""))
}

func tokenMeta(next string) map[string]interface{} {
	meta := map[string]interface{}{"has_more": next != ""}
	if next != "" {
		meta["next_page_token"] = next
	}
	return meta
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
