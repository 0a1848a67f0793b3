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

// Package leadsquared provides a LeadSquared CRM connector.
//
// LeadSquared hosts each account in a regional data centre, so the API host
// is configurable through the api_host option (for example
// api-in21.leadsquared.com). Lead fields are accepted as plain maps and sent
// as the Attribute/Value lists the API expects.
package leadsquared

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// DefaultAPIHost serves accounts in the default region
const DefaultAPIHost = "api.leadsquared.com"

// Connector implements base.Connector for LeadSquared
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a LeadSquared connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("leadsquared")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"access_key", "secret_key"},
		map[string]interface{}{"api_host": DefaultAPIHost},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("get_lead_by_id", "Get a lead by ID", "lead_id"),
		base.Read("get_lead_by_email", "Get a lead by email address", "email"),
		base.Read("quick_search", "Search leads by name, email or phone", "key"),
		base.Read("search_leads", "Search leads by a field value", "lookup_name", "lookup_value"),
		base.Read("get_activities", "List a lead's activities", "lead_id"),
		base.Write("create_lead", "Create a lead", "fields"),
		base.Write("update_lead", "Update a lead", "lead_id", "fields"),
		base.Write("upsert_lead", "Create or update a lead matched by search_by", "fields"),
		base.Write("post_activity", "Post an activity on a lead", "lead_id", "activity_event"),
	})
	return c
}

// Connect signs every request with the access and secret keys
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL("https://" + c.GetStringOption("api_host", DefaultAPIHost) + "/v2")
	if err != nil {
		return err
	}
	c.client = c.NewRESTClient(baseURL, sdk.NewQueryParamsAuth(map[string]string{
		"accessKey": c.GetCredential("access_key"),
		"secretKey": c.GetCredential("secret_key"),
	}))
	return nil
}

// HealthCheck fetches the lead field metadata
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.call(ctx, http.MethodGet, "/LeadManagement.svc/LeadsMetaData.Get", nil, nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"get_lead_by_id":    c.getLeadByID,
		"get_lead_by_email": c.getLeadByEmail,
		"quick_search":      c.quickSearch,
		"search_leads":      c.searchLeads,
		"get_activities":    c.getActivities,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"create_lead":   c.createLead,
		"update_lead":   c.updateLead,
		"upsert_lead":   c.upsertLead,
		"post_activity": c.postActivity,
	})
}

func (c *Connector) getLeadByID(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	return c.rows(ctx, "/LeadManagement.svc/Leads.GetById", url.Values{"id": {base.GetString(p, "lead_id", "")}})
}

func (c *Connector) getLeadByEmail(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	return c.rows(ctx, "/LeadManagement.svc/Leads.GetByEmailaddress", url.Values{"emailaddress": {base.GetString(p, "email", "")}})
}

func (c *Connector) quickSearch(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	return c.rows(ctx, "/LeadManagement.svc/Leads.GetByQuickSearch", url.Values{"key": {base.GetString(p, "key", "")}})
}

func (c *Connector) searchLeads(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	pageIndex := base.GetInt(p, "page", base.GetInt(p, "cursor", 1))
	pageSize := base.GetInt(p, "page_size", base.GetInt(p, "limit", 25))
	body := map[string]interface{}{
		"Parameter": map[string]interface{}{
			"LookupName":  base.GetString(p, "lookup_name", ""),
			"LookupValue": base.GetString(p, "lookup_value", ""),
			"SqlOperator": base.GetString(p, "operator", "="),
		},
		"Paging": map[string]interface{}{"PageIndex": pageIndex, "PageSize": pageSize},
	}
	if cols := base.GetStringSlice(p, "columns"); len(cols) > 0 {
		body["Columns"] = map[string]interface{}{"Include_CSV": strings.Join(cols, ",")}
	}
	if sortBy := base.GetString(p, "sort_by", ""); sortBy != "" {
		direction := 0
		if base.GetString(p, "sort_direction", "asc") == "desc" {
			direction = 1
		}
		body["Sorting"] = map[string]interface{}{"ColumnName": sortBy, "Direction": direction}
	}
	v, err := c.call(ctx, http.MethodPost, "/LeadManagement.svc/Leads.Get", nil, body)
	if err != nil {
		return nil, err
	}
	rows := base.ToRows(v)
	meta := map[string]interface{}{"has_more": len(rows) == pageSize}
	if len(rows) == pageSize {
		meta["next_cursor"] = pageIndex + 1
	}
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

func (c *Connector) getActivities(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	offset := base.GetInt(p, "offset", base.GetInt(p, "cursor", 0))
	count := base.GetInt(p, "row_count", base.GetInt(p, "limit", 25))
	params := map[string]interface{}{}
	if event := base.GetInt(p, "activity_event", 0); event > 0 {
		params["ActivityEvent"] = event
	}
	body := map[string]interface{}{
		"Parameter": params,
		"Paging":    map[string]interface{}{"Offset": offset, "RowCount": count},
	}
	v, err := c.call(ctx, http.MethodPost, "/ProspectActivity.svc/Retrieve",
		url.Values{"leadId": {base.GetString(p, "lead_id", "")}}, body)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(map[string]interface{})
	rows := base.RowsFrom(obj, "ProspectActivities")
	total := base.GetInt(obj, "RecordCount", len(rows))
	meta := map[string]interface{}{"total_records": total, "has_more": offset+len(rows) < total}
	if offset+len(rows) < total {
		meta["next_cursor"] = offset + len(rows)
	}
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

func (c *Connector) createLead(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	return c.write(ctx, "/LeadManagement.svc/Lead.Create", nil, attributes(base.GetMap(p, "fields")))
}

func (c *Connector) updateLead(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	q := url.Values{"leadId": {base.GetString(p, "lead_id", "")}}
	return c.write(ctx, "/LeadManagement.svc/Lead.Update", q, attributes(base.GetMap(p, "fields")))
}

func (c *Connector) upsertLead(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	attrs := attributes(base.GetMap(p, "fields"))
	attrs = append(attrs, map[string]interface{}{
		"Attribute": "SearchBy",
		"Value":     base.GetString(p, "search_by", "EmailAddress"),
	})
	return c.write(ctx, "/LeadManagement.svc/Lead.CreateOrUpdate", nil, attrs)
}

func (c *Connector) postActivity(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"RelatedProspectId": base.GetString(p, "lead_id", ""),
		"ActivityEvent":     base.GetInt(p, "activity_event", 0),
		"ActivityNote":      base.GetString(p, "note", ""),
	}
	if at := base.GetString(p, "activity_date_time", ""); at != "" {
		body["ActivityDateTime"] = at
	}
	if fields := base.GetMap(p, "fields"); len(fields) > 0 {
		var list []map[string]interface{}
		for _, k := range sortedKeys(fields) {
			list = append(list, map[string]interface{}{"SchemaName": k, "Value": fields[k]})
		}
		body["Fields"] = list
	}
	return c.write(ctx, "/ProspectActivity.svc/Create", nil, body)
}

func (c *Connector) rows(ctx context.Context, path string, q url.Values) (*sdk.Page, error) {
	v, err := c.call(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: base.ToRows(v)}, nil
}

func (c *Connector) write(ctx context.Context, path string, q url.Values, body interface{}) (map[string]interface{}, error) {
	v, err := c.call(ctx, http.MethodPost, path, q, body)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"response": v}, nil
	}
	if msg := base.GetMap(obj, "Message"); msg != nil {
		if id := base.GetString(msg, "Id", ""); id != "" {
			obj["id"] = id
		}
	}
	return obj, nil
}

// call issues a request and decodes the body. LeadSquared reports some
// failures as 200 responses with a Status of "Error", which are turned
// into errors here.
func (c *Connector) call(ctx context.Context, method, path string, q url.Values, body interface{}) (interface{}, error) {
	resp, err := c.client.Do(ctx, &sdk.Request{Method: method, Path: path, Query: q, JSON: body, Idempotent: method == http.MethodGet || path == "/LeadManagement.svc/Leads.Get"})
	if err != nil {
		return nil, err
	}
	v, err := resp.Decode()
	if err != nil {
		return map[string]interface{}{"response": string(resp.Body)}, nil
	}
	if obj, ok := v.(map[string]interface{}); ok && base.GetString(obj, "Status", "") == "Error" {
		return nil, sdk.NonRetryable(fmt.Errorf("leadsquared %s: %s", path, firstNonEmpty(
			base.GetString(obj, "ExceptionMessage", ""),
			base.GetString(obj, "Message", ""),
			string(resp.Body),
		)))
	}
	return v, nil
}

// attributes converts a field map to the sorted Attribute/Value list
func attributes(fields map[string]interface{}) []map[string]interface{} {
	list := make([]map[string]interface{}, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		list = append(list, map[string]interface{}{"Attribute": k, "Value": fields[k]})
	}
	return list
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
