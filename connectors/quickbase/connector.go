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

// Package quickbase provides a Quickbase connector on the JSON RESTful API.
//
// Records are exchanged as maps keyed by field ID. Reads flatten the API's
// {"6": {"value": x}} cells to {"6": x} unless the raw parameter is set;
// writes accept either shape.
package quickbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// DefaultBaseURL is the Quickbase API root
const DefaultBaseURL = "https://api.quickbase.com/v1"

// Connector implements base.Connector for Quickbase
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a Quickbase connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("quickbase")}
	c.SetValidator(sdk.NewDefaultConfigValidator([]string{"user_token", "realm_hostname"}, nil))
	c.SetActions([]base.ActionSpec{
		base.Read("query_records", "Query records in a table", "table_id"),
		base.Read("get_app", "Get an app", "app_id"),
		base.Read("list_tables", "List tables in an app", "app_id"),
		base.Read("get_table", "Get a table", "app_id", "table_id"),
		base.Read("list_fields", "List fields of a table", "table_id"),
		base.Read("run_report", "Run a saved report", "table_id", "report_id"),
		base.Write("upsert_records", "Insert or update records", "table_id", "records"),
		base.Write("delete_records", "Delete records matching a query", "table_id", "where"),
	})
	return c
}

// Connect sets the realm and user token headers
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}
	c.client = c.NewRESTClient(baseURL, sdk.NewHeaderAuth("Authorization", "QB-USER-TOKEN ", c.GetCredential("user_token")))
	c.client.Headers["QB-Realm-Hostname"] = c.GetCredential("realm_hostname")
	return nil
}

// HealthCheck fetches the app named by the app_id option, or reports the
// connection state when no app is configured.
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	appID := c.GetStringOption("app_id", "")
	if appID == "" {
		return c.BaseConnector.HealthCheck(ctx)
	}
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Get(ctx, "/apps/"+url.PathEscape(appID), nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"query_records": c.queryRecords,
		"get_app":       c.getApp,
		"list_tables":   c.listTables,
		"get_table":     c.getTable,
		"list_fields":   c.listFields,
		"run_report":    c.runReport,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"upsert_records": c.upsertRecords,
		"delete_records": c.deleteRecords,
	})
}

func (c *Connector) queryRecords(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	body := map[string]interface{}{"from": base.GetString(p, "table_id", "")}
	if sel := base.GetSlice(p, "select"); sel != nil {
		body["select"] = sel
	}
	if where := base.GetString(p, "where", ""); where != "" {
		body["where"] = where
	}
	if sortBy := base.GetSlice(p, "sort_by"); sortBy != nil {
		body["sortBy"] = sortBy
	}
	if groupBy := base.GetSlice(p, "group_by"); groupBy != nil {
		body["groupBy"] = groupBy
	}
	if opts := pageOptions(p); len(opts) > 0 {
		body["options"] = opts
	}
	obj, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodPost, Path: "/records/query", JSON: body, Idempotent: true})
	if err != nil {
		return nil, err
	}
	return recordPage(obj, base.GetBool(p, "raw", false)), nil
}

func (c *Connector) getApp(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, "/apps/"+url.PathEscape(base.GetString(p, "app_id", "")), nil)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
}

func (c *Connector) listTables(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, "/tables", url.Values{"appId": {base.GetString(p, "app_id", "")}})
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: base.RowsFrom(obj, "results")}, nil
}

func (c *Connector) getTable(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	path := "/tables/" + url.PathEscape(base.GetString(p, "table_id", ""))
	obj, err := c.client.Get(ctx, path, url.Values{"appId": {base.GetString(p, "app_id", "")}})
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
}

func (c *Connector) listFields(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	q := url.Values{"tableId": {base.GetString(p, "table_id", "")}}
	if base.GetBool(p, "include_permissions", false) {
		q.Set("includeFieldPerms", "true")
	}
	obj, err := c.client.Get(ctx, "/fields", q)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: base.RowsFrom(obj, "results")}, nil
}

func (c *Connector) runReport(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	q := url.Values{"tableId": {base.GetString(p, "table_id", "")}}
	for k, v := range pageOptions(p) {
		q.Set(k, strconv.Itoa(v))
	}
	obj, err := c.client.DoObject(ctx, &sdk.Request{
		Method:     http.MethodPost,
		Path:       "/reports/" + url.PathEscape(base.GetString(p, "report_id", "")) + "/run",
		Query:      q,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return recordPage(obj, base.GetBool(p, "raw", false)), nil
}

func (c *Connector) upsertRecords(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	raw := base.GetSlice(p, "records")
	if len(raw) == 0 {
		return nil, &base.MissingParamError{Param: "records"}
	}
	records := make([]map[string]interface{}, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("records[%d] must be an object keyed by field ID", i)
		}
		records = append(records, wrapRecord(m))
	}
	body := map[string]interface{}{"to": base.GetString(p, "table_id", ""), "data": records}
	if merge := base.GetInt(p, "merge_field_id", 0); merge > 0 {
		body["mergeFieldId"] = merge
	}
	if ret := base.GetSlice(p, "fields_to_return"); ret != nil {
		body["fieldsToReturn"] = ret
	}
	obj, err := c.client.Post(ctx, "/records", body)
	if err != nil {
		return nil, err
	}
	if meta := base.GetMap(obj, "metadata"); meta != nil {
		obj["count"] = base.GetInt(meta, "totalNumberOfRecordsProcessed", len(records))
	}
	return obj, nil
}

func (c *Connector) deleteRecords(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	obj, err := c.client.DoObject(ctx, &sdk.Request{
		Method: http.MethodDelete,
		Path:   "/records",
		JSON:   map[string]interface{}{"from": base.GetString(p, "table_id", ""), "where": base.GetString(p, "where", "")},
	})
	if err != nil {
		return nil, err
	}
	obj["deleted_count"] = base.GetInt(obj, "numberDeleted", 0)
	return obj, nil
}

func pageOptions(p map[string]interface{}) map[string]int {
	opts := map[string]int{}
	if skip := base.GetInt(p, "skip", base.GetInt(p, "cursor", 0)); skip > 0 {
		opts["skip"] = skip
	}
	if top := base.GetInt(p, "top", base.GetInt(p, "limit", 0)); top > 0 {
		opts["top"] = top
	}
	return opts
}

// recordPage turns a records response into rows and passes the paging
// metadata through. next_cursor is the skip value of the following page.
func recordPage(obj map[string]interface{}, raw bool) *sdk.Page {
	rows := base.RowsFrom(obj, "data")
	if !raw {
		for i, row := range rows {
			rows[i] = flattenRecord(row)
		}
	}
	meta := map[string]interface{}{"fields": obj["fields"]}
	if m := base.GetMap(obj, "metadata"); m != nil {
		total := base.GetInt(m, "totalRecords", 0)
		next := base.GetInt(m, "skip", 0) + base.GetInt(m, "numRecords", len(rows))
		meta["total_records"] = total
		meta["has_more"] = next < total
		if next < total {
			meta["next_cursor"] = next
		}
	}
	return &sdk.Page{Rows: rows, Metadata: meta}
}

func flattenRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for fid, cell := range record {
		if m, ok := cell.(map[string]interface{}); ok {
			if v, ok := m["value"]; ok {
				out[fid] = v
				continue
			}
		}
		out[fid] = cell
	}
	return out
}

func wrapRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for fid, v := range record {
		if m, ok := v.(map[string]interface{}); ok {
			if _, ok := m["value"]; ok {
				out[fid] = m
				continue
			}
		}
		out[fid] = map[string]interface{}{"value": v}
	}
	return out
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
