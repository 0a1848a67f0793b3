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

// Package notion provides a Notion connector built on the public REST API.
//
// Pages and blocks can be created either from raw Notion JSON (properties,
// children) or from plain text: create_page accepts title and content, and
// append_blocks accepts content, which is split into paragraph blocks on
// blank lines.
package notion

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

const (
	// DefaultBaseURL is the Notion API root
	DefaultBaseURL = "https://api.notion.com/v1"
	// DefaultVersion is sent as the Notion-Version header
	DefaultVersion = "2022-06-28"
)

// Connector implements base.Connector for Notion
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a Notion connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("notion")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"token"},
		map[string]interface{}{"notion_version": DefaultVersion},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("search", "Search pages and databases shared with the integration"),
		base.Read("query_database", "Query a database with an optional filter and sorts", "database_id"),
		base.Read("get_database", "Retrieve a database", "database_id"),
		base.Read("get_page", "Retrieve a page", "page_id"),
		base.Read("get_block_children", "List child blocks of a page or block", "block_id"),
		base.Read("list_users", "List workspace users"),
		base.Write("create_page", "Create a page in a database or under a page", "parent_id"),
		base.Write("update_page", "Update page properties", "page_id"),
		base.Write("archive_page", "Archive a page", "page_id"),
		base.Write("append_blocks", "Append blocks to a page or block", "block_id"),
		base.Write("delete_block", "Delete a block", "block_id"),
	})
	return c
}

// Connect stores the integration token
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}
	c.client = c.NewRESTClient(baseURL, sdk.NewBearerTokenAuth(c.GetCredential("token"), time.Time{}))
	c.client.Headers["Notion-Version"] = c.GetStringOption("notion_version", DefaultVersion)
	return nil
}

// HealthCheck fetches the bot user behind the token
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Get(ctx, "/users/me", nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"search":             c.search,
		"query_database":     c.queryDatabase,
		"get_database":       c.getObject("/databases/", "database_id"),
		"get_page":           c.getObject("/pages/", "page_id"),
		"get_block_children": c.getBlockChildren,
		"list_users":         c.listUsers,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"create_page":   c.createPage,
		"update_page":   c.updatePage,
		"archive_page":  c.archivePage,
		"append_blocks": c.appendBlocks,
		"delete_block":  c.deleteBlock,
	})
}

func (c *Connector) search(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	body := paging(p)
	if q := base.GetString(p, "query", ""); q != "" {
		body["query"] = q
	}
	if f := base.GetString(p, "filter", ""); f == "page" || f == "database" {
		body["filter"] = map[string]interface{}{"property": "object", "value": f}
	} else if m := base.GetMap(p, "filter"); m != nil {
		body["filter"] = m
	}
	if s := base.GetMap(p, "sort"); s != nil {
		body["sort"] = s
	}
	obj, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodPost, Path: "/search", JSON: body, Idempotent: true})
	if err != nil {
		return nil, err
	}
	return listPage(obj), nil
}

func (c *Connector) queryDatabase(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	body := paging(p)
	if f := base.GetMap(p, "filter"); f != nil {
		body["filter"] = f
	}
	if s := base.GetSlice(p, "sorts"); s != nil {
		body["sorts"] = s
	}
	obj, err := c.client.DoObject(ctx, &sdk.Request{
		Method:     http.MethodPost,
		Path:       "/databases/" + id(p, "database_id") + "/query",
		JSON:       body,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return listPage(obj), nil
}

func (c *Connector) getObject(prefix, key string) sdk.ReadHandler {
	return func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
		obj, err := c.client.Get(ctx, prefix+id(p, key), nil)
		if err != nil {
			return nil, err
		}
		return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
	}
}

func (c *Connector) getBlockChildren(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, "/blocks/"+id(p, "block_id")+"/children", pagingQuery(p))
	if err != nil {
		return nil, err
	}
	return listPage(obj), nil
}

func (c *Connector) listUsers(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, "/users", pagingQuery(p))
	if err != nil {
		return nil, err
	}
	return listPage(obj), nil
}

func (c *Connector) createPage(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	parentType := base.GetString(p, "parent_type", "database")
	parentKey := "database_id"
	if parentType == "page" {
		parentKey = "page_id"
	}

	properties := base.GetMap(p, "properties")
	if properties == nil {
		properties = map[string]interface{}{}
	}
	if title := base.GetString(p, "title", ""); title != "" {
		// Page parents only accept the "title" property.
		titleProp := "title"
		if parentType != "page" {
			titleProp = base.GetString(p, "title_property", "Name")
		}
		properties[titleProp] = map[string]interface{}{"title": richText(title)}
	}

	body := map[string]interface{}{
		"parent":     map[string]interface{}{parentKey: base.GetString(p, "parent_id", "")},
		"properties": properties,
	}
	if children := blocks(p); len(children) > 0 {
		body["children"] = children
	}
	if icon := base.GetString(p, "icon", ""); icon != "" {
		body["icon"] = map[string]interface{}{"type": "emoji", "emoji": icon}
	}
	return c.client.Post(ctx, "/pages", body)
}

func (c *Connector) updatePage(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if props := base.GetMap(p, "properties"); props != nil {
		body["properties"] = props
	}
	if _, ok := p["archived"]; ok {
		body["archived"] = base.GetBool(p, "archived", false)
	}
	return c.patch(ctx, "/pages/"+id(p, "page_id"), body)
}

func (c *Connector) archivePage(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	return c.patch(ctx, "/pages/"+id(p, "page_id"), map[string]interface{}{"archived": true})
}

func (c *Connector) appendBlocks(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	children := blocks(p)
	if len(children) == 0 {
		return nil, &base.MissingParamError{Param: "children"}
	}
	return c.patch(ctx, "/blocks/"+id(p, "block_id")+"/children", map[string]interface{}{"children": children})
}

func (c *Connector) deleteBlock(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	return c.client.DoObject(ctx, &sdk.Request{Method: http.MethodDelete, Path: "/blocks/" + id(p, "block_id")})
}

func (c *Connector) patch(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.client.DoObject(ctx, &sdk.Request{Method: http.MethodPatch, Path: path, JSON: body})
}

// blocks returns raw children, or paragraph blocks built from content
func blocks(p map[string]interface{}) []interface{} {
	if raw := base.GetSlice(p, "children"); len(raw) > 0 {
		return raw
	}
	content := strings.TrimSpace(base.GetString(p, "content", ""))
	if content == "" {
		return nil
	}
	var out []interface{}
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		out = append(out, map[string]interface{}{
			"object":    "block",
			"type":      "paragraph",
			"paragraph": map[string]interface{}{"rich_text": richText(para)},
		})
	}
	return out
}

// richText splits text into the 2000-character segments Notion accepts
func richText(text string) []interface{} {
	const maxSegment = 2000
	runes := []rune(text)
	var out []interface{}
	for len(runes) > 0 {
		n := len(runes)
		if n > maxSegment {
			n = maxSegment
		}
		out = append(out, map[string]interface{}{
			"type": "text",
			"text": map[string]interface{}{"content": string(runes[:n])},
		})
		runes = runes[n:]
	}
	return out
}

func paging(p map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{}
	if size := base.GetInt(p, "page_size", 0); size > 0 {
		body["page_size"] = size
	}
	if cursor := base.GetString(p, "start_cursor", base.GetString(p, "cursor", "")); cursor != "" {
		body["start_cursor"] = cursor
	}
	return body
}

func pagingQuery(p map[string]interface{}) url.Values {
	q := url.Values{}
	for k, v := range paging(p) {
		switch val := v.(type) {
		case int:
			q.Set(k, strconv.Itoa(val))
		case string:
			q.Set(k, val)
		}
	}
	return q
}

func listPage(obj map[string]interface{}) *sdk.Page {
	meta := map[string]interface{}{"has_more": base.GetBool(obj, "has_more", false)}
	if next := base.GetString(obj, "next_cursor", ""); next != "" {
		meta["next_cursor"] = next
	}
	return &sdk.Page{Rows: base.RowsFrom(obj, "results"), Metadata: meta}
}

func id(p map[string]interface{}, key string) string {
	return url.PathEscape(base.GetString(p, key, ""))
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
