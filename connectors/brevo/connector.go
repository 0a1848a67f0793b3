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

// Package brevo provides a Brevo (formerly Sendinblue) connector for
// transactional email and SMS plus contact management.
package brevo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// DefaultBaseURL is the Brevo v3 API root
const DefaultBaseURL = "https://api.brevo.com/v3"

// Connector implements base.Connector for Brevo
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a Brevo connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("brevo")}
	c.SetValidator(sdk.NewDefaultConfigValidator([]string{"api_key"}, nil))
	c.SetActions([]base.ActionSpec{
		base.Read("get_account", "Get account details and plan"),
		base.Read("get_contact", "Get a contact by email or ID", "identifier"),
		base.Read("list_contacts", "List contacts"),
		base.Read("list_lists", "List contact lists"),
		base.Write("send_email", "Send a transactional email", "to"),
		base.Write("create_contact", "Create a contact", "email"),
		base.Write("update_contact", "Update a contact", "identifier"),
		base.Write("delete_contact", "Delete a contact", "identifier"),
		base.Write("add_contacts_to_list", "Add contacts to a list", "list_id", "emails"),
		base.Write("send_sms", "Send a transactional SMS", "recipient", "content"),
	})
	return c
}

// Connect sets the api-key header
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}
	c.client = c.NewRESTClient(baseURL, sdk.NewHeaderAuth("api-key", "", c.GetCredential("api_key")))
	return nil
}

// HealthCheck fetches the account
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Get(ctx, "/account", nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"get_account": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			obj, err := c.client.Get(ctx, "/account", nil)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
		},
		"get_contact": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			obj, err := c.client.Get(ctx, contactPath(p), nil)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
		},
		"list_contacts": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			q := offsetQuery(p, 50)
			if since := base.GetString(p, "modified_since", ""); since != "" {
				q.Set("modifiedSince", since)
			}
			return c.list(ctx, "/contacts", q, "contacts")
		},
		"list_lists": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, "/contacts/lists", offsetQuery(p, 50), "lists")
		},
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"send_email":           c.sendEmail,
		"create_contact":       c.createContact,
		"update_contact":       c.updateContact,
		"delete_contact":       c.deleteContact,
		"add_contacts_to_list": c.addContactsToList,
		"send_sms":             c.sendSMS,
	})
}

func (c *Connector) sendEmail(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	to, err := Recipients(p["to"])
	if err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	body := map[string]interface{}{"to": to}

	templateID := base.GetInt(p, "template_id", 0)
	html := base.GetString(p, "html_content", base.GetString(p, "html", ""))
	text := base.GetString(p, "text_content", base.GetString(p, "text", ""))
	switch {
	case templateID > 0:
		body["templateId"] = templateID
	case html == "" && text == "":
		return nil, fmt.Errorf("either template_id or html_content/text_content is required")
	case base.GetString(p, "subject", "") == "":
		return nil, &base.MissingParamError{Param: "subject"}
	}
	if subject := base.GetString(p, "subject", ""); subject != "" {
		body["subject"] = subject
	}
	if html != "" {
		body["htmlContent"] = html
	}
	if text != "" {
		body["textContent"] = text
	}

	sender := c.sender(p)
	if sender == nil && templateID == 0 {
		return nil, &base.MissingParamError{Param: "sender"}
	}
	if sender != nil {
		body["sender"] = sender
	}
	for param, key := range map[string]string{"cc": "cc", "bcc": "bcc"} {
		if v, ok := p[param]; ok {
			list, err := Recipients(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", param, err)
			}
			body[key] = list
		}
	}
	if v, ok := p["reply_to"]; ok {
		list, err := Recipients(v)
		if err != nil || len(list) == 0 {
			return nil, fmt.Errorf("invalid reply_to")
		}
		body["replyTo"] = list[0]
	}
	if params := base.GetMap(p, "params"); params != nil {
		body["params"] = params
	}
	if tags := base.GetStringSlice(p, "tags"); len(tags) > 0 {
		body["tags"] = tags
	}
	return c.client.Post(ctx, "/smtp/email", body)
}

// sender reads sender as an address or {email, name}, falling back to the
// sender_email and sender_name options.
func (c *Connector) sender(p map[string]interface{}) map[string]interface{} {
	if v, ok := p["sender"]; ok {
		if list, err := Recipients(v); err == nil && len(list) > 0 {
			return list[0]
		}
	}
	email := base.GetString(p, "sender_email", c.GetStringOption("sender_email", ""))
	if email == "" {
		return nil
	}
	s := map[string]interface{}{"email": email}
	if name := base.GetString(p, "sender_name", c.GetStringOption("sender_name", "")); name != "" {
		s["name"] = name
	}
	return s
}

func (c *Connector) createContact(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"email":         base.GetString(p, "email", ""),
		"updateEnabled": base.GetBool(p, "update_enabled", false),
	}
	if attrs := base.GetMap(p, "attributes"); attrs != nil {
		body["attributes"] = attrs
	}
	if ids := listIDs(p, "list_ids"); len(ids) > 0 {
		body["listIds"] = ids
	}
	obj, err := c.client.Post(ctx, "/contacts", body)
	if err != nil {
		return nil, err
	}
	obj["email"] = body["email"]
	return obj, nil
}

func (c *Connector) updateContact(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if attrs := base.GetMap(p, "attributes"); attrs != nil {
		body["attributes"] = attrs
	}
	if ids := listIDs(p, "list_ids"); len(ids) > 0 {
		body["listIds"] = ids
	}
	if ids := listIDs(p, "unlink_list_ids"); len(ids) > 0 {
		body["unlinkListIds"] = ids
	}
	if v, ok := p["email_blacklisted"]; ok {
		body["emailBlacklisted"] = v
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("nothing to update: set attributes, list_ids, unlink_list_ids or email_blacklisted")
	}
	if _, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodPut, Path: contactPath(p), JSON: body}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"identifier": base.GetString(p, "identifier", ""), "updated": true}, nil
}

func (c *Connector) deleteContact(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	if _, err := c.client.DoObject(ctx, &sdk.Request{Method: http.MethodDelete, Path: contactPath(p)}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"identifier": base.GetString(p, "identifier", ""), "deleted_count": 1}, nil
}

func (c *Connector) addContactsToList(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	emails := base.GetStringSlice(p, "emails")
	if len(emails) == 0 {
		return nil, &base.MissingParamError{Param: "emails"}
	}
	path := "/contacts/lists/" + url.PathEscape(base.GetString(p, "list_id", "")) + "/contacts/add"
	obj, err := c.client.Post(ctx, path, map[string]interface{}{"emails": emails})
	if err != nil {
		return nil, err
	}
	if contacts := base.GetMap(obj, "contacts"); contacts != nil {
		obj["count"] = len(base.GetSlice(contacts, "success"))
	}
	return obj, nil
}

func (c *Connector) sendSMS(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	sender := base.GetString(p, "sender", c.GetStringOption("sms_sender", ""))
	if sender == "" {
		return nil, &base.MissingParamError{Param: "sender"}
	}
	body := map[string]interface{}{
		"sender":    sender,
		"recipient": base.GetString(p, "recipient", ""),
		"content":   base.GetString(p, "content", ""),
		"type":      base.GetString(p, "type", "transactional"),
	}
	if tag := base.GetString(p, "tag", ""); tag != "" {
		body["tag"] = tag
	}
	return c.client.Post(ctx, "/transactionalSMS/sms", body)
}

func (c *Connector) list(ctx context.Context, path string, q url.Values, key string) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	rows := base.RowsFrom(obj, key)
	if _, ok := obj[key]; !ok {
		rows = []map[string]interface{}{}
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	total := base.GetInt(obj, "count", len(rows))
	next := offset + len(rows)
	meta := map[string]interface{}{"total": total, "has_more": next < total}
	if next < total {
		meta["next_cursor"] = next
	}
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

// Recipients normalizes an address parameter to [{"email": ..., "name": ...}].
// It accepts a comma-separated string, a list of strings or objects, or a
// single object.
func Recipients(v interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	add := func(item interface{}) error {
		switch r := item.(type) {
		case string:
			for _, addr := range strings.Split(r, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					out = append(out, map[string]interface{}{"email": addr})
				}
			}
		case map[string]interface{}:
			email := base.GetString(r, "email", "")
			if email == "" {
				return fmt.Errorf("recipient object without email")
			}
			rec := map[string]interface{}{"email": email}
			if name := base.GetString(r, "name", ""); name != "" {
				rec["name"] = name
			}
			out = append(out, rec)
		default:
			return fmt.Errorf("unsupported recipient type %T", item)
		}
		return nil
	}

	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			if err := add(item); err != nil {
				return nil, err
			}
		}
	case []string:
		for _, item := range val {
			if err := add(item); err != nil {
				return nil, err
			}
		}
	default:
		if err := add(v); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	return out, nil
}

func contactPath(p map[string]interface{}) string {
	return "/contacts/" + url.PathEscape(base.GetString(p, "identifier", ""))
}

func offsetQuery(p map[string]interface{}, defLimit int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(base.GetInt(p, "limit", defLimit)))
	q.Set("offset", strconv.Itoa(base.GetInt(p, "offset", base.GetInt(p, "cursor", 0))))
	return q
}

func listIDs(p map[string]interface{}, key string) []int {
	var ids []int
	for _, s := range base.GetStringSlice(p, key) {
		if n, err := strconv.Atoi(s); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
