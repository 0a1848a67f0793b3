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

// Package convertkit provides a ConvertKit (Kit) connector on the v3 API.
//
// ConvertKit authenticates with an API key for public endpoints and an API
// secret for subscriber data. Both travel as request parameters: in the
// query string for GET and DELETE, in the JSON body otherwise. Actions that
// need the secret fail before any request when it is not configured.
package convertkit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// DefaultBaseURL is the ConvertKit v3 API root
const DefaultBaseURL = "https://api.convertkit.com/v3"

type credential int

const (
	apiKey credential = iota
	apiSecret
)

// Connector implements base.Connector for ConvertKit
type Connector struct {
	*sdk.BaseConnector
	client *sdk.RESTClient
}

// NewConnector creates a ConvertKit connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("convertkit")}
	c.SetValidator(sdk.NewDefaultConfigValidator([]string{"api_key"}, nil))
	c.SetActions([]base.ActionSpec{
		base.Read("list_forms", "List forms"),
		base.Read("list_sequences", "List sequences"),
		base.Read("list_tags", "List tags"),
		base.Read("list_subscribers", "List subscribers (requires api_secret)"),
		base.Read("get_subscriber", "Get a subscriber (requires api_secret)", "subscriber_id"),
		base.Read("list_subscriber_tags", "List a subscriber's tags", "subscriber_id"),
		base.Read("get_account", "Get account details (requires api_secret)"),
		base.Write("subscribe_to_form", "Subscribe an email to a form", "form_id", "email"),
		base.Write("subscribe_to_sequence", "Subscribe an email to a sequence", "sequence_id", "email"),
		base.Write("tag_subscriber", "Apply a tag to an email", "tag_id", "email"),
		base.Write("remove_tag", "Remove a tag from a subscriber (requires api_secret)", "tag_id"),
		base.Write("update_subscriber", "Update a subscriber (requires api_secret)", "subscriber_id"),
		base.Write("unsubscribe", "Unsubscribe an email from everything (requires api_secret)", "email"),
		base.Write("create_tag", "Create a tag", "name"),
	})
	return c
}

// Connect prepares the client. Credentials are attached per request.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}
	c.client = c.NewRESTClient(baseURL, nil)
	return nil
}

// HealthCheck lists forms with the API key
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.get(ctx, "/forms", apiKey, nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_forms":     c.listOf("/forms", "forms", apiKey),
		"list_sequences": c.listOf("/sequences", "courses", apiKey),
		"list_tags":      c.listOf("/tags", "tags", apiKey),
		"list_subscribers": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			q := url.Values{}
			page := base.GetInt(p, "page", base.GetInt(p, "cursor", 1))
			q.Set("page", strconv.Itoa(page))
			for _, key := range []string{"from", "to", "updated_from", "updated_to", "sort_order", "sort_field", "email_address"} {
				if v := base.GetString(p, key, ""); v != "" {
					q.Set(key, v)
				}
			}
			obj, err := c.get(ctx, "/subscribers", apiSecret, q)
			if err != nil {
				return nil, err
			}
			totalPages := base.GetInt(obj, "total_pages", page)
			meta := map[string]interface{}{
				"total":    base.GetInt(obj, "total_subscribers", 0),
				"has_more": page < totalPages,
			}
			if page < totalPages {
				meta["next_cursor"] = page + 1
			}
			return &sdk.Page{Rows: base.RowsFrom(obj, "subscribers"), Metadata: meta}, nil
		},
		"get_subscriber": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			obj, err := c.get(ctx, subscriberPath(p), apiSecret, nil)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: []map[string]interface{}{objectOr(obj, "subscriber")}}, nil
		},
		"list_subscriber_tags": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			obj, err := c.get(ctx, subscriberPath(p)+"/tags", apiKey, nil)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: base.RowsFrom(obj, "tags")}, nil
		},
		"get_account": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			obj, err := c.get(ctx, "/account", apiSecret, nil)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
		},
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"subscribe_to_form": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.subscribe(ctx, "/forms/"+segment(p, "form_id")+"/subscribe", p)
		},
		"subscribe_to_sequence": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.subscribe(ctx, "/sequences/"+segment(p, "sequence_id")+"/subscribe", p)
		},
		"tag_subscriber": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.subscribe(ctx, "/tags/"+segment(p, "tag_id")+"/subscribe", p)
		},
		"remove_tag":        c.removeTag,
		"update_subscriber": c.updateSubscriber,
		"unsubscribe": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.send(ctx, http.MethodPut, "/unsubscribe", apiSecret, map[string]interface{}{"email": base.GetString(p, "email", "")})
		},
		"create_tag": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.send(ctx, http.MethodPost, "/tags", apiKey, map[string]interface{}{
				"tag": map[string]interface{}{"name": base.GetString(p, "name", "")},
			})
		},
	})
}

func (c *Connector) listOf(path, key string, cred credential) sdk.ReadHandler {
	return func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
		obj, err := c.get(ctx, path, cred, nil)
		if err != nil {
			return nil, err
		}
		return &sdk.Page{Rows: base.RowsFrom(obj, key)}, nil
	}
}

func (c *Connector) subscribe(ctx context.Context, path string, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{"email": base.GetString(p, "email", "")}
	if name := base.GetString(p, "first_name", ""); name != "" {
		body["first_name"] = name
	}
	if fields := base.GetMap(p, "fields"); fields != nil {
		body["fields"] = fields
	}
	if tags := base.GetStringSlice(p, "tags"); len(tags) > 0 {
		ids := make([]int, 0, len(tags))
		for _, t := range tags {
			n, err := strconv.Atoi(t)
			if err != nil {
				return nil, fmt.Errorf("tags must be numeric tag IDs, got %q", t)
			}
			ids = append(ids, n)
		}
		body["tags"] = ids
	}
	obj, err := c.send(ctx, http.MethodPost, path, apiKey, body)
	if err != nil {
		return nil, err
	}
	return objectOr(obj, "subscription"), nil
}

func (c *Connector) removeTag(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	tagID := segment(p, "tag_id")
	if id := base.GetString(p, "subscriber_id", ""); id != "" {
		path := subscriberPath(p) + "/tags/" + tagID
		return c.send(ctx, http.MethodDelete, path, apiSecret, nil)
	}
	email := base.GetString(p, "email", "")
	if email == "" {
		return nil, &base.MissingParamError{Param: "subscriber_id or email"}
	}
	return c.send(ctx, http.MethodPost, "/tags/"+tagID+"/unsubscribe", apiSecret, map[string]interface{}{"email": email})
}

func (c *Connector) updateSubscriber(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if v := base.GetString(p, "first_name", ""); v != "" {
		body["first_name"] = v
	}
	if v := base.GetString(p, "email_address", base.GetString(p, "email", "")); v != "" {
		body["email_address"] = v
	}
	if fields := base.GetMap(p, "fields"); fields != nil {
		body["fields"] = fields
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("nothing to update: set first_name, email_address or fields")
	}
	obj, err := c.send(ctx, http.MethodPut, subscriberPath(p), apiSecret, body)
	if err != nil {
		return nil, err
	}
	return objectOr(obj, "subscriber"), nil
}

// credential returns the parameter name and value for cred, or an error
// when an API secret is needed but not configured.
func (c *Connector) credential(cred credential) (string, string, error) {
	if cred == apiSecret {
		secret := c.GetCredential("api_secret")
		if secret == "" {
			return "", "", sdk.NonRetryable(fmt.Errorf("this action requires the api_secret credential"))
		}
		return "api_secret", secret, nil
	}
	return "api_key", c.GetCredential("api_key"), nil
}

func (c *Connector) get(ctx context.Context, path string, cred credential, q url.Values) (map[string]interface{}, error) {
	name, value, err := c.credential(cred)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set(name, value)
	return c.client.Get(ctx, path, q)
}

func (c *Connector) send(ctx context.Context, method, path string, cred credential, body map[string]interface{}) (map[string]interface{}, error) {
	name, value, err := c.credential(cred)
	if err != nil {
		return nil, err
	}
	req := &sdk.Request{Method: method, Path: path}
	if method == http.MethodDelete {
		req.Query = url.Values{name: {value}}
	} else {
		if body == nil {
			body = map[string]interface{}{}
		}
		body[name] = value
		req.JSON = body
	}
	return c.client.DoObject(ctx, req)
}

func segment(p map[string]interface{}, key string) string {
	return url.PathEscape(base.GetString(p, key, ""))
}

func subscriberPath(p map[string]interface{}) string {
	return "/subscribers/" + segment(p, "subscriber_id")
}

// objectOr unwraps a single nested object, e.g. {"subscriber": {...}}
func objectOr(obj map[string]interface{}, key string) map[string]interface{} {
	if inner := base.GetMap(obj, key); inner != nil {
		return inner
	}
	return obj
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
