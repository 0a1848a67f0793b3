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

// Package teams provides a Microsoft Teams connector on Microsoft Graph.
//
// App-only access uses tenant_id, client_id and client_secret through
// azidentity; a delegated access_token may be supplied instead. Graph
// paging links (@odata.nextLink) are returned as next_cursor and accepted
// back as the cursor parameter.
package teams

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

const (
	// DefaultBaseURL is the Graph v1.0 root
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// GraphScope requests the app's configured Graph permissions
	GraphScope = "https://graph.microsoft.com/.default"
)

// Connector implements base.Connector for Microsoft Teams
type Connector struct {
	*sdk.BaseConnector
	client     *sdk.RESTClient
	baseURL    string
	credential azcore.TokenCredential // overrides the client secret credential when set
}

// NewConnector creates a Teams connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("teams")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"access_token|tenant_id+client_id+client_secret"},
		map[string]interface{}{"user_id": "me"},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("list_joined_teams", "List teams the user belongs to"),
		base.Read("get_team", "Get a team", "team_id"),
		base.Read("list_channels", "List a team's channels", "team_id"),
		base.Read("get_channel", "Get a channel", "team_id", "channel_id"),
		base.Read("list_channel_messages", "List messages in a channel", "team_id", "channel_id"),
		base.Read("list_members", "List team members", "team_id"),
		base.Read("list_chats", "List the user's chats"),
		base.Write("send_channel_message", "Post a message to a channel", "team_id", "channel_id", "content"),
		base.Write("reply_to_message", "Reply to a channel message", "team_id", "channel_id", "message_id", "content"),
		base.Write("create_channel", "Create a channel", "team_id", "display_name"),
		base.Write("send_chat_message", "Send a message in a chat", "chat_id", "content"),
		base.Write("create_online_meeting", "Create a Teams online meeting", "subject"),
	})
	return c
}

// Connect sets up Graph authentication. Tokens are acquired on first use.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(DefaultBaseURL)
	if err != nil {
		return err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")

	var auth sdk.AuthProvider
	switch {
	case c.GetCredential("access_token") != "":
		auth = sdk.NewBearerTokenAuth(c.GetCredential("access_token"), time.Time{})
	case c.credential != nil:
		auth = sdk.NewAzureTokenAuth(c.credential, GraphScope)
	default:
		opts := &azidentity.ClientSecretCredentialOptions{}
		if host := c.GetStringOption("authority_host", ""); host != "" {
			opts.Cloud = cloud.Configuration{ActiveDirectoryAuthorityHost: host}
		}
		cred, err := azidentity.NewClientSecretCredential(
			c.GetCredential("tenant_id"), c.GetCredential("client_id"), c.GetCredential("client_secret"), opts)
		if err != nil {
			return base.NewConnectorError(cfg.Name, "Connect", "invalid Azure credentials", err)
		}
		auth = sdk.NewAzureTokenAuth(cred, GraphScope)
	}
	c.client = c.NewRESTClient(c.baseURL, auth)
	return nil
}

// HealthCheck lists one joined team
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Get(ctx, c.userPath(nil)+"/joinedTeams", url.Values{"$top": {"1"}})
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_joined_teams": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, p, c.userPath(p)+"/joinedTeams")
		},
		"get_team": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.get(ctx, teamPath(p))
		},
		"list_channels": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, p, teamPath(p)+"/channels")
		},
		"get_channel": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.get(ctx, channelPath(p))
		},
		"list_channel_messages": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, p, channelPath(p)+"/messages")
		},
		"list_members": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, p, teamPath(p)+"/members")
		},
		"list_chats": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			return c.list(ctx, p, c.userPath(p)+"/chats")
		},
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"send_channel_message": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.client.Post(ctx, channelPath(p)+"/messages", messageBody(p))
		},
		"reply_to_message": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			path := channelPath(p) + "/messages/" + segment(p, "message_id") + "/replies"
			return c.client.Post(ctx, path, messageBody(p))
		},
		"create_channel": c.createChannel,
		"send_chat_message": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return c.client.Post(ctx, "/chats/"+segment(p, "chat_id")+"/messages", messageBody(p))
		},
		"create_online_meeting": c.createOnlineMeeting,
	})
}

func (c *Connector) createChannel(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"displayName":    base.GetString(p, "display_name", ""),
		"membershipType": base.GetString(p, "membership_type", "standard"),
	}
	if d := base.GetString(p, "description", ""); d != "" {
		body["description"] = d
	}
	return c.client.Post(ctx, teamPath(p)+"/channels", body)
}

func (c *Connector) createOnlineMeeting(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	start := base.GetString(p, "start", "")
	end := base.GetString(p, "end", "")
	if start == "" {
		now := time.Now().UTC()
		start = now.Format(time.RFC3339)
		if end == "" {
			end = now.Add(time.Hour).Format(time.RFC3339)
		}
	}
	body := map[string]interface{}{
		"subject":       base.GetString(p, "subject", ""),
		"startDateTime": start,
	}
	if end != "" {
		body["endDateTime"] = end
	}
	return c.client.Post(ctx, c.userPath(p)+"/onlineMeetings", body)
}

func (c *Connector) get(ctx context.Context, path string) (*sdk.Page, error) {
	obj, err := c.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
}

// list reads one page of a Graph collection. A cursor must be a nextLink
// on the configured Graph host, since the request carries the bearer token.
func (c *Connector) list(ctx context.Context, p map[string]interface{}, path string) (*sdk.Page, error) {
	var q url.Values
	if cursor := base.GetString(p, "cursor", ""); cursor != "" {
		if !strings.HasPrefix(cursor, c.baseURL+"/") {
			return nil, sdk.NonRetryable(fmt.Errorf("cursor is not a Graph link for %s", c.baseURL))
		}
		path = cursor
	} else if top := base.GetInt(p, "top", base.GetInt(p, "limit", 0)); top > 0 {
		q = url.Values{"$top": {strconv.Itoa(top)}}
	}
	obj, err := c.client.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	next := base.GetString(obj, "@odata.nextLink", "")
	meta := map[string]interface{}{"has_more": next != ""}
	if next != "" {
		meta["next_cursor"] = next
	}
	return &sdk.Page{Rows: base.RowsFrom(obj, "value"), Metadata: meta}, nil
}

func (c *Connector) userPath(p map[string]interface{}) string {
	user := base.GetString(p, "user_id", c.GetStringOption("user_id", "me"))
	if user == "me" {
		return "/me"
	}
	return "/users/" + url.PathEscape(user)
}

func segment(p map[string]interface{}, key string) string {
	return url.PathEscape(base.GetString(p, key, ""))
}

func teamPath(p map[string]interface{}) string {
	return "/teams/" + segment(p, "team_id")
}

func channelPath(p map[string]interface{}) string {
	return teamPath(p) + "/channels/" + segment(p, "channel_id")
}

// messageBody builds a chatMessage; content_type is text or html
func messageBody(p map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"body": map[string]interface{}{
			"contentType": base.GetString(p, "content_type", "text"),
			"content":     base.GetString(p, "content", ""),
		},
	}
	if subject := base.GetString(p, "subject", ""); subject != "" {
		body["subject"] = subject
	}
	if imp := base.GetString(p, "importance", ""); imp != "" {
		body["importance"] = imp
	}
	return body
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
