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

// Package dropbox provides a Dropbox connector for the v2 HTTP API.
//
// RPC endpoints live on api.dropboxapi.com and take JSON bodies; upload and
// download live on content.dropboxapi.com and carry their arguments in the
// Dropbox-API-Arg header. A single ConnectionURL override serves both hosts,
// which is what tests and proxies need.
package dropbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com/2"
	DefaultContentURL = "https://content.dropboxapi.com/2"
	DefaultTokenURL   = "https://api.dropboxapi.com/oauth2/token"
)

// Connector implements base.Connector for Dropbox
type Connector struct {
	*sdk.BaseConnector
	api     *sdk.RESTClient
	content *sdk.RESTClient
}

// NewConnector creates a Dropbox connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("dropbox")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"access_token|refresh_token+app_key+app_secret"},
		nil,
	))
	c.SetActions([]base.ActionSpec{
		base.Read("list_folder", "List a folder (empty path is the root)"),
		base.Read("list_folder_continue", "Continue a folder listing", "cursor"),
		base.Read("get_metadata", "Get file or folder metadata", "path"),
		base.Read("search", "Search files and folders", "query"),
		base.Read("download", "Download a file's content", "path"),
		base.Read("get_temporary_link", "Get a four-hour download link", "path"),
		base.Read("get_current_account", "Get the account behind the token"),
		base.Write("upload", "Upload a file (up to 150MB)", "path", "content"),
		base.Write("create_folder", "Create a folder", "path"),
		base.Write("delete", "Delete a file or folder", "path"),
		base.Write("move", "Move a file or folder", "from_path", "to_path"),
		base.Write("copy", "Copy a file or folder", "from_path", "to_path"),
		base.Write("create_shared_link", "Create a shared link", "path"),
	})
	return c
}

// Connect configures token auth. A refresh token is exchanged lazily on the first call.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}

	apiURL, err := c.BaseURL(DefaultAPIURL)
	if err != nil {
		return err
	}
	contentURL := DefaultContentURL
	if cfg.ConnectionURL != "" {
		contentURL = apiURL
	}

	var auth sdk.AuthProvider
	if token := c.GetCredential("access_token"); token != "" {
		auth = sdk.NewBearerTokenAuth(token, time.Time{})
	} else {
		oauthCfg := &oauth2.Config{
			ClientID:     c.GetCredential("app_key"),
			ClientSecret: c.GetCredential("app_secret"),
			Endpoint: oauth2.Endpoint{
				TokenURL:  c.GetStringOption("token_url", DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		auth = sdk.NewRefreshTokenAuth(ctx, oauthCfg, "", c.GetCredential("refresh_token"))
	}

	c.api = c.NewRESTClient(apiURL, auth)
	c.content = c.NewRESTClient(contentURL, auth)
	return nil
}

// HealthCheck fetches the current account
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.rpc(ctx, "/users/get_current_account", nil)
		return err
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_folder":          c.listFolder,
		"list_folder_continue": c.listFolderContinue,
		"get_metadata":         c.single("/files/get_metadata", pathArg),
		"search":               c.search,
		"download":             c.download,
		"get_temporary_link":   c.single("/files/get_temporary_link", pathArg),
		"get_current_account":  c.single("/users/get_current_account", nil),
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"upload":        c.upload,
		"create_folder": c.write("/files/create_folder_v2", func(p map[string]interface{}) interface{} {
			return map[string]interface{}{"path": normalizePath(p), "autorename": base.GetBool(p, "autorename", false)}
		}),
		"delete": c.write("/files/delete_v2", pathArg),
		"move":   c.write("/files/move_v2", relocationArg),
		"copy":   c.write("/files/copy_v2", relocationArg),
		"create_shared_link": c.write("/sharing/create_shared_link_with_settings", func(p map[string]interface{}) interface{} {
			return map[string]interface{}{
				"path":     normalizePath(p),
				"settings": map[string]interface{}{"requested_visibility": base.GetString(p, "visibility", "public")},
			}
		}),
	})
}

func (c *Connector) listFolder(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	arg := map[string]interface{}{
		"path":      normalizePath(p),
		"recursive": base.GetBool(p, "recursive", false),
	}
	if limit := base.GetInt(p, "limit", 0); limit > 0 {
		arg["limit"] = limit
	}
	obj, err := c.rpc(ctx, "/files/list_folder", arg)
	if err != nil {
		return nil, err
	}
	return folderPage(obj), nil
}

func (c *Connector) listFolderContinue(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	obj, err := c.rpc(ctx, "/files/list_folder/continue", map[string]interface{}{"cursor": base.GetString(p, "cursor", "")})
	if err != nil {
		return nil, err
	}
	return folderPage(obj), nil
}

func (c *Connector) search(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	options := map[string]interface{}{"max_results": base.GetInt(p, "max_results", 100)}
	if path := base.GetString(p, "path", ""); path != "" {
		options["path"] = path
	}
	obj, err := c.rpc(ctx, "/files/search_v2", map[string]interface{}{
		"query":   base.GetString(p, "query", ""),
		"options": options,
	})
	if err != nil {
		return nil, err
	}

	matches := base.RowsFrom(obj, "matches")
	rows := make([]map[string]interface{}, 0, len(matches))
	for _, m := range matches {
		// search_v2 nests the entry under metadata.metadata
		if outer := base.GetMap(m, "metadata"); outer != nil {
			if inner := base.GetMap(outer, "metadata"); inner != nil {
				rows = append(rows, inner)
				continue
			}
		}
		rows = append(rows, m)
	}
	return &sdk.Page{Rows: rows, Metadata: cursorMeta(obj)}, nil
}

func (c *Connector) download(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	arg, err := apiArg(map[string]interface{}{"path": normalizePath(p)})
	if err != nil {
		return nil, err
	}
	resp, err := c.content.Do(ctx, &sdk.Request{
		Method:     http.MethodPost,
		Path:       "/files/download",
		Headers:    map[string]string{"Dropbox-API-Arg": arg},
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	row := map[string]interface{}{}
	if result := resp.Header.Get("Dropbox-API-Result"); result != "" {
		_ = json.Unmarshal([]byte(result), &row)
	}
	if utf8.Valid(resp.Body) && base.GetString(p, "encoding", "") != "base64" {
		row["content"] = string(resp.Body)
	} else {
		row["content"] = base64.StdEncoding.EncodeToString(resp.Body)
		row["encoding"] = "base64"
	}
	return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
}

func (c *Connector) upload(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	content := []byte(base.GetString(p, "content", ""))
	if base.GetString(p, "encoding", "") == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(string(content))
		if err != nil {
			return nil, fmt.Errorf("content is not valid base64: %w", err)
		}
		content = decoded
	}
	arg, err := apiArg(map[string]interface{}{
		"path":       normalizePath(p),
		"mode":       base.GetString(p, "mode", "add"),
		"autorename": base.GetBool(p, "autorename", true),
		"mute":       base.GetBool(p, "mute", false),
	})
	if err != nil {
		return nil, err
	}
	return c.content.DoObject(ctx, &sdk.Request{
		Method:      http.MethodPost,
		Path:        "/files/upload",
		Headers:     map[string]string{"Dropbox-API-Arg": arg},
		Body:        content,
		ContentType: "application/octet-stream",
	})
}

// single returns a handler for RPC reads that yield one object
func (c *Connector) single(path string, arg func(map[string]interface{}) interface{}) sdk.ReadHandler {
	return func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
		var body interface{}
		if arg != nil {
			body = arg(p)
		}
		obj, err := c.rpc(ctx, path, body)
		if err != nil {
			return nil, err
		}
		return &sdk.Page{Rows: []map[string]interface{}{obj}}, nil
	}
}

func (c *Connector) write(path string, arg func(map[string]interface{}) interface{}) sdk.WriteHandler {
	return func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
		return c.api.DoObject(ctx, &sdk.Request{Method: http.MethodPost, Path: path, JSON: arg(p)})
	}
}

// rpc posts a read-only RPC call. Dropbox rejects a JSON content type on
// endpoints without arguments, so nil bodies are sent empty.
func (c *Connector) rpc(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.api.DoObject(ctx, &sdk.Request{Method: http.MethodPost, Path: path, JSON: body, Idempotent: true})
}

func pathArg(p map[string]interface{}) interface{} {
	return map[string]interface{}{"path": normalizePath(p)}
}

func relocationArg(p map[string]interface{}) interface{} {
	return map[string]interface{}{
		"from_path":  ensureSlash(base.GetString(p, "from_path", "")),
		"to_path":    ensureSlash(base.GetString(p, "to_path", "")),
		"autorename": base.GetBool(p, "autorename", false),
	}
}

// normalizePath maps "/" to the root ("") and prefixes relative paths.
// Dropbox IDs ("id:...") and namespace paths pass through.
func normalizePath(p map[string]interface{}) string {
	path := strings.TrimSpace(base.GetString(p, "path", ""))
	if path == "/" {
		return ""
	}
	return ensureSlash(path)
}

func ensureSlash(path string) string {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasPrefix(path, "id:") || strings.HasPrefix(path, "ns:") {
		return path
	}
	return "/" + path
}

// apiArg encodes the Dropbox-API-Arg header. Header values must be ASCII,
// so non-ASCII runes are escaped as \uXXXX.
func apiArg(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(raw) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := surrogates(r)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		fmt.Fprintf(&b, "\\u%04x", r)
	}
	return b.String(), nil
}

func surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r>>10)&0x3FF, 0xDC00 + r&0x3FF
}

func folderPage(obj map[string]interface{}) *sdk.Page {
	return &sdk.Page{Rows: base.RowsFrom(obj, "entries"), Metadata: cursorMeta(obj)}
}

func cursorMeta(obj map[string]interface{}) map[string]interface{} {
	hasMore := base.GetBool(obj, "has_more", false)
	meta := map[string]interface{}{"has_more": hasMore}
	if cursor := base.GetString(obj, "cursor", ""); cursor != "" {
		meta["next_cursor"] = cursor
	}
	return meta
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
