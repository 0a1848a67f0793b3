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

// Package gdocs provides a Google Docs connector on the docs/v1 client.
package gdocs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/docs/v1"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// Connector implements base.Connector for Google Docs
type Connector struct {
	*sdk.BaseConnector
	svc        *docs.Service
	httpClient *http.Client
}

// NewConnector creates a Google Docs connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("gdocs")}
	c.SetValidator(sdk.NewDefaultConfigValidator(
		[]string{"service_account_json|refresh_token+client_id+client_secret|access_token"},
		nil,
	))
	c.SetActions([]base.ActionSpec{
		base.Read("get_document", "Get a document's structure", "document_id"),
		base.Read("get_text", "Get a document's plain text", "document_id"),
		base.Write("create_document", "Create a document, optionally with initial text", "title"),
		base.Write("append_text", "Append text at the end of the body", "document_id", "text"),
		base.Write("insert_text", "Insert text at an index", "document_id", "text", "index"),
		base.Write("replace_text", "Replace every occurrence of a string", "document_id", "find", "replace"),
		base.Write("batch_update", "Apply raw batchUpdate requests", "document_id", "requests"),
	})
	return c
}

// Connect builds the Docs service
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	endpoint, err := c.BaseURL("")
	if err != nil {
		return err
	}
	opts, err := sdk.GoogleClientOptions(ctx, cfg.Credentials, endpoint, c.httpClient, docs.DocumentsScope)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "invalid Google credentials", err)
	}
	if c.svc, err = docs.NewService(ctx, opts...); err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "failed to create docs service", err)
	}
	return nil
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"get_document": c.getDocument,
		"get_text":     c.getText,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"create_document": c.createDocument,
		"append_text":     c.appendText,
		"insert_text":     c.insertText,
		"replace_text":    c.replaceText,
		"batch_update":    c.batchUpdate,
	})
}

func (c *Connector) getDocument(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	doc, err := c.svc.Documents.Get(base.GetString(p, "document_id", "")).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	row, err := base.ToMap(doc)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
}

func (c *Connector) getText(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	doc, err := c.svc.Documents.Get(base.GetString(p, "document_id", "")).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	var text string
	if doc.Body != nil {
		text = PlainText(doc.Body.Content)
	}
	return &sdk.Page{Rows: []map[string]interface{}{{
		"document_id": doc.DocumentId,
		"title":       doc.Title,
		"revision_id": doc.RevisionId,
		"text":        text,
	}}}, nil
}

func (c *Connector) createDocument(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	doc, err := c.svc.Documents.Create(&docs.Document{Title: base.GetString(p, "title", "")}).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	result := map[string]interface{}{
		"document_id": doc.DocumentId,
		"title":       doc.Title,
		"url":         "https://docs.google.com/document/d/" + doc.DocumentId + "/edit",
	}
	if content := base.GetString(p, "content", ""); content != "" {
		if _, err := c.update(ctx, doc.DocumentId, appendRequest(content)); err != nil {
			return nil, fmt.Errorf("document %s created but writing content failed: %w", doc.DocumentId, err)
		}
	}
	return result, nil
}

func (c *Connector) appendText(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	return c.update(ctx, base.GetString(p, "document_id", ""), appendRequest(base.GetString(p, "text", "")))
}

func (c *Connector) insertText(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	index := base.GetInt(p, "index", 0)
	if index < 1 {
		return nil, fmt.Errorf("index must be at least 1, got %d", index)
	}
	return c.update(ctx, base.GetString(p, "document_id", ""), &docs.Request{
		InsertText: &docs.InsertTextRequest{
			Text:     base.GetString(p, "text", ""),
			Location: &docs.Location{Index: int64(index)},
		},
	})
}

func (c *Connector) replaceText(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	result, err := c.update(ctx, base.GetString(p, "document_id", ""), &docs.Request{
		ReplaceAllText: &docs.ReplaceAllTextRequest{
			ContainsText: &docs.SubstringMatchCriteria{
				Text:      base.GetString(p, "find", ""),
				MatchCase: base.GetBool(p, "match_case", true),
			},
			ReplaceText: base.GetString(p, "replace", ""),
		},
	})
	if err != nil {
		return nil, err
	}
	// Surface the replacement count under a key RowsAffected understands.
	if replies, ok := result["replies"].([]interface{}); ok && len(replies) > 0 {
		if reply, ok := replies[0].(map[string]interface{}); ok {
			if rat := base.GetMap(reply, "replaceAllText"); rat != nil {
				result["count"] = base.GetInt(rat, "occurrencesChanged", 0)
			}
		}
	}
	return result, nil
}

func (c *Connector) batchUpdate(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(base.GetSlice(p, "requests"))
	if err != nil {
		return nil, err
	}
	var requests []*docs.Request
	if err := json.Unmarshal(raw, &requests); err != nil {
		return nil, fmt.Errorf("invalid requests: %w", err)
	}
	if len(requests) == 0 {
		return nil, &base.MissingParamError{Param: "requests"}
	}
	return c.update(ctx, base.GetString(p, "document_id", ""), requests...)
}

func (c *Connector) update(ctx context.Context, documentID string, requests ...*docs.Request) (map[string]interface{}, error) {
	resp, err := c.svc.Documents.BatchUpdate(documentID, &docs.BatchUpdateDocumentRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return nil, sdk.GoogleAPIError(err)
	}
	return base.ToMap(resp)
}

func appendRequest(text string) *docs.Request {
	return &docs.Request{
		InsertText: &docs.InsertTextRequest{
			Text:                 text,
			EndOfSegmentLocation: &docs.EndOfSegmentLocation{},
		},
	}
}

// PlainText flattens structural elements, including table cells, to text
func PlainText(elements []*docs.StructuralElement) string {
	var b strings.Builder
	writeElements(&b, elements)
	return b.String()
}

func writeElements(b *strings.Builder, elements []*docs.StructuralElement) {
	for _, el := range elements {
		switch {
		case el.Paragraph != nil:
			for _, pe := range el.Paragraph.Elements {
				if pe.TextRun != nil {
					b.WriteString(pe.TextRun.Content)
				}
			}
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					writeElements(b, cell.Content)
				}
			}
		case el.TableOfContents != nil:
			writeElements(b, el.TableOfContents.Content)
		}
	}
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
