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

package s3

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// fakeS3 answers the handful of path-style S3 calls the tests make
func fakeS3(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<ListAllMyBucketsResult><Buckets>` +
				`<Bucket><Name>reports</Name><CreationDate>2024-01-02T03:04:05.000Z</CreationDate></Bucket>` +
				`</Buckets></ListAllMyBucketsResult>`))
		case r.Method == http.MethodGet && r.URL.Path == "/reports" && r.URL.Query().Get("list-type") == "2":
			if r.URL.Query().Get("prefix") != "2024/" {
				t.Errorf("prefix = %q", r.URL.Query().Get("prefix"))
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<ListBucketResult><Name>reports</Name><KeyCount>2</KeyCount>` +
				`<IsTruncated>true</IsTruncated><NextContinuationToken>tok-2</NextContinuationToken>` +
				`<Contents><Key>2024/a.csv</Key><Size>10</Size><ETag>"e1"</ETag><StorageClass>STANDARD</StorageClass></Contents>` +
				`<Contents><Key>2024/b.csv</Key><Size>20</Size><ETag>"e2"</ETag><StorageClass>STANDARD</StorageClass></Contents>` +
				`</ListBucketResult>`))
		case r.Method == http.MethodGet && r.URL.Path == "/reports/hello.txt":
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("ETag", `"abc"`)
			w.Header().Set("x-amz-meta-owner", "ops")
			_, _ = w.Write([]byte("hello"))
		case r.Method == http.MethodGet && r.URL.Path == "/reports/missing.txt":
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		case r.Method == http.MethodPut && r.URL.Path == "/reports/new.txt":
			w.Header().Set("ETag", `"put-etag"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/reports/old.txt":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connected(t *testing.T, srv *httptest.Server, bucket string) (*Connector, *sdk.TestHarness) {
	t.Helper()
	h := sdk.NewTestHarness(t)
	cfg := h.NewConfig("s3", srv.URL, map[string]string{
		"access_key_id":     "AKIDEXAMPLE",
		"secret_access_key": "secret",
	})
	if bucket != "" {
		cfg.Options["default_bucket"] = bucket
	}
	c := NewConnector()
	h.Connect(c, cfg)
	return c, h
}

func TestNewConnector(t *testing.T) {
	c := NewConnector()
	if c.Type() != "s3" {
		t.Errorf("Type() = %s", c.Type())
	}
	if len(c.Actions()) != 12 {
		t.Errorf("expected 12 actions, got %d", len(c.Actions()))
	}
}

func TestQueryWithoutConnect(t *testing.T) {
	_, err := NewConnector().Query(context.Background(), &base.Query{Statement: "list_buckets"})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected not connected error, got %v", err)
	}
}

func TestListBuckets(t *testing.T) {
	c, h := connected(t, fakeS3(t), "")
	res := h.Query(c, "list_buckets", nil)
	if res.RowCount != 1 || res.Rows[0]["name"] != "reports" {
		t.Errorf("rows = %v", res.Rows)
	}
}

func TestListObjects(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	res := h.Query(c, "list_objects", map[string]interface{}{"prefix": "2024/"})
	if res.RowCount != 2 {
		t.Fatalf("RowCount = %d", res.RowCount)
	}
	if res.Rows[0]["key"] != "2024/a.csv" || res.Rows[0]["etag"] != "e1" {
		t.Errorf("first row = %v", res.Rows[0])
	}
	if res.Metadata["next_cursor"] != "tok-2" || res.Metadata["has_more"] != true {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestGetObject(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	res := h.Query(c, "get_object", map[string]interface{}{"key": "hello.txt"})
	row := res.Rows[0]
	if row["content"] != "hello" || row["content_type"] != "text/plain" || row["etag"] != "abc" {
		t.Errorf("row = %v", row)
	}

	res = h.Query(c, "get_object", map[string]interface{}{"key": "hello.txt", "encoding": "base64"})
	if res.Rows[0]["content"] != "aGVsbG8=" {
		t.Errorf("base64 content = %v", res.Rows[0]["content"])
	}
}

func TestGetObjectNotFound(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	_, err := c.Query(h.Context(), &base.Query{Statement: "get_object", Parameters: map[string]interface{}{"key": "missing.txt"}})
	h.AssertErrorContains(err, "NoSuchKey")
}

func TestMissingParams(t *testing.T) {
	c, h := connected(t, fakeS3(t), "")

	_, err := c.Query(h.Context(), &base.Query{Statement: "get_object", Parameters: map[string]interface{}{}})
	var missing *base.MissingParamError
	if !errors.As(err, &missing) || missing.Param != "key" {
		t.Errorf("expected missing key, got %v", err)
	}

	_, err = c.Query(h.Context(), &base.Query{Statement: "list_objects"})
	if !errors.As(err, &missing) || missing.Param != "bucket" {
		t.Errorf("expected missing bucket, got %v", err)
	}
}

func TestPutAndDeleteObject(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")

	res := h.Execute(c, "put_object", map[string]interface{}{"key": "new.txt", "content": "data", "content_type": "text/plain"})
	if !res.Success || res.Data["etag"] != "put-etag" || res.Data["size"] != 4 {
		t.Errorf("put result = %+v", res)
	}

	res = h.Execute(c, "delete_object", map[string]interface{}{"key": "old.txt"})
	if res.RowsAffected != 1 {
		t.Errorf("RowsAffected = %d", res.RowsAffected)
	}
}

func TestPutObjectRejectsBadBase64(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	_, err := c.Execute(h.Context(), &base.Command{Action: "put_object", Parameters: map[string]interface{}{
		"key": "new.txt", "content": "!!!", "encoding": "base64",
	}})
	h.AssertErrorContains(err, "base64")
}

func TestPresignGet(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	res := h.Query(c, "presign_get", map[string]interface{}{"key": "hello.txt", "expiry": 60})
	url, _ := res.Rows[0]["url"].(string)
	if !strings.Contains(url, "/reports/hello.txt") || !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("url = %s", url)
	}
	if res.Rows[0]["method"] != http.MethodGet {
		t.Errorf("method = %v", res.Rows[0]["method"])
	}
}

func TestUnknownAction(t *testing.T) {
	c, h := connected(t, fakeS3(t), "reports")
	_, err := c.Execute(h.Context(), &base.Command{Action: "rename"})
	if !errors.Is(err, base.ErrUnknownAction) {
		t.Errorf("expected unknown action, got %v", err)
	}
}
