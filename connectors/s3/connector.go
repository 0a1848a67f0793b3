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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// maxInlineObject caps how much of an object get_object returns inline.
const maxInlineObject = 5 << 20

// Connector implements base.Connector for Amazon S3 and S3-compatible stores
type Connector struct {
	*sdk.BaseConnector
	client        *s3.Client
	presignClient *s3.PresignClient
	defaultBucket string
	region        string
}

// NewConnector creates a new S3 connector instance
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("s3")}
	c.SetCapabilities([]string{"query", "execute", "presign"})
	c.SetValidator(sdk.NewDefaultConfigValidator(
		nil, // IAM roles and the default chain need no explicit keys
		map[string]interface{}{
			"region":         "us-east-1",
			"presign_expiry": 3600,
		},
	))
	c.SetActions([]base.ActionSpec{
		base.Read("list_buckets", "List accessible buckets"),
		base.Read("list_objects", "List objects under a prefix"),
		base.Read("get_object", "Read an object's content", "key"),
		base.Read("head_object", "Read an object's metadata", "key"),
		base.Read("presign_get", "Create a presigned download URL", "key"),
		base.Read("presign_put", "Create a presigned upload URL", "key"),
		base.Write("put_object", "Upload an object", "key"),
		base.Write("delete_object", "Delete an object", "key"),
		base.Write("delete_objects", "Delete several objects", "keys"),
		base.Write("copy_object", "Copy an object", "source_key", "dest_key"),
		base.Write("create_bucket", "Create a bucket", "bucket"),
		base.Write("delete_bucket", "Delete an empty bucket", "bucket"),
	})
	return c
}

// Connect builds the S3 client. No request is sent until the first action.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}

	endpoint, err := c.BaseURL(c.GetStringOption("endpoint", ""))
	if err != nil {
		return err
	}
	c.region = c.GetStringOption("region", "us-east-1")
	forcePathStyle := c.GetBoolOption("force_path_style", endpoint != "")

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(c.region),
		config.WithRetryMaxAttempts(c.RetryConfig().MaxRetries + 1),
	}
	accessKeyID := c.GetCredential("access_key_id")
	secretAccessKey := c.GetCredential("secret_access_key")
	if accessKeyID != "" && secretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, c.GetCredential("session_token"))
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "failed to load AWS config", err)
	}

	c.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})
	c.presignClient = s3.NewPresignClient(c.client)
	c.defaultBucket = c.GetStringOption("default_bucket", "")

	c.Log("S3 client ready (region: %s, bucket: %s)", c.region, c.defaultBucket)
	return nil
}

// Disconnect drops the S3 client
func (c *Connector) Disconnect(ctx context.Context) error {
	c.client = nil
	c.presignClient = nil
	return c.BaseConnector.Disconnect(ctx)
}

// HealthCheck heads the default bucket, or lists buckets when none is set
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	status, err := c.Probe(ctx, func(ctx context.Context) error {
		if c.defaultBucket != "" {
			_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.defaultBucket)})
			return err
		}
		_, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
		return err
	})
	if status != nil {
		status.Details["region"] = c.region
		status.Details["default_bucket"] = c.defaultBucket
	}
	return status, err
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_buckets": c.listBuckets,
		"list_objects": c.listObjects,
		"get_object":   c.getObject,
		"head_object":  c.headObject,
		"presign_get":  c.presignGet,
		"presign_put":  c.presignPut,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"put_object":     c.putObject,
		"delete_object":  c.deleteObject,
		"delete_objects": c.deleteObjects,
		"copy_object":    c.copyObject,
		"create_bucket":  c.createBucket,
		"delete_bucket":  c.deleteBucket,
	})
}

func (c *Connector) listBuckets(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	out, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		rows = append(rows, map[string]interface{}{
			"name":          aws.ToString(b.Name),
			"creation_date": aws.ToTime(b.CreationDate),
		})
	}
	return &sdk.Page{Rows: rows}, nil
}

func (c *Connector) listObjects(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(int32(base.GetInt(p, "max_keys", 1000))),
	}
	if prefix := base.GetString(p, "prefix", ""); prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter := base.GetString(p, "delimiter", ""); delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if token := base.GetString(p, "continuation_token", base.GetString(p, "cursor", "")); token != "" {
		input.ContinuationToken = aws.String(token)
	}

	out, err := c.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, 0, len(out.Contents))
	for _, obj := range out.Contents {
		rows = append(rows, map[string]interface{}{
			"key":           aws.ToString(obj.Key),
			"size":          aws.ToInt64(obj.Size),
			"last_modified": aws.ToTime(obj.LastModified),
			"etag":          strings.Trim(aws.ToString(obj.ETag), "\""),
			"storage_class": string(obj.StorageClass),
		})
	}

	truncated := aws.ToBool(out.IsTruncated)
	meta := map[string]interface{}{
		"bucket":    bucket,
		"key_count": aws.ToInt32(out.KeyCount),
		"has_more":  truncated,
	}
	if out.NextContinuationToken != nil {
		meta["next_cursor"] = aws.ToString(out.NextContinuationToken)
	}
	if len(out.CommonPrefixes) > 0 {
		prefixes := make([]string, 0, len(out.CommonPrefixes))
		for _, cp := range out.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
		meta["common_prefixes"] = prefixes
	}
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

func (c *Connector) getObject(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	key := base.GetString(p, "key", "")
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	content, err := io.ReadAll(io.LimitReader(out.Body, maxInlineObject+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	if len(content) > maxInlineObject {
		return nil, fmt.Errorf("object %s exceeds %d bytes, use presign_get", key, maxInlineObject)
	}

	row := objectRow(key, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.ETag, out.LastModified, out.Metadata)
	if base.GetString(p, "encoding", "") == "base64" {
		row["content"] = base64.StdEncoding.EncodeToString(content)
		row["encoding"] = "base64"
	} else {
		row["content"] = string(content)
	}
	return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
}

func (c *Connector) headObject(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	key := base.GetString(p, "key", "")
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	row := objectRow(key, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.ETag, out.LastModified, out.Metadata)
	row["storage_class"] = string(out.StorageClass)
	return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
}

func (c *Connector) presignGet(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	expiry := c.expiry(p)
	req, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(base.GetString(p, "key", "")),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{{
		"url":        req.URL,
		"method":     req.Method,
		"expires_at": time.Now().Add(expiry).UTC(),
	}}}, nil
}

func (c *Connector) presignPut(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	expiry := c.expiry(p)
	contentType := base.GetString(p, "content_type", "application/octet-stream")
	req, err := c.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(base.GetString(p, "key", "")),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{{
		"url":          req.URL,
		"method":       req.Method,
		"content_type": contentType,
		"expires_at":   time.Now().Add(expiry).UTC(),
	}}}, nil
}

func (c *Connector) putObject(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	key := base.GetString(p, "key", "")

	body := []byte(base.GetString(p, "content", ""))
	if base.GetString(p, "encoding", "") == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, sdk.NonRetryable(fmt.Errorf("content is not valid base64: %w", err))
		}
		body = decoded
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(base.GetString(p, "content_type", "application/octet-stream")),
	}
	if meta := stringMap(base.GetMap(p, "metadata")); len(meta) > 0 {
		input.Metadata = meta
	}

	out, err := c.client.PutObject(ctx, input)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bucket":     bucket,
		"key":        key,
		"size":       len(body),
		"etag":       strings.Trim(aws.ToString(out.ETag), "\""),
		"version_id": aws.ToString(out.VersionId),
	}, nil
}

func (c *Connector) deleteObject(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	key := base.GetString(p, "key", "")
	input := &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if v := base.GetString(p, "version_id", ""); v != "" {
		input.VersionId = aws.String(v)
	}
	if _, err := c.client.DeleteObject(ctx, input); err != nil {
		return nil, err
	}
	return map[string]interface{}{"bucket": bucket, "key": key, "deleted_count": 1}, nil
}

func (c *Connector) deleteObjects(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	bucket, err := c.bucket(p)
	if err != nil {
		return nil, err
	}
	keys := base.GetStringSlice(p, "keys")
	if len(keys) == 0 {
		return nil, &base.MissingParamError{Param: "keys"}
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}
	out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, err
	}

	failed := make([]map[string]interface{}, 0, len(out.Errors))
	for _, e := range out.Errors {
		failed = append(failed, map[string]interface{}{
			"key":     aws.ToString(e.Key),
			"code":    aws.ToString(e.Code),
			"message": aws.ToString(e.Message),
		})
	}
	return map[string]interface{}{
		"bucket":        bucket,
		"deleted_count": len(keys) - len(out.Errors),
		"errors":        failed,
	}, nil
}

func (c *Connector) copyObject(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	sourceBucket := base.GetString(p, "source_bucket", c.defaultBucket)
	destBucket := base.GetString(p, "dest_bucket", c.defaultBucket)
	if sourceBucket == "" || destBucket == "" {
		return nil, &base.MissingParamError{Param: "bucket"}
	}
	source := sourceBucket + "/" + base.GetString(p, "source_key", "")
	destKey := base.GetString(p, "dest_key", "")

	out, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(destBucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(source),
	})
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"source": source, "bucket": destBucket, "key": destKey}
	if out.CopyObjectResult != nil {
		result["etag"] = strings.Trim(aws.ToString(out.CopyObjectResult.ETag), "\"")
	}
	return result, nil
}

func (c *Connector) createBucket(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	bucket := base.GetString(p, "bucket", "")
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint
	if c.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	out, err := c.client.CreateBucket(ctx, input)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"bucket": bucket, "location": aws.ToString(out.Location)}, nil
}

func (c *Connector) deleteBucket(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	bucket := base.GetString(p, "bucket", "")
	if _, err := c.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"bucket": bucket, "deleted_count": 1}, nil
}

// bucket returns the bucket parameter or the configured default
func (c *Connector) bucket(p map[string]interface{}) (string, error) {
	if b := base.GetString(p, "bucket", c.defaultBucket); b != "" {
		return b, nil
	}
	return "", &base.MissingParamError{Param: "bucket"}
}

func (c *Connector) expiry(p map[string]interface{}) time.Duration {
	seconds := base.GetInt(p, "expiry", c.GetIntOption("presign_expiry", 3600))
	return time.Duration(seconds) * time.Second
}

func objectRow(key, contentType string, length int64, etag *string, modified *time.Time, meta map[string]string) map[string]interface{} {
	row := map[string]interface{}{
		"key":            key,
		"content_type":   contentType,
		"content_length": length,
		"etag":           strings.Trim(aws.ToString(etag), "\""),
		"last_modified":  aws.ToTime(modified),
	}
	if len(meta) > 0 {
		row["metadata"] = meta
	}
	return row
}

func stringMap(m map[string]interface{}) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
