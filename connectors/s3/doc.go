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

/*
Package s3 provides the Amazon S3 connector.

It implements base.Connector on aws-sdk-go-v2 and works against S3 and any
S3-compatible store (MinIO, DigitalOcean Spaces, Cloudflare R2) through the
endpoint option.

# Configuration

Credentials are optional; without them the default AWS credential chain is
used (environment, shared config, IAM role).

  - access_key_id, secret_access_key, session_token
  - region: AWS region (default: us-east-1)
  - endpoint: custom endpoint for S3-compatible services (ConnectionURL also works)
  - force_path_style: path-style addressing, on by default when an endpoint is set
  - default_bucket: bucket used when an action omits "bucket"
  - presign_expiry: presigned URL lifetime in seconds (default: 3600)

# Actions

Read: list_buckets, list_objects, get_object, head_object, presign_get, presign_put.

Write: put_object, delete_object, delete_objects, copy_object, create_bucket,
delete_bucket.

get_object and put_object accept encoding=base64 for binary content.
list_objects returns the continuation token as metadata next_cursor; pass it
back as cursor.

# Usage Example

	conn := s3.NewConnector()
	err := conn.Connect(ctx, &base.ConnectorConfig{
		Name: "archive",
		Type: "s3",
		Options: map[string]interface{}{
			"region":         "us-west-2",
			"default_bucket": "my-bucket",
		},
	})

	result, err := conn.Query(ctx, &base.Query{
		Statement:  "list_objects",
		Parameters: map[string]interface{}{"prefix": "data/"},
	})
*/
package s3
