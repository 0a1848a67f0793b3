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

// Package mongodb provides a MongoDB connector with CRUD, aggregation and
// distinct support for MongoDB 4.0+.
//
// Every action names its collection through the collection parameter or
// the connector's collection option. Filters, updates and documents are
// JSON objects; extended JSON {"$oid": ...} and {"$date": ...} values are
// converted to their BSON types.
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

const (
	// DefaultConnectTimeout is the default connection timeout
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the default maximum connection pool size
	DefaultMaxPoolSize = 100
	// DefaultMinPoolSize is the default minimum connection pool size
	DefaultMinPoolSize = 0
	// DefaultFindLimit caps find when no limit is given
	DefaultFindLimit = 100
)

// Connector implements base.Connector for MongoDB
type Connector struct {
	*sdk.BaseConnector
	client   *mongo.Client
	database *mongo.Database
}

// NewConnector creates a MongoDB connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("mongodb")}
	c.SetValidator(sdk.NewDefaultConfigValidator(nil, nil))
	c.SetCapabilities([]string{"query", "execute", "aggregation", "connection_pooling"})
	c.SetActions([]base.ActionSpec{
		base.Read("find", "Find documents matching a filter"),
		base.Read("find_one", "Find the first document matching a filter"),
		base.Read("count", "Count documents matching a filter"),
		base.Read("aggregate", "Run an aggregation pipeline", "pipeline"),
		base.Read("distinct", "List distinct values of a field", "field"),
		base.Read("list_collections", "List collection names in the database"),
		base.Write("insert_one", "Insert a document", "document"),
		base.Write("insert_many", "Insert several documents", "documents"),
		base.Write("update_one", "Update the first matching document", "filter", "update"),
		base.Write("update_many", "Update all matching documents", "filter", "update"),
		base.Write("replace_one", "Replace the first matching document", "filter", "replacement"),
		base.Write("delete_one", "Delete the first matching document", "filter"),
		base.Write("delete_many", "Delete all matching documents", "filter"),
	})
	return c
}

// Connect opens a pooled client and pings the primary
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}

	if err := c.open(ctx, cfg); err != nil {
		_ = c.BaseConnector.Disconnect(ctx)
		return err
	}
	return nil
}

func (c *Connector) open(ctx context.Context, cfg *base.ConnectorConfig) error {
	uri, err := buildURI(cfg)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "failed to build URI", err)
	}
	dbName := c.GetStringOption("database", databaseFromURI(uri))
	if dbName == "" {
		return base.NewConnectorError(cfg.Name, "Connect", "database name is required", nil)
	}

	clientOpts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(uint64(c.GetIntOption("max_pool_size", DefaultMaxPoolSize))).
		SetMinPoolSize(uint64(c.GetIntOption("min_pool_size", DefaultMinPoolSize))).
		SetAppName(c.GetStringOption("app_name", "relayhub-mongodb")).
		SetRetryWrites(true).
		SetRetryReads(true)

	connectTimeout := durationOption(c.GetStringOption("connect_timeout", ""), DefaultConnectTimeout)
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetServerSelectionTimeout(durationOption(c.GetStringOption("server_selection_timeout", ""), connectTimeout))
	if rp := readPreference(c.GetStringOption("read_preference", "")); rp != nil {
		clientOpts.SetReadPreference(rp)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return base.NewConnectorError(cfg.Name, "Connect", "failed to connect to MongoDB", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return base.NewConnectorError(cfg.Name, "Connect", "failed to ping MongoDB", err)
	}

	c.client = client
	c.database = client.Database(dbName)
	c.Log("Connected to MongoDB: %s (database=%s)", cfg.Name, dbName)
	return nil
}

// Disconnect closes the client
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.client.Disconnect(ctx); err != nil {
			return base.NewConnectorError(c.Name(), "Disconnect", "failed to disconnect", err)
		}
		c.client = nil
	}
	return c.BaseConnector.Disconnect(ctx)
}

// HealthCheck pings the primary and reports the server version
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return c.BaseConnector.HealthCheck(ctx)
	}
	status, err := c.Probe(ctx, func(ctx context.Context) error {
		return c.client.Ping(ctx, readpref.Primary())
	})
	if err != nil || !status.Healthy {
		return status, err
	}
	status.Details["database"] = c.database.Name()
	var info bson.M
	if c.database.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info) == nil {
		if v, ok := info["version"].(string); ok {
			status.Details["mongodb_version"] = v
		}
	}
	return status, nil
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if query != nil && query.Limit > 0 {
		if _, ok := query.Parameters["limit"]; !ok {
			q := *query
			q.Parameters = map[string]interface{}{"limit": query.Limit}
			for k, v := range query.Parameters {
				q.Parameters[k] = v
			}
			query = &q
		}
	}
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"find":             c.find,
		"find_one":         c.findOne,
		"count":            c.count,
		"aggregate":        c.aggregate,
		"distinct":         c.distinct,
		"list_collections": c.listCollections,
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"insert_one":  c.insertOne,
		"insert_many": c.insertMany,
		"update_one":  c.update(false),
		"update_many": c.update(true),
		"replace_one": c.replaceOne,
		"delete_one":  c.delete(false),
		"delete_many": c.delete(true),
	})
}

func (c *Connector) collection(p map[string]interface{}) (*mongo.Collection, error) {
	name := base.GetString(p, "collection", c.GetStringOption("collection", ""))
	if name == "" {
		return nil, &base.MissingParamError{Param: "collection"}
	}
	if c.database == nil {
		return nil, fmt.Errorf("client not connected")
	}
	return c.database.Collection(name), nil
}

func (c *Connector) find(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	filter, err := filterParam(p)
	if err != nil {
		return nil, err
	}

	limit := int64(base.GetInt(p, "limit", DefaultFindLimit))
	skip := int64(base.GetInt(p, "skip", base.GetInt(p, "cursor", 0)))
	opts := options.Find().SetLimit(limit).SetSkip(skip)
	order, err := sortParam(p)
	if err != nil {
		return nil, err
	}
	if order != nil {
		opts.SetSort(order)
	}
	if proj := base.GetMap(p, "projection"); proj != nil {
		opts.SetProjection(proj)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	rows, err := decodeCursor(ctx, cursor)
	if err != nil {
		return nil, err
	}
	meta := map[string]interface{}{"has_more": int64(len(rows)) == limit}
	if int64(len(rows)) == limit {
		meta["next_cursor"] = skip + limit
	}
	return &sdk.Page{Rows: rows, Metadata: meta}, nil
}

func (c *Connector) findOne(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	filter, err := filterParam(p)
	if err != nil {
		return nil, err
	}
	opts := options.FindOne()
	if proj := base.GetMap(p, "projection"); proj != nil {
		opts.SetProjection(proj)
	}

	var doc bson.M
	err = coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return &sdk.Page{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{fromBSONMap(doc)}}, nil
}

func (c *Connector) count(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	filter, err := filterParam(p)
	if err != nil {
		return nil, err
	}
	opts := options.Count()
	if limit := base.GetInt(p, "limit", 0); limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if skip := base.GetInt(p, "skip", 0); skip > 0 {
		opts.SetSkip(int64(skip))
	}
	n, err := coll.CountDocuments(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: []map[string]interface{}{{"count": n}}}, nil
}

func (c *Connector) aggregate(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	pipeline, err := parsePipeline(p["pipeline"])
	if err != nil {
		return nil, err
	}
	opts := options.Aggregate().SetAllowDiskUse(base.GetBool(p, "allow_disk_use", false))
	cursor, err := coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}
	rows, err := decodeCursor(ctx, cursor)
	if err != nil {
		return nil, err
	}
	return &sdk.Page{Rows: rows}, nil
}

func (c *Connector) distinct(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	filter, err := filterParam(p)
	if err != nil {
		return nil, err
	}
	field := base.GetString(p, "field", "")
	values, err := coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, len(values))
	for i, v := range values {
		rows[i] = map[string]interface{}{field: fromBSON(v)}
	}
	return &sdk.Page{Rows: rows}, nil
}

func (c *Connector) listCollections(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
	if c.database == nil {
		return nil, fmt.Errorf("client not connected")
	}
	names, err := c.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, len(names))
	for i, n := range names {
		rows[i] = map[string]interface{}{"name": n}
	}
	return &sdk.Page{Rows: rows}, nil
}

func (c *Connector) insertOne(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	doc, err := toBSON(p["document"])
	if err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"inserted_id": fromBSON(res.InsertedID), "rows_affected": 1}, nil
}

func (c *Connector) insertMany(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	raw := base.GetSlice(p, "documents")
	if len(raw) == 0 {
		return nil, fmt.Errorf("documents must be a non-empty array")
	}
	docs := make([]interface{}, len(raw))
	for i, d := range raw {
		if docs[i], err = toBSON(d); err != nil {
			return nil, fmt.Errorf("invalid documents[%d]: %w", i, err)
		}
	}
	res, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(base.GetBool(p, "ordered", true)))
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = fromBSON(id)
	}
	return map[string]interface{}{"inserted_ids": ids, "rows_affected": len(ids)}, nil
}

func (c *Connector) update(many bool) sdk.WriteHandler {
	return func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
		coll, err := c.collection(p)
		if err != nil {
			return nil, err
		}
		filter, err := filterParam(p)
		if err != nil {
			return nil, err
		}
		update, err := toBSON(p["update"])
		if err != nil {
			return nil, fmt.Errorf("invalid update: %w", err)
		}
		opts := options.Update().SetUpsert(base.GetBool(p, "upsert", false))

		var res *mongo.UpdateResult
		if many {
			res, err = coll.UpdateMany(ctx, filter, update, opts)
		} else {
			res, err = coll.UpdateOne(ctx, filter, update, opts)
		}
		if err != nil {
			return nil, err
		}
		return updateResult(res), nil
	}
}

func (c *Connector) replaceOne(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	coll, err := c.collection(p)
	if err != nil {
		return nil, err
	}
	filter, err := filterParam(p)
	if err != nil {
		return nil, err
	}
	replacement, err := toBSON(p["replacement"])
	if err != nil {
		return nil, fmt.Errorf("invalid replacement: %w", err)
	}
	res, err := coll.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(base.GetBool(p, "upsert", false)))
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

func (c *Connector) delete(many bool) sdk.WriteHandler {
	return func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
		coll, err := c.collection(p)
		if err != nil {
			return nil, err
		}
		filter, err := filterParam(p)
		if err != nil {
			return nil, err
		}
		if len(filter) == 0 && !base.GetBool(p, "allow_empty_filter", false) {
			return nil, fmt.Errorf("refusing to delete with an empty filter; set allow_empty_filter to confirm")
		}
		var res *mongo.DeleteResult
		if many {
			res, err = coll.DeleteMany(ctx, filter)
		} else {
			res, err = coll.DeleteOne(ctx, filter)
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted_count": res.DeletedCount}, nil
	}
}

func updateResult(res *mongo.UpdateResult) map[string]interface{} {
	out := map[string]interface{}{
		"matched_count":  res.MatchedCount,
		"modified_count": res.ModifiedCount,
		"upserted_count": res.UpsertedCount,
		"rows_affected":  res.ModifiedCount + res.UpsertedCount,
	}
	if res.UpsertedID != nil {
		out["upserted_id"] = fromBSON(res.UpsertedID)
	}
	return out
}

// buildURI uses ConnectionURL when set, otherwise assembles a URI from the
// host, port and credential options.
func buildURI(cfg *base.ConnectorConfig) (string, error) {
	if cfg.ConnectionURL != "" {
		if !strings.HasPrefix(cfg.ConnectionURL, "mongodb://") && !strings.HasPrefix(cfg.ConnectionURL, "mongodb+srv://") {
			return "", fmt.Errorf("connection URL must use the mongodb:// or mongodb+srv:// scheme")
		}
		return cfg.ConnectionURL, nil
	}

	host := base.GetString(cfg.Options, "host", "localhost")
	port := base.GetInt(cfg.Options, "port", 27017)
	u := &url.URL{Scheme: "mongodb", Host: host + ":" + strconv.Itoa(port), Path: "/"}
	if hosts := base.GetString(cfg.Options, "hosts", ""); hosts != "" {
		u.Host = hosts
	}
	if user := cfg.Credentials["username"]; user != "" {
		u.User = url.UserPassword(user, cfg.Credentials["password"])
	}

	q := url.Values{}
	if v := base.GetString(cfg.Options, "auth_database", ""); v != "" {
		q.Set("authSource", v)
	}
	if v := base.GetString(cfg.Options, "replica_set", ""); v != "" {
		q.Set("replicaSet", v)
	}
	if base.GetBool(cfg.Options, "tls", false) {
		q.Set("tls", "true")
		if base.GetBool(cfg.Options, "tls_insecure", false) {
			q.Set("tlsInsecure", "true")
		}
	}
	if base.GetBool(cfg.Options, "direct_connection", false) {
		q.Set("directConnection", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

func durationOption(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

func readPreference(name string) *readpref.ReadPref {
	switch strings.ToLower(name) {
	case "primary":
		return readpref.Primary()
	case "primarypreferred":
		return readpref.PrimaryPreferred()
	case "secondary":
		return readpref.Secondary()
	case "secondarypreferred":
		return readpref.SecondaryPreferred()
	case "nearest":
		return readpref.Nearest()
	}
	return nil
}

func filterParam(p map[string]interface{}) (bson.M, error) {
	v, ok := p["filter"]
	if !ok || v == nil {
		return bson.M{}, nil
	}
	filter, err := toBSON(v)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return filter, nil
}

// sortParam accepts {"field": 1, "other": -1}. Keys are ordered by name
// since JSON objects carry no order; pass a list of single-key objects to
// control precedence.
func sortParam(p map[string]interface{}) (bson.D, error) {
	v, ok := p["sort"]
	if !ok || v == nil {
		return nil, nil
	}
	var specs []map[string]interface{}
	switch s := v.(type) {
	case map[string]interface{}:
		specs = append(specs, s)
	case []interface{}:
		for _, item := range s {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("invalid sort entry %T", item)
			}
			specs = append(specs, m)
		}
	default:
		return nil, fmt.Errorf("sort must be an object or array, got %T", v)
	}

	var order bson.D
	for _, spec := range specs {
		for _, k := range sortedKeys(spec) {
			order = append(order, bson.E{Key: k, Value: base.GetInt(spec, k, 1)})
		}
	}
	return order, nil
}

func parsePipeline(raw interface{}) (mongo.Pipeline, error) {
	var stages []interface{}
	switch v := raw.(type) {
	case []interface{}:
		stages = v
	case string:
		if err := json.Unmarshal([]byte(v), &stages); err != nil {
			return nil, fmt.Errorf("invalid pipeline JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("pipeline must be an array or JSON string, got %T", raw)
	}

	pipeline := make(mongo.Pipeline, 0, len(stages))
	for i, s := range stages {
		stage, ok := s.(map[string]interface{})
		if !ok || len(stage) != 1 {
			return nil, fmt.Errorf("pipeline stage %d must be an object with one operator", i)
		}
		for k, v := range stage {
			pipeline = append(pipeline, bson.D{{Key: k, Value: toBSONValue(v)}})
		}
	}
	return pipeline, nil
}

// toBSON converts a JSON object, or a JSON string holding one, to bson.M
func toBSON(v interface{}) (bson.M, error) {
	switch val := v.(type) {
	case bson.M:
		return val, nil
	case map[string]interface{}:
		out := bson.M{}
		for k, item := range val {
			out[k] = toBSONValue(item)
		}
		return out, nil
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return toBSON(m)
	case nil:
		return nil, fmt.Errorf("value is required")
	default:
		return nil, fmt.Errorf("cannot convert %T to a document", v)
	}
}

func toBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 1 {
			if oid, ok := val["$oid"].(string); ok {
				if id, err := primitive.ObjectIDFromHex(oid); err == nil {
					return id
				}
			}
			if date, ok := val["$date"].(string); ok {
				if t, err := time.Parse(time.RFC3339, date); err == nil {
					return t
				}
			}
		}
		out := bson.M{}
		for k, item := range val {
			out[k] = toBSONValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toBSONValue(item)
		}
		return out
	default:
		return val
	}
}

func decodeCursor(ctx context.Context, cursor *mongo.Cursor) ([]map[string]interface{}, error) {
	defer func() { _ = cursor.Close(ctx) }()
	rows := []map[string]interface{}{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rows = append(rows, fromBSONMap(doc))
	}
	return rows, cursor.Err()
}

func fromBSONMap(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = fromBSON(v)
	}
	return out
}

// fromBSON converts BSON values to JSON-friendly Go values
func fromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return map[string]interface{}{"t": val.T, "i": val.I}
	case primitive.Binary:
		return val.Data
	case primitive.Decimal128:
		return val.String()
	case bson.M:
		return fromBSONMap(val)
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	default:
		return val
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
