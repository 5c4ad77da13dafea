package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devrev/loginspector/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const mongoTimeIndex = "time_-1"

// MongoStore implements Backend on MongoDB: one collection per level inside
// the configured database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// logDocument is the persisted shape of a LogRecord
type logDocument struct {
	ID         primitive.ObjectID     `bson:"_id,omitempty"`
	Level      string                 `bson:"level"`
	Time       time.Time              `bson:"time"`
	SourceNode string                 `bson:"sourceNode"`
	Message    string                 `bson:"message"`
	Attributes map[string]interface{} `bson:"attributes,omitempty"`
	// one element per searchable field; $regex matches element-wise
	SearchTerms []string `bson:"searchTerms"`
}

func (d *logDocument) record() *model.LogRecord {
	return &model.LogRecord{
		ID:         d.ID.Hex(),
		Level:      d.Level,
		Time:       d.Time,
		SourceNode: d.SourceNode,
		Message:    d.Message,
		Attributes: d.Attributes,
	}
}

// NewMongoStore connects, authenticates against the namespace database and
// verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*MongoStore, error) {
	opts := options.Client().
		SetHosts([]string{cfg.Address()}).
		SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.Namespace,
		}).
		SetHeartbeatInterval(cfg.heartbeatInterval()).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}).
		SetAppName("loginspector")

	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.HeartbeatConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.HeartbeatConnectTimeout)
	}
	if cfg.HeartbeatSocketTimeout > 0 {
		opts.SetSocketTimeout(cfg.HeartbeatSocketTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo at %s: %w", cfg.Address(), err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("address", cfg.Address()),
		zap.String("database", cfg.Namespace),
		zap.Duration("heartbeat_interval", cfg.heartbeatInterval()))

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Namespace),
		logger: logger,
	}, nil
}

// EnsureIndex creates the descending time index. CreateOne is a no-op when an
// identical index already exists.
func (s *MongoStore) EnsureIndex(ctx context.Context, collection string) error {
	_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: TimeField, Value: -1}},
		Options: options.Index().SetName(mongoTimeIndex),
	})
	if err != nil {
		return fmt.Errorf("failed to create time index on %s: %w", collection, err)
	}
	return nil
}

// Indexes lists the single-field indexes on collection
func (s *MongoStore) Indexes(ctx context.Context, collection string) ([]IndexInfo, error) {
	cur, err := s.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes on %s: %w", collection, err)
	}

	var specs []struct {
		Name string `bson:"name"`
		Key  bson.D `bson:"key"`
	}
	if err := cur.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode indexes on %s: %w", collection, err)
	}

	infos := make([]IndexInfo, 0, len(specs))
	for _, spec := range specs {
		if len(spec.Key) != 1 {
			continue
		}
		infos = append(infos, IndexInfo{
			Name:       spec.Name,
			Field:      spec.Key[0].Key,
			Descending: isDescending(spec.Key[0].Value),
		})
	}
	return infos, nil
}

func isDescending(v interface{}) bool {
	switch n := v.(type) {
	case int32:
		return n < 0
	case int64:
		return n < 0
	case float64:
		return n < 0
	default:
		return false
	}
}

// Insert writes one document
func (s *MongoStore) Insert(ctx context.Context, collection string, rec *model.LogRecord) (string, error) {
	doc := logDocument{
		Level:       rec.Level,
		Time:        rec.Time,
		SourceNode:  rec.SourceNode,
		Message:     rec.Message,
		Attributes:  rec.Attributes,
		SearchTerms: rec.SearchTerms(model.KeywordScopeAll),
	}

	res, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}

	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		return id.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// Find runs an indexed, time-descending scan. _id breaks ties between equal
// times; ObjectIDs grow with insertion order.
func (s *MongoStore) Find(ctx context.Context, collection string, q Query) ([]*model.LogRecord, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: TimeField, Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Skip))
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cur, err := s.db.Collection(collection).Find(ctx, mongoFilter(q), findOpts)
	if err != nil {
		return nil, err
	}

	var docs []logDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]*model.LogRecord, len(docs))
	for i := range docs {
		records[i] = docs[i].record()
	}
	return records, nil
}

func mongoFilter(q Query) bson.D {
	filter := bson.D{}

	if !q.Filter.IsZero() {
		rng := bson.D{}
		if !q.Filter.Since.IsZero() {
			rng = append(rng, bson.E{Key: "$gte", Value: q.Filter.Since})
		}
		if !q.Filter.Until.IsZero() {
			rng = append(rng, bson.E{Key: "$lte", Value: q.Filter.Until})
		}
		filter = append(filter, bson.E{Key: TimeField, Value: rng})
	}

	if q.Keyword != "" {
		field := "searchTerms"
		if q.KeywordScope == model.KeywordScopeMessage {
			field = "message"
		}
		regexOpts := "i"
		if q.CaseSensitive {
			regexOpts = ""
		}
		filter = append(filter, bson.E{Key: field, Value: primitive.Regex{
			Pattern: regexp.QuoteMeta(q.Keyword),
			Options: regexOpts,
		}})
	}

	return filter
}

// Collections lists user collections of the namespace database
func (s *MongoStore) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}

	out := names[:0]
	for _, name := range names {
		if !strings.HasPrefix(name, "system.") {
			out = append(out, name)
		}
	}
	return out, nil
}

// NodeSpans unions the collections server side and groups by sourceNode
func (s *MongoStore) NodeSpans(ctx context.Context, collections []string) ([]model.NodeSpan, error) {
	if len(collections) == 0 {
		return nil, nil
	}

	cur, err := s.db.Collection(collections[0]).Aggregate(ctx, nodeSpanPipeline(collections),
		options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		SourceNode string    `bson:"_id"`
		Count      int64     `bson:"count"`
		FirstSeen  time.Time `bson:"firstSeen"`
		LastSeen   time.Time `bson:"lastSeen"`
		Distinct   int64     `bson:"distinct"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	spans := make([]model.NodeSpan, len(rows))
	for i, row := range rows {
		spans[i] = model.NodeSpan{
			SourceNode:    row.SourceNode,
			Count:         row.Count,
			FirstSeen:     row.FirstSeen,
			LastSeen:      row.LastSeen,
			DistinctTimes: row.Distinct,
		}
	}
	return spans, nil
}

// nodeSpanPipeline groups by (sourceNode, time) first so distinct times are
// counted without holding every timestamp of a node in one document.
func nodeSpanPipeline(collections []string) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	for _, name := range collections[1:] {
		pipeline = append(pipeline, bson.D{{Key: "$unionWith", Value: bson.D{{Key: "coll", Value: name}}}})
	}
	return append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "node", Value: "$sourceNode"},
				{Key: "t", Value: "$time"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$_id.node"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: "$count"}}},
			{Key: "distinct", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "firstSeen", Value: bson.D{{Key: "$min", Value: "$_id.t"}}},
			{Key: "lastSeen", Value: bson.D{{Key: "$max", Value: "$_id.t"}}},
		}}},
	)
}

// Ping checks the primary is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client and its pool
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
