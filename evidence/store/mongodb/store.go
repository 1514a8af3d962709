// Package mongodb provides a MongoDB-backed evidence record backend
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	evidenceCollection = "evidence"
	countersCollection = "counters"
	counterID          = "evidence"
)

// document is the stored form. Timestamps, including those in metadata, are
// kept as unix nanoseconds because BSON datetimes only carry milliseconds.
type document struct {
	ID            int64                 `bson:"_id"`
	DeviceID      string                `bson:"device_id"`
	DeviceType    string                `bson:"device_type"`
	EventType     string                `bson:"event_type"`
	EventHash     string                `bson:"event_hash"`
	CollectorTS   int64                 `bson:"collector_ts"`
	SequenceNo    int64                 `bson:"sequence_no"`
	PrevHash      *string               `bson:"prev_hash"`
	EncryptedBlob []byte                `bson:"encrypted_blob,omitempty"`
	Nonce         []byte                `bson:"nonce,omitempty"`
	KeyID         string                `bson:"key_id"`
	CollectorID   string                `bson:"collector_id"`
	Verified      bool                  `bson:"verified"`
	Tampered      bool                  `bson:"tampered"`
	Metadata      metadataDocument      `bson:"metadata"`
}

type metadataDocument struct {
	DeviceID    string  `bson:"device_id"`
	DeviceType  string  `bson:"device_type"`
	EventType   string  `bson:"event_type"`
	EventTS     int64   `bson:"event_ts"`
	CollectorID string  `bson:"collector_id"`
	CollectorTS int64   `bson:"collector_ts"`
	SequenceNo  int64   `bson:"sequence_no"`
	PrevHash    *string `bson:"prev_hash,omitempty"`
}

func toMetadataDocument(m types.CustodyMetadata) metadataDocument {
	return metadataDocument{
		DeviceID:    m.DeviceID,
		DeviceType:  string(m.DeviceType),
		EventType:   m.EventType,
		EventTS:     m.EventTS.UTC().UnixNano(),
		CollectorID: m.CollectorID,
		CollectorTS: m.CollectorTS.UTC().UnixNano(),
		SequenceNo:  m.SequenceNo,
		PrevHash:    m.PrevHash,
	}
}

func (m metadataDocument) metadata() types.CustodyMetadata {
	return types.CustodyMetadata{
		DeviceID:    m.DeviceID,
		DeviceType:  types.DeviceType(m.DeviceType),
		EventType:   m.EventType,
		EventTS:     time.Unix(0, m.EventTS).UTC(),
		CollectorID: m.CollectorID,
		CollectorTS: time.Unix(0, m.CollectorTS).UTC(),
		SequenceNo:  m.SequenceNo,
		PrevHash:    m.PrevHash,
	}
}

func toDocument(rec *types.EvidenceRecord) document {
	return document{
		ID:            rec.ID,
		DeviceID:      rec.DeviceID,
		DeviceType:    string(rec.DeviceType),
		EventType:     rec.EventType,
		EventHash:     rec.EventHash,
		CollectorTS:   rec.CollectorTS.UTC().UnixNano(),
		SequenceNo:    rec.SequenceNo,
		PrevHash:      rec.PrevHash,
		EncryptedBlob: rec.EncryptedBlob,
		Nonce:         rec.Nonce,
		KeyID:         rec.KeyID,
		CollectorID:   rec.CollectorID,
		Verified:      rec.Verified,
		Tampered:      rec.Tampered,
		Metadata:      toMetadataDocument(rec.Metadata),
	}
}

func (d document) record() *types.EvidenceRecord {
	return &types.EvidenceRecord{
		ID:            d.ID,
		DeviceID:      d.DeviceID,
		DeviceType:    types.DeviceType(d.DeviceType),
		EventType:     d.EventType,
		EventHash:     d.EventHash,
		CollectorTS:   time.Unix(0, d.CollectorTS).UTC(),
		SequenceNo:    d.SequenceNo,
		PrevHash:      d.PrevHash,
		EncryptedBlob: d.EncryptedBlob,
		Nonce:         d.Nonce,
		KeyID:         d.KeyID,
		CollectorID:   d.CollectorID,
		Verified:      d.Verified,
		Tampered:      d.Tampered,
		Metadata:      d.Metadata.metadata(),
	}
}

// Store implements interfaces.RecordBackend on a MongoDB database
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ interfaces.RecordBackend = (*Store)(nil)

// NewStore uses db; Close does not disconnect its client
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to uri and ensures the evidence indexes exist
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("mongodb uri and database are required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Debug().Str("database", database).Msg("MongoDB evidence store opened")
	return s, nil
}

// EnsureIndexes creates the per-collector sequence index
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(evidenceCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collector_id", Value: 1}, {Key: "sequence_no", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create evidence index: %w", err)
	}
	return nil
}

// nextID atomically increments the evidence counter
func (s *Store) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate evidence id: %w", err)
	}
	return counter.Seq, nil
}

// Insert allocates the next id and writes the record in one InsertOne
func (s *Store) Insert(ctx context.Context, rec *types.EvidenceRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, err
	}
	doc := toDocument(rec)
	doc.ID = id
	if _, err := s.db.Collection(evidenceCollection).InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to insert evidence: %w", err)
	}
	return id, nil
}

var summaryProjection = bson.M{"encrypted_blob": 0, "nonce": 0, "metadata": 0}

// List returns summaries in ascending id order
func (s *Store) List(ctx context.Context) ([]types.RecordSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cursor, err := s.db.Collection(evidenceCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(summaryProjection))
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	out := make([]types.RecordSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record().Summary())
	}
	return out, nil
}

// IDs returns every id in ascending order
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cursor, err := s.db.Collection(evidenceCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var row struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode evidence id: %w", err)
		}
		ids = append(ids, row.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence ids: %w", err)
	}
	return ids, nil
}

// Get returns the full record
func (s *Store) Get(ctx context.Context, id int64) (*types.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc document
	err := s.db.Collection(evidenceCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return doc.record(), nil
}

// Update applies patch with a single $set
func (s *Store) Update(ctx context.Context, id int64, patch types.RecordPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set := bson.M{"verified": patch.Verified, "tampered": patch.Tampered}
	if patch.EncryptedBlob != nil {
		set["encrypted_blob"] = patch.EncryptedBlob
	}
	if patch.EventHash != nil {
		set["event_hash"] = *patch.EventHash
	}

	res, err := s.db.Collection(evidenceCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update evidence: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %d", types.ErrRecordNotFound, id)
	}
	return nil
}

// Drop removes the evidence and counters collections
func (s *Store) Drop(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := s.db.Drop(ctx); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	return nil
}

// Close disconnects the client opened by Open
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
