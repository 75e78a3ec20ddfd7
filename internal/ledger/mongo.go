package ledger

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/BartekS5/udmigrate/pkg/models"
)

const DefaultCollection = "ledger"

type mongoEntry struct {
	Kind            string    `bson:"kind"`
	LegacyID        int64     `bson:"udId"`
	RecipientUserID int64     `bson:"recipientUserId"`
	OwnerUserID     int64     `bson:"ownerUserId,omitempty"`
	DestinationID   string    `bson:"vdiId"`
	DatasetType     string    `bson:"datasetType,omitempty"`
	FailureMessage  string    `bson:"msg,omitempty"`
	RunID           string    `bson:"runId,omitempty"`
	Time            time.Time `bson:"time"`
}

// MongoStore keeps ledger documents in one collection with a unique index on
// (kind, udId, recipientUserId). Writes are journaled with majority concern.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, client *mongo.Client, database, collection string) (*MongoStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	wc := writeconcern.Majority()
	journal := true
	wc.Journal = &journal
	coll := client.Database(database).Collection(collection, options.Collection().SetWriteConcern(wc))

	idx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "kind", Value: 1},
			{Key: "udId", Value: 1},
			{Key: "recipientUserId", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("ledger_key"),
	}
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ictx, idx); err != nil {
		return nil, errors.Annotate(err, "creating ledger index")
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) exists(ctx context.Context, filter bson.M) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Trace(err)
	}
	return n > 0, nil
}

func (s *MongoStore) HasOwnerEntry(ctx context.Context, legacyID int64) (bool, error) {
	return s.exists(ctx, bson.M{"kind": string(KindOwner), "udId": legacyID})
}

func (s *MongoStore) OwnerEntry(ctx context.Context, legacyID int64) (*OwnerEntry, error) {
	var doc mongoEntry
	err := s.coll.FindOne(ctx, bson.M{"kind": string(KindOwner), "udId": legacyID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFoundf("owner entry for dataset %d", legacyID)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &OwnerEntry{
		LegacyID:       doc.LegacyID,
		DestinationID:  doc.DestinationID,
		OwnerUserID:    models.UserID(doc.OwnerUserID),
		DatasetType:    doc.DatasetType,
		FailureMessage: doc.FailureMessage,
		RunID:          doc.RunID,
		Time:           doc.Time,
	}, nil
}

func (s *MongoStore) HasRecipientEntry(ctx context.Context, legacyID int64, recipient models.UserID) (bool, error) {
	return s.exists(ctx, bson.M{
		"kind":            string(KindRecipient),
		"udId":            legacyID,
		"recipientUserId": int64(recipient),
	})
}

func (s *MongoStore) RecipientEntries(ctx context.Context, legacyID int64) ([]RecipientEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recipientUserId", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"kind": string(KindRecipient), "udId": legacyID}, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cursor.Close(ctx)

	var docs []mongoEntry
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]RecipientEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, RecipientEntry{
			LegacyID:        doc.LegacyID,
			DestinationID:   doc.DestinationID,
			RecipientUserID: models.UserID(doc.RecipientUserID),
			DatasetType:     doc.DatasetType,
			RunID:           doc.RunID,
			Time:            doc.Time,
		})
	}
	return out, nil
}

func (s *MongoStore) insert(ctx context.Context, doc mongoEntry) error {
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return errors.Trace(err)
}

func (s *MongoStore) AppendOwnerEntry(ctx context.Context, entry OwnerEntry) error {
	err := s.insert(ctx, mongoEntry{
		Kind:           string(KindOwner),
		LegacyID:       entry.LegacyID,
		OwnerUserID:    int64(entry.OwnerUserID),
		DestinationID:  entry.DestinationID,
		DatasetType:    entry.DatasetType,
		FailureMessage: entry.FailureMessage,
		RunID:          entry.RunID,
		Time:           stamp(entry.Time),
	})
	return errors.Annotatef(err, "appending owner entry for dataset %d", entry.LegacyID)
}

func (s *MongoStore) AppendRecipientEntry(ctx context.Context, entry RecipientEntry) error {
	err := s.insert(ctx, mongoEntry{
		Kind:            string(KindRecipient),
		LegacyID:        entry.LegacyID,
		RecipientUserID: int64(entry.RecipientUserID),
		DestinationID:   entry.DestinationID,
		DatasetType:     entry.DatasetType,
		RunID:           entry.RunID,
		Time:            stamp(entry.Time),
	})
	return errors.Annotatef(err, "appending recipient entry for dataset %d user %s",
		entry.LegacyID, entry.RecipientUserID)
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Owners, err = s.coll.CountDocuments(ctx, bson.M{"kind": string(KindOwner)}); err != nil {
		return st, errors.Trace(err)
	}
	invalid := bson.M{"kind": string(KindOwner), "msg": bson.M{"$exists": true}}
	if st.Invalid, err = s.coll.CountDocuments(ctx, invalid); err != nil {
		return st, errors.Trace(err)
	}
	st.Recipients, err = s.coll.CountDocuments(ctx, bson.M{"kind": string(KindRecipient)})
	return st, errors.Trace(err)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
