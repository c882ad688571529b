package storage

import (
	"context"
	"errors"
	"time"

	"dmchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MessageCollection = "messages"

var errMongoNotReady = errs.New("mongo not ready")

// messageDoc keeps the field names the REST side already reads.
type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Sender    string             `bson:"sender"`
	Recipient string             `bson:"recipient"`
	Text      string             `bson:"text,omitempty"`
	File      string             `bson:"file,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d messageDoc) toMessage() Message {
	return Message{
		ID:        d.ID.Hex(),
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Text:      d.Text,
		File:      d.File,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// MongoMessageStore resolves the database on every call so it keeps working
// across reconnects of the mgo manager.
type MongoMessageStore struct {
	db  func() (*mongo.Database, bool)
	now func() time.Time
}

func NewMongoMessageStore(db func() (*mongo.Database, bool)) *MongoMessageStore {
	return &MongoMessageStore{db: db, now: time.Now}
}

func (s *MongoMessageStore) collection() (*mongo.Collection, error) {
	db, ok := s.db()
	if !ok || db == nil {
		return nil, errMongoNotReady.Wrap()
	}
	return db.Collection(MessageCollection), nil
}

// EnsureIndexes creates the index used by conversation queries.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	return errs.WrapMsg(err, "create message index")
}

func (s *MongoMessageStore) Append(ctx context.Context, msg Message) (Message, error) {
	coll, err := s.collection()
	if err != nil {
		return Message{}, err
	}
	// mongo stores milliseconds
	now := s.now().UTC().Truncate(time.Millisecond)
	doc := messageDoc{
		ID:        primitive.NewObjectID(),
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Text:      msg.Text,
		File:      msg.File,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return Message{}, errs.WrapMsg(err, "insert message", "sender", msg.Sender, "recipient", msg.Recipient)
	}
	return doc.toMessage(), nil
}

func (s *MongoMessageStore) Get(ctx context.Context, id string) (Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Message{}, ErrNotFound.WrapMsg("bad id", "id", id)
	}
	coll, err := s.collection()
	if err != nil {
		return Message{}, err
	}
	var doc messageDoc
	if err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Message{}, ErrNotFound.WrapMsg("", "id", id)
		}
		return Message{}, errs.WrapMsg(err, "find message", "id", id)
	}
	return doc.toMessage(), nil
}

func (s *MongoMessageStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}
	pair := []string{a, b}
	cur, err := coll.Find(ctx,
		bson.M{"sender": bson.M{"$in": pair}, "recipient": bson.M{"$in": pair}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "find conversation", "a", a, "b", b)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "decode conversation", "a", a, "b", b)
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	return out, nil
}

func (s *MongoMessageStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound.WrapMsg("bad id", "id", id)
	}
	coll, err := s.collection()
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound.WrapMsg("", "id", id)
	}
	return nil
}
