package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"file-drop/internal/drop"
)

type fileDoc struct {
	ID           string    `bson:"_id"`
	Code         string    `bson:"code"`
	BatchIndex   int       `bson:"batchIndex"`
	StorageKey   string    `bson:"s3Key"`
	Filename     string    `bson:"filename"`
	MimeType     string    `bson:"mimeType"`
	FileSize     int64     `bson:"fileSize"`
	IsDownloaded bool      `bson:"isDownloaded"`
	ExpiresAt    time.Time `bson:"expiresAt"`
	GroupID      string    `bson:"groupId,omitempty"`
	UploadedAt   time.Time `bson:"uploadedAt"`
}

type groupDoc struct {
	GroupID   string    `bson:"_id"`
	Name      string    `bson:"name"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toFileDoc(r drop.FileRecord) fileDoc {
	return fileDoc(r)
}

func (d fileDoc) record() drop.FileRecord {
	return drop.FileRecord(d)
}

// Mongo stores metadata in the files and groups collections of one database.
type Mongo struct {
	client *mongo.Client
	files  *mongo.Collection
	groups *mongo.Collection
}

// ConnectMongo dials uri and ensures the indexes exist.
func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	m := NewMongo(client, database)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Ping(pctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	db := client.Database(database)
	return &Mongo{
		client: client,
		files:  db.Collection("files"),
		groups: db.Collection("groups"),
	}
}

// EnsureIndexes creates the lookup indexes. It is idempotent.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.files.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "code", Value: 1}, {Key: "batchIndex", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "groupId", Value: 1}, {Key: "uploadedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) CodeExists(ctx context.Context, code string) (bool, error) {
	n, err := m.files.CountDocuments(ctx, bson.M{"code": code}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return n > 0, nil
}

func (m *Mongo) InsertFile(ctx context.Context, rec drop.FileRecord) error {
	if _, err := m.files.InsertOne(ctx, toFileDoc(rec)); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// InsertFileFallback upserts on _id with explicit fields, so a document left
// by a lost primary acknowledgement is kept as is.
func (m *Mongo) InsertFileFallback(ctx context.Context, rec drop.FileRecord) error {
	doc := toFileDoc(rec)
	doc.IsDownloaded = false
	_, err := m.files.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("insert file fallback: %w", err)
	}
	return nil
}

func (m *Mongo) FindByCode(ctx context.Context, code string) ([]drop.FileRecord, error) {
	return m.find(ctx, bson.M{"code": code},
		options.Find().SetSort(bson.D{{Key: "batchIndex", Value: 1}}))
}

// ClaimBatch uses a conditional update of the lowest-index document as the
// gate. Only the caller that flips it goes on to mark the rest of the batch.
func (m *Mongo) ClaimBatch(ctx context.Context, code string, now time.Time) ([]drop.FileRecord, error) {
	recs, err := m.find(ctx, bson.M{"code": code, "groupId": nil},
		options.Find().SetSort(bson.D{{Key: "batchIndex", Value: 1}}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, drop.ErrNotFound
	}
	for _, r := range recs {
		if r.IsDownloaded || r.Expired(now) {
			return nil, drop.ErrGone
		}
	}

	res, err := m.files.UpdateOne(ctx,
		bson.M{"_id": recs[0].ID, "isDownloaded": false, "expiresAt": bson.M{"$gte": now}},
		bson.M{"$set": bson.M{"isDownloaded": true}})
	if err != nil {
		return nil, fmt.Errorf("claim gate: %w", err)
	}
	if res.ModifiedCount == 0 {
		return nil, drop.ErrGone
	}

	if _, err := m.files.UpdateMany(ctx,
		bson.M{"code": code, "groupId": nil},
		bson.M{"$set": bson.M{"isDownloaded": true}}); err != nil {
		return nil, fmt.Errorf("mark downloaded: %w", err)
	}

	for i := range recs {
		recs[i].IsDownloaded = true
	}
	return recs, nil
}

func (m *Mongo) ReleaseBatch(ctx context.Context, code string) error {
	_, err := m.files.UpdateMany(ctx,
		bson.M{"code": code, "groupId": nil},
		bson.M{"$set": bson.M{"isDownloaded": false}})
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

func (m *Mongo) FindSweepable(ctx context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	filter := bson.M{
		"groupId": nil,
		"$or": bson.A{
			bson.M{"isDownloaded": true},
			bson.M{"expiresAt": bson.M{"$lt": now}},
		},
	}
	return m.find(ctx, filter, options.Find().SetLimit(int64(limit)))
}

func (m *Mongo) FindExpiredGroupFiles(ctx context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	filter := bson.M{
		"groupId":   bson.M{"$ne": nil},
		"expiresAt": bson.M{"$lt": now},
	}
	return m.find(ctx, filter, options.Find().SetLimit(int64(limit)))
}

func (m *Mongo) DeleteFile(ctx context.Context, id string) error {
	if _, err := m.files.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (m *Mongo) CreateGroup(ctx context.Context, g drop.Group) error {
	_, err := m.groups.InsertOne(ctx, groupDoc{GroupID: g.GroupID, Name: g.Name, CreatedAt: g.CreatedAt})
	if mongo.IsDuplicateKeyError(err) {
		return drop.ErrGroupExists
	}
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (m *Mongo) GetGroup(ctx context.Context, groupID string) (drop.Group, error) {
	var doc groupDoc
	err := m.groups.FindOne(ctx, bson.M{"_id": groupID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return drop.Group{}, drop.ErrGroupNotFound
	}
	if err != nil {
		return drop.Group{}, fmt.Errorf("get group: %w", err)
	}
	return drop.Group{GroupID: doc.GroupID, Name: doc.Name, CreatedAt: doc.CreatedAt}, nil
}

func (m *Mongo) FindByGroup(ctx context.Context, groupID string) ([]drop.FileRecord, error) {
	return m.find(ctx, bson.M{"groupId": groupID},
		options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}}))
}

func (m *Mongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]drop.FileRecord, error) {
	cur, err := m.files.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find files: %w", err)
	}
	var docs []fileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	out := make([]drop.FileRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}
