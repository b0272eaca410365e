package twin

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Change is a change of one asset document
type Change struct {
	// Op is insert, update, replace or delete
	Op string
	ID string
	// Fields are the dotted names of updated fields; empty for whole
	// document changes
	Fields []string
}

// Documents is the document store session of the binding: one document per
// asset keyed by _id, plus a collection receiving operation requests
type Documents interface {
	Find(ctx context.Context, ids []string) ([]bson.M, error)
	Field(ctx context.Context, id, field string) (interface{}, error)
	SetField(ctx context.Context, id, field string, value interface{}) error
	Upsert(ctx context.Context, id string, fields bson.M) error
	InsertOperation(ctx context.Context, request bson.M) (string, error)
	// Watch streams changes until ctx ends
	Watch(ctx context.Context, fn func(Change)) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Opener opens the document store for a connection parameter
type Opener func(ctx context.Context, params *core.ConnectorParameter) (Documents, error)

type mongoDocuments struct {
	client     *mongo.Client
	assets     *mongo.Collection
	operations *mongo.Collection
}

// ClientOptions builds the driver options from the parameter
func ClientOptions(params *core.ConnectorParameter) *options.ClientOptions {
	uri := "mongodb://" + net.JoinHostPort(params.Host(), strconv.Itoa(params.Port()))
	if params.Schema() == core.SchemaSSL {
		uri += "/?tls=true"
	}
	opts := options.Client().ApplyURI(uri)
	if params.ApplicationID() != "" {
		opts.SetAppName(params.ApplicationID())
	}
	if t := params.RequestTimeout(); t > 0 {
		opts.SetConnectTimeout(t)
		opts.SetServerSelectionTimeout(t)
	}
	if tok := params.IdentityToken(core.AnyEndpoint); !tok.IsAnonymous() && tok.Type == core.TokenUsername {
		opts.SetAuth(options.Credential{
			Username:   tok.Username,
			Password:   tok.Password,
			AuthSource: params.SpecificStringSetting(SettingAuthSource, "admin"),
		})
	}
	return opts
}

// OpenMongo connects to MongoDB
func OpenMongo(ctx context.Context, params *core.ConnectorParameter) (Documents, error) {
	client, err := mongo.Connect(ctx, ClientOptions(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}
	db := client.Database(params.SpecificStringSetting(SettingDatabase, DefaultDatabase))
	return &mongoDocuments{
		client:     client,
		assets:     db.Collection(params.SpecificStringSetting(SettingCollection, DefaultCollection)),
		operations: db.Collection(params.SpecificStringSetting(SettingOperations, DefaultOperations)),
	}, nil
}

func (m *mongoDocuments) Find(ctx context.Context, ids []string) ([]bson.M, error) {
	filter := bson.M{}
	if len(ids) > 0 {
		filter = bson.M{"_id": bson.M{"$in": ids}}
	}
	cursor, err := m.assets.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoDocuments) Field(ctx context.Context, id, field string) (interface{}, error) {
	var doc bson.M
	err := m.assets.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{field: 1})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "asset %s does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	v, ok := Lookup(doc, field)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "asset %s has no field %s", id, field)
	}
	return v, nil
}

func (m *mongoDocuments) SetField(ctx context.Context, id, field string, value interface{}) error {
	res, err := m.assets.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "asset %s does not exist", id)
	}
	return nil
}

func (m *mongoDocuments) Upsert(ctx context.Context, id string, fields bson.M) error {
	_, err := m.assets.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields}, options.Update().SetUpsert(true))
	return err
}

func (m *mongoDocuments) InsertOperation(ctx context.Context, request bson.M) (string, error) {
	res, err := m.operations.InsertOne(ctx, request)
	if err != nil {
		return "", err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

// Watch follows the change stream of the asset collection
func (m *mongoDocuments) Watch(ctx context.Context, fn func(Change)) error {
	stream, err := m.assets.Watch(ctx, mongo.Pipeline{}, options.ChangeStream())
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	for {
		if !stream.TryNext(ctx) {
			if err := stream.Err(); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			return err
		}
		change := Change{Op: ev.OperationType, ID: fmt.Sprint(ev.DocumentKey.ID)}
		for f := range ev.UpdateDescription.UpdatedFields {
			change.Fields = append(change.Fields, f)
		}
		change.Fields = append(change.Fields, ev.UpdateDescription.RemovedFields...)
		fn(change)
	}
}

func (m *mongoDocuments) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *mongoDocuments) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
