package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowq/pkg/api"
)

// MongoSimulationStore is a SimulationStore backed by a MongoDB collection
// with a unique index on flow_id.
type MongoSimulationStore struct {
	coll *mongo.Collection
}

var _ SimulationStore = (*MongoSimulationStore)(nil)

type mongoSimulationDoc struct {
	ID            string    `bson:"_id"`
	FlowID        string    `bson:"flow_id"`
	FlowVersionID string    `bson:"flow_version_id,omitempty"`
	ProjectID     string    `bson:"project_id"`
	Created       time.Time `bson:"created"`
	Updated       time.Time `bson:"updated"`
}

// NewMongoSimulationStore creates the store and ensures its index.
// dbName defaults to "flowq", collName to "webhook_simulations".
func NewMongoSimulationStore(ctx context.Context, client *mongo.Client, dbName, collName string) (*MongoSimulationStore, error) {
	if dbName == "" {
		dbName = "flowq"
	}
	if collName == "" {
		collName = "webhook_simulations"
	}
	coll := client.Database(dbName).Collection(collName)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "flow_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoSimulationStore{coll: coll}, nil
}

func (s *MongoSimulationStore) Save(ctx context.Context, sim *api.WebhookSimulation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := mongoSimulationDoc{
		ID:            sim.ID,
		FlowID:        sim.FlowID,
		FlowVersionID: sim.FlowVersionID,
		ProjectID:     sim.ProjectID,
		Created:       sim.Created,
		Updated:       sim.Updated,
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sim.ID}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrSimulationExists
	}
	return err
}

func (s *MongoSimulationStore) GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc mongoSimulationDoc
	err := s.coll.FindOne(ctx, bson.M{"flow_id": flowID, "project_id": projectID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSimulationNotFound
		}
		return nil, err
	}
	return &api.WebhookSimulation{
		ID:            doc.ID,
		FlowID:        doc.FlowID,
		FlowVersionID: doc.FlowVersionID,
		ProjectID:     doc.ProjectID,
		Created:       doc.Created.UTC(),
		Updated:       doc.Updated.UTC(),
	}, nil
}

func (s *MongoSimulationStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrSimulationNotFound
	}
	return nil
}
