package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowq/pkg/api"
)

// RedisSimulationStore is a SimulationStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>sim:<id>          => gob-encoded api.WebhookSimulation
//	<prefix>sim-flow:<flowID> => simulation id
type RedisSimulationStore struct {
	client *redis.Client
	prefix string
}

var _ SimulationStore = (*RedisSimulationStore)(nil)

// NewRedisSimulationStore creates a RedisSimulationStore.
// prefix is optional (default "flowq:").
func NewRedisSimulationStore(client *redis.Client, prefix string) *RedisSimulationStore {
	if prefix == "" {
		prefix = "flowq:"
	}
	return &RedisSimulationStore{client: client, prefix: prefix}
}

func (s *RedisSimulationStore) keySim(id string) string { return s.prefix + "sim:" + id }

func (s *RedisSimulationStore) keyFlow(flowID string) string { return s.prefix + "sim-flow:" + flowID }

func (s *RedisSimulationStore) Save(ctx context.Context, sim *api.WebhookSimulation) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sim); err != nil {
		return err
	}

	// Claim the flow slot first; it fails if another id holds it.
	ok, err := s.client.SetNX(ctx, s.keyFlow(sim.FlowID), sim.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		owner, err := s.client.Get(ctx, s.keyFlow(sim.FlowID)).Result()
		if err != nil {
			return err
		}
		if owner != sim.ID {
			return ErrSimulationExists
		}
	}
	return s.client.Set(ctx, s.keySim(sim.ID), buf.Bytes(), 0).Err()
}

func (s *RedisSimulationStore) load(ctx context.Context, id string) (*api.WebhookSimulation, error) {
	data, err := s.client.Get(ctx, s.keySim(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSimulationNotFound
	}
	if err != nil {
		return nil, err
	}
	var sim api.WebhookSimulation
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sim); err != nil {
		return nil, err
	}
	return &sim, nil
}

func (s *RedisSimulationStore) GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	id, err := s.client.Get(ctx, s.keyFlow(flowID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSimulationNotFound
	}
	if err != nil {
		return nil, err
	}
	sim, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sim.ProjectID != projectID {
		return nil, ErrSimulationNotFound
	}
	return sim, nil
}

func (s *RedisSimulationStore) Delete(ctx context.Context, id string) error {
	sim, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keySim(id))
	pipe.Del(ctx, s.keyFlow(sim.FlowID))
	_, err = pipe.Exec(ctx)
	return err
}
