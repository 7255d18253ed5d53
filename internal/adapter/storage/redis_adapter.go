package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/shopflow/internal/core/domain"
)

const (
	agentKeyPrefix      = "agent:"
	deliveriesKeyPrefix = "agent-deliveries:"
	availableAgentsKey  = "agents:available"
	allAgentsKey        = "agents:all"
	idempotencyKeyTTL   = 24 * time.Hour
)

// reserveAgentScript pops the lowest-id available agent. ZPOPMIN with equal
// scores pops the lexicographically smallest member, which gives the
// deterministic ascending-id scan; pop-and-return is one atomic step, so two
// concurrent reservations can never take the same agent.
var reserveAgentScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
return popped[1]
`)

// releaseAgentScript re-adds the agent to the available set only if the
// agent is registered; unknown ids stay a no-op.
var releaseAgentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	redis.call('ZADD', KEYS[1], 0, ARGV[1])
end
return 1
`)

var completeAgentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	redis.call('ZADD', KEYS[1], 0, ARGV[1])
	redis.call('INCR', KEYS[3])
end
return 1
`)

// RedisPool is the shared-state delivery pool, for running more than one
// server instance against the same agent roster.
type RedisPool struct {
	client *redis.Client
}

func NewRedisPool(client *redis.Client) *RedisPool {
	return &RedisPool{client: client}
}

func (r *RedisPool) Add(ctx context.Context, agent domain.DeliveryAgent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, agentKeyPrefix+agent.ID, data, 0)
	pipe.Set(ctx, deliveriesKeyPrefix+agent.ID, agent.TotalDeliveries, 0)
	pipe.SAdd(ctx, allAgentsKey, agent.ID)
	if agent.IsAvailable {
		pipe.ZAdd(ctx, availableAgentsKey, redis.Z{Score: 0, Member: agent.ID})
	} else {
		pipe.ZRem(ctx, availableAgentsKey, agent.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisPool) ReserveAny(ctx context.Context) (*domain.DeliveryAgent, error) {
	id, err := reserveAgentScript.Run(ctx, r.client, []string{availableAgentsKey}).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve agent: %w", err)
	}

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		// roster entry vanished between pop and load
		return nil, fmt.Errorf("reserved agent %s has no roster entry: %w", id, domain.ErrConflict)
	}
	agent.IsAvailable = false
	return agent, nil
}

func (r *RedisPool) Release(ctx context.Context, agentID string) error {
	return releaseAgentScript.Run(ctx, r.client,
		[]string{availableAgentsKey, agentKeyPrefix + agentID},
		agentID,
	).Err()
}

func (r *RedisPool) Complete(ctx context.Context, agentID string) error {
	return completeAgentScript.Run(ctx, r.client,
		[]string{availableAgentsKey, agentKeyPrefix + agentID, deliveriesKeyPrefix + agentID},
		agentID,
	).Err()
}

func (r *RedisPool) List(ctx context.Context) ([]domain.DeliveryAgent, error) {
	ids, err := r.client.SMembers(ctx, allAgentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.Strings(ids)

	agents := make([]domain.DeliveryAgent, 0, len(ids))
	for _, id := range ids {
		agent, err := r.loadAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			continue
		}
		_, err = r.client.ZScore(ctx, availableAgentsKey, id).Result()
		switch {
		case err == nil:
			agent.IsAvailable = true
		case errors.Is(err, redis.Nil):
			agent.IsAvailable = false
		default:
			return nil, fmt.Errorf("agent availability: %w", err)
		}
		agents = append(agents, *agent)
	}
	return agents, nil
}

func (r *RedisPool) loadAgent(ctx context.Context, agentID string) (*domain.DeliveryAgent, error) {
	data, err := r.client.Get(ctx, agentKeyPrefix+agentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	var agent domain.DeliveryAgent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent: %w", err)
	}

	deliveries, err := r.client.Get(ctx, deliveriesKeyPrefix+agentID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load delivery count: %w", err)
	}
	agent.TotalDeliveries = deliveries
	return &agent, nil
}

// RedisIdempotencyStore backs checkout request deduplication with SetNX.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (r *RedisIdempotencyStore) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisIdempotencyStore) DeleteIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
