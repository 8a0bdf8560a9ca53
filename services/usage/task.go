package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hrplane/pkg/rediskey"
	"hrplane/pkg/taskname"
	"hrplane/services/license"
)

// HandleUsageFlush drains one pending usage hash and applies the
// coalesced deltas through the same limit-checked path as immediate
// tracking. A coalesced delta that would breach the limit is not
// applied: the overflow surfaces as a violation event at flush time,
// never silently dropped.
func (s *Service) HandleUsageFlush(ctx context.Context, t *asynq.Task) error {
	var payload FlushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("tenant_id", payload.TenantID),
		zap.String("module_key", string(payload.ModuleKey)),
		zap.String("period", payload.Period),
	)

	pending, err := s.drainPending(ctx, payload.TenantID, payload.ModuleKey, payload.Period)
	if err != nil {
		zapLog.Error("failed to drain pending usage", zap.Error(err))
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for limitType, delta := range pending {
		_, violation, err := s.applyDelta(ctx, payload.TenantID, payload.ModuleKey, payload.Period, limitType, delta)
		if err != nil {
			// Put the delta back so a retry does not lose it.
			key := rediskey.BuildUsagePendingKey(payload.TenantID, string(payload.ModuleKey), payload.Period)
			if rerr := s.rdb.HIncrBy(ctx, key, string(limitType), delta).Err(); rerr != nil {
				zapLog.Error("failed to restore pending usage delta", zap.Error(rerr))
			}
			return err
		}

		if violation != nil {
			violation.Deferred = true
			s.reportViolation(ctx, payload.TenantID, payload.ModuleKey, violation)
			zapLog.Warn("deferred usage delta exceeded limit",
				zap.String("limit_type", violation.LimitType),
				zap.Int64("delta", violation.Delta),
			)
		}
	}

	return nil
}

// HandleUsageFlushSweep enqueues a flush for every pending hash, so
// deltas whose original flush task was lost still land within one sweep
// interval.
func (s *Service) HandleUsageFlushSweep(ctx context.Context, t *asynq.Task) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, rediskey.UsagePendingPattern(), 100).Result()
		if err != nil {
			return err
		}

		for _, key := range keys {
			payload, ok := parsePendingKey(key)
			if !ok {
				zap.L().Warn("skipping malformed pending usage key", zap.String("key", key))
				continue
			}

			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := s.asynq.Enqueue(ctx, asynq.NewTask(taskname.UsageFlush, body), asynq.Queue("low")); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// drainPending atomically detaches the pending hash, then reads and
// deletes the detached copy. New deltas keep accumulating under the
// original key while the flush runs.
func (s *Service) drainPending(ctx context.Context, tenantID string, moduleKey license.ModuleKey, period string) (map[license.LimitType]int64, error) {
	key := rediskey.BuildUsagePendingKey(tenantID, string(moduleKey), period)
	staging := key + ":flushing:" + s.node.Generate().String()

	if err := s.rdb.Rename(ctx, key, staging).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "no such key") {
			return nil, nil
		}
		return nil, err
	}

	fields, err := s.rdb.HGetAll(ctx, staging).Result()
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Del(ctx, staging).Err(); err != nil {
		zap.L().Warn("failed to delete drained usage staging key", zap.Error(err), zap.String("key", staging))
	}

	pending := make(map[license.LimitType]int64, len(fields))
	for field, raw := range fields {
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			zap.L().Warn("skipping malformed pending usage delta", zap.String("field", field), zap.String("value", raw))
			continue
		}
		if delta == 0 {
			continue
		}
		pending[license.LimitType(field)] = delta
	}

	return pending, nil
}

func parsePendingKey(key string) (FlushPayload, bool) {
	rest, ok := strings.CutPrefix(key, rediskey.UsagePendingPrefix+":")
	if !ok {
		return FlushPayload{}, false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return FlushPayload{}, false
	}
	return FlushPayload{
		TenantID:  parts[0],
		ModuleKey: license.ModuleKey(parts[1]),
		Period:    parts[2],
	}, true
}
