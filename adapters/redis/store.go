package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/sfnresume/state"
)

// Ensure Store implements state.Store
var _ state.Store = (*Store)(nil)

// ---------- Key helpers ----------

func (s *Store) recordKey(arn string) string { return fmt.Sprintf("%s:resume:%s", s.prefix, arn) }
func (s *Store) allIdxKey() string           { return fmt.Sprintf("%s:idx:all", s.prefix) }
func (s *Store) statusIdxPrefix() string     { return fmt.Sprintf("%s:idx:status:", s.prefix) }
func (s *Store) statusIdxKey(st state.ResumeStatus) string {
	return s.statusIdxPrefix() + string(st)
}

// ---------- Records ----------

func (s *Store) save(ctx context.Context, rec *state.ResumeRecord, createOnly bool) (bool, error) {
	if rec.ExecutionARN == "" {
		return false, fmt.Errorf("execution ARN is required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal resume record: %w", err)
	}
	only := "0"
	if createOnly {
		only = "1"
	}
	keys := []string{s.recordKey(rec.ExecutionARN), s.allIdxKey()}
	args := []interface{}{string(b), string(rec.Status), s.statusIdxPrefix(), rec.ExecutionARN, only}

	var res interface{}
	// Try EVALSHA first if we cached the SHA
	if s.saveSHA != "" {
		res, err = s.rdb.EvalSha(ctx, s.saveSHA, keys, args...).Result()
	}
	if s.saveSHA == "" || err != nil {
		res, err = s.rdb.Eval(ctx, luaSaveResume, keys, args...).Result()
		if err != nil {
			return false, fmt.Errorf("redis eval save resume: %w", err)
		}
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// CreateResume implements state.Store
func (s *Store) CreateResume(ctx context.Context, rec *state.ResumeRecord) (bool, error) {
	return s.save(ctx, rec, true)
}

// SaveResume implements state.Store
func (s *Store) SaveResume(ctx context.Context, rec *state.ResumeRecord) error {
	_, err := s.save(ctx, rec, false)
	return err
}

func decodeRecord(b []byte) (*state.ResumeRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	// keep payload numbers exactly as they were resolved
	dec.UseNumber()
	var rec state.ResumeRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal resume record: %w", err)
	}
	return &rec, nil
}

// GetResume implements state.Store
func (s *Store) GetResume(ctx context.Context, executionARN string) (*state.ResumeRecord, error) {
	v, err := s.rdb.Get(ctx, s.recordKey(executionARN)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("execution %s: %w", executionARN, state.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get resume record: %w", err)
	}
	return decodeRecord(v)
}

// ListResumes implements state.Store
func (s *Store) ListResumes(ctx context.Context, st state.ResumeStatus) ([]*state.ResumeRecord, error) {
	idx := s.allIdxKey()
	if st != "" {
		idx = s.statusIdxKey(st)
	}
	arns, err := s.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	if len(arns) == 0 {
		return []*state.ResumeRecord{}, nil
	}
	keys := make([]string, len(arns))
	for i, arn := range arns {
		keys[i] = s.recordKey(arn)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget resume records: %w", err)
	}
	out := make([]*state.ResumeRecord, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between SMEMBERS and MGET
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExecutionARN < out[j].ExecutionARN
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteResume implements state.Store
func (s *Store) DeleteResume(ctx context.Context, executionARN string) error {
	rec, err := s.GetResume(ctx, executionARN)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.recordKey(executionARN))
	pipe.SRem(ctx, s.allIdxKey(), executionARN)
	pipe.SRem(ctx, s.statusIdxKey(rec.Status), executionARN)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline delete resume record: %w", err)
	}
	return nil
}
