// Package redisstore keeps records of one resource type in a Redis hash.
//
// Records are JSON documents stored under "<prefix><Type>" keyed by id. A
// sorted set "<prefix><Type>:order" remembers insertion order so unordered
// queries return records the way they were created. Predicates are evaluated
// in process after the scan.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// maxTxRetries bounds optimistic transaction retries on WATCH failures
const maxTxRetries = 5

// Store maps one resource type onto a Redis hash
type Store struct {
	client redis.UniversalClient
	schema *schema.ResourceSchema
	prefix string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithPrefix namespaces the keys used by the store
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store for s backed by client
func New(client redis.UniversalClient, s *schema.ResourceSchema, opts ...Option) *Store {
	st := &Store{
		client: client,
		schema: s,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

var _ store.Store = (*Store)(nil)

// Schema returns the schema served by the store
func (s *Store) Schema() *schema.ResourceSchema { return s.schema }

func (s *Store) hashKey() string  { return s.prefix + s.schema.Name }
func (s *Store) orderKey() string { return s.prefix + s.schema.Name + ":order" }

// field renders an id as a hash field name
func field(id any) string {
	return fmt.Sprint(store.Key(id))
}

func encode(r store.Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("redisstore: encode record: %w", err)
	}
	return string(data), nil
}

func (s *Store) decode(data string) (store.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var rec store.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s record: %w", s.schema.Name, err)
	}
	if err := s.schema.Coerce(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// all loads every record in insertion order
func (s *Store) all(ctx context.Context) ([]store.Record, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.hashKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Query scans the hash and filters, orders and windows in process
func (s *Store) Query(ctx context.Context, params store.Params) ([]store.Record, error) {
	if err := store.CheckFields(s.schema, params.Fields); err != nil {
		return nil, err
	}
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := store.Filter(all, params.Where)
	if err != nil {
		return nil, err
	}
	matched = store.Window(matched, params)

	out := make([]store.Record, len(matched))
	for i, r := range matched {
		out[i] = store.Project(s.schema, r, params.Fields)
	}
	s.logger.Debug("redis query",
		zap.String("type", s.schema.Name),
		zap.Int("scanned", len(all)),
		zap.Int("matched", len(out)))
	return out, nil
}

// Fetch returns one record or nil when absent
func (s *Store) Fetch(ctx context.Context, id any, fields []string) (store.Record, error) {
	if err := store.CheckFields(s.schema, fields); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.hashKey(), field(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	return store.Project(s.schema, rec, fields), nil
}

// FetchMany reads all ids with a single HMGET
func (s *Store) FetchMany(ctx context.Context, ids []any, fields []string) (map[any]store.Record, error) {
	if err := store.CheckFields(s.schema, fields); err != nil {
		return nil, err
	}
	out := make(map[any]store.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = field(id)
	}
	values, err := s.client.HMGet(ctx, s.hashKey(), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		out[ids[i]] = store.Project(s.schema, rec, fields)
	}
	return out, nil
}

// watch runs fn under WATCH on the record hash, retrying when a concurrent
// writer invalidates the transaction
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, s.hashKey())
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("redis transaction retry", zap.String("type", s.schema.Name), zap.Int("attempt", i+1))
	}
	return fmt.Errorf("%w: %s: too many concurrent writers", store.ErrConflict, s.schema.Name)
}

// Create inserts a record, generating an id when absent
func (s *Store) Create(ctx context.Context, record store.Record) (store.Record, error) {
	out, err := s.CreateMany(ctx, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateMany inserts records atomically; an existing id fails the whole batch
func (s *Store) CreateMany(ctx context.Context, records []store.Record) ([]store.Record, error) {
	prepared := make([]store.Record, len(records))
	keys := make([]string, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		p, err := store.PrepareCreate(s.schema, r)
		if err != nil {
			return nil, err
		}
		keys[i] = field(p[s.schema.IDField])
		if _, dup := seen[keys[i]]; dup {
			return nil, fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, s.schema.Name, keys[i])
		}
		seen[keys[i]] = struct{}{}
		prepared[i] = p
	}
	if len(prepared) == 0 {
		return prepared, nil
	}

	scores, err := s.reserveScores(ctx, len(keys))
	if err != nil {
		return nil, err
	}

	err = s.watch(ctx, func(tx *redis.Tx) error {
		for _, key := range keys {
			exists, err := tx.HExists(ctx, s.hashKey(), key).Result()
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, s.schema.Name, key)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, p := range prepared {
				data, err := encode(p)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.hashKey(), keys[i], data)
				pipe.ZAdd(ctx, s.orderKey(), redis.Z{Score: scores[i], Member: keys[i]})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// reserveScores allocates n consecutive insertion-order scores. Scores of a
// failed batch are simply never used.
func (s *Store) reserveScores(ctx context.Context, n int) ([]float64, error) {
	last, err := s.client.IncrBy(ctx, s.orderKey()+":seq", int64(n)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	first := last - int64(n) + 1
	for i := range out {
		out[i] = float64(first + int64(i))
	}
	return out, nil
}

// Update writes changes to an existing record
func (s *Store) Update(ctx context.Context, id any, record store.Record) (store.Record, error) {
	out, err := s.UpdateMany(ctx, []any{id}, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateMany applies every update in one transaction, checking revisions
// against the stored records
func (s *Store) UpdateMany(ctx context.Context, ids []any, records []store.Record) ([]store.Record, error) {
	if len(ids) != len(records) {
		return nil, &store.LengthMismatchError{IDs: len(ids), Records: len(records)}
	}
	out := make([]store.Record, len(records))
	if len(records) == 0 {
		return out, nil
	}

	err := s.watch(ctx, func(tx *redis.Tx) error {
		merged := make(map[string]store.Record, len(ids))
		for i, id := range ids {
			changes, expected, err := store.SplitUpdate(s.schema, records[i])
			if err != nil {
				return err
			}
			key := field(id)
			current, ok := merged[key]
			if !ok {
				data, err := tx.HGet(ctx, s.hashKey(), key).Result()
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("%w: %s %v", store.ErrNotFound, s.schema.Name, id)
				}
				if err != nil {
					return err
				}
				if current, err = s.decode(data); err != nil {
					return err
				}
			}
			if !store.RevMatches(expected, current[s.schema.RevField]) {
				return fmt.Errorf("%w: %s %v", store.ErrConflict, s.schema.Name, id)
			}
			for k, v := range changes {
				current[k] = v
			}
			merged[key] = current
			out[i] = current
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, rec := range merged {
				data, err := encode(rec)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.hashKey(), key, data)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, r := range out {
		out[i] = store.Copy(r)
	}
	return out, nil
}

// Delete removes a record; deleting an absent id is not an error
func (s *Store) Delete(ctx context.Context, id any) error {
	return s.DeleteMany(ctx, []any{id})
}

// DeleteMany removes records in one pipeline
func (s *Store) DeleteMany(ctx context.Context, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = field(id)
		members[i] = keys[i]
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey(), keys...)
		pipe.ZRem(ctx, s.orderKey(), members...)
		return nil
	})
	return err
}

// Exists reports whether id is stored
func (s *Store) Exists(ctx context.Context, id any) (bool, error) {
	return s.client.HExists(ctx, s.hashKey(), field(id)).Result()
}

// ExistsMany reports presence for each id with a single HMGET
func (s *Store) ExistsMany(ctx context.Context, ids []any) (map[any]bool, error) {
	out := make(map[any]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = field(id)
	}
	values, err := s.client.HMGet(ctx, s.hashKey(), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		out[ids[i]] = v != nil
	}
	return out, nil
}
