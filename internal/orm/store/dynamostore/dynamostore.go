// Package dynamostore implements store.Store over one DynamoDB table per
// resource type. The table's partition key is the schema's id field.
//
// Queries scan the table with strongly consistent reads and evaluate
// predicates, ordering and windows in process.
package dynamostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// maxTransactItems is the DynamoDB limit on items per TransactWriteItems
const maxTransactItems = 100

const (
	condNotExists = "attribute_not_exists(#id)"
	condRev       = "attribute_exists(#id) AND #rev = :rev"
)

// Client is the subset of the DynamoDB API the store uses
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Store maps one resource type onto a DynamoDB table
type Store struct {
	client Client
	schema *schema.ResourceSchema
	table  string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithTablePrefix prefixes the table name derived from the schema
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.table = prefix + s.table
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
func New(client Client, s *schema.ResourceSchema, opts ...Option) *Store {
	st := &Store{
		client: client,
		schema: s,
		table:  s.TableName,
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

// Table returns the DynamoDB table name
func (s *Store) Table() string { return s.table }

func (s *Store) key(id any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(store.Key(id))
	if err != nil {
		return nil, fmt.Errorf("dynamostore: marshal key: %w", err)
	}
	return map[string]types.AttributeValue{s.schema.IDField: av}, nil
}

func (s *Store) marshal(r store.Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: marshal %s: %w", s.schema.Name, err)
	}
	return item, nil
}

func (s *Store) unmarshal(item map[string]types.AttributeValue) (store.Record, error) {
	var rec store.Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("dynamostore: unmarshal %s: %w", s.schema.Name, err)
	}
	if err := s.schema.Coerce(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) names() map[string]string {
	return map[string]string{"#id": s.schema.IDField}
}

// scan reads the whole table, following LastEvaluatedKey
func (s *Store) scan(ctx context.Context) ([]store.Record, error) {
	var (
		out   []store.Record
		start map[string]types.AttributeValue
		pages int
	)
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		pages++
		for _, item := range resp.Items {
			rec, err := s.unmarshal(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		start = resp.LastEvaluatedKey
	}
	s.logger.Debug("dynamodb scan", zap.String("table", s.table), zap.Int("pages", pages), zap.Int("items", len(out)))
	return out, nil
}

// Query scans the table and filters, orders and windows in process
func (s *Store) Query(ctx context.Context, params store.Params) ([]store.Record, error) {
	if err := store.CheckFields(s.schema, params.Fields); err != nil {
		return nil, err
	}
	all, err := s.scan(ctx)
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
	return out, nil
}

func (s *Store) get(ctx context.Context, id any) (store.Record, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	return s.unmarshal(resp.Item)
}

// Fetch returns one record or nil when absent
func (s *Store) Fetch(ctx context.Context, id any, fields []string) (store.Record, error) {
	if err := store.CheckFields(s.schema, fields); err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return store.Project(s.schema, rec, fields), nil
}

// FetchMany reads each id with a consistent GetItem
func (s *Store) FetchMany(ctx context.Context, ids []any, fields []string) (map[any]store.Record, error) {
	if err := store.CheckFields(s.schema, fields); err != nil {
		return nil, err
	}
	out := make(map[any]store.Record, len(ids))
	for _, id := range ids {
		rec, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[id] = store.Project(s.schema, rec, fields)
		}
	}
	return out, nil
}

// transact writes puts in chunks of maxTransactItems. Each chunk is atomic.
func (s *Store) transact(ctx context.Context, puts []*types.Put) error {
	for start := 0; start < len(puts); start += maxTransactItems {
		end := min(start+maxTransactItems, len(puts))
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, p := range puts[start:end] {
			items = append(items, types.TransactWriteItem{Put: p})
		}
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		}); err != nil {
			return &transactError{err: err, offset: start}
		}
	}
	return nil
}

// transactError remembers which chunk failed so cancellation reasons map
// back onto input positions
type transactError struct {
	err    error
	offset int
}

func (e *transactError) Error() string { return e.err.Error() }
func (e *transactError) Unwrap() error { return e.err }

// failedIndex returns the input position of the first item whose condition
// check failed, or -1
func failedIndex(err error) int {
	var txErr *transactError
	if !errors.As(err, &txErr) {
		return -1
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return txErr.offset + i
			}
		}
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return txErr.offset
	}
	return -1
}

// Create inserts a record, generating an id when absent
func (s *Store) Create(ctx context.Context, record store.Record) (store.Record, error) {
	out, err := s.CreateMany(ctx, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateMany inserts records with a conditional put per record
func (s *Store) CreateMany(ctx context.Context, records []store.Record) ([]store.Record, error) {
	prepared := make([]store.Record, len(records))
	puts := make([]*types.Put, len(records))
	for i, r := range records {
		p, err := store.PrepareCreate(s.schema, r)
		if err != nil {
			return nil, err
		}
		item, err := s.marshal(p)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
		puts[i] = &types.Put{
			TableName:                aws.String(s.table),
			Item:                     item,
			ConditionExpression:      aws.String(condNotExists),
			ExpressionAttributeNames: s.names(),
		}
	}

	if err := s.transact(ctx, puts); err != nil {
		if i := failedIndex(err); i >= 0 {
			return nil, fmt.Errorf("%w: %s %v", store.ErrAlreadyExists, s.schema.Name, prepared[i][s.schema.IDField])
		}
		return nil, err
	}
	return prepared, nil
}

// Update writes changes to an existing record
func (s *Store) Update(ctx context.Context, id any, record store.Record) (store.Record, error) {
	out, err := s.UpdateMany(ctx, []any{id}, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateMany reads each record, merges changes and writes the merged items
// conditioned on the revision that was read
func (s *Store) UpdateMany(ctx context.Context, ids []any, records []store.Record) ([]store.Record, error) {
	if len(ids) != len(records) {
		return nil, &store.LengthMismatchError{IDs: len(ids), Records: len(records)}
	}

	out := make([]store.Record, len(records))
	puts := make([]*types.Put, len(records))
	for i, id := range ids {
		changes, expected, err := store.SplitUpdate(s.schema, records[i])
		if err != nil {
			return nil, err
		}
		current, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: %s %v", store.ErrNotFound, s.schema.Name, id)
		}
		if !store.RevMatches(expected, current[s.schema.RevField]) {
			return nil, fmt.Errorf("%w: %s %v", store.ErrConflict, s.schema.Name, id)
		}

		readRev, err := attributevalue.Marshal(current[s.schema.RevField])
		if err != nil {
			return nil, err
		}
		for k, v := range changes {
			current[k] = v
		}
		item, err := s.marshal(current)
		if err != nil {
			return nil, err
		}
		out[i] = current
		puts[i] = &types.Put{
			TableName:                 aws.String(s.table),
			Item:                      item,
			ConditionExpression:       aws.String(condRev),
			ExpressionAttributeNames:  map[string]string{"#id": s.schema.IDField, "#rev": s.schema.RevField},
			ExpressionAttributeValues: map[string]types.AttributeValue{":rev": readRev},
		}
	}

	if err := s.transact(ctx, puts); err != nil {
		if i := failedIndex(err); i >= 0 {
			return nil, fmt.Errorf("%w: %s %v", store.ErrConflict, s.schema.Name, ids[i])
		}
		return nil, err
	}
	return out, nil
}

// Delete removes an item; deleting an absent id is not an error
func (s *Store) Delete(ctx context.Context, id any) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key,
	})
	return err
}

// DeleteMany removes each id
func (s *Store) DeleteMany(ctx context.Context, ids []any) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether id is stored
func (s *Store) Exists(ctx context.Context, id any) (bool, error) {
	rec, err := s.get(ctx, id)
	return rec != nil, err
}

// ExistsMany reports presence for each id
func (s *Store) ExistsMany(ctx context.Context, ids []any) (map[any]bool, error) {
	found, err := s.FetchMany(ctx, ids, []string{})
	if err != nil {
		return nil, err
	}
	out := make(map[any]bool, len(ids))
	for _, id := range ids {
		_, ok := found[id]
		out[id] = ok
	}
	return out, nil
}
