package dynamostore

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/conduit-lang/weave/internal/orm/query"
)

// fakeClient is an in-memory DynamoDB table set that understands the
// condition expressions the store issues
type fakeClient struct {
	mu       sync.Mutex
	keyName  string
	pageSize int
	tables   map[string]*fakeTable
	scans    int
}

type fakeTable struct {
	order []string
	items map[string]map[string]types.AttributeValue
}

func newFakeClient(keyName string) *fakeClient {
	return &fakeClient{keyName: keyName, pageSize: 2, tables: make(map[string]*fakeTable)}
}

func (f *fakeClient) table(name *string) *fakeTable {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		t = &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
		f.tables[aws.ToString(name)] = t
	}
	return t
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	}
	return fmt.Sprintf("%T", av)
}

func (f *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.table(in.TableName).items[keyString(in.Key[f.keyName])]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(in.TableName)
	k := keyString(in.Key[f.keyName])
	if _, ok := t.items[k]; ok {
		delete(t.items, k)
		for i, o := range t.order {
			if o == k {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	t := f.table(in.TableName)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyString(in.ExclusiveStartKey[f.keyName])
		for i, k := range t.order {
			if k == last {
				start = i + 1
				break
			}
		}
	}
	end := min(start+f.pageSize, len(t.order))

	out := &dynamodb.ScanOutput{}
	for _, k := range t.order[start:end] {
		out.Items = append(out.Items, t.items[k])
	}
	if end < len(t.order) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{f.keyName: t.items[t.order[end-1]][f.keyName]}
	}
	return out, nil
}

func (f *fakeClient) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if !f.conditionHolds(ti.Put) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		t := f.table(ti.Put.TableName)
		k := keyString(ti.Put.Item[f.keyName])
		if _, ok := t.items[k]; !ok {
			t.order = append(t.order, k)
		}
		t.items[k] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) conditionHolds(put *types.Put) bool {
	current, exists := f.table(put.TableName).items[keyString(put.Item[f.keyName])]
	switch aws.ToString(put.ConditionExpression) {
	case "":
		return true
	case condNotExists:
		return !exists
	case condRev:
		if !exists {
			return false
		}
		var stored, expected any
		_ = attributevalue.Unmarshal(current[put.ExpressionAttributeNames["#rev"]], &stored)
		_ = attributevalue.Unmarshal(put.ExpressionAttributeValues[":rev"], &expected)
		return query.Equal(stored, expected)
	}
	panic("fake dynamodb: unsupported condition " + aws.ToString(put.ConditionExpression))
}
