package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	testRequestsTable = "access-requests"
	testPairsTable    = "access-pairs"
)

// mockDynamo is an in-memory table set that understands the condition and
// update expressions Store issues. Items are kept as attribute maps so the
// attributevalue round trip is exercised.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// failNext, when set, is returned by the next call of any kind.
	failNext  error
	transacts int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{
		testRequestsTable: {},
		testPairsTable:    {},
	}}
}

// pkOf returns the partition key value for table. Pair guards also carry
// request_id, so the key attribute is chosen by table, not by presence.
func pkOf(table string, key map[string]types.AttributeValue) (string, error) {
	name := "request_id"
	if table == testPairsTable {
		name = "pair_key"
	}
	if v, ok := key[name].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	return "", fmt.Errorf("no %s key for table %s", name, table)
}

func (m *mockDynamo) takeFail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *mockDynamo) request(table, pk string) (*AccessRequest, error) {
	item, ok := m.tables[table][pk]
	if !ok {
		return nil, nil
	}
	var r AccessRequest
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func sval(values map[string]types.AttributeValue, name string) string {
	if v, ok := values[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func nval(values map[string]types.AttributeValue, name string) int {
	var n int
	if v, ok := values[name].(*types.AttributeValueMemberN); ok {
		fmt.Sscanf(v.Value, "%d", &n)
	}
	return n
}

// check evaluates cond against the current item in table/pk.
func (m *mockDynamo) check(table, pk string, cond *string, values map[string]types.AttributeValue) (bool, error) {
	if cond == nil {
		return true, nil
	}
	item, exists := m.tables[table][pk]
	switch *cond {
	case "attribute_not_exists(pair_key)", "attribute_not_exists(request_id)":
		return !exists, nil
	case "attribute_exists(request_id)":
		return exists, nil
	case "request_id = :rid":
		if !exists {
			return false, nil
		}
		v, _ := item["request_id"].(*types.AttributeValueMemberS)
		return v != nil && v.Value == sval(values, ":rid"), nil
	}

	r, err := m.request(table, pk)
	if err != nil || r == nil {
		return false, err
	}
	pending := r.Status == StatusPending
	switch *cond {
	case condPendingUndecided:
		return pending && r.Decision == nil && !r.IsDeleted, nil
	case condCanCreateIntent:
		return pending && r.Payment != nil && r.Payment.SucceededAt == nil &&
			r.Payment.FailureCount < nval(values, ":max") && !r.IsDeleted, nil
	case condCanMarkPaid:
		return pending && r.Payment != nil && r.Payment.SucceededAt == nil, nil
	case condCanRecordFailure:
		if !pending || r.Payment == nil || r.Payment.FailureCount >= nval(values, ":max") {
			return false, nil
		}
		for _, id := range r.FailedEventIDs {
			if id == sval(values, ":eid") {
				return false, nil
			}
		}
		return true, nil
	case condNotDeleted:
		return !r.IsDeleted, nil
	case condDeleted:
		return r.IsDeleted, nil
	}
	return false, fmt.Errorf("mock: unsupported condition %q", *cond)
}

// apply performs update on the stored request.
func (m *mockDynamo) apply(table, pk, update string, values map[string]types.AttributeValue) error {
	r, err := m.request(table, pk)
	if err != nil {
		return err
	}
	if r == nil {
		return errors.New("mock: update of missing item")
	}
	if err := attributevalue.Unmarshal(values[":ua"], &r.UpdatedAt); err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(update, "SET #s = :new, admin_decision"):
		r.Status = sval(values, ":new")
		var d AdminDecision
		if err := attributevalue.Unmarshal(values[":d"], &d); err != nil {
			return err
		}
		r.Decision = &d
		if p, ok := values[":p"]; ok {
			var pay Payment
			if err := attributevalue.Unmarshal(p, &pay); err != nil {
				return err
			}
			r.Payment = &pay
		}
	case update == updateSetPaymentRef:
		r.Payment.ExternalRef = sval(values, ":ref")
		r.PaymentRef = sval(values, ":ref")
		r.Payment.Status = sval(values, ":ppending")
	case update == updateMarkPaid:
		r.Status = sval(values, ":paid")
		r.Payment.Status = sval(values, ":succeeded")
		var at time.Time
		if err := attributevalue.Unmarshal(values[":at"], &at); err != nil {
			return err
		}
		r.Payment.SucceededAt = &at
	case update == updateRecordFailure:
		r.Payment.FailureCount++
		var ats []time.Time
		if err := attributevalue.Unmarshal(values[":at"], &ats); err != nil {
			return err
		}
		r.Payment.FailedAt = append(r.Payment.FailedAt, ats...)
		r.Payment.Status = sval(values, ":failed")
		r.FailedEventIDs = append(r.FailedEventIDs, values[":eids"].(*types.AttributeValueMemberSS).Value...)
	case update == updateSoftDelete || update == updateRestore:
		var entries []HistoryEntry
		if err := attributevalue.Unmarshal(values[":entry"], &entries); err != nil {
			return err
		}
		r.History = append(r.History, entries...)
		if update == updateSoftDelete {
			r.IsDeleted = true
			var at time.Time
			if err := attributevalue.Unmarshal(values[":at"], &at); err != nil {
				return err
			}
			r.DeletedAt = &at
			r.DeletedBy = sval(values, ":by")
		} else {
			r.IsDeleted = false
			r.DeletedAt = nil
			r.DeletedBy = ""
		}
	default:
		return fmt.Errorf("mock: unsupported update %q", update)
	}

	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return err
	}
	m.tables[table][pk] = item
	return nil
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	pk, err := pkOf(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := m.check(*in.TableName, pk, in.ConditionExpression, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.tables[*in.TableName][pk] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	pk, err := pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[*in.TableName][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	pk, err := pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := m.check(*in.TableName, pk, in.ConditionExpression, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if err := m.apply(*in.TableName, pk, *in.UpdateExpression, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	pk, err := pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := m.check(*in.TableName, pk, in.ConditionExpression, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.tables[*in.TableName], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	if in.IndexName == nil || *in.IndexName != PaymentRefIndex {
		return nil, errors.New("mock: only the payment_ref index is supported")
	}
	ref := sval(in.ExpressionAttributeValues, ":ref")
	var out []map[string]types.AttributeValue
	for _, item := range m.tables[*in.TableName] {
		if v, ok := item["payment_ref"].(*types.AttributeValueMemberS); ok && v.Value == ref {
			out = append(out, item)
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail(); err != nil {
		return nil, err
	}
	var out []map[string]types.AttributeValue
	for _, item := range m.tables[*in.TableName] {
		out = append(out, item)
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transacts++
	if err := m.takeFail(); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var (
			table  string
			key    map[string]types.AttributeValue
			cond   *string
			values map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			table, key, cond, values = *ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			table, key, cond, values = *ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeValues
		case ti.Delete != nil:
			table, key, cond, values = *ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeValues
		default:
			return nil, errors.New("mock: unsupported transact item")
		}
		pk, err := pkOf(table, key)
		if err != nil {
			return nil, err
		}
		ok, err := m.check(table, pk, cond, values)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: awsString(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             awsString("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			pk, _ := pkOf(*ti.Put.TableName, ti.Put.Item)
			m.tables[*ti.Put.TableName][pk] = ti.Put.Item
		case ti.Update != nil:
			pk, _ := pkOf(*ti.Update.TableName, ti.Update.Key)
			if err := m.apply(*ti.Update.TableName, pk, *ti.Update.UpdateExpression, ti.Update.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		case ti.Delete != nil:
			pk, _ := pkOf(*ti.Delete.TableName, ti.Delete.Key)
			delete(m.tables[*ti.Delete.TableName], pk)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
