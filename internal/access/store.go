package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/grant-access/internal/aws"
)

var (
	// ErrStatusMismatch indicates a conditional write failed: the request is
	// no longer in the state the transition expected.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicate indicates a non-deleted request already exists for the pair.
	ErrDuplicate = errors.New("access request already exists for listing and agent")
)

// PaymentRefIndex is the GSI on payment_ref used to correlate webhooks.
const PaymentRefIndex = "payment_ref-index"

// Condition and update expressions. Shared with the tests' mock.
const (
	condPendingUndecided = "#s = :pending AND attribute_not_exists(admin_decision) AND is_deleted = :false"
	condCanCreateIntent  = "#s = :pending AND attribute_exists(payment) AND attribute_not_exists(payment.succeeded_at) AND payment.failure_count < :max AND is_deleted = :false"
	condCanMarkPaid      = "#s = :pending AND attribute_exists(payment) AND attribute_not_exists(payment.succeeded_at)"
	condCanRecordFailure = "#s = :pending AND attribute_exists(payment) AND payment.failure_count < :max AND NOT contains(failed_event_ids, :eid)"
	condNotDeleted       = "is_deleted = :false"
	condDeleted          = "is_deleted = :true"

	updateSetPaymentRef = "SET payment.external_ref = :ref, payment_ref = :ref, payment.#ps = :ppending, updated_at = :ua"
	updateMarkPaid      = "SET #s = :paid, payment.#ps = :succeeded, payment.succeeded_at = :at, updated_at = :ua"
	updateRecordFailure = "SET payment.failure_count = payment.failure_count + :one, payment.failed_at = list_append(if_not_exists(payment.failed_at, :empty), :at), payment.#ps = :failed, updated_at = :ua ADD failed_event_ids :eids"
	updateSoftDelete    = "SET is_deleted = :true, deleted_at = :at, deleted_by = :by, history = list_append(if_not_exists(history, :empty), :entry), updated_at = :ua"
	updateRestore       = "SET is_deleted = :false, history = list_append(if_not_exists(history, :empty), :entry), updated_at = :ua REMOVE deleted_at, deleted_by"
)

// pairItem guards (listing, agent) uniqueness in the pairs table.
type pairItem struct {
	PairKey   string `dynamodbav:"pair_key"` // PK
	RequestID string `dynamodbav:"request_id"`
	ListingID string `dynamodbav:"listing_id"`
	AgentID   string `dynamodbav:"agent_id"`
}

func pairKey(listingID, agentID string) string {
	return listingID + "#" + agentID
}

// Store persists access requests in DynamoDB. Requests live in one table;
// a second table holds one guard item per non-deleted (listing, agent) pair.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	pairsTable string
	nowFunc    func() time.Time
}

// NewStore creates a new access request Store.
func NewStore(client aws.DynamoDBAPI, tableName, pairsTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		pairsTable: pairsTable,
		nowFunc:    time.Now,
	}
}

func requestKey(requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"request_id": &types.AttributeValueMemberS{Value: requestID},
	}
}

func pairKeyAttr(listingID, agentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pair_key": &types.AttributeValueMemberS{Value: pairKey(listingID, agentID)},
	}
}

func (s *Store) now() types.AttributeValue {
	return timeValue(s.nowFunc().UTC())
}

func timeValue(t time.Time) types.AttributeValue {
	av, err := attributevalue.Marshal(t)
	if err != nil {
		// time.Time always marshals
		panic(err)
	}
	return av
}

func isConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	if errors.As(err, &cf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// cancelReason returns the cancellation code for the i-th transact item, or
// "" if the service did not report one.
func cancelReason(tce *types.TransactionCanceledException, i int) string {
	if i < len(tce.CancellationReasons) && tce.CancellationReasons[i].Code != nil {
		return *tce.CancellationReasons[i].Code
	}
	return ""
}

// Create atomically writes the pair guard and the request. It returns
// ErrDuplicate if a non-deleted request already exists for the pair.
func (s *Store) Create(ctx context.Context, req AccessRequest) error {
	now := s.nowFunc().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	reqMap, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal access request: %w", err)
	}
	pairMap, err := attributevalue.MarshalMap(pairItem{
		PairKey:   pairKey(req.ListingID, req.AgentID),
		RequestID: req.RequestID,
		ListingID: req.ListingID,
		AgentID:   req.AgentID,
	})
	if err != nil {
		return fmt.Errorf("marshal pair item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.pairsTable,
					Item:                pairMap,
					ConditionExpression: awsString("attribute_not_exists(pair_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                reqMap,
					ConditionExpression: awsString("attribute_not_exists(request_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if r := cancelReason(tce, 0); r == "" || r == "ConditionalCheckFailed" {
				return ErrDuplicate
			}
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches a request by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, requestID string) (*AccessRequest, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            requestKey(requestID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalRequest(out.Item)
}

func unmarshalRequest(item map[string]types.AttributeValue) (*AccessRequest, error) {
	var r AccessRequest
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal access request: %w", err)
	}
	r.normalize()
	return &r, nil
}

// GetByPair returns the non-deleted request for (listingID, agentID), or
// (nil, nil) if there is none.
func (s *Store) GetByPair(ctx context.Context, listingID, agentID string) (*AccessRequest, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.pairsTable,
		Key:            pairKeyAttr(listingID, agentID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p pairItem
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pair: %w", err)
	}
	return s.Get(ctx, p.RequestID)
}

// GetByPaymentRef looks a request up by its external payment reference.
// The index is eventually consistent, so the hit is re-read from the table.
func (s *Store) GetByPaymentRef(ctx context.Context, ref string) (*AccessRequest, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(PaymentRefIndex),
		KeyConditionExpression: awsString("payment_ref = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query payment ref: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	hit, err := unmarshalRequest(out.Items[0])
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, hit.RequestID)
}

// List scans every request, deleted ones included.
func (s *Store) List(ctx context.Context) ([]AccessRequest, error) {
	var items []AccessRequest
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan access requests: %w", err)
		}
		for _, it := range page.Items {
			r, err := unmarshalRequest(it)
			if err != nil {
				return nil, err
			}
			items = append(items, *r)
		}
	}
	return items, nil
}

func (s *Store) update(ctx context.Context, requestID, update, cond string, names map[string]string, values map[string]types.AttributeValue) error {
	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       requestKey(requestID),
		UpdateExpression:          &update,
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ApplyDecision records an admin decision on a pending, undecided request.
// pay is stored when non-nil (charge decisions).
func (s *Store) ApplyDecision(ctx context.Context, requestID, newStatus string, decision AdminDecision, pay *Payment) error {
	decisionAV, err := attributevalue.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	update := "SET #s = :new, admin_decision = :d, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":     &types.AttributeValueMemberS{Value: newStatus},
		":d":       decisionAV,
		":ua":      s.now(),
		":pending": &types.AttributeValueMemberS{Value: StatusPending},
		":false":   &types.AttributeValueMemberBOOL{Value: false},
	}
	if pay != nil {
		payAV, err := attributevalue.Marshal(pay)
		if err != nil {
			return fmt.Errorf("marshal payment: %w", err)
		}
		update += ", payment = :p"
		values[":p"] = payAV
	}
	return s.update(ctx, requestID, update, condPendingUndecided, map[string]string{"#s": "status"}, values)
}

// SetPaymentRef stores a freshly created intent's reference. It refuses
// requests without a charge, already paid, or out of attempts.
func (s *Store) SetPaymentRef(ctx context.Context, requestID, ref string, maxAttempts int) error {
	values := map[string]types.AttributeValue{
		":ref":      &types.AttributeValueMemberS{Value: ref},
		":ppending": &types.AttributeValueMemberS{Value: PaymentPending},
		":ua":       s.now(),
		":pending":  &types.AttributeValueMemberS{Value: StatusPending},
		":max":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", maxAttempts)},
		":false":    &types.AttributeValueMemberBOOL{Value: false},
	}
	names := map[string]string{"#s": "status", "#ps": "status"}
	return s.update(ctx, requestID, updateSetPaymentRef, condCanCreateIntent, names, values)
}

// MarkPaid transitions pending -> paid exactly once. A replayed success
// finds succeeded_at set and gets ErrStatusMismatch.
func (s *Store) MarkPaid(ctx context.Context, requestID string, at time.Time) error {
	values := map[string]types.AttributeValue{
		":paid":      &types.AttributeValueMemberS{Value: StatusPaid},
		":succeeded": &types.AttributeValueMemberS{Value: PaymentSucceeded},
		":at":        timeValue(at.UTC()),
		":ua":        s.now(),
		":pending":   &types.AttributeValueMemberS{Value: StatusPending},
	}
	names := map[string]string{"#s": "status", "#ps": "status"}
	return s.update(ctx, requestID, updateMarkPaid, condCanMarkPaid, names, values)
}

// RecordPaymentFailure increments the failure counter once per gateway
// event, never past maxAttempts.
func (s *Store) RecordPaymentFailure(ctx context.Context, requestID, eventID string, at time.Time, maxAttempts int) error {
	values := map[string]types.AttributeValue{
		":one":     &types.AttributeValueMemberN{Value: "1"},
		":empty":   &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		":at":      &types.AttributeValueMemberL{Value: []types.AttributeValue{timeValue(at.UTC())}},
		":failed":  &types.AttributeValueMemberS{Value: PaymentFailed},
		":ua":      s.now(),
		":eids":    &types.AttributeValueMemberSS{Value: []string{eventID}},
		":eid":     &types.AttributeValueMemberS{Value: eventID},
		":pending": &types.AttributeValueMemberS{Value: StatusPending},
		":max":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", maxAttempts)},
	}
	names := map[string]string{"#s": "status", "#ps": "status"}
	return s.update(ctx, requestID, updateRecordFailure, condCanRecordFailure, names, values)
}

func historyValue(entry HistoryEntry) (types.AttributeValue, error) {
	av, err := attributevalue.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal history entry: %w", err)
	}
	return &types.AttributeValueMemberL{Value: []types.AttributeValue{av}}, nil
}

// SoftDelete flags the request deleted, appends to its history and
// releases the pair guard so the agent may request again.
func (s *Store) SoftDelete(ctx context.Context, requestID string, entry HistoryEntry) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil || req.IsDeleted {
		return ErrStatusMismatch
	}
	hist, err := historyValue(entry)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 requestKey(requestID),
					UpdateExpression:    awsString(updateSoftDelete),
					ConditionExpression: awsString(condNotDeleted),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":true":  &types.AttributeValueMemberBOOL{Value: true},
						":false": &types.AttributeValueMemberBOOL{Value: false},
						":at":    timeValue(entry.At.UTC()),
						":by":    &types.AttributeValueMemberS{Value: entry.Actor},
						":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
						":entry": hist,
						":ua":    s.now(),
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName:           &s.pairsTable,
					Key:                 pairKeyAttr(req.ListingID, req.AgentID),
					ConditionExpression: awsString("request_id = :rid"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":rid": &types.AttributeValueMemberS{Value: requestID},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("soft delete: %w", err)
	}
	return nil
}

// Restore reverses a soft delete. It returns ErrDuplicate if another
// request for the pair was created meanwhile.
func (s *Store) Restore(ctx context.Context, requestID string, entry HistoryEntry) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil || !req.IsDeleted {
		return ErrStatusMismatch
	}
	hist, err := historyValue(entry)
	if err != nil {
		return err
	}
	pairMap, err := attributevalue.MarshalMap(pairItem{
		PairKey:   pairKey(req.ListingID, req.AgentID),
		RequestID: req.RequestID,
		ListingID: req.ListingID,
		AgentID:   req.AgentID,
	})
	if err != nil {
		return fmt.Errorf("marshal pair item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.pairsTable,
					Item:                pairMap,
					ConditionExpression: awsString("attribute_not_exists(pair_key)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 requestKey(requestID),
					UpdateExpression:    awsString(updateRestore),
					ConditionExpression: awsString(condDeleted),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":true":  &types.AttributeValueMemberBOOL{Value: true},
						":false": &types.AttributeValueMemberBOOL{Value: false},
						":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
						":entry": hist,
						":ua":    s.now(),
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if cancelReason(tce, 0) == "ConditionalCheckFailed" {
				return ErrDuplicate
			}
			return ErrStatusMismatch
		}
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// Delete removes a request permanently. Returns false if it did not exist.
func (s *Store) Delete(ctx context.Context, requestID string) (bool, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}

	if req.IsDeleted {
		// pair guard was released by the soft delete
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName:           &s.tableName,
			Key:                 requestKey(requestID),
			ConditionExpression: awsString("attribute_exists(request_id)"),
		})
		if err != nil {
			if isConditionFailed(err) {
				return false, nil
			}
			return false, fmt.Errorf("delete item: %w", err)
		}
		return true, nil
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:           &s.tableName,
					Key:                 requestKey(requestID),
					ConditionExpression: awsString("attribute_exists(request_id)"),
				},
			},
			{
				Delete: &types.Delete{
					TableName:           &s.pairsTable,
					Key:                 pairKeyAttr(req.ListingID, req.AgentID),
					ConditionExpression: awsString("request_id = :rid"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":rid": &types.AttributeValueMemberS{Value: requestID},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return false, nil
		}
		return false, fmt.Errorf("delete transact: %w", err)
	}
	return true, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(i int32) *int32    { return &i }
