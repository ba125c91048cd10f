package listings

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grant-access/internal/aws"
)

// ErrNotFound is returned by AddViewer when the listing does not exist.
var ErrNotFound = errors.New("listing not found")

// Store reads listings and maintains their viewed-by sets.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a listings Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) key(listingID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"listing_id": &types.AttributeValueMemberS{Value: listingID},
	}
}

// Get fetches a listing. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, listingID string) (*Listing, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(listingID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var l Listing
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, fmt.Errorf("unmarshal listing: %w", err)
	}
	return &l, nil
}

// GetActivation reports whether a listing exists and is active.
func (s *Store) GetActivation(ctx context.Context, listingID string) (Activation, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:            &s.tableName,
		Key:                  s.key(listingID),
		ProjectionExpression: awsString("listing_id, is_active"),
		ConsistentRead:       awsBool(true),
	})
	if err != nil {
		return Activation{}, fmt.Errorf("get listing activation: %w", err)
	}
	if len(out.Item) == 0 {
		return Activation{}, nil
	}
	var l Listing
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return Activation{}, fmt.Errorf("unmarshal listing: %w", err)
	}
	return Activation{Exists: true, IsActive: l.IsActive}, nil
}

// AddViewer records agentID in the listing's viewed-by set for viewerClass.
// DynamoDB ADD on a string set is idempotent, so concurrent grants from
// different code paths converge.
func (s *Store) AddViewer(ctx context.Context, listingID, agentID, viewerClass string) error {
	var attr string
	switch viewerClass {
	case ViewerGrantAccess:
		attr = "viewed_by_grant_access"
	case ViewerNormal:
		attr = "viewed_by_normal"
	default:
		return fmt.Errorf("unknown viewer class %q", viewerClass)
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(listingID),
		UpdateExpression:         awsString("ADD #set :agent"),
		ConditionExpression:      awsString("attribute_exists(listing_id)"),
		ExpressionAttributeNames: map[string]string{"#set": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":agent": &types.AttributeValueMemberSS{Value: []string{agentID}},
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrNotFound
		}
		return fmt.Errorf("add viewer: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
