package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grant-access/internal/aws"
)

// InAppNotification is a row in the notifications table.
type InAppNotification struct {
	NotificationID string    `dynamodbav:"notification_id"` // PK
	RecipientID    string    `dynamodbav:"recipient_id"`
	Role           string    `dynamodbav:"role"`
	Kind           Kind      `dynamodbav:"kind"`
	RequestID      string    `dynamodbav:"request_id,omitempty"`
	Title          string    `dynamodbav:"title"`
	Message        string    `dynamodbav:"message"`
	Read           bool      `dynamodbav:"read"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
}

// InAppStore creates in-app notification records.
type InAppStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewInAppStore(client aws.DynamoDBAPI, tableName string) *InAppStore {
	return &InAppStore{client: client, tableName: tableName}
}

// Create writes n once. A redelivered queue message carries the same
// notification id, so a second Create for it is a no-op.
func (s *InAppStore) Create(ctx context.Context, n InAppNotification) (string, error) {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(notification_id)"),
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return n.NotificationID, nil
		}
		return "", fmt.Errorf("put notification: %w", err)
	}
	return n.NotificationID, nil
}

func awsString(s string) *string { return &s }
