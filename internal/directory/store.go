// Package directory resolves agents and users from the users table.
package directory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grant-access/internal/aws"
)

// Roles stored on user records.
const (
	RoleAgent  = "agent"
	RoleAdmin  = "admin"
	RoleRenter = "renter"
)

// User is the identity part of a users-table item.
type User struct {
	UserID string `dynamodbav:"user_id" json:"user_id"`
	Name   string `dynamodbav:"name" json:"name"`
	Email  string `dynamodbav:"email" json:"email"`
	Phone  string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Role   string `dynamodbav:"role" json:"role"`
}

// AgentProfile carries the agent flags the grant-access engine consults.
type AgentProfile struct {
	AgentID                  string `dynamodbav:"user_id" json:"agent_id"`
	HasGrantAccess           bool   `dynamodbav:"has_grant_access" json:"has_grant_access"`
	EmailSubscriptionEnabled bool   `dynamodbav:"email_subscription_enabled" json:"email_subscription_enabled"`
	Brokerage                string `dynamodbav:"brokerage,omitempty" json:"brokerage,omitempty"`
	Name                     string `dynamodbav:"name" json:"name"`
	Email                    string `dynamodbav:"email" json:"email"`
	Phone                    string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Role                     string `dynamodbav:"role" json:"role"`
}

// Store reads users and agent profiles. Both live on the same item.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) get(ctx context.Context, userID string, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal user: %w", err)
	}
	return true, nil
}

// GetUser returns (nil, nil) if the user does not exist.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	ok, err := s.get(ctx, userID, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// GetAgentProfile returns (nil, nil) if no agent with agentID exists.
func (s *Store) GetAgentProfile(ctx context.Context, agentID string) (*AgentProfile, error) {
	var p AgentProfile
	ok, err := s.get(ctx, agentID, &p)
	if err != nil || !ok {
		return nil, err
	}
	if p.Role != RoleAgent {
		return nil, nil
	}
	return &p, nil
}
