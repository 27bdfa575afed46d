package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"telegram-relay/internal/domain"
)

const (
	// Secondary indexes the tables are provisioned with.
	telegramIDIndex = "telegramId-index"
	userIDIndex     = "userId-index"

	// sortableTime has fixed-width fractional seconds so sort keys order
	// lexically the same way they order in time.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Tables names the three collections the relay reads and writes.
type Tables struct {
	Users    string
	Sessions string
	Chats    string
}

func (t Tables) validate() error {
	if strings.TrimSpace(t.Users) == "" {
		return errors.New("users table name must not be empty")
	}
	if strings.TrimSpace(t.Sessions) == "" {
		return errors.New("sessions table name must not be empty")
	}
	if strings.TrimSpace(t.Chats) == "" {
		return errors.New("chats table name must not be empty")
	}
	return nil
}

func (t Tables) all() []string {
	return []string{t.Users, t.Sessions, t.Chats}
}

// DynamoStore keeps users, sessions and chat turns in three DynamoDB tables.
//
// users:    hash key "id", GSI telegramId-index on "telegramId"
// sessions: hash key "id", GSI userId-index on "userId"
// chats:    hash key "sessionId", range key "sk" (<createdAt>#<id>)
type DynamoStore struct {
	api    dynamodbAPI
	tables Tables
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(api dynamodbAPI, tables Tables) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if err := tables.validate(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	return &DynamoStore{api: api, tables: tables}, nil
}

// turnSK returns the chats range key; the id suffix keeps equal timestamps distinct.
func turnSK(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(sortableTime) + "#" + id
}

// FindUserByTelegramID returns the first user registered for telegramID, or nil.
func (s *DynamoStore) FindUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Users),
		IndexName:              aws.String(telegramIDIndex),
		KeyConditionExpression: aws.String("telegramId = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: telegramID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByTelegramID query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return nil, nil
	}
	user, err := itemToUser(out.Items[0])
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByTelegramID unmarshal: %w", err)
	}
	return &user, nil
}

// CreateUser writes a new user document.
func (s *DynamoStore) CreateUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return errors.New("repository: CreateUser: id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Users),
		Item:                userItem(user),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// FindActiveSession returns the first active session of userID in index
// order, or nil when there is none.
func (s *DynamoStore) FindActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Sessions),
		IndexName:              aws.String(userIDIndex),
		KeyConditionExpression: aws.String("userId = :uid"),
		FilterExpression:       aws.String("active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":    &types.AttributeValueMemberS{Value: userID},
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	// The filter runs after the key read, so an empty page does not mean no match.
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: FindActiveSession query: %w", err)
		}
		if out == nil {
			return nil, nil
		}
		if len(out.Items) > 0 {
			session, err := itemToSession(out.Items[0])
			if err != nil {
				return nil, fmt.Errorf("repository: FindActiveSession unmarshal: %w", err)
			}
			return &session, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CreateSession writes a new session document.
func (s *DynamoStore) CreateSession(ctx context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("repository: CreateSession: id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Sessions),
		Item:                sessionItem(session),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns of a session, newest first.
func (s *DynamoStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Chats),
		KeyConditionExpression: aws.String("sessionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// CreateTurn appends one chat turn.
func (s *DynamoStore) CreateTurn(ctx context.Context, turn domain.Turn) error {
	if turn.ID == "" || turn.SessionID == "" {
		return errors.New("repository: CreateTurn: id and session id are required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Chats),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(sessionId) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateTurn: %w", err)
	}
	return nil
}

// Ping checks that every configured table exists and is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	for _, name := range s.tables.all() {
		if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}); err != nil {
			return fmt.Errorf("repository: describe table %q: %w", name, err)
		}
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources of its own.
func (s *DynamoStore) Close() error { return nil }

func userItem(u domain.User) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: u.ID},
		"telegramId": &types.AttributeValueMemberS{Value: u.TelegramID},
		"username":   &types.AttributeValueMemberS{Value: u.Username},
		"createdAt":  &types.AttributeValueMemberS{Value: formatTime(u.CreatedAt)},
	}
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: s.ID},
		"userId":    &types.AttributeValueMemberS{Value: s.UserID},
		"active":    &types.AttributeValueMemberBOOL{Value: s.Active},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(s.CreatedAt)},
	}
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: t.SessionID},
		"sk":        &types.AttributeValueMemberS{Value: turnSK(t.CreatedAt, t.ID)},
		"id":        &types.AttributeValueMemberS{Value: t.ID},
		"userId":    &types.AttributeValueMemberS{Value: t.UserID},
		"role":      &types.AttributeValueMemberS{Value: t.Role},
		"content":   &types.AttributeValueMemberS{Value: t.Content},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(t.CreatedAt)},
	}
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.User{}, err
	}
	telegramID, err := strAttr(item, "telegramId")
	if err != nil {
		return domain.User{}, err
	}
	username, _ := strAttr(item, "username") // allow empty
	return domain.User{
		ID:         id,
		TelegramID: telegramID,
		Username:   username,
		CreatedAt:  timeAttr(item, "createdAt"),
	}, nil
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Session{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Session{}, err
	}
	active, err := boolAttr(item, "active")
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:        id,
		UserID:    userID,
		Active:    active,
		CreatedAt: timeAttr(item, "createdAt"),
	}, nil
}

// itemToTurn passes role values through uninterpreted.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	id, _ := strAttr(item, "id")
	userID, _ := strAttr(item, "userId")
	return domain.Turn{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: timeAttr(item, "createdAt"),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

// timeAttr yields the zero time for absent or unparsable timestamps.
func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}
	}
	return parseTime(raw)
}
