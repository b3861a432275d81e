package adapter

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/dynamo"
)

// messageDynamoDB is the narrow DynamoDB surface the message store needs.
// The *dynamodb.Client satisfies this interface.
type messageDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

// messageItem is the DynamoDB item shape for the messages table. The sort
// key orders a room's messages by creation time, with the id breaking ties.
type messageItem struct {
	RoomID    string `dynamodbav:"room_id"`
	SortKey   string `dynamodbav:"sk"`
	MessageID string `dynamodbav:"message_id"`
	UserID    string `dynamodbav:"user_id"`
	Content   string `dynamodbav:"content"`
	CreatedAt string `dynamodbav:"created_at"`
}

// DynamoMessageStore persists chat messages in DynamoDB, partitioned by
// room.
type DynamoMessageStore struct {
	db        messageDynamoDB
	tableName string
}

// NewDynamoMessageStore creates a DynamoMessageStore.
func NewDynamoMessageStore(db messageDynamoDB, tableName string) *DynamoMessageStore {
	return &DynamoMessageStore{db: db, tableName: tableName}
}

func messageSortKey(m domain.ChatMessage) string {
	return fmt.Sprintf("%020d#%s", m.CreatedAt.UnixNano(), m.ID)
}

// InsertMessage stores msg once. A row with the same sort key fails with
// domain.ErrAlreadyExists; other SDK errors are classified into domain
// sentinels.
func (s *DynamoMessageStore) InsertMessage(ctx context.Context, msg domain.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "dynamo.messages.insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(messageItem{
		RoomID:    msg.RoomID.String(),
		SortKey:   messageSortKey(msg),
		MessageID: msg.ID.String(),
		UserID:    msg.UserID.String(),
		Content:   msg.Content,
		CreatedAt: domain.FormatTimestamp(msg.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("message store: marshal message: %w", err)
	}

	cond, err := dynamo.PutIfAbsent("sk")
	if err != nil {
		return fmt.Errorf("message store: build condition: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      av,
		ConditionExpression:       cond.Condition(),
		ExpressionAttributeNames:  cond.Names(),
		ExpressionAttributeValues: cond.Values(),
	})
	if err != nil {
		err = dynamo.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("message store: insert: %w", err)
	}

	return nil
}

// ListRecent returns up to limit of the room's newest messages, oldest
// first.
func (s *DynamoMessageStore) ListRecent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error) {
	ctx, span := tracer.Start(ctx, "dynamo.messages.list_recent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	keyExpr, err := dynamo.KeyEquals("room_id", roomID.String())
	if err != nil {
		return nil, fmt.Errorf("message store: build key condition: %w", err)
	}

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    keyExpr.KeyCondition(),
		ExpressionAttributeNames:  keyExpr.Names(),
		ExpressionAttributeValues: keyExpr.Values(),
		ScanIndexForward:          dynamo.Bool(false),
		Limit:                     dynamo.Int32(int32(limit)),
	})
	if err != nil {
		err = dynamo.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("message store: list recent: %w", err)
	}

	var items []messageItem
	if err := dynamo.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("message store: unmarshal messages: %w", err)
	}
	slices.Reverse(items)

	rows := make([]domain.RawRow, 0, len(items))
	for _, item := range items {
		userID := item.UserID
		content := item.Content
		rows = append(rows, domain.RawRow{
			ID:        item.MessageID,
			RoomID:    item.RoomID,
			UserID:    &userID,
			Content:   &content,
			CreatedAt: item.CreatedAt,
			Type:      string(domain.EntryTypeUser),
		})
	}
	return rows, nil
}
