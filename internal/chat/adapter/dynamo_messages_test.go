package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/dynamo"
)

// ---------------------------------------------------------------------------
// stubMessageDynamo implements messageDynamoDB for unit tests.
// ---------------------------------------------------------------------------

type stubMessageDynamo struct {
	putItemFn func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	queryFn   func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

func (s *stubMessageDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubMessageDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

var _ messageDynamoDB = (*stubMessageDynamo)(nil)

const messagesTable = "messages"

var storeEpoch = time.Date(2026, 3, 1, 18, 0, 0, 123456789, time.UTC)

func newStoreMessage(room domain.RoomID, user domain.UserID) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        domain.GenerateMessageID(),
		RoomID:    room,
		UserID:    user,
		Content:   "hello",
		CreatedAt: storeEpoch,
	}
}

func TestDynamoMessageStore_InsertMessage(t *testing.T) {
	room := domain.GenerateRoomID()
	user := domain.GenerateUserID()

	t.Run("success - conditional put with sortable key", func(t *testing.T) {
		var captured messageItem
		db := &stubMessageDynamo{
			putItemFn: func(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				require.NotNil(t, params.ConditionExpression)
				assert.Contains(t, *params.ConditionExpression, "attribute_not_exists")

				var items []messageItem
				require.NoError(t, dynamo.UnmarshalListOfMaps([]map[string]dynamo.AttributeValue{params.Item}, &items))
				captured = items[0]
				return &dynamo.PutItemOutput{}, nil
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		msg := newStoreMessage(room, user)
		err := store.InsertMessage(context.Background(), msg)

		require.NoError(t, err)
		assert.Equal(t, room.String(), captured.RoomID)
		assert.Equal(t, user.String(), captured.UserID)
		assert.Equal(t, "hello", captured.Content)
		assert.Equal(t, msg.ID.String(), captured.MessageID)
		assert.Equal(t, "2026-03-01T18:00:00.123456789Z", captured.CreatedAt)
		assert.Equal(t, "01772388000123456789#"+msg.ID.String(), captured.SortKey)
	})

	t.Run("conditional failure maps to already exists", func(t *testing.T) {
		db := &stubMessageDynamo{
			putItemFn: func(context.Context, *dynamo.PutItemInput, ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, dynamo.ErrConditionalCheckFailed()
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		err := store.InsertMessage(context.Background(), newStoreMessage(room, user))

		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		db := &stubMessageDynamo{
			putItemFn: func(context.Context, *dynamo.PutItemInput, ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, errors.New("connection reset")
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		err := store.InsertMessage(context.Background(), newStoreMessage(room, user))

		assert.ErrorContains(t, err, "message store: insert")
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestDynamoMessageStore_ListRecent(t *testing.T) {
	room := domain.GenerateRoomID()
	user := domain.GenerateUserID()

	item := func(id, content string, at time.Time) map[string]dynamo.AttributeValue {
		av, err := dynamo.MarshalMap(messageItem{
			RoomID:    room.String(),
			SortKey:   "x#" + id,
			MessageID: id,
			UserID:    user.String(),
			Content:   content,
			CreatedAt: domain.FormatTimestamp(at),
		})
		require.NoError(t, err)
		return av
	}

	t.Run("newest first query returned oldest first", func(t *testing.T) {
		newer := domain.GenerateMessageID().String()
		older := domain.GenerateMessageID().String()
		db := &stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				require.NotNil(t, params.ScanIndexForward)
				assert.False(t, *params.ScanIndexForward)
				require.NotNil(t, params.Limit)
				assert.Equal(t, int32(50), *params.Limit)
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{
					item(newer, "second", storeEpoch.Add(time.Second)),
					item(older, "first", storeEpoch),
				}}, nil
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		rows, err := store.ListRecent(context.Background(), room, 50)

		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, older, rows[0].ID)
		assert.Equal(t, newer, rows[1].ID)
		require.NotNil(t, rows[0].Content)
		assert.Equal(t, "first", *rows[0].Content)

		entry, err := domain.ParseEntry(rows[0])
		require.NoError(t, err)
		assert.Equal(t, domain.EntryTypeUser, entry.Type())
	})

	t.Run("empty room", func(t *testing.T) {
		db := &stubMessageDynamo{
			queryFn: func(context.Context, *dynamo.QueryInput, ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{}, nil
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		rows, err := store.ListRecent(context.Background(), room, 10)

		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("query error", func(t *testing.T) {
		db := &stubMessageDynamo{
			queryFn: func(context.Context, *dynamo.QueryInput, ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("throttled")
			},
		}
		store := NewDynamoMessageStore(db, messagesTable)

		_, err := store.ListRecent(context.Background(), room, 10)

		assert.ErrorContains(t, err, "message store: list recent")
	})
}
