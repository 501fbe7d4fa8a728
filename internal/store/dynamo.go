// Package store persists enhancement sessions in DynamoDB so any Lambda
// container can serve any request of a session. The table holds one item
// per session with its state name, message and revision; image payloads
// live in S3 under keys scoped to the revision that wrote them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/session"
)

// Key layout of the session table.
const (
	pkPrefix = "SESSION#"
	skState  = "STATE"
)

// DefaultTTL is how long a stored session outlives its last transition.
const DefaultTTL = 24 * time.Hour

// DefaultBlobPrefix is where session payloads are written in the bucket.
const DefaultBlobPrefix = "sessions/"

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Blobs stores image payloads by key; *export.Bucket satisfies it.
type Blobs interface {
	Put(ctx context.Context, key string, p ingest.ImagePayload) error
	Get(ctx context.Context, key string) (ingest.ImagePayload, error)
}

// sessionItem is the table item; PK, SK and expiresAt are added on write.
type sessionItem struct {
	State       string `dynamodbav:"state"`
	Rev         int64  `dynamodbav:"rev"`
	Message     string `dynamodbav:"message,omitempty"`
	OriginalKey string `dynamodbav:"originalKey,omitempty"`
	EnhancedKey string `dynamodbav:"enhancedKey,omitempty"`
	UpdatedAt   int64  `dynamodbav:"updatedAt"`
}

// DynamoStore implements session.Store on a DynamoDB table and a bucket.
type DynamoStore struct {
	client     dynamoAPI
	tableName  string
	blobs      Blobs
	blobPrefix string
	ttl        time.Duration
}

// Compile-time interface check.
var _ session.Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore writing items to tableName and
// payloads to blobs under DefaultBlobPrefix.
func NewDynamoStore(client *dynamodb.Client, tableName string, blobs Blobs) *DynamoStore {
	return newDynamoStore(client, tableName, blobs)
}

func newDynamoStore(client dynamoAPI, tableName string, blobs Blobs) *DynamoStore {
	return &DynamoStore{
		client:     client,
		tableName:  tableName,
		blobs:      blobs,
		blobPrefix: DefaultBlobPrefix,
		ttl:        DefaultTTL,
	}
}

func sessionPK(id string) string {
	return pkPrefix + id
}

func (s *DynamoStore) blobKey(id string, rev int64, which string) string {
	return fmt.Sprintf("%s%s/%d/%s", s.blobPrefix, id, rev, which)
}

// Save writes the payloads of st, then the item. A stored revision newer
// than rev wins; the write is skipped without error.
func (s *DynamoStore) Save(ctx context.Context, id string, rev int64, st session.State) error {
	item := sessionItem{State: st.Name(), Rev: rev, UpdatedAt: time.Now().Unix()}

	switch v := st.(type) {
	case session.Processing:
		item.OriginalKey = s.blobKey(id, rev, "original")
		if err := s.blobs.Put(ctx, item.OriginalKey, v.Original); err != nil {
			return err
		}
	case session.Complete:
		item.OriginalKey = s.blobKey(id, rev, "original")
		item.EnhancedKey = s.blobKey(id, rev, "enhanced")
		if err := s.blobs.Put(ctx, item.OriginalKey, v.Result.Original); err != nil {
			return err
		}
		if err := s.blobs.Put(ctx, item.EnhancedKey, v.Result.Enhanced); err != nil {
			return err
		}
	case session.Failed:
		item.Message = v.Message
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	pk := sessionPK(id)
	av["PK"] = &types.AttributeValueMemberS{Value: pk}
	av["SK"] = &types.AttributeValueMemberS{Value: skState}
	av["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &s.tableName,
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR #rev < :rev"),
		ExpressionAttributeNames: map[string]string{"#rev": "rev"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: strconv.FormatInt(rev, 10)},
		},
	})
	if err != nil {
		var stale *types.ConditionalCheckFailedException
		if errors.As(err, &stale) {
			log.Debug().Str("session", id).Int64("rev", rev).Msg("Newer session state already stored")
			return nil
		}
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, skState, err)
	}
	log.Debug().Str("session", id).Str("state", item.State).Int64("rev", rev).Msg("Session state stored")
	return nil
}

// Load reads the item and, when its revision differs from known, the
// payloads of its state.
func (s *DynamoStore) Load(ctx context.Context, id string, known int64) (session.State, int64, error) {
	pk := sessionPK(id)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, skState, err)
	}
	if out.Item == nil {
		return nil, 0, session.ErrNotStored
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, 0, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, skState, err)
	}
	if item.Rev == known {
		return nil, item.Rev, nil
	}

	st, err := s.stateOf(ctx, item)
	if err != nil {
		return nil, 0, fmt.Errorf("session %s: %w", id, err)
	}
	return st, item.Rev, nil
}

func (s *DynamoStore) stateOf(ctx context.Context, item sessionItem) (session.State, error) {
	switch item.State {
	case session.NameAwaitingCredential:
		return session.AwaitingCredential{}, nil
	case session.NameIdle:
		return session.Idle{}, nil
	case session.NameProcessing:
		original, err := s.blobs.Get(ctx, item.OriginalKey)
		if err != nil {
			return nil, err
		}
		return session.Processing{Original: original}, nil
	case session.NameComplete:
		original, err := s.blobs.Get(ctx, item.OriginalKey)
		if err != nil {
			return nil, err
		}
		enhanced, err := s.blobs.Get(ctx, item.EnhancedKey)
		if err != nil {
			return nil, err
		}
		return session.Complete{Result: session.EnhancementResult{Original: original, Enhanced: enhanced}}, nil
	case session.NameFailed:
		return session.Failed{Message: item.Message, Err: errors.New(item.Message)}, nil
	default:
		return nil, fmt.Errorf("unknown stored state %q", item.State)
	}
}
