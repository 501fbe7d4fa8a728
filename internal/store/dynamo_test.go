package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/session"
)

// fakeDynamo keeps items by PK and honours the revision condition.
type fakeDynamo struct {
	mu     sync.Mutex
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func numAttr(t types.AttributeValue) int64 {
	n, ok := t.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if cur, ok := f.items[pk]; ok && in.ConditionExpression != nil {
		if numAttr(cur["rev"]) >= numAttr(in.ExpressionAttributeValues[":rev"]) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("stale")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]ingest.ImagePayload
	gets    int
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: make(map[string]ingest.ImagePayload)} }

func (b *fakeBlobs) Put(_ context.Context, key string, p ingest.ImagePayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = p
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, key string) (ingest.ImagePayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	p, ok := b.objects[key]
	if !ok {
		return ingest.ImagePayload{}, errors.New("no such key " + key)
	}
	return p, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	original := ingest.NewImagePayload([]byte("before"), "image/PNG")
	enhanced := ingest.NewImagePayload([]byte("after"), "image/PNG")

	tests := []struct {
		name  string
		state session.State
		check func(t *testing.T, got session.State)
	}{
		{"awaiting", session.AwaitingCredential{}, nil},
		{"idle", session.Idle{}, nil},
		{"processing", session.Processing{Original: original}, func(t *testing.T, got session.State) {
			p := got.(session.Processing)
			if string(p.Original.Bytes()) != "before" || p.Original.MediaType() != "image/PNG" {
				t.Errorf("original = %q %q", p.Original.Bytes(), p.Original.MediaType())
			}
		}},
		{"complete", session.Complete{Result: session.EnhancementResult{Original: original, Enhanced: enhanced}}, func(t *testing.T, got session.State) {
			c := got.(session.Complete)
			if string(c.Result.Original.Bytes()) != "before" || string(c.Result.Enhanced.Bytes()) != "after" {
				t.Errorf("result = %q / %q", c.Result.Original.Bytes(), c.Result.Enhanced.Bytes())
			}
		}},
		{"failed", session.Failed{Message: "quota exhausted", Err: errors.New("quota exhausted")}, func(t *testing.T, got session.State) {
			f := got.(session.Failed)
			if f.Message != "quota exhausted" || f.Err == nil || f.Err.Error() != "quota exhausted" {
				t.Errorf("failed = %+v", f)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newDynamoStore(newFakeDynamo(), "sessions", newFakeBlobs())

			if err := s.Save(ctx, "abc", 42, tt.state); err != nil {
				t.Fatal(err)
			}
			got, rev, err := s.Load(ctx, "abc", 0)
			if err != nil {
				t.Fatal(err)
			}
			if rev != 42 || got == nil || got.Name() != tt.state.Name() {
				t.Fatalf("loaded %v rev %d", got, rev)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	db := newFakeDynamo()
	s := newDynamoStore(db, "sessions", newFakeBlobs())
	before := time.Now().Add(DefaultTTL).Unix()

	if err := s.Save(context.Background(), "abc", 7, session.Idle{}); err != nil {
		t.Fatal(err)
	}
	item := db.items["SESSION#abc"]
	if item == nil {
		t.Fatal("item not written under SESSION#abc")
	}
	if sk := item["SK"].(*types.AttributeValueMemberS).Value; sk != "STATE" {
		t.Errorf("SK = %s", sk)
	}
	if exp := numAttr(item["expiresAt"]); exp < before {
		t.Errorf("expiresAt = %d, want >= %d", exp, before)
	}
	if st := item["state"].(*types.AttributeValueMemberS).Value; st != session.NameIdle {
		t.Errorf("state = %s", st)
	}
}

func TestDynamoStore_UnchangedRevisionSkipsBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	s := newDynamoStore(newFakeDynamo(), "sessions", blobs)
	done := session.Complete{Result: session.EnhancementResult{
		Original: ingest.NewImagePayload([]byte("a"), "image/png"),
		Enhanced: ingest.NewImagePayload([]byte("b"), "image/png"),
	}}
	if err := s.Save(ctx, "abc", 5, done); err != nil {
		t.Fatal(err)
	}

	st, rev, err := s.Load(ctx, "abc", 5)
	if err != nil || st != nil || rev != 5 {
		t.Fatalf("Load(known) = %v, %d, %v", st, rev, err)
	}
	if blobs.gets != 0 {
		t.Errorf("payloads fetched for an unchanged revision: %d", blobs.gets)
	}
}

func TestDynamoStore_OlderRevisionLoses(t *testing.T) {
	ctx := context.Background()
	s := newDynamoStore(newFakeDynamo(), "sessions", newFakeBlobs())

	if err := s.Save(ctx, "abc", 10, session.Failed{Message: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "abc", 9, session.Idle{}); err != nil {
		t.Fatalf("stale write should be skipped quietly: %v", err)
	}
	st, rev, err := s.Load(ctx, "abc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rev != 10 || st.Name() != session.NameFailed {
		t.Errorf("stored %s rev %d, want failed rev 10", st.Name(), rev)
	}
}

func TestDynamoStore_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s := newDynamoStore(db, "sessions", newFakeBlobs())

	if _, _, err := s.Load(ctx, "missing", 0); !errors.Is(err, session.ErrNotStored) {
		t.Errorf("missing session err = %v", err)
	}

	db.putErr = errors.New("throttled")
	if err := s.Save(ctx, "abc", 1, session.Idle{}); err == nil {
		t.Error("PutItem failure should surface")
	}
}

func TestDynamoStore_SharedAcrossRegistries(t *testing.T) {
	ctx := context.Background()
	st := newDynamoStore(newFakeDynamo(), "sessions", newFakeBlobs())
	enh := enhancerFunc(func(_ context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error) {
		return ingest.NewImagePayload([]byte("enhanced"), img.MediaType()), nil
	})
	newReg := func() *session.Registry {
		return session.NewRegistry(func() *session.Session { return session.New(haveKey{}, enh) }, session.WithStore(st))
	}
	a, b := newReg(), newReg()

	s := a.Create()
	s.CheckCredential(ctx)
	done, err := s.Submit(ctx, ingest.FromBytes("p.png", "image/png", []byte("original")))
	if err != nil {
		t.Fatal(err)
	}
	<-done

	other, ok := b.Get(ctx, s.ID())
	if !ok {
		t.Fatal("session not found by the second registry")
	}
	res, ok := other.Result()
	if !ok || string(res.Enhanced.Bytes()) != "enhanced" {
		t.Fatalf("state = %s", other.State().Name())
	}
}

type enhancerFunc func(ctx context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error)

func (f enhancerFunc) Enhance(ctx context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error) {
	return f(ctx, img)
}

type haveKey struct{}

func (haveKey) HasCredential(context.Context) bool       { return true }
func (haveKey) PromptForCredential(context.Context) error { return nil }
