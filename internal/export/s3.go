package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/rs/zerolog/log"
)

// PresignExpiry is how long presigned download and upload links stay valid.
const PresignExpiry = 15 * time.Minute

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Bucket stores image payloads in one S3 bucket.
type Bucket struct {
	client    s3API
	presigner presignAPI
	name      string
}

// NewBucket creates a Bucket from an existing AWS config.
func NewBucket(cfg aws.Config, name string) *Bucket {
	client := s3.NewFromConfig(cfg)
	log.Debug().Str("region", cfg.Region).Str("bucket", name).Msg("S3 bucket client initialized")
	return newBucket(client, s3.NewPresignClient(client), name)
}

func newBucket(client s3API, presigner presignAPI, name string) *Bucket {
	return &Bucket{client: client, presigner: presigner, name: name}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Put stores p under key with its media type as Content-Type.
func (b *Bucket) Put(ctx context.Context, key string, p ingest.ImagePayload) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          p.Reader(),
		ContentType:   aws.String(p.MediaType()),
		ContentLength: aws.Int64(int64(p.Len())),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

// Get reads the object at key into a payload typed by its Content-Type.
func (b *Bucket) Get(ctx context.Context, key string) (ingest.ImagePayload, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return ingest.ImagePayload{}, b.wrapErr("GetObject", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return ingest.ImagePayload{}, fmt.Errorf("read %s from S3: %w", key, err)
	}
	return ingest.NewImagePayload(buf.Bytes(), aws.ToString(out.ContentType)), nil
}

// Open returns the object at key as an ingest.File. Its media type and size
// come from the object's metadata; the content is fetched on Open.
func (b *Bucket) Open(ctx context.Context, key, name string) (ingest.File, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.wrapErr("HeadObject", key, err)
	}
	if name == "" {
		name = path.Base(key)
	}
	return &objectFile{
		ctx:       ctx,
		bucket:    b,
		key:       key,
		name:      name,
		mediaType: aws.ToString(head.ContentType),
		size:      aws.ToInt64(head.ContentLength),
	}, nil
}

// PresignGet returns a time-limited download URL for key.
func (b *Bucket) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return req.URL, nil
}

// PresignUpload returns a time-limited PUT URL for key. The Content-Type is
// part of the signature, so the browser must send exactly contentType.
func (b *Bucket) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	req, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign PutObject: %w", err)
	}
	return req.URL, nil
}

func (b *Bucket) wrapErr(op, key string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, ErrObjectNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// objectFile reads an S3 object lazily.
type objectFile struct {
	ctx       context.Context
	bucket    *Bucket
	key       string
	name      string
	mediaType string
	size      int64
}

func (f *objectFile) Name() string      { return f.name }
func (f *objectFile) MediaType() string { return f.mediaType }
func (f *objectFile) Size() int64       { return f.size }

func (f *objectFile) Open() (io.ReadCloser, error) {
	out, err := f.bucket.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket.name),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, f.bucket.wrapErr("GetObject", f.key, err)
	}
	return out.Body, nil
}

// S3Exporter uploads enhanced images to a bucket and links to them.
type S3Exporter struct {
	bucket *Bucket
	prefix string
}

// Upload is the outcome of an S3 export.
type Upload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// NewS3Exporter creates an exporter from the default AWS configuration.
func NewS3Exporter(ctx context.Context, bucket, prefix string) (*S3Exporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3ExporterFromConfig(cfg, bucket, prefix), nil
}

// NewS3ExporterFromConfig creates an exporter from an existing AWS config.
func NewS3ExporterFromConfig(cfg aws.Config, bucket, prefix string) *S3Exporter {
	return NewS3ExporterForBucket(NewBucket(cfg, bucket), prefix)
}

// NewS3ExporterForBucket creates an exporter writing under prefix in b.
func NewS3ExporterForBucket(b *Bucket, prefix string) *S3Exporter {
	return &S3Exporter{bucket: b, prefix: prefix}
}

// Key returns the object key for an upload of mediaType at now.
func (e *S3Exporter) Key(mediaType string, now time.Time) string {
	return path.Join(strings.TrimSuffix(e.prefix, "/"), Filename(mediaType, now))
}

// Upload puts p under Key and returns a presigned GET URL for it.
func (e *S3Exporter) Upload(ctx context.Context, p ingest.ImagePayload, now time.Time) (Upload, error) {
	if p.IsZero() {
		return Upload{}, fmt.Errorf("nothing to export: empty image")
	}
	key := e.Key(p.MediaType(), now)
	if err := e.bucket.Put(ctx, key, p); err != nil {
		return Upload{}, err
	}
	url, err := e.bucket.PresignGet(ctx, key)
	if err != nil {
		return Upload{}, err
	}

	log.Info().Str("bucket", e.bucket.Name()).Str("key", key).Int("bytes", p.Len()).Msg("Enhanced image exported to S3")
	return Upload{Bucket: e.bucket.Name(), Key: key, URL: url}, nil
}
