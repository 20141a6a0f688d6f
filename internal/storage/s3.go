package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// S3Config configures an S3-compatible session store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps session records as objects using the same naming scheme as
// FileStore. PutObject replaces an object atomically.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed session store.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 config is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, bucket, cfg.Prefix), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Store) key(sessionID, suffix string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidID
	}
	name := sessionID + suffix
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}

func (s *S3Store) ReadHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	key, err := s.key(sessionID, historySuffix)
	if err != nil {
		return nil, err
	}
	var turns []models.Turn
	if err := s.getJSON(ctx, key, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *S3Store) WriteHistory(ctx context.Context, sessionID string, turns []models.Turn) error {
	key, err := s.key(sessionID, historySuffix)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	return s.putJSON(ctx, key, turns)
}

func (s *S3Store) DeleteHistory(ctx context.Context, sessionID string) (bool, error) {
	key, err := s.key(sessionID, historySuffix)
	if err != nil {
		return false, err
	}
	return s.delete(ctx, key)
}

func (s *S3Store) ReadMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error) {
	key, err := s.key(sessionID, metadataSuffix)
	if err != nil {
		return nil, err
	}
	var meta models.SessionMetadata
	if err := s.getJSON(ctx, key, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *S3Store) WriteMetadata(ctx context.Context, meta *models.SessionMetadata) error {
	if meta == nil {
		return ErrInvalidID
	}
	key, err := s.key(meta.SessionID, metadataSuffix)
	if err != nil {
		return err
	}
	return s.putJSON(ctx, key, meta)
}

func (s *S3Store) DeleteMetadata(ctx context.Context, sessionID string) (bool, error) {
	key, err := s.key(sessionID, metadataSuffix)
	if err != nil {
		return false, err
	}
	return s.delete(ctx, key)
}

func (s *S3Store) ListMetadata(ctx context.Context, owner string) ([]*models.SessionMetadata, error) {
	var prefix *string
	if s.prefix != "" {
		prefix = aws.String(s.prefix + "/")
	}
	var out []*models.SessionMetadata
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, metadataSuffix) {
				continue
			}
			id := strings.TrimSuffix(path.Base(key), metadataSuffix)
			meta, err := s.ReadMetadata(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidID) {
					continue
				}
				return nil, err
			}
			if meta.Owner == owner {
				out = append(out, meta)
			}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// Close releases resources.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) getJSON(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("s3 read object: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path.Base(key), err)
	}
	return nil
}

func (s *S3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path.Base(key), err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// delete reports whether the object existed. S3 deletes are idempotent and
// do not say whether anything was removed, so existence is checked first.
func (s *S3Store) delete(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head object: %w", err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, fmt.Errorf("s3 delete object: %w", err)
	}
	return true, nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.EqualFold(code, "NotFound") || strings.EqualFold(code, "NoSuchKey")
	}
	return false
}
