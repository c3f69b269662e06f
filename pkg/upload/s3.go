package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Object metadata keys.
const (
	metaFilename  = "original-filename"
	metaOwner     = "owner"
	metaCreatedAt = "upload-time"
)

// S3Store stages uploads in an S3 bucket, shared by every instance.
type S3Store struct {
	client  S3API
	bucket  string
	prefix  string
	maxSize int64
}

// S3Options builds an S3 client for NewS3Client.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string

	// UsePathStyle is needed by most S3-compatible servers.
	UsePathStyle bool
}

// NewS3Client builds a client from opts. Credentials come from
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
func NewS3Client(opts S3Options) *s3.Client {
	o := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.UsePathStyle,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		})),
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return s3.New(o)
}

// NewS3Store creates a store on client. prefix is prepended to every object
// key, for example "uploads/staging/". maxSize 0 means no limit.
func NewS3Store(client S3API, bucket, prefix string, maxSize int64) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, maxSize: maxSize}
}

// Save implements Store. The body is buffered so its length is known to
// PutObject.
func (s *S3Store) Save(ctx context.Context, meta Meta, r io.Reader) (string, error) {
	if s.maxSize > 0 && meta.Size > s.maxSize {
		return "", ErrTooLarge
	}
	var buf bytes.Buffer
	n, err := copyLimited(&buf, r, s.maxSize)
	if err != nil {
		return "", err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	tempID := newTempID()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + tempID),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(n),
		ContentType:   aws.String(meta.ContentType),
		Metadata: map[string]string{
			metaFilename:  meta.Filename,
			metaOwner:     meta.Owner,
			metaCreatedAt: meta.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload: s3 put: %w", err)
	}
	return tempID, nil
}

// Claim implements Store. The object is deleted when the file is closed.
func (s *S3Store) Claim(ctx context.Context, tempID, owner string) (*File, error) {
	if !validTempID(tempID) {
		return nil, ErrNotFound
	}
	key := s.prefix + tempID
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ErrNotFound
	}

	if owner != "" && out.Metadata[metaOwner] != owner {
		out.Body.Close()
		return nil, ErrNotOwner
	}

	meta := Meta{
		Filename:    out.Metadata[metaFilename],
		Owner:       out.Metadata[metaOwner],
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}
	if meta.Filename == "" {
		meta.Filename = tempID
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	if t, err := time.Parse(time.RFC3339, out.Metadata[metaCreatedAt]); err == nil {
		meta.CreatedAt = t
	}

	return &File{
		ID:   tempID,
		Meta: meta,
		Reader: &deleteObjectOnClose{
			ReadCloser: out.Body,
			delete: func() error {
				_, err := s.client.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    aws.String(key),
				})
				return err
			},
		},
	}, nil
}

// Cleanup implements Store.
func (s *S3Store) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var expired []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				expired = append(expired, *obj.Key)
			}
		}
	}

	var firstErr error
	for _, key := range expired {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("upload: s3 delete %s: %w", key, err)
		}
	}
	return firstErr
}

type deleteObjectOnClose struct {
	io.ReadCloser
	delete func() error
}

func (r *deleteObjectOnClose) Close() error {
	err := r.ReadCloser.Close()
	if derr := r.delete(); err == nil {
		err = derr
	}
	return err
}
