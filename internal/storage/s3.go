package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/timmy/memeindex/internal/domain"
)

// S3Scheme prefixes every object path handled by S3Storage.
const S3Scheme = "s3://"

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Endpoint     string // empty for AWS
	Region       string
	AccessKey    string // empty uses the default credential chain
	SecretKey    string
	UsePathStyle bool
}

// S3Storage serves s3://bucket/key paths from any S3-compatible service.
type S3Storage struct {
	client *s3.Client
}

// NewS3Storage creates a new S3-compatible storage client
func NewS3Storage(ctx context.Context, cfg *S3Config) (*S3Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normalizeEndpoint(cfg.Endpoint))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Storage{client: client}, nil
}

// normalizeEndpoint adds a scheme when missing and drops trailing slashes.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

// ParseS3Path splits s3://bucket/key into bucket and key.
func ParseS3Path(p string) (bucket, key string, err error) {
	if !strings.HasPrefix(p, S3Scheme) {
		return "", "", fmt.Errorf("%w: %q is not an s3 path", domain.ErrValidation, p)
	}
	rest := strings.TrimPrefix(p, S3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", domain.ErrValidation, p)
	}
	return bucket, key, nil
}

// Walk implements Storage using ListObjectsV2 pages.
func (s *S3Storage) Walk(ctx context.Context, root string) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		bucket, prefix, err := ParseS3Path(root)
		if err != nil {
			yield(Object{}, err)
			return
		}
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}

		pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(Object{}, fmt.Errorf("%w: list %s: %w", domain.ErrIO, root, err))
				return
			}
			for _, item := range page.Contents {
				key := aws.ToString(item.Key)
				if inHiddenDir(strings.TrimPrefix(key, prefix)) {
					continue
				}
				format, ok := ImageFormat(key)
				if !ok {
					continue
				}
				obj := Object{
					Path:    S3Scheme + bucket + "/" + key,
					Size:    aws.ToInt64(item.Size),
					ModTime: aws.ToTime(item.LastModified),
					Format:  format,
				}
				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}

// inHiddenDir reports whether any directory segment of rel starts with ".".
func inHiddenDir(rel string) bool {
	dir := path.Dir(rel)
	if dir == "." {
		return false
	}
	for _, seg := range strings.Split(dir, "/") {
		if isHidden(seg) {
			return true
		}
	}
	return false
}

// Open implements Storage.
func (s *S3Storage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error("get", p, err)
	}
	return out.Body, nil
}

// Stat implements Storage.
func (s *S3Storage) Stat(ctx context.Context, p string) (Object, error) {
	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return Object{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, wrapS3Error("head", p, err)
	}
	format, _ := ImageFormat(key)
	return Object{
		Path:    p,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
		Format:  format,
	}, nil
}

// Save implements Storage.
func (s *S3Storage) Save(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isS3Exists(err) {
			return fmt.Errorf("put %s: %w", p, fs.ErrExist)
		}
		return wrapS3Error("put", p, err)
	}
	return nil
}

func wrapS3Error(op, p string, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, fs.ErrNotExist)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrIO, op, p, err)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// isS3Exists reports a failed conditional write: the key already exists
// (412) or a concurrent conditional write to it won (409).
func isS3Exists(err error) bool {
	var respErr *awshttp.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	code := respErr.HTTPStatusCode()
	return code == http.StatusPreconditionFailed || code == http.StatusConflict
}
