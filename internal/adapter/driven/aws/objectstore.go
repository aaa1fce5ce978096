package aws

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// ObjectStoreFactory builds per-account S3 clients from resolved credentials.
type ObjectStoreFactory struct{}

// NewObjectStoreFactory returns the S3-backed object-store factory.
func NewObjectStoreFactory() *ObjectStoreFactory {
	return &ObjectStoreFactory{}
}

// ForCredentials binds credentials to an S3 object store.
func (f *ObjectStoreFactory) ForCredentials(creds *entity.Credentials) repository.ObjectStore {
	cfg := aws.Config{
		Region: creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKey, creds.SecretKey, creds.SessionToken),
	}
	return &objectStore{client: s3.NewFromConfig(cfg)}
}

type objectStore struct {
	client *s3.Client
}

// List walks every object under the prefix across all result pages.
func (s *objectStore) List(ctx context.Context, bucket, prefix string) ([]entity.ObjectInfo, error) {
	var objects []entity.ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyObjectError(fmt.Sprintf("list s3://%s/%s", bucket, prefix), err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, entity.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

func (s *objectStore) Download(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, classifyObjectError(fmt.Sprintf("download s3://%s/%s", bucket, key), err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// classifyObjectError marks denied or missing-destination failures as
// access-class so callers stop retrying and disable the export.
func classifyObjectError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "ExpiredToken":
			return types.NewAccessError(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
