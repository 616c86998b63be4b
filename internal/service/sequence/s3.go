package sequence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// objectGetter is the subset of *s3.Client the source needs.
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the sequences YAML document from an S3 object.
type S3Source struct {
	client objectGetter
	bucket string
	key    string
}

// NewS3Source builds a source using the default AWS credential chain.
func NewS3Source(ctx context.Context, bucket, key, region string) (*S3Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for sequence source: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg), bucket: bucket, key: key}, nil
}

func newS3SourceWithClient(client objectGetter, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Load(ctx context.Context) ([]domain.SequenceDefinition, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("sequences object s3://%s/%s does not exist: %w", s.bucket, s.key, err)
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", s.bucket, s.key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sequences object: %w", err)
	}
	return ParseYAML(body)
}
