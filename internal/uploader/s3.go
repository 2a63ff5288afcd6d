package uploader

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/bdougie/visionstream/internal/media"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads to a bucket whose objects are publicly readable under baseURL.
type S3 struct {
	client  putObjectAPI
	bucket  string
	baseURL string
}

// NewS3 wraps an existing client. An empty baseURL means the virtual-hosted
// bucket URL for region.
func NewS3(client putObjectAPI, bucket, region, baseURL string) *S3 {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewS3FromEnv builds the client from the default AWS credential chain.
func NewS3FromEnv(ctx context.Context, bucket, region, baseURL string) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, cfg.Region, baseURL), nil
}

func (u *S3) Upload(ctx context.Context, file *media.File, preset string) (string, error) {
	if hosted := file.URL(); hosted != "" {
		return hosted, nil
	}
	if preset == "" {
		preset = DefaultPreset
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", file.Name(), err)
	}
	defer src.Close()

	key := path.Join(preset, uuid.NewString(), file.Name())
	contentType := file.ContentType()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &u.bucket,
		Key:           &key,
		Body:          src,
		ContentType:   &contentType,
		ContentLength: aws.Int64(file.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s/%s: %w", file.Name(), u.bucket, key, err)
	}

	return u.baseURL + "/" + key, nil
}
