// Package publish mirrors committed snapshot and report files to S3.
package publish

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PutObjectAPI is the subset of *s3.Client the publisher needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads files under <prefix>/<category>/<file name>.
type S3Publisher struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New returns a publisher using client.
func New(client PutObjectAPI, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

// NewS3 loads the default AWS credential chain for region and returns a
// publisher for bucket.
func NewS3(ctx context.Context, bucket, region, prefix string) (*S3Publisher, error) {
	if bucket == "" {
		return nil, eris.New("publish: empty bucket")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "publish: load aws config")
	}
	return New(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

// Key returns the object key for a local file.
func (p *S3Publisher) Key(category, file string) string {
	return path.Join(p.prefix, category, filepath.Base(file))
}

// Publish uploads every file. It stops at the first failure.
func (p *S3Publisher) Publish(ctx context.Context, category string, files []string) error {
	updatedAt := time.Now().UTC().Format(time.RFC3339)
	for _, file := range files {
		if err := p.put(ctx, category, file, updatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (p *S3Publisher) put(ctx context.Context, category, file, updatedAt string) error {
	f, err := os.Open(file)
	if err != nil {
		return eris.Wrapf(err, "publish: open %s", file)
	}
	defer f.Close() //nolint:errcheck

	key := p.Key(category, file)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
		Metadata: map[string]string{
			"category":   category,
			"updated_at": updatedAt,
		},
	})
	if err != nil {
		return eris.Wrapf(err, "publish: put s3://%s/%s", p.bucket, key)
	}
	zap.L().Info("publish: uploaded",
		zap.String("bucket", p.bucket),
		zap.String("key", key),
	)
	return nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
