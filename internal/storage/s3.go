package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"letschat/internal/logging"
)

// S3 uploads attachments to a bucket. Credentials come from the default
// AWS chain.
type S3 struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

var _ Store = (*S3)(nil)

func NewS3(region, bucket, prefix string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3{uploader: s3manager.NewUploader(sess), bucket: bucket, prefix: prefix}, nil
}

func (s *S3) Save(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	log := logging.NewWithFields("S3.Save", map[string]interface{}{"bucket": s.bucket, "key": key})

	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.WithError(err).Error("upload failed")
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return out.Location, nil
}
