package publisher

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Mirror uploads the published catalog to an object-storage bucket
// (Cloudflare R2) so consumers behind restrictive networks have an
// alternative download location.
type Mirror struct {
	storage *s3.Client
	bucket  *string
	log     *logrus.Logger
}

func NewMirror(storage *s3.Client, bucket *string, log *logrus.Logger) *Mirror {
	return &Mirror{storage: storage, bucket: bucket, log: log}
}

func (m *Mirror) Upload(ctx context.Context, key, catalogFile string) error {
	f, err := os.Open(catalogFile)
	if err != nil {
		return fmt.Errorf("failed to open catalog file: %w", err)
	}
	_, err = m.storage.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      m.bucket,
		Key:         &key,
		Body:        f,
		ContentType: aws.String("application/json"),
	})
	if closeErr := f.Close(); closeErr != nil {
		m.log.Errorf("failed to close catalog file: %v", closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to upload catalog to mirror: %w", err)
	}
	m.log.Infof("mirrored %s to bucket %s", key, *m.bucket)
	return nil
}
