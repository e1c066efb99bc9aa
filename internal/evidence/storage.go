package evidence

import (
	"context"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// Store resolves evidence document references held in the external S3
// document store into short-lived presigned GET URLs. Uploads happen in the
// document service that owns the bucket; this engine only ever reads.
type Store struct {
	presigner *s3.PresignClient
	bucket    string
	urlTTL    time.Duration
}

func NewStore(ctx context.Context, cfg config.EvidenceConfig) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	ttl := cfg.URLTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		urlTTL:    ttl,
	}, nil
}

func (s *Store) ResolveURL(ctx context.Context, storageKey string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &storageKey,
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
