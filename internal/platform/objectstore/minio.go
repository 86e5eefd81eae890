// Package objectstore connects to the S3 compatible store that keeps step
// outcomes.
package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const retentionRuleID = "expire-outcomes"

// Store is a client bound to the outcomes bucket.
type Store struct {
	Client *minio.Client
	cfg    Config
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{Client: client, cfg: cfg}, nil
}

func (s *Store) Bucket() string { return s.cfg.Bucket }

// Ensure creates the bucket when missing and applies the retention rule.
func (s *Store) Ensure(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket %s exists: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.Client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	if s.cfg.RetentionDays == 0 {
		return nil
	}
	if err := s.Client.SetBucketLifecycle(ctx, s.cfg.Bucket, retentionRules(s.cfg.RetentionDays)); err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Check is the readiness probe for the outcome store.
func (s *Store) Check(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket %s exists: %w", s.cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", s.cfg.Bucket)
	}
	return nil
}

func retentionRules(days int) *lifecycle.Configuration {
	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         retentionRuleID,
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return rules
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
