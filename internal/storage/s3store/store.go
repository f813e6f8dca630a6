// Package s3store implements shadow.Storage as a cold-archival mirror
// on S3-compatible object storage, grounded in the same aws-sdk-go-v2
// client construction the teacher's pkg/archive/parquet package uses
// for its own S3 target.
//
// Each (node, cluster) pair is one JSON object, keyed by path so a
// lost primary store can be rehydrated cluster-by-cluster. This is not
// meant as the hot path: wrap it behind a Mirror alongside a
// sqlitestore.Store for the primary read/write path.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// Config configures an S3-compatible endpoint, matching the fields the
// teacher's retention service already accepts for archive targets
// (Retention.Target*).
type Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// Store is a cold-archival shadow.Storage backed by S3.
type Store struct {
	client *s3.Client
	bucket string
}

// Open constructs a Store from cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(node shadow.NodeId, path shadow.ClusterPath) string {
	return fmt.Sprintf("shadow/%d/%d/%d.json", node, path.Endpoint, path.Cluster)
}

type wireClusterData struct {
	DataVersion *shadow.DataVersion                  `json:"data_version,omitempty"`
	Attributes  map[shadow.AttributeId]shadow.DataValue `json:"attributes"`
}

// Load fetches one cluster's archived object, if present.
func (s *Store) Load(ctx context.Context, node shadow.NodeId, path shadow.ClusterPath) (shadow.ClusterData, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(node, path)),
	})
	if err != nil {
		if isNotFound(err) {
			return shadow.ClusterData{}, false, nil
		}
		return shadow.ClusterData{}, false, fmt.Errorf("s3store: get %s: %w", objectKey(node, path), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return shadow.ClusterData{}, false, fmt.Errorf("s3store: read body: %w", err)
	}

	var wire wireClusterData
	if err := json.Unmarshal(data, &wire); err != nil {
		return shadow.ClusterData{}, false, fmt.Errorf("s3store: decode %s: %w", objectKey(node, path), err)
	}
	return shadow.ClusterData{DataVersion: wire.DataVersion, Attributes: wire.Attributes}, true, nil
}

// Store writes one object per cluster. Objects are independent, so a
// partial failure leaves already-written clusters archived; the
// caller's retry will simply re-upload everything that remains dirty.
func (s *Store) Store(ctx context.Context, node shadow.NodeId, clusters map[shadow.ClusterPath]shadow.ClusterData) error {
	for path, cd := range clusters {
		body, err := json.Marshal(wireClusterData{DataVersion: cd.DataVersion, Attributes: cd.Attributes})
		if err != nil {
			return fmt.Errorf("s3store: encode %s: %w", path, err)
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(objectKey(node, path)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("s3store: put %s: %w", objectKey(node, path), err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
