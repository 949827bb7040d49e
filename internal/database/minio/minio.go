package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"oracle-service/internal/config"
	"oracle-service/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage defines bucket names used by the oracle service.
var Storage = struct {
	Evaluations string
}{
	Evaluations: "oracle-evaluations",
}

var BucketNames = []string{
	Storage.Evaluations,
}

// MinioClient keeps full evaluation snapshots (every reading, every result)
// outside the relational audit table.
type MinioClient struct {
	client *minio.Client
	config config.MinioConfig
}

func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	endpoint := strings.TrimPrefix(cfg.MinioURL, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	isSecure, err := strconv.ParseBool(cfg.MinioSecure)
	if err != nil {
		slog.Warn("Invalid value for MinIO secure flag, defaulting to false", "value", cfg.MinioSecure)
		isSecure = false
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: isSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := minioClient.ListBuckets(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO server: %w", err)
	}

	mc := &MinioClient{client: minioClient, config: cfg}
	for _, bucketName := range BucketNames {
		if err := mc.ensureBucket(ctx, bucketName); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucketName, err)
		}
	}

	slog.Info("MinIO client initialized", "endpoint", cfg.MinioURL, "buckets", len(BucketNames))
	return mc, nil
}

func (mc *MinioClient) ensureBucket(ctx context.Context, bucketName string) error {
	exists, err := mc.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := mc.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: mc.config.MinioLocation}); err != nil {
		return fmt.Errorf("error creating bucket %s: %w", bucketName, err)
	}
	slog.Info("Created bucket", "bucket", bucketName)
	return nil
}

// EvaluationKey lays snapshots out by policy then claim so one claim's history
// lists together.
func EvaluationKey(rec *models.EvaluationRecord) string {
	return fmt.Sprintf("policies/%s/claims/%s/%s-%s.json",
		rec.PolicyID, rec.ClaimID, rec.CreatedAt.UTC().Format("20060102T150405Z"), rec.ID)
}

// ArchiveEvaluation uploads the record's decision snapshot and returns the
// object key.
func (mc *MinioClient) ArchiveEvaluation(ctx context.Context, rec *models.EvaluationRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal evaluation record: %w", err)
	}

	key := EvaluationKey(rec)
	_, err = mc.client.PutObject(ctx, Storage.Evaluations, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload evaluation %s: %w", key, err)
	}

	slog.Debug("Archived evaluation", "bucket", Storage.Evaluations, "key", key, "bytes", len(data))
	return key, nil
}

// GetEvaluation downloads a previously archived snapshot.
func (mc *MinioClient) GetEvaluation(ctx context.Context, key string) (*models.EvaluationRecord, error) {
	obj, err := mc.client.GetObject(ctx, Storage.Evaluations, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation %s: %w", key, err)
	}
	defer obj.Close()

	var rec models.EvaluationRecord
	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation %s: %w", key, err)
	}
	return &rec, nil
}

func (mc *MinioClient) Ping(ctx context.Context) error {
	_, err := mc.client.BucketExists(ctx, Storage.Evaluations)
	return err
}
