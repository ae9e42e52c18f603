package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/phitk/render/internal/config"
	"github.com/phitk/render/internal/model"
)

const (
	// KeyPrefix is the bucket folder holding all render outputs.
	KeyPrefix = "renders"

	linkExpiry = 24 * time.Hour
)

var ErrIncompleteConfig = errors.New("R2 configuration incomplete")

// RenderStore keeps finished render outputs in object storage.
type RenderStore interface {
	// Put uploads the file at path as the output of job id and returns
	// its object key.
	Put(ctx context.Context, id uint32, path string) (string, error)
	// Link returns a URL a client can download key from.
	Link(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// RenderKey is the object key of a job's output: renders/<id>/<file>.
func RenderKey(id uint32, path string) string {
	return KeyPrefix + "/" + strconv.FormatUint(uint64(id), 10) + "/" + filepath.Base(path)
}

// ContentType maps an output file to the media type of its container.
// Files outside the known containers are served as binary.
func ContentType(path string) string {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
	case model.ContainerMOV:
		return "video/quicktime"
	case model.ContainerMP4:
		return "video/mp4"
	case model.ContainerMKV:
		return "video/x-matroska"
	case "wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}

// R2Store is a RenderStore backed by a Cloudflare R2 bucket. Outputs are
// linked through the bucket's public domain when one is configured and
// through presigned GET URLs otherwise.
type R2Store struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

func NewR2Store(ctx context.Context, cfg config.R2Config) (*R2Store, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, ErrIncompleteConfig
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &R2Store{
		s3:        s3Client,
		presigner: s3.NewPresignClient(s3Client),
		bucket:    cfg.BucketName,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (s *R2Store) Put(ctx context.Context, id uint32, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := RenderKey(id, path)
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentType:        aws.String(ContentType(path)),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filepath.Base(path))),
		Metadata:           map[string]string{"job-id": strconv.FormatUint(uint64(id), 10)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload render %d: %w", id, err)
	}
	return key, nil
}

func (s *R2Store) Link(ctx context.Context, key string) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(linkExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *R2Store) Remove(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
