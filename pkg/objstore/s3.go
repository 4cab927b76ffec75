package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object storage environment variables.
const (
	EnvS3Endpoint  = "S3_ENDPOINT"
	EnvS3AccessKey = "S3_ACCESS_KEY"
	EnvS3SecretKey = "S3_SECRET_KEY"
	EnvS3Region    = "S3_REGION"
	EnvS3UseSSL    = "S3_USE_SSL"
)

// DefaultEnvFile is loaded by ConfigFromEnv when present.
const DefaultEnvFile = ".env.local"

// ErrEnvFile is returned when a dotenv file cannot be loaded.
var ErrEnvFile = errors.New("env file not loaded")

// S3Config holds the connection settings for S3-compatible storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// ConfigFromEnv reads S3 settings from the environment after loading the
// given dotenv files (DefaultEnvFile when none are given). Variables already
// set in the process environment win over file values. Missing files are
// reported through the returned error but the config is still usable.
func ConfigFromEnv(files ...string) (S3Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	loadErr := godotenv.Load(files...)

	cfg := S3Config{
		Endpoint:  os.Getenv(EnvS3Endpoint),
		AccessKey: os.Getenv(EnvS3AccessKey),
		SecretKey: os.Getenv(EnvS3SecretKey),
		Region:    os.Getenv(EnvS3Region),
		UseSSL:    true,
	}
	if v := os.Getenv(EnvS3UseSSL); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s value %q: %w", EnvS3UseSSL, v, err)
		}
		cfg.UseSSL = useSSL
	}
	if loadErr != nil {
		return cfg, fmt.Errorf("%w: %v: %v", ErrEnvFile, files, loadErr)
	}
	return cfg, nil
}

// S3 is a Store backed by one bucket of S3-compatible storage.
type S3 struct {
	Bucket string
	Client *minio.Client
}

// NewS3 creates a minio client for bucket.
func NewS3(cfg S3Config, bucket string) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("failed to create S3 client: %s is not set", EnvS3Endpoint)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{Bucket: bucket, Client: client}, nil
}

type s3File struct {
	*minio.Object
	size int64
}

func (f *s3File) Size() int64 { return f.size }

// Open stats the object first so that a missing key surfaces as ErrNotFound.
func (s *S3) Open(ctx context.Context, key string) (File, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.Bucket, key)
		}
		return nil, fmt.Errorf("s3 stat object: %w", err)
	}
	return &s3File{Object: obj, size: info.Size}, nil
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.Client.PutObject(ctx, s.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// RemoveAll deletes the object named prefix and every object under prefix/.
func (s *S3) RemoveAll(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	dir := strings.TrimSuffix(prefix, "/") + "/"

	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, key := range keys {
			if key != strings.TrimSuffix(prefix, "/") && !strings.HasPrefix(key, dir) {
				continue
			}
			select {
			case objects <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// drain the result channel so the sender goroutine always finishes
	var firstErr error
	for rErr := range s.Client.RemoveObjects(ctx, s.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("s3 remove object %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
