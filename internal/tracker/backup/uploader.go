// Package backup uploads snapshots of the durable state file to S3 or any
// S3-compatible store such as MinIO.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/itsboxy/diffking-job-tracker/internal/telemetry"
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("backup bucket not configured")

// DefaultInterval is how often the uploader checks the state file.
const DefaultInterval = 15 * time.Minute

// Settings locate the bucket and name the objects.
type Settings struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Interval  time.Duration

	// Profile separates backups of different data directories.
	Profile string
}

// Enabled reports whether a bucket is set.
func (s Settings) Enabled() bool {
	return s.Bucket != ""
}

// Putter is the part of *s3.Client the uploader needs.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client from settings. Static keys are used when both
// are set, otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, settings Settings) (*s3.Client, error) {
	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if settings.AccessKey != "" && settings.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.PathStyle
	}), nil
}

// Uploader periodically copies the state file to the bucket, skipping
// uploads when the content has not changed since the last one.
type Uploader struct {
	client   Putter
	settings Settings
	source   func() ([]byte, error)
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastSum string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an uploader reading snapshots from source.
func New(client Putter, settings Settings, source func() ([]byte, error), logger *log.Logger) (*Uploader, error) {
	if !settings.Enabled() {
		return nil, ErrDisabled
	}
	if client == nil {
		return nil, fmt.Errorf("s3 client cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("snapshot source cannot be nil")
	}
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{
		client:   client,
		settings: settings,
		source:   source,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Key names the object for a snapshot taken at t.
func (u *Uploader) Key(t time.Time) string {
	name := "jobs-" + t.UTC().Format("20060102T150405Z") + ".json"
	return path.Join(u.settings.Prefix, u.settings.Profile, name)
}

// UploadOnce uploads the current snapshot if it differs from the last one
// uploaded. It returns the object key, or "" when nothing was sent.
func (u *Uploader) UploadOnce(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	data, err := u.source()
	if err != nil {
		telemetry.Backups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to read snapshot: %w", err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if digest == u.lastSum {
		telemetry.Backups.WithLabelValues("unchanged").Inc()
		return "", nil
	}

	key := u.Key(u.now())
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.settings.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"sha256": digest},
	})
	if err != nil {
		telemetry.Backups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", u.settings.Bucket, key, err)
	}

	u.lastSum = digest
	telemetry.Backups.WithLabelValues("ok").Inc()
	u.logger.Printf("Uploaded snapshot to s3://%s/%s (%d bytes)", u.settings.Bucket, key, len(data))
	return key, nil
}

// Start uploads once and then on every interval until ctx is cancelled or
// Stop is called.
func (u *Uploader) Start(ctx context.Context) error {
	u.logger.Printf("Backing up to s3://%s/%s every %s", u.settings.Bucket,
		path.Join(u.settings.Prefix, u.settings.Profile), u.settings.Interval)

	u.wg.Add(1)
	go u.loop()

	select {
	case <-ctx.Done():
		return u.Stop()
	case <-u.ctx.Done():
		return nil
	}
}

// Stop halts the uploader and waits for an upload in progress.
func (u *Uploader) Stop() error {
	u.cancel()
	u.wg.Wait()
	return nil
}

func (u *Uploader) loop() {
	defer u.wg.Done()

	ticker := time.NewTicker(u.settings.Interval)
	defer ticker.Stop()

	u.tick()
	for {
		select {
		case <-u.ctx.Done():
			return
		case <-ticker.C:
			u.tick()
		}
	}
}

func (u *Uploader) tick() {
	ctx, cancel := context.WithTimeout(u.ctx, time.Minute)
	defer cancel()
	if _, err := u.UploadOnce(ctx); err != nil {
		u.logger.Printf("Backup failed: %v", err)
	}
}
