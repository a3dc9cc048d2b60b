package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/taskguard/pkg/observability"
)

const archiveBatchSize = 500

// ObjectPutter is the slice of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the archive bucket.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when both
// keys are set, otherwise the default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ArchiverConfig configures the archive job.
type ArchiverConfig struct {
	Bucket   string
	Prefix   string
	Schedule string
}

// Archiver copies each UTC day of audit entries to object storage as
// NDJSON. Entries are never removed from the store.
type Archiver struct {
	store   Store
	putter  ObjectPutter
	cfg     ArchiverConfig
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewArchiver creates an Archiver
func NewArchiver(store Store, putter ObjectPutter, cfg ArchiverConfig, logger *observability.Logger, metrics *observability.Metrics) *Archiver {
	return &Archiver{
		store:   store,
		putter:  putter,
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger.WithField("component", "audit-archiver"),
		metrics: metrics,
		now:     time.Now,
	}
}

// ObjectKey is the object name for day, <prefix>/YYYY/MM/DD.ndjson.
func (a *Archiver) ObjectKey(day time.Time) string {
	return path.Join(a.cfg.Prefix, day.UTC().Format("2006/01/02")+".ndjson")
}

// Start schedules the daily job. Each run archives the previous UTC day.
func (a *Archiver) Start() error {
	_, err := a.cron.AddFunc(a.cfg.Schedule, func() {
		defer observability.RecoverPanic(a.logger, "audit archive")
		yesterday := a.now().UTC().AddDate(0, 0, -1)
		if _, err := a.ArchiveDay(context.Background(), yesterday); err != nil {
			a.logger.WithError(err).Errorf("audit archive failed for %s", yesterday.Format("2006-01-02"))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit archive %q: %w", a.cfg.Schedule, err)
	}
	a.cron.Start()
	a.logger.Infof("audit archive scheduled: %s", a.cfg.Schedule)
	return nil
}

// Stop halts scheduling and waits for a running job.
func (a *Archiver) Stop(ctx context.Context) error {
	select {
	case <-a.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArchiveDay uploads every entry created on day (UTC) and returns how many
// were written.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (count int, err error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)
	key := a.ObjectKey(start)

	ctx, span := observability.Tracer().Start(ctx, "audit.ArchiveDay",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.cfg.Bucket),
			attribute.String("s3.key", key),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "archive failed")
		}
		a.metrics.RecordAuditArchive(err)
		span.End()
	}()

	var buf bytes.Buffer
	for offset := 0; ; offset += archiveBatchSize {
		batch, _, err := a.store.Find(ctx, Filter{
			StartDate: &start,
			EndDate:   &end,
			Limit:     archiveBatchSize,
			Offset:    offset,
		})
		if err != nil {
			return count, fmt.Errorf("failed to read audit logs: %w", err)
		}
		if err := WriteNDJSON(&buf, batch); err != nil {
			return count, err
		}
		count += len(batch)
		if len(batch) < archiveBatchSize {
			break
		}
	}

	_, err = a.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(FormatNDJSON.ContentType()),
		Metadata: map[string]string{
			"entry-count": fmt.Sprintf("%d", count),
		},
	})
	if err != nil {
		return count, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	span.SetAttributes(attribute.Int("audit.entries", count))
	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"entries": count,
	}).Info("audit day archived")
	return count, nil
}
