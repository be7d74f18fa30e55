package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/visual"
)

const s3Scheme = "s3://"

// S3Storage stores image formats in an S3-compatible bucket.
type S3Storage struct {
	bucket     string
	client     *s3.Client
	presign    *s3.PresignClient
	presignTTL time.Duration
	log        zerolog.Logger
	disabled   bool
}

func NewS3Storage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Storage, error) {
	logger := log.With().Str("component", "s3-storage").Logger()
	storage := &S3Storage{
		bucket:     strings.TrimSpace(cfg.S3Bucket),
		presignTTL: cfg.S3PresignTTL,
		log:        logger,
	}

	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := strings.TrimSpace(cfg.S3SecretKey)
	if storage.bucket == "" || accessKey == "" || secretKey == "" {
		logger.Warn().Msg("VISUAL_S3_BUCKET or credentials are not set; s3 backend is disabled")
		storage.disabled = true
		return storage, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.S3Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.S3Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.S3Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	storage.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	storage.presign = s3.NewPresignClient(storage.client)
	return storage, nil
}

func (s *S3Storage) ensureEnabled() error {
	if s.disabled {
		return fmt.Errorf("s3: %w", errBackendDisabled)
	}
	return nil
}

func (s *S3Storage) Scheme() string { return s3Scheme }

// MatchesURL keeps locations of other buckets away from this backend.
func (s *S3Storage) MatchesURL(storageLocation string) bool {
	return strings.HasPrefix(storageLocation, s3Scheme+s.bucket+"/")
}

func (s *S3Storage) key(v *visual.Visual, formatType visual.FormatType) (string, error) {
	rest, err := formatLocation(v, formatType, s3Scheme)
	if err != nil {
		return "", err
	}
	_, key, err := visual.SplitLocation(rest)
	return key, err
}

func (s *S3Storage) AddFile(ctx context.Context, localPath, binderID string, id visual.Identifier, mime string, formatType visual.FormatType) (_ *visual.StoredFile, err error) {
	defer observe(s3Scheme, "add_file", time.Now(), &err)
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}

	sum, size, err := fileDigest(localPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	key := objectKey(binderID, id, objectName(formatType, extensionFor(mime, localPath)))
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(mime),
	}); err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &visual.StoredFile{
		MD5: sum,
		Format: visual.VisualFormat{
			FormatType:      formatType,
			Size:            size,
			StorageLocation: s3Scheme + s.bucket + "/" + key,
			Container:       id.String(),
		},
	}, nil
}

func (s *S3Storage) GetLocalCopy(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (_ string, err error) {
	defer observe(s3Scheme, "get_local_copy", time.Now(), &err)
	if err := s.ensureEnabled(); err != nil {
		return "", err
	}
	key, err := s.key(v, formatType)
	if err != nil {
		return "", err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	defer out.Body.Close()
	return copyToTemp(v, formatType, out.Body)
}

func (s *S3Storage) StorageURL(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (string, error) {
	if err := s.ensureEnabled(); err != nil {
		return "", err
	}
	key, err := s.key(v, formatType)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Storage) SendFile(ctx context.Context, v *visual.Visual, formatType visual.FormatType, rng *visual.ByteRange) (_ *visual.FileStream, err error) {
	defer observe(s3Scheme, "send_file", time.Now(), &err)
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	key, err := s.key(v, formatType)
	if err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(rangeHeader(rng))
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, err
	}

	stream := &visual.FileStream{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		TotalSize:     aws.ToInt64(out.ContentLength),
		Range:         rng,
	}
	if rng != nil {
		stream.TotalSize = totalFromContentRange(aws.ToString(out.ContentRange))
	}
	return stream, nil
}

// CreateOutputAsset returns the visual's container. S3 has no container to create.
func (s *S3Storage) CreateOutputAsset(_ context.Context, _ string, id visual.Identifier, _ visual.FormatType) (string, error) {
	return id.String(), nil
}

// Health performs a simple HeadBucket request.
func (s *S3Storage) Health(ctx context.Context) error {
	if s.disabled {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
