package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/visual"
)

const videoV2Scheme = "video-v2://"

// VideoStorage is the current video backend. Every visual owns a container named after its id,
// realised as a key prefix in a single MinIO bucket.
type VideoStorage struct {
	bucket     string
	client     *minio.Client
	presignTTL time.Duration
	log        zerolog.Logger
}

func NewVideoStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*VideoStorage, error) {
	logger := log.With().Str("component", "video-storage").Logger()

	client, err := minio.New(cfg.VideoMinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.VideoMinioAccessKey, cfg.VideoMinioSecretKey, ""),
		Secure: cfg.VideoMinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.VideoMinioBucket)
	if err != nil {
		logger.Warn().Err(err).Str("bucket", cfg.VideoMinioBucket).Msg("unable to check video bucket")
	} else if !exists {
		if err := client.MakeBucket(ctx, cfg.VideoMinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create video bucket: %w", err)
		}
		logger.Info().Str("bucket", cfg.VideoMinioBucket).Msg("created video bucket")
	}

	return &VideoStorage{
		bucket:     cfg.VideoMinioBucket,
		client:     client,
		presignTTL: cfg.S3PresignTTL,
		log:        logger,
	}, nil
}

func (s *VideoStorage) Scheme() string { return videoV2Scheme }

func (s *VideoStorage) MatchesURL(storageLocation string) bool {
	return strings.HasPrefix(storageLocation, videoV2Scheme+s.bucket+"/")
}

func (s *VideoStorage) key(v *visual.Visual, formatType visual.FormatType) (string, error) {
	rest, err := formatLocation(v, formatType, videoV2Scheme)
	if err != nil {
		return "", err
	}
	_, key, err := visual.SplitLocation(rest)
	return key, err
}

func (s *VideoStorage) AddFile(ctx context.Context, localPath, _ string, id visual.Identifier, mime string, formatType visual.FormatType) (_ *visual.StoredFile, err error) {
	defer observe(videoV2Scheme, "add_file", time.Now(), &err)

	sum, size, err := fileDigest(localPath)
	if err != nil {
		return nil, err
	}
	key := id.String() + "/" + objectName(formatType, extensionFor(mime, localPath))
	if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: mime}); err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &visual.StoredFile{
		MD5: sum,
		Format: visual.VisualFormat{
			FormatType:      formatType,
			Size:            size,
			StorageLocation: videoV2Scheme + s.bucket + "/" + key,
			Container:       id.String(),
		},
	}, nil
}

func (s *VideoStorage) GetLocalCopy(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (_ string, err error) {
	defer observe(videoV2Scheme, "get_local_copy", time.Now(), &err)
	key, err := s.key(v, formatType)
	if err != nil {
		return "", err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	return copyToTemp(v, formatType, obj)
}

func (s *VideoStorage) StorageURL(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (string, error) {
	key, err := s.key(v, formatType)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *VideoStorage) SendFile(ctx context.Context, v *visual.Visual, formatType visual.FormatType, rng *visual.ByteRange) (_ *visual.FileStream, err error) {
	defer observe(videoV2Scheme, "send_file", time.Now(), &err)
	key, err := s.key(v, formatType)
	if err != nil {
		return nil, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}

	// An open range starting at zero is the whole object and needs no header.
	opts := minio.GetObjectOptions{}
	switch {
	case rng == nil:
	case rng.End != nil:
		if err := opts.SetRange(rng.Start, *rng.End); err != nil {
			return nil, err
		}
	case rng.Start > 0:
		if err := opts.SetRange(rng.Start, 0); err != nil {
			return nil, err
		}
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, err
	}

	stream := &visual.FileStream{
		Body:          obj,
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		TotalSize:     info.Size,
		Range:         rng,
	}
	if rng != nil {
		stream.ContentLength = rng.Length(info.Size)
	}
	return stream, nil
}

// CreateOutputAsset returns the container renditions of the visual are written to.
func (s *VideoStorage) CreateOutputAsset(_ context.Context, _ string, id visual.Identifier, _ visual.FormatType) (string, error) {
	return id.String(), nil
}
