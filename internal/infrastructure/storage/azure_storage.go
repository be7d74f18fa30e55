package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/visual"
)

const azureScheme = "azure://"

// AzureStorage stores formats as blobs of one container. Several AzureStorage values may share
// the azure:// scheme, so each only claims URLs naming its own account and container.
type AzureStorage struct {
	account   string
	container string
	client    *azblob.Client
	cred      *azblob.SharedKeyCredential
	sasTTL    time.Duration
	log       zerolog.Logger
}

// NewAzureStorage creates a backend for the given container of the configured account.
func NewAzureStorage(cfg *config.Config, container string, log zerolog.Logger) (*AzureStorage, error) {
	if !cfg.AzureEnabled() {
		return nil, fmt.Errorf("azure: %w", errBackendDisabled)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure shared key: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(cfg.AzureEndpoint()+"/", cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureStorage{
		account:   cfg.AzureAccountName,
		container: container,
		client:    client,
		cred:      cred,
		sasTTL:    cfg.AzureSASTTL,
		log:       log.With().Str("component", "azure-storage").Str("container", container).Logger(),
	}, nil
}

func (s *AzureStorage) Scheme() string { return azureScheme }

func (s *AzureStorage) prefix() string {
	return azureScheme + s.account + "/" + s.container + "/"
}

// MatchesURL requires both the account and the container in the URL to be this backend's.
func (s *AzureStorage) MatchesURL(storageLocation string) bool {
	return strings.HasPrefix(storageLocation, s.prefix())
}

func (s *AzureStorage) blobName(v *visual.Visual, formatType visual.FormatType) (string, error) {
	f, ok := v.Format(formatType)
	if !ok {
		return "", fmt.Errorf("visual %s has no %s format", v.ID, formatType)
	}
	if !s.MatchesURL(f.StorageLocation) {
		return "", fmt.Errorf("storage location %q is not in %s", f.StorageLocation, s.prefix())
	}
	return strings.TrimPrefix(f.StorageLocation, s.prefix()), nil
}

func (s *AzureStorage) AddFile(ctx context.Context, localPath, binderID string, id visual.Identifier, mime string, formatType visual.FormatType) (_ *visual.StoredFile, err error) {
	defer observe(azureScheme, "add_file", time.Now(), &err)

	sum, size, err := fileDigest(localPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	name := objectKey(binderID, id, objectName(formatType, extensionFor(mime, localPath)))
	_, err = s.client.UploadFile(ctx, s.container, name, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &mime},
	})
	if err != nil {
		return nil, fmt.Errorf("upload blob %s: %w", name, err)
	}

	return &visual.StoredFile{
		MD5: sum,
		Format: visual.VisualFormat{
			FormatType:      formatType,
			Size:            size,
			StorageLocation: s.prefix() + name,
			Container:       s.container,
		},
	}, nil
}

func (s *AzureStorage) GetLocalCopy(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (_ string, err error) {
	defer observe(azureScheme, "get_local_copy", time.Now(), &err)
	name, err := s.blobName(v, formatType)
	if err != nil {
		return "", err
	}
	f, err := tempFileFor(v, formatType)
	if err != nil {
		return "", err
	}
	if _, err := s.client.DownloadFile(ctx, s.container, name, f, nil); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download blob %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// StorageURL returns the blob URL signed with a read-only SAS.
func (s *AzureStorage) StorageURL(_ context.Context, v *visual.Visual, formatType visual.FormatType) (string, error) {
	name, err := s.blobName(v, formatType)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(s.sasTTL),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.container,
		BlobName:      name,
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("sign blob %s: %w", name, err)
	}
	return fmt.Sprintf("%s/%s/%s?%s", strings.TrimSuffix(s.client.URL(), "/"), s.container, name, params.Encode()), nil
}

// SignContainer issues a read and list SAS for any container of the account.
func (s *AzureStorage) SignContainer(container string, expiry time.Time) (string, error) {
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     time.Now().UTC().Add(-5 * time.Minute),
		ExpiryTime:    expiry.UTC(),
		Permissions:   (&sas.ContainerPermissions{Read: true, List: true}).String(),
		ContainerName: container,
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("sign container %s: %w", container, err)
	}
	return params.Encode(), nil
}

func (s *AzureStorage) SendFile(ctx context.Context, v *visual.Visual, formatType visual.FormatType, rng *visual.ByteRange) (_ *visual.FileStream, err error) {
	defer observe(azureScheme, "send_file", time.Now(), &err)
	name, err := s.blobName(v, formatType)
	if err != nil {
		return nil, err
	}

	opts := &azblob.DownloadStreamOptions{}
	if rng != nil {
		opts.Range = blob.HTTPRange{Offset: rng.Start}
		if rng.End != nil {
			opts.Range.Count = *rng.End - rng.Start + 1
		}
	}
	resp, err := s.client.DownloadStream(ctx, s.container, name, opts)
	if err != nil {
		return nil, fmt.Errorf("download blob %s: %w", name, err)
	}

	stream := &visual.FileStream{
		Body:  resp.Body,
		Range: rng,
	}
	if resp.ContentType != nil {
		stream.ContentType = *resp.ContentType
	}
	if resp.ContentLength != nil {
		stream.ContentLength = *resp.ContentLength
		stream.TotalSize = *resp.ContentLength
	}
	if rng != nil && resp.ContentRange != nil {
		stream.TotalSize = totalFromContentRange(*resp.ContentRange)
	}
	return stream, nil
}

// CreateOutputAsset makes sure the backend container exists and returns it.
func (s *AzureStorage) CreateOutputAsset(ctx context.Context, _ string, _ visual.Identifier, _ visual.FormatType) (_ string, err error) {
	defer observe(azureScheme, "create_output_asset", time.Now(), &err)
	if _, err := s.client.CreateContainer(ctx, s.container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return "", fmt.Errorf("create container %s: %w", s.container, err)
	}
	return s.container, nil
}
