package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"google.golang.org/api/option"

	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/config"
)

// Source fetches an archive to local disk so the extractor can work on it.
type Source interface {
	Fetch(ctx context.Context, rawURL string, destDir string) (string, error)
}

// Resolve picks a source implementation from the URL scheme. Plain paths and
// file:// URLs resolve to the local source.
func Resolve(rawURL string, cfg config.ArchiveConfig) (Source, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		return &S3Source{Config: cfg.S3}, nil
	case strings.HasPrefix(rawURL, "gs://"):
		return &GCSSource{Config: cfg.GCS}, nil
	case strings.HasPrefix(rawURL, "azblob://"):
		return &AzureSource{Config: cfg.Azure}, nil
	case strings.Contains(rawURL, "://") && !strings.HasPrefix(rawURL, "file://"):
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("unsupported archive source scheme in %s", rawURL), nil)
	default:
		return &LocalSource{}, nil
	}
}

// splitObjectURL breaks scheme://bucket/key into its parts.
func splitObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", apperrors.NewConfigurationError(
			fmt.Sprintf("invalid archive URL %s", rawURL), err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", apperrors.NewConfigurationError(
			fmt.Sprintf("archive URL %s must name a bucket and object", rawURL), nil)
	}
	return u.Host, key, nil
}

func downloadTo(destDir, name string, body io.Reader) (string, error) {
	target := filepath.Join(destDir, path.Base(name))
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", apperrors.NewExtractionError("failed to create local archive copy", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", apperrors.NewExtractionError("failed to download archive", err)
	}
	return target, nil
}

// LocalSource passes local paths through after checking they exist.
type LocalSource struct{}

func (s *LocalSource) Fetch(ctx context.Context, rawURL string, destDir string) (string, error) {
	p := strings.TrimPrefix(rawURL, "file://")
	info, err := os.Stat(p)
	if err != nil {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("archive not found: %s", p), err)
	}
	if info.IsDir() {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("archive path is a directory: %s", p), nil)
	}
	return p, nil
}

// S3Source downloads s3://bucket/key archives.
type S3Source struct {
	Config config.S3Config
}

func (s *S3Source) Fetch(ctx context.Context, rawURL string, destDir string) (string, error) {
	bucket, key, err := splitObjectURL(rawURL)
	if err != nil {
		return "", err
	}

	awsConfig := &aws.Config{
		Region: aws.String(s.Config.Region),
	}
	if s.Config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.Config.AccessKeyID, s.Config.SecretAccessKey, "")
	}
	if s.Config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.Config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return "", apperrors.NewConfigurationError("failed to create AWS session", err)
	}

	output, err := s3.New(sess).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("failed to fetch s3://%s/%s", bucket, key), err)
	}
	defer output.Body.Close()

	return downloadTo(destDir, key, output.Body)
}

// GCSSource downloads gs://bucket/key archives.
type GCSSource struct {
	Config config.GCSConfig
}

func (s *GCSSource) Fetch(ctx context.Context, rawURL string, destDir string) (string, error) {
	bucket, key, err := splitObjectURL(rawURL)
	if err != nil {
		return "", err
	}

	var opts []option.ClientOption
	if s.Config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.Config.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return "", apperrors.NewConfigurationError("failed to create GCS client", err)
	}
	defer client.Close()

	reader, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("failed to fetch gs://%s/%s", bucket, key), err)
	}
	defer reader.Close()

	return downloadTo(destDir, key, reader)
}

// AzureSource downloads azblob://container/key archives.
type AzureSource struct {
	Config config.AzureConfig
}

func (s *AzureSource) Fetch(ctx context.Context, rawURL string, destDir string) (string, error) {
	container, key, err := splitObjectURL(rawURL)
	if err != nil {
		return "", err
	}

	credential, err := azblob.NewSharedKeyCredential(s.Config.AccountName, s.Config.AccountKey)
	if err != nil {
		return "", apperrors.NewConfigurationError("invalid Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", s.Config.AccountName))
	if err != nil {
		return "", apperrors.NewConfigurationError("failed to build Azure service URL", err)
	}
	blobURL := azblob.NewServiceURL(*serviceURL, pipeline).
		NewContainerURL(container).
		NewBlockBlobURL(key)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd,
		azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("failed to fetch azblob://%s/%s", container, key), err)
	}
	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	return downloadTo(destDir, key, body)
}
