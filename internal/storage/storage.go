package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
)

//go:generate mockgen -destination=../../tests/mocks/mock_file_service.go -package=mocks . FileService

// FileService fetches test data and submission sources from the file storage service.
type FileService interface {
	Fetch(ctx context.Context, location messages.FileLocation) ([]byte, error)
}

type fileService struct {
	fileStorageURL string
	client         *http.Client
	logger         *zap.SugaredLogger
}

func NewFilesService(fileServiceURL string) FileService {
	return &fileService{
		fileStorageURL: fileServiceURL,
		client:         &http.Client{Timeout: constants.StorageTimeoutSec * time.Second},
		logger:         logger.NewNamedLogger("fileService"),
	}
}

func (fs *fileService) Fetch(ctx context.Context, location messages.FileLocation) ([]byte, error) {
	if location.IsEmpty() {
		return nil, errors.ErrFileLocationEmpty
	}
	fs.logger.Infof("Downloading file from bucket %s path %s", location.Bucket, location.Path)

	// {baseUrl}/buckets/:bucketName/:objectKey?metadataOnly=false
	requestURL := fmt.Sprintf("%s/buckets/%s/%s?metadataOnly=false",
		fs.fileStorageURL, url.PathEscape(location.Bucket), location.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorage, err)
	}

	resp, err := fs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorage, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		fs.logger.Errorf("File not found in bucket %s path %s", location.Bucket, location.Path)
		return nil, errors.NewConfigurationError("referenced test data file does not exist")
	case resp.StatusCode != http.StatusOK:
		fs.logger.Errorf("Failed to download file. %s", resp.Status)
		return nil, fmt.Errorf("%w: %s/%s: %s", errors.ErrStorage, location.Bucket, location.Path, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorage, err)
	}
	return data, nil
}

type cachedFileService struct {
	next  FileService
	cache FileCache
}

// NewCachedFileService serves repeated downloads of the same location from cache.
// Test data is immutable once attached to a question, so entries only expire by age.
func NewCachedFileService(next FileService, cache FileCache) FileService {
	return &cachedFileService{next: next, cache: cache}
}

// NewCachedStorage is the production file service: downloads from fileServiceURL
// behind an on-disk cache in cacheDir, which is created before first use.
func NewCachedStorage(fileServiceURL, cacheDir string) (FileService, error) {
	cache := NewFileCache(cacheDir)
	if err := cache.InitCache(); err != nil {
		return nil, err
	}
	return NewCachedFileService(NewFilesService(fileServiceURL), cache), nil
}

func (c *cachedFileService) Fetch(ctx context.Context, location messages.FileLocation) ([]byte, error) {
	if data, ok := c.cache.Get(location); ok {
		return data, nil
	}
	data, err := c.next.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Put(location, data)
	return data, nil
}
