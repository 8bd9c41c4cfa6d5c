// Package media uploads chat attachments to the object-storage gateway and
// hands back the public URL that gets logged in their place.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/immanencer/ratimint/internal/config"
)

const (
	maxFileSize   = 5 * 1024 * 1024
	uploadTries   = 3
	uploadTimeout = 30 * time.Second
)

var validImageTypes = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
}

type Service struct {
	endpoint     string
	apiKey       string
	publicDomain string
	tmpDir       string
	http         *http.Client
}

// New fails fast on missing credentials: a listener without a working upload
// path would silently drop every attachment.
func New(cfg config.MediaConfig) (*Service, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.PublicDomain == "" {
		return nil, fmt.Errorf("media: S3_API_KEY, S3_API_ENDPOINT and CLOUDFRONT_DOMAIN are required")
	}
	tmpDir := cfg.TmpDir
	if tmpDir == "" {
		tmpDir = config.DefaultTmpDir
	}
	return &Service{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		publicDomain: cfg.PublicDomain,
		tmpDir:       tmpDir,
		http:         &http.Client{Timeout: uploadTimeout},
	}, nil
}

// TmpPath returns the scratch location for a downloaded attachment.
func (s *Service) TmpPath(name string) string {
	return filepath.Join(s.tmpDir, name)
}

type uploadEnvelope struct {
	Body string `json:"body"`
	URL  string `json:"url"`
}

type uploadResult struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// Upload sends a local image to the storage gateway and returns its public
// URL. Transient gateway failures are retried with exponential backoff;
// validation failures are not.
func (s *Service) Upload(ctx context.Context, filePath string) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("media: stat %s: %w", filePath, err)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("media: file size %d exceeds the maximum of %d bytes", info.Size(), maxFileSize)
	}

	imageType := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	if !validImageTypes[imageType] {
		return "", fmt.Errorf("media: unsupported image type %q", imageType)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("media: read %s: %w", filePath, err)
	}

	payload, err := json.Marshal(map[string]string{
		"image":     base64.StdEncoding.EncodeToString(data),
		"imageType": imageType,
	})
	if err != nil {
		return "", err
	}

	return backoff.Retry(ctx, func() (string, error) {
		return s.postUpload(ctx, payload)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uploadTries))
}

func (s *Service) postUpload(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("media: read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("media: upload: unexpected status %d", resp.StatusCode)
		}
		return "", backoff.Permanent(fmt.Errorf("media: upload: unexpected status %d", resp.StatusCode))
	}

	// The gateway replies in lambda-proxy shape: the real result is a JSON
	// string in the "body" field.
	envelope := uploadEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", backoff.Permanent(fmt.Errorf("media: decode upload response: %w", err))
	}
	if envelope.URL != "" {
		return envelope.URL, nil
	}

	result := uploadResult{}
	if err := json.Unmarshal([]byte(envelope.Body), &result); err != nil {
		return "", backoff.Permanent(fmt.Errorf("media: decode upload body: %w", err))
	}
	if result.URL == "" {
		return "", backoff.Permanent(fmt.Errorf("media: upload response carried no url"))
	}
	return result.URL, nil
}

// Download fetches a previously uploaded file. Only URLs under the configured
// public domain are accepted.
func (s *Service) Download(ctx context.Context, fileURL, savePath string) error {
	if !strings.HasPrefix(fileURL, s.publicDomain) {
		return fmt.Errorf("media: url must start with the public domain %s", s.publicDomain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("media: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: download: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return fmt.Errorf("media: create save dir: %w", err)
	}

	out, err := os.Create(savePath)
	if err != nil {
		return fmt.Errorf("media: create %s: %w", savePath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("media: write %s: %w", savePath, err)
	}
	return nil
}

// CleanTmp removes scratch files older than the cutoff and reports how many
// were deleted. Runs from the listener's daily maintenance job.
func (s *Service) CleanTmp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("media: read tmp dir: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.tmpDir, entry.Name())); err != nil {
				log.Printf("[media] remove %s: %v", entry.Name(), err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
