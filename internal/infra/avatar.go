package infra

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// AvatarDownloader fetches and caches agent avatar images.
type AvatarDownloader struct {
	baseURL  string
	basePath string
	client   *http.Client
}

// NewAvatarDownloader creates a downloader writing into dir.
func NewAvatarDownloader(baseURL, dir string) (*AvatarDownloader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &AvatarDownloader{
		baseURL:  strings.TrimRight(baseURL, "/"),
		basePath: dir,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Download fetches the avatar for an agent name if not cached yet.
// Images are resized to 64x64 for consistent UI display.
func (d *AvatarDownloader) Download(name string) (string, error) {
	// Sanitize the name to prevent path traversal.
	safeName := sanitizeName(name)
	if safeName == "" {
		return "", fmt.Errorf("invalid agent name: %s", name)
	}

	fileName := strings.ToLower(safeName) + ".png"
	filePath := filepath.Join(d.basePath, fileName)

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // cache hit
	}

	url := fmt.Sprintf("%s/%s.png", d.baseURL, strings.ToLower(safeName))
	resp, err := d.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	resized := imaging.Resize(srcImg, 64, 64, imaging.Lanczos)
	if err := imaging.Save(resized, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	return filePath, nil
}

// Path returns the local path an agent's avatar would be cached at.
func (d *AvatarDownloader) Path(name string) string {
	return filepath.Join(d.basePath, strings.ToLower(sanitizeName(name))+".png")
}

func sanitizeName(name string) string {
	res := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			res = append(res, r)
		}
	}
	return string(res)
}
