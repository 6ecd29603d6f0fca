package security

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ErrNotAnImage は画像URLがimage/*以外のContent-Typeを返した場合のエラー。
var ErrNotAnImage = errors.New("URL does not serve an image")

// ImageProber は画像URLが実際に画像を返すかをHEADリクエストで確認する。
type ImageProber struct {
	client *http.Client
}

// NewImageProber はSSRF防止付きクライアントを使うImageProberを生成する。
func NewImageProber(timeout time.Duration) *ImageProber {
	return &ImageProber{client: NewSafeClient(timeout)}
}

// Probe はHEADリクエストを送り、2xxかつContent-Typeがimage/*であることを確認する。
func (p *ImageProber) Probe(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to probe image URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrNotAnImage, resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: content type %q", ErrNotAnImage, resp.Header.Get("Content-Type"))
	}

	return nil
}
