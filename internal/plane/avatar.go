package plane

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"plane-relay/internal/models"

	"go.uber.org/zap"
)

const maxAvatarBytes = 4 << 20

// AvatarFetcher downloads actor avatars so they can be attached to the chat
// message. Self-hosted Plane serves avatars behind its own auth, so relative
// paths get the configured API token; pre-signed redirect targets must NOT
// receive the Authorization header or the signature check on their side fails.
type AvatarFetcher struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   *zap.Logger
}

func NewAvatarFetcher(baseURL, apiToken string, logger *zap.Logger) *AvatarFetcher {
	return &AvatarFetcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		logger:   logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch resolves and downloads an avatar. A nil result with nil error means
// there is nothing usable to attach; delivery proceeds without it.
func (f *AvatarFetcher) Fetch(ctx context.Context, avatarPath string) (*models.Attachment, error) {
	target, ok := f.resolve(avatarPath)
	if !ok {
		return nil, nil
	}

	resp, err := f.get(ctx, target, true)
	if err != nil {
		return nil, err
	}

	// Follow one redirect manually so the token is stripped from pre-signed
	// storage URLs.
	if isRedirect(resp.StatusCode) {
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			return nil, fmt.Errorf("avatar redirect without location")
		}
		resp, err = f.get(ctx, loc, false)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch returned status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, fmt.Errorf("reading avatar body: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	mediaType := contentType
	if i := strings.Index(contentType, ";"); i >= 0 {
		mediaType = contentType[:i]
	}
	if mediaType == "" {
		mediaType = "image/png"
	}

	ext := ".png"
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}

	return &models.Attachment{
		Filename: "avatar" + ext,
		Content:  content,
		MIME:     mediaType,
	}, nil
}

func (f *AvatarFetcher) get(ctx context.Context, target string, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if withAuth && f.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiToken)
	}
	return f.client.Do(req)
}

func (f *AvatarFetcher) resolve(avatarPath string) (string, bool) {
	if avatarPath == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(avatarPath), "http://") ||
		strings.HasPrefix(strings.ToLower(avatarPath), "https://") {
		return avatarPath, true
	}
	if f.baseURL == "" {
		return "", false
	}
	joined, err := url.JoinPath(f.baseURL, avatarPath)
	if err != nil {
		f.logger.Warn("Could not resolve avatar path",
			zap.String("path", avatarPath),
			zap.Error(err))
		return "", false
	}
	return joined, true
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
