package sources

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// DefaultSignSuffix is the salt the web player appends before hashing.
// It changes whenever iwara rotates its frontend; override it via config.
const DefaultSignSuffix = "_5nFp9kmbNnHdAFhaqMvt"

// Signer derives the X-Version header value for a file resolution request.
type Signer func(fileID, expires string) string

// NewSigner returns the sha1 signer for the given suffix ("" = default).
func NewSigner(suffix string) Signer {
	if suffix == "" {
		suffix = DefaultSignSuffix
	}
	return func(fileID, expires string) string {
		sum := sha1.Sum([]byte(fileID + "_" + expires + suffix))
		return hex.EncodeToString(sum[:])
	}
}

// SignFileRequest computes X-Version for fileURL. expires is read from the
// "expires" query parameter of the signed file URL.
func SignFileRequest(sign Signer, fileID, fileURL string) (string, error) {
	if fileID == "" {
		return "", errors.New("sign: empty file id")
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("sign: parse file url: %w", err)
	}
	expires := u.Query().Get("expires")
	if expires == "" {
		return "", fmt.Errorf("sign: no expires in %q", fileURL)
	}
	return sign(fileID, expires), nil
}

// SourceFile is the resolved original-quality file of a video.
type SourceFile struct {
	URL  string
	Mime string
	Ext  string // from the MIME subtype, e.g. "mp4"
}

// ResolveSource asks the file host for the quality variants of v and picks
// the "Source" one.
func (c *Client) ResolveSource(ctx context.Context, v *engine.Video) (SourceFile, error) {
	if v.FileURL == "" || v.FileID() == "" {
		return SourceFile{}, fmt.Errorf("video %s: %w", v.ID, ErrNoSourceVariant)
	}
	sign := c.Signer
	if sign == nil {
		sign = NewSigner("")
	}
	xv, err := SignFileRequest(sign, v.FileID(), v.FileURL)
	if err != nil {
		return SourceFile{}, err
	}

	var variants []engine.FileVariant
	h := http.Header{}
	h.Set("X-Version", xv)
	if err := c.do(ctx, "file", http.MethodGet, v.FileURL, nil, h, &variants); err != nil {
		return SourceFile{}, err
	}
	return pickSource(v.ID, variants)
}

func pickSource(videoID string, variants []engine.FileVariant) (SourceFile, error) {
	for _, fv := range variants {
		if fv.Name != engine.SourceQuality {
			continue
		}
		link := fv.Src.Download
		if link == "" {
			link = fv.Src.View
		}
		if link == "" {
			break
		}
		if strings.HasPrefix(link, "//") {
			link = "https:" + link
		}
		return SourceFile{URL: link, Mime: fv.Type, Ext: extFromMime(fv.Type)}, nil
	}
	return SourceFile{}, fmt.Errorf("video %s: %w", videoID, ErrNoSourceVariant)
}

func extFromMime(m string) string {
	mt, _, err := mime.ParseMediaType(m)
	if err != nil {
		mt = m
	}
	if _, sub, ok := strings.Cut(mt, "/"); ok && sub != "" {
		return sub
	}
	return "mp4"
}

// ThumbnailURL is the original-size thumbnail of v on the file host.
func ThumbnailURL(fileBase string, v *engine.Video) string {
	return fmt.Sprintf("%s/image/original/%s/thumbnail-%02d.jpg",
		strings.TrimRight(fileBase, "/"), v.FileID(), v.Thumbnail)
}
