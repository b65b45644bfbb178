package images

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const (
	// AvatarSize is the edge of the square avatar, in pixels.
	AvatarSize = 250
	// AvatarContentType is the MIME type of every stored avatar.
	AvatarContentType = "image/png"

	maxSourcePixels = 50_000_000
)

var (
	ErrNotImage      = fmt.Errorf("%w: file is not a supported image", common.ErrorValidation)
	ErrImageTooLarge = fmt.Errorf("%w: image dimensions are too large", common.ErrorValidation)
)

// Avatar decodes an uploaded image (JPEG, PNG, GIF, BMP or TIFF), crops it
// around the centre to an AvatarSize square and re-encodes it as PNG.
func Avatar(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	// Dimensions are checked before the full decode allocates the bitmap.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrNotImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, ErrImageTooLarge
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotImage
	}

	img = imaging.Fill(img, AvatarSize, AvatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}
