package encode

import (
	"bytes"
	"image"
	"image/jpeg"
)

// JPEGEncoder encodes the RGB plane of a tile as JPEG. The alpha plane is
// encoded separately (see alpha.go) since JPEG has no alpha channel.
type JPEGEncoder struct {
	Quality int // 1-100, default 85
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	quality := e.Quality
	if quality <= 0 {
		quality = 85
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &EncodeError{Stage: "jpeg", Err: err}
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) FileExtension() string { return ".jpg" }
