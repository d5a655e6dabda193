package encode

import (
	"bytes"
	"image"
	"io"

	"github.com/klauspost/compress/zstd"
)

// EncodeAlphaZstd extracts the alpha channel of an RGBA image into a
// tileSize*tileSize byte plane (row-major, one byte per pixel) and
// compresses it with ZSTD. The alpha plane is typically near-uniform
// (fully opaque interior, transparent nodata fringe), so even
// SpeedBestCompression is cheap relative to the JPEG encode it runs
// alongside.
func EncodeAlphaZstd(img *image.RGBA, tileSize int) ([]byte, error) {
	plane := make([]byte, tileSize*tileSize)
	for y := 0; y < tileSize; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+tileSize*4]
		for x := 0; x < tileSize; x++ {
			plane[y*tileSize+x] = row[x*4+3]
		}
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, &EncodeError{Stage: "alpha", Err: err}
	}
	if _, err := w.Write(plane); err != nil {
		w.Close()
		return nil, &EncodeError{Stage: "alpha", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &EncodeError{Stage: "alpha", Err: err}
	}
	return buf.Bytes(), nil
}

// DecodeAlphaZstd reverses EncodeAlphaZstd, returning the tileSize*tileSize
// alpha plane. Only the tests call it; resuming checks tile presence by
// (z, x, y) and does not decode stored alpha planes.
func DecodeAlphaZstd(data []byte, tileSize int) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &EncodeError{Stage: "alpha", Err: err}
	}
	defer r.Close()

	plane := make([]byte, tileSize*tileSize)
	if _, err := io.ReadFull(r, plane); err != nil {
		return nil, &EncodeError{Stage: "alpha", Err: err}
	}
	return plane, nil
}
