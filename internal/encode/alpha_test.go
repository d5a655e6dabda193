package encode

import (
	"image"
	"image/color"
	"testing"
)

func TestAlphaZstd_RoundTrip(t *testing.T) {
	const size = 8
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			a := uint8((x + y*size) % 256)
			img.SetRGBA(x, y, color.RGBA{R: 1, G: 2, B: 3, A: a})
		}
	}

	encoded, err := EncodeAlphaZstd(img, size)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeAlphaZstd(encoded, size)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != size*size {
		t.Fatalf("decoded plane length = %d, want %d", len(decoded), size*size)
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			want := uint8((x + y*size) % 256)
			got := decoded[y*size+x]
			if got != want {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestAlphaZstd_UniformOpaqueCompresses(t *testing.T) {
	const size = 256
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}

	encoded, err := EncodeAlphaZstd(img, size)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) >= size*size {
		t.Errorf("expected a fully-opaque plane to compress well below %d bytes, got %d", size*size, len(encoded))
	}

	decoded, err := DecodeAlphaZstd(encoded, size)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, v := range decoded {
		if v != 255 {
			t.Fatalf("pixel %d = %d, want 255", i, v)
			break
		}
	}
}

func TestDecodeAlphaZstd_CorruptInputErrors(t *testing.T) {
	_, err := DecodeAlphaZstd([]byte{0x00, 0x01, 0x02}, 8)
	if err == nil {
		t.Fatal("expected error decoding corrupt input")
	}
	if _, ok := err.(*EncodeError); !ok {
		t.Errorf("expected *EncodeError, got %T", err)
	}
}
