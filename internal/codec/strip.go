package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// ErrStripUnsupported is returned when metadata cannot be removed from a
// format without re-encoding its pixels.
var ErrStripUnsupported = errors.New("lossless metadata stripping not supported")

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// StripMetadata removes metadata from src without touching its pixel data.
// JPEG and PNG are rewritten directly; other formats go through vips.
func (c *Codec) StripMetadata(ctx context.Context, format model.FormatID, src []byte) ([]byte, error) {
	switch format {
	case "jpeg":
		return stripJPEG(src)
	case "png":
		return stripPNG(src)
	}
	if c.vips == nil {
		return nil, ErrStripUnsupported
	}
	return c.vips.Strip(ctx, src, string(format))
}

// stripJPEG drops APP1..APP13, APP15 and COM segments. APP0 (JFIF) and
// APP14 (Adobe colour transform) are kept because decoders rely on them.
func stripJPEG(src []byte) ([]byte, error) {
	if len(src) < 4 || src[0] != 0xff || src[1] != 0xd8 {
		return nil, errors.New("jpeg: missing SOI marker")
	}

	out := make([]byte, 0, len(src))
	out = append(out, 0xff, 0xd8)

	i := 2
	for i < len(src) {
		if src[i] != 0xff {
			return nil, fmt.Errorf("jpeg: expected marker at offset %d", i)
		}
		// Fill bytes.
		for i < len(src) && src[i] == 0xff {
			i++
		}
		if i >= len(src) {
			return nil, errors.New("jpeg: truncated marker")
		}
		marker := src[i]
		i++

		switch {
		case marker == 0xd9:
			return append(out, 0xff, marker), nil
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			out = append(out, 0xff, marker)
			continue
		}

		if i+2 > len(src) {
			return nil, errors.New("jpeg: truncated segment length")
		}
		n := int(binary.BigEndian.Uint16(src[i:]))
		if n < 2 || i+n > len(src) {
			return nil, fmt.Errorf("jpeg: bad segment length %d", n)
		}
		segment := src[i : i+n]
		i += n

		if marker == 0xda {
			// Entropy-coded data follows; the rest of the file is copied as is.
			out = append(out, 0xff, marker)
			out = append(out, segment...)
			return append(out, src[i:]...), nil
		}
		if marker == 0xfe || (marker >= 0xe1 && marker <= 0xef && marker != 0xee) {
			continue
		}
		out = append(out, 0xff, marker)
		out = append(out, segment...)
	}

	return nil, errors.New("jpeg: no image data")
}

var pngMetadataChunks = map[string]bool{
	"tEXt": true, "zTXt": true, "iTXt": true, "eXIf": true, "tIME": true,
}

// stripPNG drops textual, EXIF and timestamp chunks.
func stripPNG(src []byte) ([]byte, error) {
	if !bytes.HasPrefix(src, pngSignature) {
		return nil, errors.New("png: bad signature")
	}

	out := make([]byte, 0, len(src))
	out = append(out, pngSignature...)

	i := len(pngSignature)
	for i < len(src) {
		if i+8 > len(src) {
			return nil, errors.New("png: truncated chunk header")
		}
		n := int(binary.BigEndian.Uint32(src[i:]))
		end := i + 12 + n
		if n < 0 || end > len(src) {
			return nil, fmt.Errorf("png: bad chunk length %d", n)
		}
		typ := string(src[i+4 : i+8])
		if !pngMetadataChunks[typ] {
			out = append(out, src[i:end]...)
		}
		i = end
		if typ == "IEND" {
			return out, nil
		}
	}

	return nil, errors.New("png: missing IEND")
}
