// Package imaging converts between encoded image bytes, Go images and the
// host's float tensor layout.
package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG is returned when chunk-level access is attempted on non-PNG data.
var ErrNotPNG = errors.New("not a png stream")

// TextChunk is a keyword/text pair stored inside a PNG stream.
type TextChunk struct {
	Keyword string
	Text    string
}

// EncodePNG encodes img as PNG and embeds chunks as text metadata right
// after the header, in the given order.
func EncodePNG(img image.Image, chunks []TextChunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if len(chunks) == 0 {
		return buf.Bytes(), nil
	}
	return insertTextChunks(buf.Bytes(), chunks)
}

func insertTextChunks(data []byte, chunks []TextChunk) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, ErrNotPNG
	}
	// IHDR is always first: 4 length + 4 type + 13 data + 4 crc.
	headerEnd := len(pngSignature) + 25
	if len(data) < headerEnd {
		return nil, fmt.Errorf("png stream truncated")
	}

	var out bytes.Buffer
	out.Grow(len(data) + 64*len(chunks))
	out.Write(data[:headerEnd])
	for _, c := range chunks {
		if err := validKeyword(c.Keyword); err != nil {
			return nil, err
		}
		if isLatin1ASCII(c.Text) {
			writeChunk(&out, "tEXt", append(append([]byte(c.Keyword), 0), c.Text...))
			continue
		}
		// iTXt: keyword, compression flag, method, language tag, translated keyword.
		payload := append([]byte(c.Keyword), 0, 0, 0, 0, 0)
		writeChunk(&out, "iTXt", append(payload, c.Text...))
	}
	out.Write(data[headerEnd:])
	return out.Bytes(), nil
}

func validKeyword(k string) error {
	if len(k) == 0 || len(k) > 79 {
		return fmt.Errorf("png text keyword %q must be 1-79 bytes", k)
	}
	for i := 0; i < len(k); i++ {
		if k[i] < 32 || k[i] > 126 {
			return fmt.Errorf("png text keyword %q must be printable ascii", k)
		}
	}
	return nil
}

func isLatin1ASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func writeChunk(w *bytes.Buffer, typ string, payload []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	w.Write(n[:])
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	w.WriteString(typ)
	w.Write(payload)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	w.Write(n[:])
}

// ReadTextChunks returns the uncompressed tEXt and iTXt chunks of a PNG stream.
func ReadTextChunks(data []byte) ([]TextChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, ErrNotPNG
	}
	var out []TextChunk
	r := bytes.NewReader(data[len(pngSignature):])
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read png chunk header: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:])
		if int64(length) > int64(r.Len()) {
			return nil, fmt.Errorf("png chunk %s truncated", typ)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read png chunk %s: %w", typ, err)
		}
		if _, err := r.Seek(4, io.SeekCurrent); err != nil {
			return nil, err
		}
		switch typ {
		case "tEXt":
			if k, v, ok := bytes.Cut(payload, []byte{0}); ok {
				out = append(out, TextChunk{Keyword: string(k), Text: string(v)})
			}
		case "iTXt":
			if c, ok := parseITXt(payload); ok {
				out = append(out, c)
			}
		case "IEND":
			return out, nil
		}
	}
}

func parseITXt(p []byte) (TextChunk, bool) {
	k, rest, ok := bytes.Cut(p, []byte{0})
	if !ok || len(rest) < 2 || rest[0] != 0 {
		return TextChunk{}, false
	}
	rest = rest[2:]
	_, rest, ok = bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return TextChunk{}, false
	}
	_, text, ok := bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return TextChunk{}, false
	}
	return TextChunk{Keyword: string(k), Text: string(text)}, true
}

// Decode decodes PNG, JPEG or GIF bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}
