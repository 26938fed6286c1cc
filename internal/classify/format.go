package classify

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	gzipMagic       = "\x1f\x8b"
	maxDecompressed = 1 << 20
)

var (
	base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

	ErrTooLarge = errors.New("decompressed payload exceeds limit")
)

type Format struct {
	Compressed bool
	// Base64 is true when the text is base64 shaped; otherwise a compressed
	// verdict came from a raw gzip signature.
	Base64 bool
}

// DetectFormat reports whether text looks like a compressed payload: base64
// shaped with a length that is a multiple of four, or carrying the gzip magic.
func DetectFormat(text string) Format {
	if text == "" {
		return Format{}
	}
	isBase64 := base64Pattern.MatchString(text) && len(text)%4 == 0
	return Format{
		Compressed: isBase64 || strings.Contains(text, gzipMagic),
		Base64:     isBase64,
	}
}

// Decompress decodes a base64 gzip payload, or a raw gzip stream, into text.
func Decompress(text string) (string, error) {
	var raw []byte
	if DetectFormat(text).Base64 {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", fmt.Errorf("base64 decode: %w", err)
		}
		raw = decoded
	} else if idx := strings.Index(text, gzipMagic); idx >= 0 {
		raw = []byte(text[idx:])
	} else {
		return "", errors.New("no compressed payload")
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return "", fmt.Errorf("gzip read: %w", err)
	}
	if len(out) > maxDecompressed {
		return "", ErrTooLarge
	}
	return string(out), nil
}

// Compress is the inverse of Decompress; agents and tests use it to build
// payloads.
func Compress(text string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
