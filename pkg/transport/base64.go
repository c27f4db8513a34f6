package transport

import (
	"encoding/base64"
	"strings"
)

// ChunkSize is the slice size in which binary payloads are fed to the
// base64 encoder.
const ChunkSize = 8 * 1024

// EncodeBase64 returns the standard (padded) base64 encoding of b. The input
// is streamed through the encoder in [ChunkSize] slices so a very large
// payload is never converted in one shot; the encoder carries partial
// triplets across slice boundaries, so the result is identical to
// base64.StdEncoding.EncodeToString(b).
func EncodeBase64(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(b)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(b); off += ChunkSize {
		end := min(off+ChunkSize, len(b))
		// strings.Builder never fails to write.
		_, _ = enc.Write(b[off:end])
	}
	_ = enc.Close()
	return sb.String()
}
