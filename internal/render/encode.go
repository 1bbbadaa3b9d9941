package render

import "encoding/base64"

// base64Encode returns the standard base64 encoding of data, used to embed
// sanitized SVG bytes directly in a card's JSON preview.
func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
