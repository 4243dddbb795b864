package photo

import "encoding/base64"

// DecodeBase64 decodes standard or URL-safe base64, skipping whitespace and
// any other character outside the alphabet. Padding is optional. A trailing
// lone character that cannot form a byte is dropped.
func DecodeBase64(s string) []byte {
	clean := make([]byte, 0, len(s))
scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
			clean = append(clean, c)
		case c == '-':
			clean = append(clean, '+')
		case c == '_':
			clean = append(clean, '/')
		case c == '=':
			break scan
		}
	}

	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}

	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, _ := base64.RawStdEncoding.Decode(out, clean)
	return out[:n]
}
