package attachment

import (
	"mime"
	"path"
	"strings"
)

// ResolveMimeType maps a type hint to a mime type. A hint may be a media type
// ("image/png"), a bare extension ("pdf", ".pdf") or a file name ("scan.pdf").
func ResolveMimeType(hint string) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false
	}
	if strings.Contains(hint, "/") {
		mt, _, err := mime.ParseMediaType(hint)
		if err != nil || !strings.Contains(mt, "/") {
			return "", false
		}
		return mt, true
	}
	ext := path.Ext(hint)
	if ext == "" {
		ext = "." + hint
	}
	mt := mime.TypeByExtension(strings.ToLower(ext))
	if mt == "" {
		return "", false
	}
	// drop parameters such as "; charset=utf-8"
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt, true
}
