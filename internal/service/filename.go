package service

import (
	"encoding/base64"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultBaseName = "document"
	maxTagValueLen  = 256
	encodedTagMark  = "b64:"
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// documentType returns the mime type for an allowed extension.
func documentType(name string) (string, bool) {
	mime, ok := allowedExtensions[strings.ToLower(path.Ext(name))]
	return mime, ok
}

// SanitizeFilename folds a name into an ASCII object key segment:
// "Reporte Técnico  Q3.pdf" becomes "Reporte_Tecnico_Q3.pdf".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		name = ""
	}
	ext := asciiOnly(path.Ext(name))
	base := asciiOnly(strings.TrimSuffix(name, path.Ext(name)))
	if base == "" {
		base = defaultBaseName
	}
	return base + ext
}

func asciiOnly(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.IsSpace(r) || r == '_':
			pendingSep = true
		case r >= utf8.RuneSelf || unicode.IsControl(r):
		default:
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// encodeOriginalName makes name fit the object tag character set. Names with
// characters outside it are stored base64 encoded. Returns "" when even the
// encoded form is too long for a tag.
func encodeOriginalName(name string) string {
	if utf8.RuneCountInString(name) <= maxTagValueLen && !strings.HasPrefix(name, encodedTagMark) && tagSafe(name) {
		return name
	}
	encoded := encodedTagMark + base64.StdEncoding.EncodeToString([]byte(name))
	if len(encoded) > maxTagValueLen {
		return ""
	}
	return encoded
}

func decodeOriginalName(value string) string {
	if !strings.HasPrefix(value, encodedTagMark) {
		return value
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encodedTagMark))
	if err != nil {
		return value
	}
	return string(raw)
}

func tagSafe(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if !strings.ContainsRune("_.:/=+-@", r) {
			return false
		}
	}
	return true
}
