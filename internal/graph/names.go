package graph

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxNameLength is the OneDrive limit for one path component, in bytes.
const maxNameLength = 255

// illegalChars are characters OneDrive forbids in file and folder names.
const illegalChars = `"*:<>?/\|`

// fallbackName replaces names that sanitize to nothing.
const fallbackName = "file"

// reservedNames are Windows/OneDrive reserved device names (case-insensitive).
var reservedNames = func() map[string]bool {
	names := map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
	}

	for i := range 10 {
		names[fmt.Sprintf("COM%d", i)] = true
		names[fmt.Sprintf("LPT%d", i)] = true
	}

	return names
}()

// SanitizeName turns an arbitrary chat-supplied file name into one OneDrive
// accepts. The result is NFC-normalized, free of illegal and control
// characters, not a reserved device name, and at most 255 bytes with the
// extension preserved. It never returns an empty string.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)

	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) || unicode.IsControl(r) {
			return '_'
		}

		return r
	}, name)

	name = strings.TrimLeft(name, " ")
	name = strings.TrimRight(name, ". ")

	if strings.HasPrefix(name, "~$") {
		name = "_" + name[1:]
	}

	name = strings.ReplaceAll(name, "_vti_", "_vti-")

	if name == "" {
		return fallbackName
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	if reservedNames[strings.ToUpper(base)] {
		base = "_" + base
	}

	if base == "" {
		base = fallbackName
	}

	return truncateName(base, ext)
}

// truncateName shortens base so base+ext fits maxNameLength bytes without
// splitting a multi-byte rune. Overlong extensions are dropped.
func truncateName(base, ext string) string {
	if len(ext) >= maxNameLength/2 {
		ext = ""
	}

	limit := maxNameLength - len(ext)
	if len(base) <= limit {
		return base + ext
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(base[cut]) {
		cut--
	}

	return strings.TrimRight(base[:cut], ". ") + ext
}
