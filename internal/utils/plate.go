package utils

import (
	"regexp"
	"strings"
)

var nonPlateChars = regexp.MustCompile(`[^A-Z0-9]`)

// NormalizePlate uppercases a raw plate reading and strips everything
// that is not a letter or digit, so OCR variants of the same plate map
// to one ledger identity.
func NormalizePlate(plate string) string {
	return nonPlateChars.ReplaceAllString(strings.ToUpper(plate), "")
}

var platePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{5}$`)

// IsValidPlate reports whether a normalized plate matches the expected
// regional format (two letters followed by five digits).
func IsValidPlate(plate string) bool {
	return platePattern.MatchString(plate)
}
