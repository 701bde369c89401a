package vin

import (
	"strings"

	"golang.org/x/text/width"
)

// Length is the number of characters in a modern (1981+) VIN.
const Length = 17

// checkDigitIndex is the zero-based position of the check digit.
const checkDigitIndex = 8

const modulus = 11

var positionWeights = [Length]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

var transliteration = map[rune]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4, '5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
}

var canonicalReplacer = strings.NewReplacer("I", "1", "O", "0", "Q", "0")

// Info is the validation verdict for one candidate string.
type Info struct {
	Input string `json:"input"`

	IsCorrectLength    bool `json:"is_correct_length"`
	HasValidCharacters bool `json:"has_valid_characters"`
	// IsChecksumValid is only reported when the length and character set
	// are both valid.
	IsChecksumValid                      bool `json:"is_checksum_valid"`
	IsChecksumValidAfterCanonicalization bool `json:"is_checksum_valid_after_canonicalization"`

	// Canonical holds the canonical form when CanonicalOK is set.
	Canonical   string `json:"canonical,omitempty"`
	CanonicalOK bool   `json:"canonical_ok"`

	IsValid bool `json:"is_valid"`
}

// Validate computes every verdict for input. An empty input has the wrong
// length but no illegal characters, and canonicalizes to itself.
func Validate(input string) Info {
	info := Info{Input: input}
	info.IsCorrectLength = len([]rune(input)) == Length
	info.HasValidCharacters = validCharacters(input)
	if info.IsCorrectLength && info.HasValidCharacters {
		info.IsChecksumValid = checksumMatches(input)
	}

	if canonical, ok := Canonicalize(input); ok {
		info.Canonical = canonical
		info.CanonicalOK = true
		if len(canonical) == Length {
			info.IsChecksumValidAfterCanonicalization = checksumMatches(canonical)
		}
	}

	info.IsValid = info.IsCorrectLength && info.IsChecksumValid && info.HasValidCharacters
	return info
}

// IsValid reports whether input is a well-formed VIN with a correct check digit.
func IsValid(input string) bool {
	return Validate(input).IsValid
}

// Canonicalize upper-cases input, folds full-width forms and replaces I, O
// and Q with the digits they resemble. It fails when any other illegal
// character remains. The empty string is already canonical.
func Canonicalize(input string) (string, bool) {
	folded := strings.ToUpper(width.Fold.String(input))
	canonical := canonicalReplacer.Replace(folded)
	if !validCharacters(canonical) {
		return "", false
	}
	return canonical, true
}

// CheckDigit returns the check digit computed for a VIN of valid length and
// characters. The character at the check digit position does not contribute.
func CheckDigit(input string) (byte, bool) {
	if len(input) != Length || !validCharacters(input) {
		return 0, false
	}
	return computeCheckDigit(input), true
}

func validCharacters(input string) bool {
	for _, r := range input {
		if _, ok := transliteration[r]; !ok {
			return false
		}
	}
	return true
}

func checksumMatches(input string) bool {
	if len(input) != Length {
		return false
	}
	return input[checkDigitIndex] == computeCheckDigit(input)
}

func computeCheckDigit(input string) byte {
	sum := 0
	for i, r := range input {
		sum += transliteration[r] * positionWeights[i]
	}
	remainder := sum % modulus
	if remainder == 10 {
		return 'X'
	}
	return byte('0' + remainder)
}
