/**
 * @description
 * This package generates and validates Italian IBANs. A generated identifier is
 * `IT` + 2 ISO 7064 check digits + CIN letter + 5-digit ABI + 5-digit CAB +
 * 12-digit account number (27 characters).
 *
 * @notes
 * - The CIN odd-position substitution table is the published national standard
 *   table and must be reproduced literally; it cannot be derived arithmetically.
 * - The mod-97 reduction is digit-wise so the 30+ digit numeral never needs big
 *   integer arithmetic.
 */

package iban

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/vaultbank/ledger-service/internal/domain"
)

// CountryCode is the only country this ledger issues accounts for.
const CountryCode = "IT"

// Length of a full Italian IBAN: IT + 2 check digits + CIN + 22-digit BBAN.
const Length = 27

// Odd-position CIN values, indexed by '0'..'9' then 'A'..'Z'.
var oddValues = map[byte]int{
	'0': 1, '1': 0, '2': 5, '3': 7, '4': 9,
	'5': 13, '6': 15, '7': 17, '8': 19, '9': 21,
	'A': 1, 'B': 0, 'C': 5, 'D': 7, 'E': 9,
	'F': 13, 'G': 15, 'H': 17, 'I': 19, 'J': 21,
	'K': 2, 'L': 4, 'M': 18, 'N': 20, 'O': 11,
	'P': 3, 'Q': 6, 'R': 8, 'S': 12, 'T': 14,
	'U': 16, 'V': 10, 'W': 22, 'X': 25, 'Y': 24, 'Z': 23,
}

// Generate produces a new random Italian IBAN with valid national and
// international check characters.
func Generate() (string, error) {
	abi, err := randomDigits(5)
	if err != nil {
		return "", err
	}
	cab, err := randomDigits(5)
	if err != nil {
		return "", err
	}
	account, err := randomDigits(12)
	if err != nil {
		return "", err
	}

	body := abi + cab + account
	cin, err := computeCIN(body)
	if err != nil {
		return "", err
	}

	bban := string(cin) + body
	check, err := computeCheckDigits(CountryCode, bban)
	if err != nil {
		return "", err
	}

	return CountryCode + check + bban, nil
}

// Validate checks the structure, the CIN letter, and the ISO 7064 checksum of
// an Italian IBAN. Failures come back as caller-correctable validation errors.
func Validate(iban string) error {
	s := strings.ToUpper(strings.TrimSpace(iban))
	if len(s) != Length {
		return domain.NewValidationError("toIban", fmt.Sprintf("must be %d characters", Length))
	}
	if s[:2] != CountryCode {
		return domain.NewValidationError("toIban", "only IT ibans are supported")
	}
	if !isDigits(s[2:4]) {
		return domain.NewValidationError("toIban", "check digits must be numeric")
	}
	cin := s[4]
	if cin < 'A' || cin > 'Z' {
		return domain.NewValidationError("toIban", "cin must be a letter")
	}
	body := s[5:]
	if !isDigits(body) {
		return domain.NewValidationError("toIban", "bban must be numeric")
	}

	wantCIN, err := computeCIN(body)
	if err != nil {
		return domain.NewValidationError("toIban", "malformed bban")
	}
	if cin != wantCIN {
		return domain.NewValidationError("toIban", "cin check failed")
	}

	// ISO 7064: rearranged numeral must reduce to 1 for a valid IBAN.
	numeric, err := toNumeric(s[4:] + s[:4])
	if err != nil {
		return domain.NewValidationError("toIban", "malformed iban")
	}
	if mod97(numeric) != 1 {
		return domain.NewValidationError("toIban", "checksum failed")
	}
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func randomDigits(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("random digit generation failed: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// computeCIN maps each 1-based position of the 22-character BBAN body through
// the odd table or the natural even value, and reduces the sum modulo 26.
func computeCIN(body string) (byte, error) {
	sum := 0
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if i%2 == 0 { // 1-based odd position
			v, ok := oddValues[ch]
			if !ok {
				return 0, fmt.Errorf("invalid bban character %q", ch)
			}
			sum += v
		} else {
			v, err := evenValue(ch)
			if err != nil {
				return 0, err
			}
			sum += v
		}
	}
	return byte('A' + sum%26), nil
}

func evenValue(ch byte) (int, error) {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0'), nil
	case ch >= 'A' && ch <= 'Z':
		return int(ch - 'A'), nil
	default:
		return 0, fmt.Errorf("invalid bban character %q", ch)
	}
}

func computeCheckDigits(country, bban string) (string, error) {
	numeric, err := toNumeric(bban + country + "00")
	if err != nil {
		return "", err
	}
	check := 98 - mod97(numeric)
	return fmt.Sprintf("%02d", check), nil
}

// toNumeric expands letters to their 10..35 values, producing the decimal
// numeral string the mod-97 reduction runs over.
func toNumeric(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			sb.WriteByte(ch)
		case ch >= 'A' && ch <= 'Z':
			fmt.Fprintf(&sb, "%d", int(ch-'A')+10)
		default:
			return "", fmt.Errorf("invalid iban character %q", ch)
		}
	}
	return sb.String(), nil
}

func mod97(numeric string) int {
	rem := 0
	for i := 0; i < len(numeric); i++ {
		rem = (rem*10 + int(numeric[i]-'0')) % 97
	}
	return rem
}
