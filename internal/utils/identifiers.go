package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dan9191/finpay/internal/models"
)

// Int64 is an integer field that accepts either a JSON number or a string of
// decimal digits. Fractions, exponents, signs inside strings and any other
// JSON type are rejected.
type Int64 struct {
	Value int64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = Int64{}
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseDigits(s)
		if err != nil {
			return err
		}
		*i = Int64{Value: v, Set: true}
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%q is not an integer", raw)
	}
	*i = Int64{Value: v, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (i Int64) MarshalJSON() ([]byte, error) {
	if !i.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(i.Value, 10)), nil
}

// Ptr returns nil for an absent field.
func (i Int64) Ptr() *int64 {
	if !i.Set {
		return nil
	}
	return models.ID64(i.Value)
}

// ParseDigits parses a non-empty string made only of ASCII digits,
// ignoring surrounding whitespace.
func ParseDigits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a number", s)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return v, nil
}

// NormalizeDocument strips the usual punctuation from a tax document
// ("123.456.789-01", "12.345.678/0001-90") and returns the digits.
func NormalizeDocument(doc string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(doc) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			return "", fmt.Errorf("document contains %q", r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty document")
	}
	return b.String(), nil
}

// ValidDocumentFor checks the digit count expected for the person type:
// 11 for individuals and 14 for businesses.
func ValidDocumentFor(personType models.PersonType, digits string) bool {
	switch personType {
	case models.PersonIndividual:
		return len(digits) == 11
	case models.PersonBusiness:
		return len(digits) == 14
	}
	return false
}

// TransferKey normalizes a transfer destination key. Keys made of a
// document's digits and punctuation are reduced to digits; anything else is
// returned trimmed.
func TransferKey(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if doc, err := NormalizeDocument(identifier); err == nil {
		return doc
	}
	return identifier
}
