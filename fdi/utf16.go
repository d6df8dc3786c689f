package fdi

import (
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"
)

// Surrogate code unit ranges.
const (
	surrHighMin = 0xD800
	surrHighMax = 0xDBFF
	surrLowMin  = 0xDC00
	surrLowMax  = 0xDFFF
)

// EncodeUTF16 transcodes a UTF-8 string to UTF-16LE bytes.
// The result length is always a multiple of 2. Input that is not valid
// UTF-8 is rejected with ErrInvalidUTF8.
func EncodeUTF16(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidUTF8
	}
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf, nil
}

// DecodeUTF16 transcodes UTF-16LE bytes to a UTF-8 string.
// An odd byte count or a high surrogate with no trailing unit is
// ErrIncompleteUTF16; an unpaired surrogate is ErrInvalidUTF16.
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", ErrIncompleteUTF16
	}
	n := len(b) / 2
	runes := make([]rune, 0, n)
	for i := 0; i < n; i++ {
		u := binary.LittleEndian.Uint16(b[i*2:])
		switch {
		case u >= surrHighMin && u <= surrHighMax:
			if i+1 >= n {
				return "", ErrIncompleteUTF16
			}
			lo := binary.LittleEndian.Uint16(b[(i+1)*2:])
			if lo < surrLowMin || lo > surrLowMax {
				return "", ErrInvalidUTF16
			}
			runes = append(runes, utf16.DecodeRune(rune(u), rune(lo)))
			i++
		case u >= surrLowMin && u <= surrLowMax:
			return "", ErrInvalidUTF16
		default:
			runes = append(runes, rune(u))
		}
	}
	return string(runes), nil
}

// UTF16Units returns the number of UTF-16 code units the string occupies
// on the wire. This is the character count L carried in string headers.
func UTF16Units(s string) (int, error) {
	b, err := EncodeUTF16(s)
	if err != nil {
		return 0, err
	}
	return len(b) / 2, nil
}
