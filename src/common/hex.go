package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeHex renders b the way public keys appear in committee files: upper
// case with a 0X prefix.
func EncodeHex(b []byte) string {
	return "0X" + strings.ToUpper(hex.EncodeToString(b))
}

// DecodeHex accepts the output of EncodeHex. The prefix may be written 0x or
// 0X, and digits in either case.
func DecodeHex(s string) ([]byte, error) {
	if len(s) < 2 || (s[:2] != "0X" && s[:2] != "0x") {
		return nil, fmt.Errorf("hex string %q has no 0X prefix", s)
	}
	return hex.DecodeString(s[2:])
}
