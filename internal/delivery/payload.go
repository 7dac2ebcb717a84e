// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package delivery

import (
	"fmt"
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// DecodePayload converts a request body to a string according to the
// charset in contentType. UTF-16 bodies (the native string encoding of some
// launchers) honour a BOM and default to little-endian. Everything else is
// read as UTF-8 with an optional BOM; invalid bytes become U+FFFD.
func DecodePayload(contentType string, body []byte) (string, error) {
	dec := decoderFor(charsetOf(contentType))
	out, err := dec.Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}
	return string(out), nil
}

// encodeUTF16 encodes s as little-endian UTF-16 with a BOM.
func encodeUTF16(s string) ([]byte, error) {
	return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func decoderFor(charset string) *encoding.Decoder {
	switch charset {
	case "utf-16", "utf16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	default:
		return unicode.UTF8BOM.NewDecoder()
	}
}
