// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package lsp

import (
	"unicode/utf16"
)

// Position encodings negotiated on initialize. A server that announces
// none counts UTF-16 code units.
const (
	EncodingUTF8  = "utf-8"
	EncodingUTF16 = "utf-16"
	EncodingUTF32 = "utf-32"
)

// clientEncodings is advertised in general.positionEncodings, preferred
// first. Request columns are byte columns, so utf-8 avoids conversion.
var clientEncodings = []string{EncodingUTF8, EncodingUTF16}

// toUnits converts a byte column within line to a column in enc units.
func toUnits(line string, col int, enc string) int {
	col = max(0, min(col, len(line)))
	switch enc {
	case EncodingUTF8:
		return col
	case EncodingUTF32:
		n := 0
		for range line[:col] {
			n++
		}
		return n
	default:
		n := 0
		for _, r := range line[:col] {
			n += utf16.RuneLen(r)
		}
		return n
	}
}

// toBytes converts a column in enc units within line to a byte column.
// Columns past the end of the line clamp to its length. An empty line is
// also what an unreadable target yields, so its column passes through.
func toBytes(line string, units int, enc string) int {
	if units <= 0 {
		return 0
	}
	if line == "" {
		return units
	}
	if enc == EncodingUTF8 {
		return min(units, len(line))
	}
	n := 0
	for i, r := range line {
		if n >= units {
			return i
		}
		if enc == EncodingUTF32 {
			n++
		} else {
			n += utf16.RuneLen(r)
		}
	}
	return len(line)
}

// encodePosition converts a byte-column position in content to enc units.
func encodePosition(content []byte, pos Position, enc string) Position {
	line := lineAt(splitLines(content), pos.Line)
	return Position{Line: pos.Line, Character: toUnits(line, pos.Character, enc)}
}
