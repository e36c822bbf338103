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

import "testing"

func TestColumnConversion(t *testing.T) {
	// a, then U+1F600 (4 bytes, 2 UTF-16 units, 1 rune), then b.
	line := "a\U0001F600b"

	tests := []struct {
		enc       string
		byteCol   int
		wantUnits int
	}{
		{EncodingUTF8, 5, 5},
		{EncodingUTF16, 5, 3},
		{EncodingUTF32, 5, 2},
		{EncodingUTF16, 1, 1},
		{EncodingUTF16, 99, 4},
	}

	for _, tt := range tests {
		if got := toUnits(line, tt.byteCol, tt.enc); got != tt.wantUnits {
			t.Errorf("toUnits(%q, %d) = %d, want %d", tt.enc, tt.byteCol, got, tt.wantUnits)
		}
		wantBytes := min(tt.byteCol, len(line))
		if got := toBytes(line, tt.wantUnits, tt.enc); got != wantBytes {
			t.Errorf("toBytes(%q, %d) = %d, want %d", tt.enc, tt.wantUnits, got, wantBytes)
		}
	}

	if got := toBytes("", 7, EncodingUTF16); got != 7 {
		t.Errorf("toBytes on an unknown line = %d, want 7", got)
	}
	if got := toBytes(line, 40, EncodingUTF16); got != len(line) {
		t.Errorf("toBytes past the end = %d, want %d", got, len(line))
	}
}

func TestServerCapabilities_Encoding(t *testing.T) {
	tests := map[string]string{
		"":            EncodingUTF16,
		EncodingUTF8:  EncodingUTF8,
		EncodingUTF32: EncodingUTF32,
		"utf-7":       EncodingUTF16,
	}
	for announced, want := range tests {
		if got := (ServerCapabilities{PositionEncoding: announced}).Encoding(); got != want {
			t.Errorf("Encoding() with %q = %q, want %q", announced, got, want)
		}
	}
}
