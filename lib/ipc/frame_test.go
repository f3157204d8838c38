// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameLayout(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, "get_token"); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	raw := buffer.Bytes()
	if got := binary.LittleEndian.Uint32(raw[:4]); got != 9 {
		t.Fatalf("length prefix = %d, want 9", got)
	}
	if string(raw[4:]) != "get_token" {
		t.Fatalf("payload = %q", raw[4:])
	}
}

func TestReadFrameSequence(t *testing.T) {
	var buffer bytes.Buffer
	for _, payload := range []string{"first", "", "Grüße"} {
		if err := WriteFrame(&buffer, payload); err != nil {
			t.Fatalf("WriteFrame(%q): %v", payload, err)
		}
	}
	for _, want := range []string{"first", "", "Grüße"} {
		got, err := ReadFrame(&buffer)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got != want {
			t.Fatalf("ReadFrame = %q, want %q", got, want)
		}
	}
	if _, err := ReadFrame(&buffer); err != io.EOF {
		t.Fatalf("ReadFrame at end of stream = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"partial prefix", []byte{5, 0}},
		{"partial payload", append([]byte{5, 0, 0, 0}, "ab"...)},
		{"prefix only", []byte{5, 0, 0, 0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(test.data))
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("ReadFrame = %v, want io.ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	if err := WriteFrame(io.Discard, strings.Repeat("x", MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("WriteFrame oversize = %v, want ErrFrameTooLarge", err)
	}

	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, MaxFrameSize+1)
	if _, err := ReadFrame(bytes.NewReader(prefix)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame oversize = %v, want ErrFrameTooLarge", err)
	}
}
