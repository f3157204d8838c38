// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned for frames longer than MaxFrameSize.
var ErrFrameTooLarge = errors.New("ipc frame exceeds maximum size")

// WriteFrame writes payload as one length-prefixed frame.
func WriteFrame(w io.Writer, payload string) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. It returns io.EOF if the stream ended
// cleanly before a frame began, and io.ErrUnexpectedEOF if it ended
// partway through one.
func ReadFrame(r io.Reader) (string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		// ReadFull returns EOF only when no byte was read.
		return "", err
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return "", fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(payload), nil
}
