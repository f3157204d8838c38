// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"fmt"
)

// Message is a request sent to the server.
type Message struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Arg returns the named argument, or "" when absent.
func (m Message) Arg(name string) string {
	return m.Args[name]
}

func encodeMessage(message Message) (string, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("encoding %q request: %w", message.Command, err)
	}
	return string(data), nil
}

func decodeMessage(payload string) (Message, error) {
	var message Message
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return Message{}, fmt.Errorf("decoding request: %w", err)
	}
	return message, nil
}
