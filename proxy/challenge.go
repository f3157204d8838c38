// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"net/http"

	"github.com/bureau-foundation/devproxy/mitm"
)

// AuthNoteHeaderPrefix starts the name of every header that carries an
// auth note. The plugin name completes it.
const AuthNoteHeaderPrefix = "X-DevProxy-AuthToProxy-"

const proxyAuthenticate = `Basic realm="DevProxy"`

// challengeResponse is the 407 sent to sessions no auth plugin
// admitted. The connection is closed after it so the client retries
// with a fresh session.
func challengeResponse(req *http.Request, notes []AuthNote) *http.Response {
	header := make(http.Header)
	header.Set("Proxy-Authenticate", proxyAuthenticate)
	header.Set("Connection", "close")
	addAuthNotes(header, notes)
	return mitm.NewResponse(req, http.StatusProxyAuthRequired, header, "Proxy authentication required\n")
}

func addAuthNotes(header http.Header, notes []AuthNote) {
	for _, note := range notes {
		header.Add(AuthNoteHeaderPrefix+note.Plugin, note.Note)
	}
}
