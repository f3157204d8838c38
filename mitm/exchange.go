// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mitm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxResubmits bounds how often one request is sent again on behalf of
// Exchange.Resubmit.
const MaxResubmits = 3

// maxReplayBody is the largest request body kept in memory so that the
// request can be resubmitted. Larger bodies stream and are sent once.
const maxReplayBody = 1 << 20

// hopByHopHeaders are removed before a message crosses the proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// exchange runs the hooks and the upstream round trip for req and
// returns the response for the client.
func (s *Server) exchange(ctx context.Context, flow *Flow, req *http.Request, inTunnel bool) *http.Response {
	replayable := bufferBody(req)

	for attempt := 0; ; attempt++ {
		exchange := &Exchange{Flow: flow, Request: req, inTunnel: inTunnel}

		s.hooks.Request(ctx, exchange)
		if !exchange.responded {
			exchange.Response = s.roundTrip(exchange.Request)
			s.hooks.Response(ctx, exchange)
		}
		if exchange.Response == nil {
			exchange.Response = NewResponse(req, http.StatusBadGateway, nil, "no response\n")
		}

		if !exchange.resubmit {
			return exchange.Response
		}
		if attempt >= MaxResubmits || !replayable {
			s.logger.Warn("resubmission refused",
				"flow", flow.ID,
				"url", req.URL.String(),
				"attempts", attempt+1,
				"replayable", replayable,
			)
			return exchange.Response
		}

		exchange.Response.Body.Close()
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return NewResponse(req, http.StatusBadGateway, nil, fmt.Sprintf("resubmitting request: %v\n", err))
			}
			req.Body = body
		}
		s.logger.Debug("resubmitting request", "flow", flow.ID, "url", req.URL.String(), "attempt", attempt+2)
	}
}

// roundTrip forwards req upstream. Failures become a 502 response so
// that the response hooks still see them.
func (s *Server) roundTrip(req *http.Request) *http.Response {
	outbound := req.Clone(req.Context())
	outbound.RequestURI = ""
	removeHopByHop(outbound.Header)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return NewResponse(req, http.StatusBadGateway, nil, fmt.Sprintf("reading request body: %v\n", err))
		}
		outbound.Body = body
	}

	resp, err := s.transport.RoundTrip(outbound)
	if err != nil {
		s.logger.Debug("upstream request failed", "url", req.URL.String(), "error", err)
		return NewResponse(req, http.StatusBadGateway, nil, fmt.Sprintf("upstream request failed: %v\n", err))
	}
	removeHopByHop(resp.Header)
	resp.Request = req
	return resp
}

// bufferBody reads a small request body into memory and installs
// GetBody so it can be sent more than once. It reports whether the
// request can be replayed.
func bufferBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return true
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxReplayBody+1))
	if err != nil || len(data) > maxReplayBody {
		// Stream what is left after the bytes already consumed.
		req.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}
		req.GetBody = nil
		return false
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	req.TransferEncoding = nil
	return true
}

func removeHopByHop(header http.Header) {
	for _, field := range header.Values("Connection") {
		for name := range strings.SplitSeq(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}
