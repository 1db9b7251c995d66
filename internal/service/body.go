package service

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"webveil/internal/model"
)

// decompress undoes the named Content-Encoding. Unknown or empty codings
// return the body unchanged.
func decompress(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		return inflate(body)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return body, nil
	}
}

// inflate handles both zlib-wrapped deflate and the raw
// deflate streams some servers send under the same name.
func inflate(body []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		defer r.Close()
		if out, err := io.ReadAll(r); err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	return io.ReadAll(fr)
}

// classify decides which rewriter applies to a response. Request intent
// (Sec-Fetch-Dest, then Accept) wins over the response Content-Type, because
// servers routinely mislabel scripts and styles.
func classify(reqHeader http.Header, contentType string) model.Destination {
	switch reqHeader.Get("Sec-Fetch-Dest") {
	case "document":
		return model.DestDocument
	case "iframe", "frame", "embed", "object":
		return model.DestIframe
	case "script", "serviceworker", "sharedworker":
		return model.DestScript
	case "worker":
		return model.DestWorker
	case "style":
		return model.DestStyle
	}

	accept := reqHeader.Get("Accept")
	switch {
	case strings.HasPrefix(accept, "text/html"):
		return model.DestDocument
	case strings.HasPrefix(accept, "text/css"):
		return model.DestStyle
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return model.DestUnknown
	}
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return model.DestDocument
	case mt == "text/css":
		return model.DestStyle
	case mt == "text/javascript" || mt == "application/javascript" ||
		mt == "application/x-javascript" || mt == "module":
		return model.DestScript
	}
	return model.DestUnknown
}

// rewritable reports whether the pipeline buffers and rewrites bodies for
// this destination.
func rewritable(d model.Destination) bool {
	switch d {
	case model.DestDocument, model.DestIframe, model.DestScript, model.DestStyle, model.DestWorker:
		return true
	}
	return false
}
