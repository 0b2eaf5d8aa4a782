// File: internal/network/decode.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// decodeBody undoes a Content-Encoding. Unknown encodings are returned as-is
// with ok=false so the caller can keep the header.
func decodeBody(encoding string, body []byte, limit int64) (decoded []byte, ok bool, err error) {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	if enc == "" || enc == "identity" || len(body) == 0 {
		return body, enc == "" || enc == "identity", nil
	}

	var r io.Reader
	switch enc {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(bytes.NewReader(body)); err != nil {
			gzipReaderPool.Put(zr)
			return body, false, fmt.Errorf("gzip: %w", err)
		}
		defer func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}()
		r = zr
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(bytes.NewReader(body)); err != nil {
			brotliReaderPool.Put(br)
			return body, false, fmt.Errorf("brotli: %w", err)
		}
		defer func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}()
		r = br
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		zr, zerr := zlib.NewReader(bytes.NewReader(body))
		if zerr == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			r = fr
		}
	default:
		return body, false, nil
	}

	if limit > 0 {
		r = io.LimitReader(r, limit)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body, false, fmt.Errorf("%s: %w", enc, err)
	}
	return out, true, nil
}
