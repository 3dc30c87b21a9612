package blobsource

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gitlab.com/NebulousLabs/fastrand"
	"gitlab.com/NebulousLabs/ratelimit"
)

// readChunkSize bounds how much of a file is copied between cancellation
// checks, so a large file cannot starve a cancel signal for long.
const readChunkSize = 1 << 20 // 1 MiB

// HTTPBlobSource fetches files over plain HTTP GET, optionally throttled by
// a module-wide bandwidth limit set via SetBandwidthLimit.
type HTTPBlobSource struct {
	client *http.Client
}

// NewHTTPBlobSource returns a Source that fetches over HTTP with the given
// per-request timeout applied to connection establishment only (the body
// read is governed by ctx, not by this timeout).
func NewHTTPBlobSource(dialTimeout time.Duration) *HTTPBlobSource {
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &HTTPBlobSource{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
	}
}

// SetBandwidthLimit caps the aggregate read bandwidth every HTTPBlobSource
// in the process may use, in bytes per second. A limit of 0 removes the
// cap. packetSize governs the granularity at which the limiter wakes up.
func SetBandwidthLimit(bytesPerSecond int64, packetSize uint64) {
	ratelimit.SetLimits(bytesPerSecond, bytesPerSecond, packetSize)
}

// Fetch implements Source.
func (s *HTTPBlobSource) Fetch(ctx context.Context, filename, url, destDir string) (Result, string) {
	select {
	case <-ctx.Done():
		return Cancelled, ""
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Failed, err.Error()
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled, ""
		}
		return Failed, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Failed, "unexpected status code " + strconv.Itoa(resp.StatusCode)
	}

	tempPath := filepath.Join(destDir, "."+filename+".tmp-"+strconv.FormatUint(fastrand.Uint64n(1<<62), 10))
	destPath := filepath.Join(destDir, filename)
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return Failed, err.Error()
	}

	w := ratelimit.NewRLReadWriter(f)
	result, reason := copyCancellable(ctx, w, resp.Body)
	closeErr := f.Close()
	if result != Ok {
		os.Remove(tempPath)
		return result, reason
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return Failed, closeErr.Error()
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return Failed, err.Error()
	}
	return Ok, ""
}

// copyCancellable copies src into dst in bounded chunks, checking ctx
// between each one so a large file cannot delay cancellation indefinitely.
func copyCancellable(ctx context.Context, dst io.Writer, src io.Reader) (Result, string) {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return Cancelled, ""
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return Failed, writeErr.Error()
			}
		}
		if readErr == io.EOF {
			return Ok, ""
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return Cancelled, ""
			}
			return Failed, readErr.Error()
		}
	}
}
