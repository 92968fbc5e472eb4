package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"project-tachyon/internal/network"
)

const (
	nativeChunkSize     = 8 * 1024
	progressMinInterval = 500 * time.Millisecond
	pauseSleepInterval  = 100 * time.Millisecond
)

// Native is the resume-aware ranged-GET backend: it is always available and
// is the fallback every other backend degrades to.
type Native struct {
	client    *http.Client
	bandwidth *network.BandwidthManager
	userAgent string
}

// NewNative builds a Native backend. bandwidth may be nil to disable
// traffic shaping.
func NewNative(bandwidth *network.BandwidthManager) *Native {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:  8,
		IdleConnTimeout:      90 * time.Second,
		TLSHandshakeTimeout:  10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Native{
		client:    &http.Client{Transport: transport, Timeout: 0},
		bandwidth: bandwidth,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	}
}

func (n *Native) Name() string     { return "native" }
func (n *Native) Available() bool  { return true }

// Download performs a resumable ranged GET against params.URL, writing to
// params.OutputPath. If the file already exists its size becomes the resume
// offset; otherwise the file is created from scratch.
func (n *Native) Download(ctx context.Context, params Params, cb Callbacks) error {
	var existing int64
	if info, err := os.Stat(params.OutputPath); err == nil {
		existing = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	resuming := existing > 0
	if resuming {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return fmt.Errorf("server rejected resume range (file may already be complete)")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	// A 200 to a range request means the server ignored Range: start over.
	if resuming && resp.StatusCode == http.StatusOK {
		existing = 0
		resuming = false
	}

	var total int64 = -1
	if resp.StatusCode == http.StatusPartialContent {
		total = existing + resp.ContentLength
	} else if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	flags := os.O_WRONLY | os.O_CREATE
	if resuming {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(params.OutputPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	downloaded := existing
	buf := make([]byte, nativeChunkSize)
	start := time.Now()
	lastEmit := time.Time{}

	for {
		if cb.IsCancelled != nil && cb.IsCancelled() {
			return context.Canceled
		}
		for cb.IsPaused != nil && cb.IsPaused() {
			if cb.IsCancelled != nil && cb.IsCancelled() {
				return context.Canceled
			}
			time.Sleep(pauseSleepInterval)
		}

		if n.bandwidth != nil {
			if err := n.bandwidth.Wait(ctx, params.OutputPath, nativeChunkSize); err != nil {
				return err
			}
		}

		nRead, readErr := resp.Body.Read(buf)
		if nRead > 0 {
			if _, werr := file.Write(buf[:nRead]); werr != nil {
				return fmt.Errorf("write chunk: %w", werr)
			}
			downloaded += int64(nRead)

			now := time.Now()
			if cb.EmitProgress != nil && now.Sub(lastEmit) >= progressMinInterval {
				elapsed := now.Sub(start).Seconds()
				speedKBps := 0.0
				if elapsed > 0 {
					speedKBps = float64(downloaded-existing) / 1024 / elapsed
				}
				cb.EmitProgress(downloaded, total, speedKBps)
				lastEmit = now
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("read response body: %w", readErr)
		}
	}

	if cb.EmitProgress != nil {
		elapsed := time.Since(start).Seconds()
		speedKBps := 0.0
		if elapsed > 0 {
			speedKBps = float64(downloaded-existing) / 1024 / elapsed
		}
		cb.EmitProgress(downloaded, total, speedKBps)
	}
	return nil
}
