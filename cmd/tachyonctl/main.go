// Command tachyonctl is a small CLI driver for manual and integration
// testing of a running tachyond: it queues a download over the control API
// and renders a live progress bar against the job's reported progress.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"
)

type downloadJob struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	Progress        int     `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	SpeedKBps       float64 `json:"speed_kbps"`
	ErrorMessage    string  `json:"error"`
	Checksum        string  `json:"checksum"`
}

func main() {
	var (
		host       = pflag.String("host", "127.0.0.1", "tachyond control API host")
		port       = pflag.Int("port", 8765, "tachyond control API port")
		token      = pflag.String("token", "", "X-Tachyon-Token, if the control API requires one")
		title      = pflag.String("title", "", "display title for the queued download")
		output     = pflag.String("output", "", "destination file path")
		directURL  = pflag.String("url", "", "direct download URL")
		magnet     = pflag.String("magnet", "", "magnet link or torrent-reference URL")
		watchID    = pflag.String("watch", "", "watch an existing job ID instead of queuing a new one")
		pollPeriod = pflag.Duration("poll", 500*time.Millisecond, "polling interval while watching")
		checksum   = pflag.String("checksum", "", "expected sha256 of the completed file; mismatch fails the job")
	)
	pflag.Parse()

	client := &apiClient{
		baseURL: fmt.Sprintf("http://%s:%d", *host, *port),
		token:   *token,
	}

	id := *watchID
	if id == "" {
		if *output == "" || (*directURL == "" && *magnet == "") {
			fmt.Fprintln(os.Stderr, "usage: tachyonctl --output <path> (--url <direct-url> | --magnet <magnet>) [--title <title>]")
			os.Exit(2)
		}
		var err error
		id, err = client.queue(*title, *output, *magnet, *directURL, *checksum)
		if err != nil {
			fmt.Fprintf(os.Stderr, "queue download: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("queued %s\n", id)
	}

	if err := watch(client, id, *pollPeriod); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func watch(client *apiClient, id string, period time.Duration) error {
	var bar *progressbar.ProgressBar
	for {
		job, err := client.get(id)
		if err != nil {
			return fmt.Errorf("get job %s: %w", id, err)
		}

		if bar == nil {
			total := job.TotalBytes
			if total <= 0 {
				total = -1
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription(job.Title),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set64(job.DownloadedBytes)

		switch job.Status {
		case "completed":
			if job.Checksum != "" {
				fmt.Printf("\n%s complete (sha256 %s)\n", job.Title, job.Checksum)
			} else {
				fmt.Printf("\n%s complete\n", job.Title)
			}
			return nil
		case "error":
			fmt.Printf("\n%s failed: %s\n", job.Title, job.ErrorMessage)
			return fmt.Errorf("download failed")
		case "cancelled":
			fmt.Printf("\n%s cancelled\n", job.Title)
			return nil
		}

		time.Sleep(period)
	}
}

type apiClient struct {
	baseURL string
	token   string
}

func (c *apiClient) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Tachyon-Token", c.token)
	}
	return http.DefaultClient.Do(req)
}

func (c *apiClient) queue(title, output, magnet, directURL, expectedChecksum string) (string, error) {
	resp, err := c.do(http.MethodPost, "/v1/downloads", map[string]string{
		"title":            title,
		"output_path":      output,
		"magnet_source":    magnet,
		"direct_url":       directURL,
		"expected_checksum": expectedChecksum,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out["id"], nil
}

func (c *apiClient) get(id string) (downloadJob, error) {
	resp, err := c.do(http.MethodGet, "/v1/downloads/"+id, nil)
	if err != nil {
		return downloadJob{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return downloadJob{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}
	var job downloadJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return downloadJob{}, err
	}
	return job, nil
}
