package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/revsync/internal/config"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jobStatus values the export API reports while a bulk query runs
const (
	jobStatusPending    = "pending"
	jobStatusProcessing = "processing"
	jobStatusCompleted  = "completed"
	jobStatusFailed     = "failed"
)

type jobRequest struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

type jobResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	FileID  string `json:"fileId"`
	Message string `json:"message"`
}

// errJobRunning signals the poll loop to keep waiting
var errJobRunning = fmt.Errorf("export job still running")

// client submits bulk export queries to the billing source, polls the
// async job until completion and downloads the result file. Transient
// HTTP failures retry inside retryablehttp; job-level polling is an
// exponential backoff bounded by the configured poll timeout.
type client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

func newClient(cfg config.SourceConfig, log *logger.Logger) *client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = nil

	return &client{
		http:     rc.StandardClient(),
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		interval: cfg.PollInterval,
		timeout:  cfg.PollTimeout,
		log:      log,
	}
}

// runQuery executes one named bulk query end to end and returns the
// raw result file body.
func (c *client) runQuery(ctx context.Context, name, query string) ([]byte, error) {
	// local correlation id: server job ids are not assigned until submit
	// succeeds, and submit failures still need a traceable log line
	qid := types.GenerateShortID()

	jobID, err := c.submit(ctx, name, query)
	if err != nil {
		c.log.Errorf("export %s (%s): submit failed: %v", name, qid, err)
		return nil, err
	}
	c.log.Debugf("export %s (%s): job %s submitted", name, qid, jobID)

	fileID, err := c.awaitCompletion(ctx, name, jobID)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, fileID)
}

func (c *client) submit(ctx context.Context, name, query string) (string, error) {
	payload, err := json.Marshal(jobRequest{Name: name, Query: query})
	if err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	body, err := c.send(ctx, http.MethodPost, c.baseURL+"/bulk/queries", payload)
	if err != nil {
		return "", ierr.WithError(err).
			WithHintf("submitting export query %s failed", name).
			Mark(ierr.ErrHTTPClient)
	}

	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return "", ierr.WithError(err).
			WithHintf("export query %s returned an unreadable job", name).
			Mark(ierr.ErrHTTPClient)
	}
	if job.ID == "" {
		return "", ierr.NewErrorf("export query %s returned no job id", name).
			Mark(ierr.ErrHTTPClient)
	}
	return job.ID, nil
}

// awaitCompletion polls the job until the source reports it completed,
// backing off exponentially up to the poll timeout.
func (c *client) awaitCompletion(ctx context.Context, name, jobID string) (string, error) {
	var fileID string

	poll := func() error {
		body, err := c.send(ctx, http.MethodGet, c.baseURL+"/bulk/queries/"+jobID, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		var job jobResponse
		if err := json.Unmarshal(body, &job); err != nil {
			return backoff.Permanent(err)
		}

		switch job.Status {
		case jobStatusCompleted:
			fileID = job.FileID
			return nil
		case jobStatusFailed:
			return backoff.Permanent(ierr.NewErrorf("export job %s failed: %s", jobID, job.Message).
				Mark(ierr.ErrHTTPClient))
		case jobStatusPending, jobStatusProcessing:
			c.log.Debugf("export %s: job %s %s", name, jobID, job.Status)
			return errJobRunning
		default:
			return backoff.Permanent(ierr.NewErrorf("export job %s in unknown state %q", jobID, job.Status).
				Mark(ierr.ErrHTTPClient))
		}
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.interval),
		backoff.WithMaxElapsedTime(c.timeout),
	), ctx)

	if err := backoff.Retry(poll, policy); err != nil {
		return "", ierr.WithError(err).
			WithHintf("export query %s did not complete", name).
			Mark(ierr.ErrHTTPClient)
	}
	if fileID == "" {
		return "", ierr.NewErrorf("export job %s completed without a result file", jobID).
			Mark(ierr.ErrHTTPClient)
	}
	return fileID, nil
}

func (c *client) download(ctx context.Context, fileID string) ([]byte, error) {
	body, err := c.send(ctx, http.MethodGet, c.baseURL+"/bulk/files/"+fileID, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("downloading export file %s failed", fileID).
			Mark(ierr.ErrHTTPClient)
	}
	return body, nil
}

func (c *client) send(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, ierr.NewErrorf("source returned %d for %s %s", resp.StatusCode, method, url).
			WithReportableDetails(map[string]any{"body": string(body)}).
			Mark(ierr.ErrHTTPClient)
	}
	return body, nil
}
