package tap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/restyutil"
	"skyquery/lib/votable"
)

// Phase is a UWS job execution phase.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"
	PhaseUnknown   Phase = "UNKNOWN"
	PhaseHeld      Phase = "HELD"
	PhaseSuspended Phase = "SUSPENDED"
	PhaseArchived  Phase = "ARCHIVED"
)

// Terminal reports whether the job can no longer make progress.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseAborted, PhaseArchived:
		return true
	}
	return false
}

type ResultRef struct {
	ID   string
	Href string
}

type Job struct {
	ID      string
	RunID   string
	OwnerID string
	Phase   Phase
	Query   string
	Results []ResultRef
	// ErrorMessage carries the uws errorSummary when Phase is ERROR.
	ErrorMessage string
}

type xmlJob struct {
	JobID      string            `xml:"jobId"`
	RunID      string            `xml:"runId"`
	OwnerID    string            `xml:"ownerId"`
	Phase      string            `xml:"phase"`
	Parameters []xmlJobParameter `xml:"parameters>parameter"`
	Results    []xmlJobResult    `xml:"results>result"`
	Error      *xmlJobError      `xml:"errorSummary"`
}

type xmlJobParameter struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type xmlJobResult struct {
	ID   string `xml:"id,attr"`
	Href string `xml:"href,attr"`
}

type xmlJobError struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message"`
}

func jobFromXML(data []byte) (*Job, error) {
	var doc xmlJob
	err := xml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode uws job: %w", err)
	}

	job := &Job{
		ID:      strings.TrimSpace(doc.JobID),
		RunID:   strings.TrimSpace(doc.RunID),
		OwnerID: strings.TrimSpace(doc.OwnerID),
		Phase:   Phase(strings.TrimSpace(doc.Phase)),
	}
	for _, p := range doc.Parameters {
		if strings.EqualFold(p.ID, "QUERY") {
			job.Query = strings.TrimSpace(p.Value)
		}
	}
	for _, r := range doc.Results {
		job.Results = append(job.Results, ResultRef{ID: r.ID, Href: r.Href})
	}
	if doc.Error != nil {
		job.ErrorMessage = strings.TrimSpace(doc.Error.Message)
	}
	return job, nil
}

// SubmitJob creates an async query job and starts it immediately. A
// run id is generated when the caller didn't pick one, so the job can
// be found again in ListJobs.
func (c *Client) SubmitJob(ctx context.Context, query string, opts ...QueryOption) (*Job, error) {
	ctx, span := tracer.Start(ctx, "SubmitJob")
	defer span.End()

	var params queryParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.runID == "" {
		id, err := random.String(8)
		if err != nil {
			return nil, err
		}
		params.runID = id
	}

	req, err := c.queryRequest(ctx, query, params, map[string]string{"PHASE": "RUN"})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res, err := req.Post(c.endpoint("async"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job submission failed")
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.RecordError(serr)
		return nil, serr
	}

	// the 303 redirect has already been followed, so the body is
	// normally the job document
	job, perr := jobFromXML(res.Body())
	if perr == nil && job.ID != "" {
		slog.InfoContext(ctx, "submitted tap job", "job", job.ID, "run_id", job.RunID, "phase", job.Phase)
		return job, nil
	}

	// fall back to the job id in the redirect target
	finalUrl := res.RawResponse.Request.URL
	segments := strings.Split(strings.Trim(finalUrl.Path, "/"), "/")
	jobID := segments[len(segments)-1]
	if jobID == "" || jobID == "async" {
		return nil, fmt.Errorf("could not determine job id from submission response")
	}
	return c.JobStatus(ctx, jobID)
}

// JobStatus fetches the full job document.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*Job, error) {
	ctx, span := tracer.Start(ctx, "JobStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job", jobID))

	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("async", jobID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return nil, serr
	}
	return jobFromXML(res.Body())
}

// JobPhase reads the lightweight phase endpoint.
func (c *Client) JobPhase(ctx context.Context, jobID string) (Phase, error) {
	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("async", jobID, "phase"))
	if err != nil {
		return "", err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return "", serr
	}
	return Phase(strings.TrimSpace(res.String())), nil
}

func (c *Client) postPhase(ctx context.Context, jobID string, phase string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"PHASE": phase}).
		Post(c.endpoint("async", jobID, "phase"))
	if err != nil {
		return err
	}
	return restyutil.CheckStatus(res)
}

// RunJob starts a PENDING job.
func (c *Client) RunJob(ctx context.Context, jobID string) error {
	return c.postPhase(ctx, jobID, "RUN")
}

// AbortJob asks the service to cancel a queued or executing job.
func (c *Client) AbortJob(ctx context.Context, jobID string) error {
	return c.postPhase(ctx, jobID, "ABORT")
}

// Wait polls a job until it reaches a terminal phase, then returns the
// full job document. Polling starts at 500ms and backs off 1.5x, capped
// at 10s.
func (c *Client) Wait(ctx context.Context, jobID string) (*Job, error) {
	ctx, span := tracer.Start(ctx, "Wait")
	defer span.End()
	span.SetAttributes(attribute.String("job", jobID))

	interval := 500 * time.Millisecond
	for {
		phase, err := c.JobPhase(ctx, jobID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if phase.Terminal() {
			return c.JobStatus(ctx, jobID)
		}
		slog.DebugContext(ctx, "tap job still running", "job", jobID, "phase", phase)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * 1.5)
		if interval > time.Second*10 {
			interval = time.Second * 10
		}
	}
}

// Results downloads and parses the primary result of a completed job.
func (c *Client) Results(ctx context.Context, jobID string) (votable.Result, error) {
	ctx, span := tracer.Start(ctx, "Results")
	defer span.End()
	span.SetAttributes(attribute.String("job", jobID))

	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("async", jobID, "results", "result"))
	if err != nil {
		span.RecordError(err)
		return votable.Result{}, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return votable.Result{}, serr
	}
	return votable.Parse(bytes.NewReader(res.Body()))
}

// JobError fetches the error document of a failed job and extracts its
// message.
func (c *Client) JobError(ctx context.Context, jobID string) (string, error) {
	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("async", jobID, "error"))
	if err != nil {
		return "", err
	}

	_, perr := votable.Parse(bytes.NewReader(res.Body()))
	var qerr votable.QueryError
	if errors.As(perr, &qerr) {
		return qerr.Message, nil
	}
	// not a votable, give back whatever the service said
	return strings.TrimSpace(res.String()), nil
}

// DeleteJob removes the job and its stored results server side.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	ctx, span := tracer.Start(ctx, "DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job", jobID))

	res, err := c.http.R().SetContext(ctx).Delete(c.endpoint("async", jobID))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return restyutil.CheckStatus(res)
}

type JobRef struct {
	ID    string
	Phase Phase
	Href  string
}

type xmlJobList struct {
	Refs []xmlJobRef `xml:"jobref"`
}

type xmlJobRef struct {
	ID    string `xml:"id,attr"`
	Href  string `xml:"href,attr"`
	Phase string `xml:"phase"`
}

// ListJobs enumerates the jobs the service still remembers for this
// session.
func (c *Client) ListJobs(ctx context.Context) ([]JobRef, error) {
	ctx, span := tracer.Start(ctx, "ListJobs")
	defer span.End()

	res, err := c.http.R().SetContext(ctx).Get(c.endpoint("async"))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		return nil, serr
	}

	var doc xmlJobList
	err = xml.Unmarshal(res.Body(), &doc)
	if err != nil {
		return nil, fmt.Errorf("decode uws job list: %w", err)
	}

	refs := make([]JobRef, len(doc.Refs))
	for i, r := range doc.Refs {
		refs[i] = JobRef{
			ID:    r.ID,
			Phase: Phase(strings.TrimSpace(r.Phase)),
			Href:  r.Href,
		}
	}
	return refs, nil
}

// QueryAsync submits a job, waits for it to finish, downloads the
// result and deletes the job server side.
func (c *Client) QueryAsync(ctx context.Context, query string, opts ...QueryOption) (votable.Result, error) {
	ctx, span := tracer.Start(ctx, "QueryAsync")
	defer span.End()

	job, err := c.SubmitJob(ctx, query, opts...)
	if err != nil {
		return votable.Result{}, err
	}

	job, err = c.Wait(ctx, job.ID)
	if err != nil {
		return votable.Result{}, err
	}

	switch job.Phase {
	case PhaseCompleted:
	case PhaseError:
		message := job.ErrorMessage
		if message == "" {
			message, _ = c.JobError(ctx, job.ID)
		}
		if message == "" {
			message = "job failed without an error summary"
		}
		span.SetStatus(codes.Error, "job failed")
		return votable.Result{}, votable.QueryError{Message: message}
	default:
		return votable.Result{}, fmt.Errorf("job %s ended in phase %s", job.ID, job.Phase)
	}

	result, err := c.Results(ctx, job.ID)
	if err != nil {
		return votable.Result{}, err
	}

	err = c.DeleteJob(ctx, job.ID)
	if err != nil {
		slog.WarnContext(ctx, "failed to delete completed tap job", "job", job.ID, "err", err)
	}

	return result, nil
}
