// Package dispatch turns admitted prompts into generation jobs: it runs the
// image backend off the caller's goroutine, bounds it with a timeout, records
// the outcome in the job store and tells the user what happened.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"

	"promptbot/internal/domain"
	"promptbot/internal/infra"
	"promptbot/internal/jobs"
	"promptbot/internal/messages"
	"promptbot/internal/notify"
	"promptbot/internal/providers/image"
)

const (
	defaultTimeout         = 120 * time.Second
	defaultDeliveryTimeout = 30 * time.Second
	defaultMaxPrompt       = 1000
	defaultAspectRatio     = "16:9"
)

// ErrClosed is returned by Submit once Shutdown has started.
var ErrClosed = errors.New("dispatch: dispatcher is shutting down")

// ArtifactWriter persists generated bytes under a key and returns the
// canonical key. storage.FileStore satisfies it.
type ArtifactWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// JobReader exposes the read side of the job store.
type JobReader interface {
	Get(jobID string) (domain.Job, bool)
	ActiveJobFor(userID string) (domain.Job, bool)
	History() []domain.Job
	ActiveCount() int
}

// Admission shares the one-active-job-per-user slot with other dispatchers
// consuming the same request queue. bus.KVAdmission satisfies it.
type Admission interface {
	Acquire(ctx context.Context, userID, jobID string) (holder string, ok bool, err error)
	Release(ctx context.Context, userID, jobID string) error
}

// Options tunes a Dispatcher. Zero values fall back to defaults.
type Options struct {
	Timeout              time.Duration
	DeliveryTimeout      time.Duration
	NegativePrompt       string
	Provider             string
	AspectRatio          string
	AcknowledgeAdmission bool
	MaxPromptLength      int
}

// Deps are the collaborators of a Dispatcher. Backend and Sink are required.
type Deps struct {
	Store   *jobs.Store
	Backend image.Generator
	Sink    notify.Sink
	Writer  ArtifactWriter
	Archive domain.JobArchive
	Catalog *messages.Catalog
	Logger  *infra.Logger

	// Admission is optional; without it the slot is local to this process.
	Admission Admission
}

// Request is one prompt submitted by a user.
type Request struct {
	UserID string
	Prompt string
	Locale string
}

// Submission reports the outcome of Submit. When Admitted is false, Job is the
// user's job that is still in progress.
type Submission struct {
	Job      domain.Job
	Admitted bool
}

// Dispatcher coordinates the job store, the backend and the sink.
type Dispatcher struct {
	store   *jobs.Store
	backend image.Generator
	sink    notify.Sink
	writer  ArtifactWriter
	archive domain.JobArchive
	catalog *messages.Catalog
	logger  *infra.Logger
	opts    Options
	shared  Admission

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Dispatcher from explicit dependencies.
func New(deps Deps, opts Options) (*Dispatcher, error) {
	if deps.Backend == nil {
		return nil, errors.New("dispatch: backend is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("dispatch: sink is required")
	}
	if deps.Store == nil {
		deps.Store = jobs.NewStore(jobs.Options{})
	}
	if deps.Catalog == nil {
		deps.Catalog = messages.NewCatalog()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.MaxPromptLength <= 0 {
		opts.MaxPromptLength = defaultMaxPrompt
	}
	if strings.TrimSpace(opts.NegativePrompt) == "" {
		opts.NegativePrompt = image.DefaultNegativePrompt
	}
	if strings.TrimSpace(opts.AspectRatio) == "" {
		opts.AspectRatio = defaultAspectRatio
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   deps.Store,
		backend: deps.Backend,
		sink:    deps.Sink,
		writer:  deps.Writer,
		archive: deps.Archive,
		catalog: deps.Catalog,
		logger:  infra.OrDiscard(deps.Logger),
		opts:    opts,
		shared:  deps.Admission,
		base:    base,
		cancel:  cancel,
	}, nil
}

// Store returns read-only access to job state.
func (d *Dispatcher) Store() JobReader {
	return d.store
}

// Submit admits req and starts generation in the background. It returns
// without waiting for the backend. A user with a job in progress gets an
// "already in progress" notice and Submission.Admitted == false.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Submission, error) {
	userID := strings.TrimSpace(req.UserID)
	prompt := strings.TrimSpace(req.Prompt)
	if err := d.validate(userID, prompt); err != nil {
		return Submission{}, err
	}
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Submission{}, ErrClosed
	}
	job, admitted := d.store.TryAdmit(userID, prompt)
	if admitted {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	log := d.logger.With().Str("job_id", job.ID).Str("user_id", userID).Logger()

	if admitted && d.shared != nil {
		holder, ok, err := d.shared.Acquire(ctx, userID, job.ID)
		if err != nil || !ok {
			if werr := d.store.Withdraw(job.ID); werr != nil {
				log.Error().Err(werr).Msg("dispatch: withdraw job")
			}
			d.wg.Done()
		}
		if err != nil {
			log.Error().Err(err).Msg("dispatch: acquire user slot")
			return Submission{}, fmt.Errorf("dispatch: admission: %w", err)
		}
		if !ok {
			admitted = false
			job = domain.Job{ID: holder, UserID: userID, Status: domain.JobStatusRunning}
			log = log.With().Str("active_job_id", holder).Logger()
		}
	}

	if !admitted {
		log.Info().Msg("dispatch: request rejected, job already active")
		d.deliver(userID, notify.TextPayload("", d.catalog.AlreadyActive(req.Locale, job.ID)))
		return Submission{Job: job, Admitted: false}, nil
	}

	running, err := d.store.MarkRunning(job.ID)
	if err != nil {
		d.release(job)
		d.wg.Done()
		log.Error().Err(err).Msg("dispatch: mark running")
		return Submission{Job: job, Admitted: true}, fmt.Errorf("dispatch: start job: %w", err)
	}
	log.Info().Msg("dispatch: job admitted")

	if d.opts.AcknowledgeAdmission {
		d.deliver(userID, notify.TextPayload(running.ID, d.catalog.Working(req.Locale, prompt)))
	}

	go d.run(running, req.Locale)
	return Submission{Job: running, Admitted: true}, nil
}

func (d *Dispatcher) validate(userID, prompt string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidPrompt)
	}
	if prompt == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrInvalidPrompt)
	}
	if n := utf8.RuneCountInString(prompt); n > d.opts.MaxPromptLength {
		return fmt.Errorf("%w: prompt has %d characters, limit is %d", domain.ErrInvalidPrompt, n, d.opts.MaxPromptLength)
	}
	return nil
}

// run drives one job to a terminal state. It never panics out.
func (d *Dispatcher) run(job domain.Job, locale string) {
	defer d.wg.Done()
	log := d.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	started := time.Now()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error().Interface("panic", r).Msg("dispatch: job handler panicked")
		if cur, ok := d.store.Get(job.ID); ok && cur.Status.Terminal() {
			d.release(job)
			return
		}
		d.fail(job, domain.NewBackendError(domain.FailureUpstream, fmt.Errorf("job handler panicked: %v", r)), locale, time.Since(started))
	}()

	asset, err := d.generate(job)
	if err == nil {
		var artifact domain.Artifact
		artifact, err = d.persist(job, asset)
		if err == nil {
			d.succeed(job, artifact, locale, time.Since(started))
			return
		}
	}
	d.fail(job, err, locale, time.Since(started))
}

type generateResult struct {
	assets []image.Asset
	err    error
}

// generate calls the backend once. The backend runs on its own goroutine so
// the deadline is enforced even when it ignores ctx.
func (d *Dispatcher) generate(job domain.Job) (image.Asset, error) {
	ctx, cancel := context.WithTimeout(d.base, d.opts.Timeout)
	defer cancel()

	req := image.GenerateRequest{
		Prompt:         job.Prompt,
		NegativePrompt: d.opts.NegativePrompt,
		AspectRatio:    d.opts.AspectRatio,
		Provider:       d.opts.Provider,
		RequestID:      job.ID,
	}

	done := make(chan generateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generateResult{err: fmt.Errorf("backend panicked: %v", r)}
			}
		}()
		assets, err := d.backend.Generate(ctx, req)
		done <- generateResult{assets: assets, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return image.Asset{}, d.timeoutError()
			}
			return image.Asset{}, domain.NewBackendError(domain.FailureUpstream, res.err)
		}
		return validateAssets(res.assets)
	case <-ctx.Done():
		if d.base.Err() != nil {
			return image.Asset{}, domain.NewBackendError(domain.FailureUpstream, ErrClosed)
		}
		return image.Asset{}, d.timeoutError()
	}
}

func (d *Dispatcher) timeoutError() error {
	return domain.NewBackendError(domain.FailureTimeout, fmt.Errorf("generation timed out after %s", d.opts.Timeout))
}

// validateAssets picks the first asset and checks it is a usable image.
func validateAssets(assets []image.Asset) (image.Asset, error) {
	if len(assets) == 0 {
		return image.Asset{}, domain.NewBackendError(domain.FailureInvalidResult, errors.New("backend returned no image"))
	}
	asset := assets[0]
	if len(asset.Data) == 0 {
		if strings.TrimSpace(asset.URL) == "" {
			return image.Asset{}, domain.NewBackendError(domain.FailureInvalidResult, errors.New("backend returned an empty image"))
		}
		return asset, nil
	}
	img, err := imaging.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return image.Asset{}, domain.NewBackendError(domain.FailureInvalidResult, fmt.Errorf("decode image: %w", err))
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return image.Asset{}, domain.NewBackendError(domain.FailureInvalidResult, errors.New("backend returned a zero-sized image"))
	}
	asset.Width, asset.Height = bounds.Dx(), bounds.Dy()
	asset.Format = image.NormalizeFormat(http.DetectContentType(asset.Data))
	return asset, nil
}

// persist stores the asset under the job's own key.
func (d *Dispatcher) persist(job domain.Job, asset image.Asset) (domain.Artifact, error) {
	artifact := domain.Artifact{
		URL:    asset.URL,
		MIME:   image.NormalizeFormat(asset.Format),
		Width:  asset.Width,
		Height: asset.Height,
		Size:   int64(len(asset.Data)),
	}
	if len(asset.Data) == 0 || d.writer == nil {
		return artifact, nil
	}
	ctx, cancel := context.WithTimeout(d.base, d.opts.DeliveryTimeout)
	defer cancel()
	key, err := d.writer.Write(ctx, ArtifactKey(job.ID, artifact.MIME), asset.Data)
	if err != nil {
		return domain.Artifact{}, domain.NewBackendError(domain.FailureUpstream, fmt.Errorf("store artifact: %w", err))
	}
	artifact.StorageKey = key
	return artifact, nil
}

// ArtifactKey returns the storage key owned by jobID.
func ArtifactKey(jobID, mime string) string {
	return fmt.Sprintf("generated/images/%s/image%s", jobID, extensionFor(mime))
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".png"
	}
}

func (d *Dispatcher) succeed(job domain.Job, artifact domain.Artifact, locale string, took time.Duration) {
	log := d.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	done, err := d.store.Complete(job.ID, artifact)
	d.release(job)
	if err != nil {
		log.Error().Err(err).Msg("dispatch: complete job")
		return
	}
	log.Info().
		Str("storage_key", artifact.StorageKey).
		Int("width", artifact.Width).
		Int("height", artifact.Height).
		Dur("took", took).
		Msg("dispatch: job succeeded")
	d.save(done)
	d.deliver(job.UserID, notify.ImagePayload(job.ID, artifact, d.catalog.Delivered(locale, job.Prompt)))
}

func (d *Dispatcher) fail(job domain.Job, cause error, locale string, took time.Duration) {
	log := d.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	kind := domain.FailureUpstream
	message := "generation failed"
	var backendErr *domain.BackendError
	if errors.As(cause, &backendErr) {
		kind = backendErr.Kind
		if backendErr.Err != nil {
			message = backendErr.Err.Error()
		}
	} else if cause != nil {
		message = cause.Error()
	}

	failed, err := d.store.Fail(job.ID, kind, message)
	d.release(job)
	if err != nil {
		log.Error().Err(err).Msg("dispatch: fail job")
		return
	}
	log.Warn().
		Str("kind", string(kind)).
		Str("cause", message).
		Dur("took", took).
		Msg("dispatch: job failed")
	d.save(failed)
	d.deliver(job.UserID, notify.ErrorPayload(job.ID, d.catalog.Failed(locale, kind, message)))
}

// release frees the shared slot before the user is notified, so an
// immediate resubmit is admitted.
func (d *Dispatcher) release(job domain.Job) {
	if d.shared == nil {
		return
	}
	ctx, cancel := d.afterwork()
	defer cancel()
	if err := d.shared.Release(ctx, job.UserID, job.ID); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("dispatch: release user slot")
	}
}

func (d *Dispatcher) save(job domain.Job) {
	if d.archive == nil {
		return
	}
	ctx, cancel := d.afterwork()
	defer cancel()
	if err := d.archive.Save(ctx, job); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch: archive job")
	}
}

// deliver sends payload. Delivery errors and sink panics are logged, never
// returned.
func (d *Dispatcher) deliver(userID string, payload notify.Payload) {
	ctx, cancel := d.afterwork()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("job_id", payload.JobID).Str("user_id", userID).Msg("dispatch: sink panicked")
		}
	}()
	if err := d.sink.Deliver(ctx, userID, payload); err != nil {
		derr := &domain.DeliveryError{UserID: userID, JobID: payload.JobID, Err: err}
		d.logger.Error().Err(derr).
			Str("job_id", payload.JobID).
			Str("user_id", userID).
			Str("kind", string(payload.Kind)).
			Msg("dispatch: delivery failed")
	}
}

// afterwork bounds archive and delivery calls. It is detached from shutdown
// cancellation so users still hear about jobs failed by a forced stop.
func (d *Dispatcher) afterwork() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(d.base), d.opts.DeliveryTimeout)
}

// Wait blocks until every admitted job reached a terminal state.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops admitting work and waits for in-flight jobs. When ctx ends
// first, remaining jobs stop waiting on their backends and fail.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
