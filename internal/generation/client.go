package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/redact"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultCallTimeout bounds a single backend call when no timeout is configured.
const DefaultCallTimeout = 60 * time.Second

// maxCorrectionLength caps the problem description echoed back to the model.
const maxCorrectionLength = 600

// BatchItem is one job handed to the generator.
type BatchItem struct {
	JobID int64
	Label string
}

// ItemResult is the outcome for one BatchItem. Err is nil when the entry was
// generated; ResolvedLabel then holds the label the model settled on, which
// may differ from the submitted one.
type ItemResult struct {
	JobID         int64
	ResolvedLabel string
	Content       json.RawMessage
	Err           error
}

// OK reports whether the item was generated.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// CallObserver is notified after every backend call with its latency and error.
type CallObserver func(elapsed time.Duration, err error)

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout sets the deadline applied to each backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithPromptTemplate replaces the built-in batch prompt.
func WithPromptTemplate(tmpl *template.Template) Option {
	return func(c *Client) {
		if tmpl != nil {
			c.prompt = tmpl
		}
	}
}

// WithCallObserver registers fn to observe backend calls.
func WithCallObserver(fn CallObserver) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client generates content for batches of labels with one backend call per
// attempt.
type Client struct {
	backend     Backend
	prompt      *template.Template
	itemSchema  *jsonschema.Schema
	callTimeout time.Duration
	observe     CallObserver
	logger      *slog.Logger
}

// NewClient creates a Client on top of backend.
func NewClient(backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend cannot be nil", ErrInvalidConfig)
	}

	schema, err := compileItemSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	c := &Client{
		backend:     backend,
		prompt:      DefaultPromptTemplate(),
		itemSchema:  schema,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "generation_client")
	return c, nil
}

// GenerateBatch generates content for items using apiKey.
//
// A non-nil error means the batch as a whole produced nothing usable: the
// backend call failed (transport or credential errors, content blocked) or
// the reply envelope was still malformed after one corrective re-prompt
// (ErrInvalidResponse). Otherwise the returned slice has one result per item,
// in input order, and failures are reported per item.
func (c *Client) GenerateBatch(ctx context.Context, apiKey string, items []BatchItem) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	log := logger.FromContextOr(ctx, c.logger).With("batch_size", len(items))

	labels := make([]string, len(items))
	for i, item := range items {
		labels[i] = item.Label
	}

	entries, err := c.requestEntries(ctx, apiKey, labels)
	if err != nil {
		return nil, err
	}

	results := make([]ItemResult, len(items))
	var retry []int
	problems := make([]string, 0)
	for i, raw := range entries {
		res, problem := c.decodeResult(items[i], raw)
		results[i] = res
		if problem != nil {
			retry = append(retry, i)
			problems = append(problems, fmt.Sprintf("entry %d: %v", len(retry), problem))
		}
	}

	if len(retry) == 0 {
		return results, nil
	}

	log.Warn("malformed entries in generation reply, re-prompting",
		"malformed", len(retry))
	c.retryEntries(ctx, apiKey, items, results, retry, strings.Join(problems, "; "))
	return results, nil
}

// requestEntries performs the first call and, when the envelope is unusable,
// one corrective re-prompt for the whole batch.
func (c *Client) requestEntries(ctx context.Context, apiKey string, labels []string) ([]json.RawMessage, error) {
	raw, err := c.call(ctx, apiKey, labels, "")
	if err != nil {
		return nil, err
	}
	entries, perr := parseEnvelope(raw, len(labels))
	if perr == nil {
		return entries, nil
	}

	logger.FromContextOr(ctx, c.logger).Warn("malformed generation reply, re-prompting",
		"error", perr)

	raw, err = c.call(ctx, apiKey, labels, perr.Error())
	if err != nil {
		return nil, err
	}
	entries, perr = parseEnvelope(raw, len(labels))
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, perr)
	}
	return entries, nil
}

// retryEntries re-prompts for the entries at indexes retry and fills their
// results. Entries that remain malformed fail with ErrInvalidResponse; a
// failed call fails them with the call's error.
func (c *Client) retryEntries(
	ctx context.Context,
	apiKey string,
	items []BatchItem,
	results []ItemResult,
	retry []int,
	correction string,
) {
	labels := make([]string, len(retry))
	for j, idx := range retry {
		labels[j] = items[idx].Label
	}

	fail := func(err error) {
		for _, idx := range retry {
			results[idx] = ItemResult{JobID: items[idx].JobID, Err: err}
		}
	}

	raw, err := c.call(ctx, apiKey, labels, correction)
	if err != nil {
		fail(err)
		return
	}
	entries, perr := parseEnvelope(raw, len(labels))
	if perr != nil {
		fail(fmt.Errorf("%w: %v", ErrInvalidResponse, perr))
		return
	}

	for j, idx := range retry {
		res, problem := c.decodeResult(items[idx], entries[j])
		if problem != nil {
			res.Err = fmt.Errorf("%w: %v", ErrInvalidResponse, problem)
		}
		results[idx] = res
	}
}

// decodeResult converts one raw entry into a result. A non-nil problem means
// the entry was malformed and is eligible for a re-prompt; explicit
// rejections are returned as a result with ErrItemRejected.
func (c *Client) decodeResult(item BatchItem, raw json.RawMessage) (ItemResult, error) {
	res := ItemResult{JobID: item.JobID}

	entry, err := decodeEntry(c.itemSchema, raw)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		return res, err
	}

	if entry.Error != "" {
		res.Err = fmt.Errorf("%w: %s", ErrItemRejected, entry.Error)
		return res, nil
	}

	res.ResolvedLabel = entry.Label
	res.Content = entry.Content
	return res, nil
}

// call renders the prompt and makes one bounded backend call. Errors are
// always classified with one of the package sentinels.
func (c *Client) call(ctx context.Context, apiKey string, labels []string, correction string) (string, error) {
	prompt, err := renderPrompt(c.prompt, labels, redact.Truncate(correction, maxCorrectionLength))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := c.backend.Complete(callCtx, apiKey, prompt)
	if err != nil {
		switch {
		case ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !isClassified(err):
			err = fmt.Errorf("%w: call timed out after %s", ErrTransientFailure, c.callTimeout)
		case !isClassified(err):
			err = fmt.Errorf("%w: %w", ErrTransientFailure, err)
		}
	}
	if c.observe != nil {
		c.observe(time.Since(start), err)
	}
	return raw, err
}
