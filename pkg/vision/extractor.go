package vision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperledger/paperledger/pkg/retry"
)

// Escalation thresholds. Date confidence is deliberately absent: when a
// bill truly lacks a date a stronger model reads the same nothing, and
// the reviewer fills it in.
const (
	accuracyThreshold      = 70.0
	receiptConfThreshold   = 50.0
	overallConfThreshold   = 70.0
	fallbackRetryAttempts  = 5
	defaultPrimaryTimeout  = 120 * time.Second
	defaultFallbackTimeout = 180 * time.Second
)

// Options configures an Extractor.
type Options struct {
	PrimaryModel    string
	FallbackModel   string
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	// USDRate converts model pricing into the ledger currency.
	USDRate float64
}

func (o Options) withDefaults() Options {
	if o.PrimaryModel == "" {
		o.PrimaryModel = "gemini-2.0-flash"
	}
	if o.FallbackModel == "" {
		o.FallbackModel = "gemini-2.5-pro"
	}
	if o.PrimaryTimeout <= 0 {
		o.PrimaryTimeout = defaultPrimaryTimeout
	}
	if o.FallbackTimeout <= 0 {
		o.FallbackTimeout = defaultFallbackTimeout
	}
	if o.USDRate <= 0 {
		o.USDRate = 86.0
	}
	return o
}

// Extractor runs the two-tier extraction: fast model first, stronger
// model when confidence gates fail.
type Extractor struct {
	client         Client
	gate           RateGate
	opts           Options
	fallbackPolicy retry.Policy
	logger         *slog.Logger
}

// NewExtractor creates the extractor. A nil gate disables throttling
// (tests).
func NewExtractor(client Client, gate RateGate, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client: client,
		gate:   gate,
		opts:   opts.withDefaults(),
		fallbackPolicy: retry.Policy{
			MaxAttempts: fallbackRetryAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxJitter:   250 * time.Millisecond,
		},
		logger: logger.With("component", "vision"),
	}
}

// Extract runs one image through the model path and returns the parsed
// document with cost and provenance.
func (e *Extractor) Extract(ctx context.Context, kind, systemPrompt string, image []byte) (*Result, error) {
	primary, primaryErr := e.call(ctx, e.opts.PrimaryModel, systemPrompt, image, e.opts.PrimaryTimeout)

	var doc *Document
	var parseErr error
	result := &Result{Kind: kind, ModelUsed: e.opts.PrimaryModel}

	if primaryErr == nil {
		result.PromptTokens += primary.PromptTokens
		result.CompletionTokens += primary.CompletionTokens
		result.Cost = Cost(e.opts.PrimaryModel, primary.PromptTokens, primary.CompletionTokens, e.opts.USDRate)
		doc, parseErr = ParseDocument(primary.Text)
	}

	escalate := ""
	switch {
	case primaryErr != nil:
		escalate = fmt.Sprintf("primary call failed: %v", primaryErr)
	case parseErr != nil:
		escalate = fmt.Sprintf("primary parse failed: %v", parseErr)
	default:
		result.Accuracy = meanConfidence(doc.Items)
		if gate := qualityGate(kind, doc); gate != "" {
			escalate = gate
		} else if result.Accuracy < accuracyThreshold {
			escalate = fmt.Sprintf("accuracy %.1f below threshold", result.Accuracy)
		}
	}

	if escalate == "" {
		result.Doc = doc
		e.finish(result)
		return result, nil
	}

	e.logger.Info("escalating to fallback model",
		"kind", kind, "model", e.opts.FallbackModel, "reason", escalate)
	result.FallbackAttempted = true
	result.FallbackReason = escalate

	fbDoc, fbTokensIn, fbTokensOut, fbErr := e.callFallback(ctx, systemPrompt, image)
	result.PromptTokens += fbTokensIn
	result.CompletionTokens += fbTokensOut
	// Each model's tokens are priced at that model's rate; the result
	// carries the sum regardless of which parse wins.
	result.Cost = result.Cost.Add(Cost(e.opts.FallbackModel, fbTokensIn, fbTokensOut, e.opts.USDRate))

	if fbErr == nil {
		result.Doc = fbDoc
		result.ModelUsed = e.opts.FallbackModel
		result.Accuracy = meanConfidence(fbDoc.Items)
		e.finish(result)
		return result, nil
	}

	// The fallback failed outright. A usable primary parse still beats
	// nothing; the tagging above records what happened.
	if doc != nil && parseErr == nil {
		e.logger.Warn("fallback failed, keeping primary parse", "error", fbErr)
		result.Doc = doc
		e.finish(result)
		return result, nil
	}
	return nil, fmt.Errorf("vision: extraction failed on both models: %w", fbErr)
}

// call waits on the rate gate and issues one model call.
func (e *Extractor) call(ctx context.Context, model, systemPrompt string, image []byte, timeout time.Duration) (*GenerateResponse, error) {
	if e.gate != nil {
		if err := e.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("vision: rate gate: %w", err)
		}
	}
	return e.client.Generate(ctx, GenerateRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		Image:        image,
		MimeType:     "image/jpeg",
		Timeout:      timeout,
	})
}

// callFallback retries the stronger model on JSON and validation
// errors with a fresh retry budget.
func (e *Extractor) callFallback(ctx context.Context, systemPrompt string, image []byte) (*Document, int64, int64, error) {
	var doc *Document
	var tokensIn, tokensOut int64
	err := retry.Do(ctx, "vision.fallback", e.fallbackPolicy, func(ctx context.Context) error {
		resp, err := e.call(ctx, e.opts.FallbackModel, systemPrompt, image, e.opts.FallbackTimeout)
		if err != nil {
			return err
		}
		tokensIn += resp.PromptTokens
		tokensOut += resp.CompletionTokens
		doc, err = ParseDocument(resp.Text)
		return err
	})
	if err != nil {
		return nil, tokensIn, tokensOut, err
	}
	return doc, tokensIn, tokensOut, nil
}

// finish computes the review bounding boxes.
func (e *Extractor) finish(r *Result) {
	r.ReceiptBox = boxFromField(r.Doc.Header, "receipt_number_bbox")
	r.DateBox = boxFromField(r.Doc.Header, "date_bbox")
	r.CombinedBox = CombineBoxes(r.ReceiptBox, r.DateBox)
}

// meanConfidence averages per-item confidence; 100 when the prompt
// opted out of confidence scoring.
func meanConfidence(items []Item) float64 {
	sum, n := 0.0, 0
	for _, it := range items {
		if c := it.Confidence(); c >= 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 100
	}
	return sum / float64(n)
}

// qualityGate returns a non-empty escalation reason when the primary
// parse fails a hard gate.
func qualityGate(kind string, doc *Document) string {
	if kind == KindVendor && placeholder(Str(doc.Header, "vendor_name")) {
		return "vendor name missing"
	}

	if len(doc.Items) > 0 && allPlaceholders(doc.Items) {
		return "all items are empty placeholders"
	}

	if c := headerConfidence(doc.Header, "receipt_number"); c >= 0 && c < receiptConfThreshold {
		return fmt.Sprintf("receipt number confidence %.0f below %.0f", c, receiptConfThreshold)
	}
	if c := headerConfidence(doc.Header, "overall"); c >= 0 && c < overallConfThreshold {
		return fmt.Sprintf("overall image confidence %.0f below %.0f", c, overallConfThreshold)
	}
	return ""
}

// allPlaceholders reports whether every item's description is empty or
// an "N/A" style marker. Either description key counts.
func allPlaceholders(items []Item) bool {
	for _, it := range items {
		if !placeholder(Str(it, "description")) || !placeholder(Str(it, "item_description")) {
			return false
		}
	}
	return true
}
