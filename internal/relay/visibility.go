package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultInlinePayloadLimit = 1000000

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// BackoffPolicy bounds the visibility poll. The final sleep is clamped so
// the cumulative wait never exceeds MaxTotal.
type BackoffPolicy struct {
	Initial  time.Duration
	Factor   float64
	MaxTotal time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:  250 * time.Millisecond,
		Factor:   2,
		MaxTotal: 32 * time.Second,
	}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	defaults := DefaultBackoffPolicy()
	if p.Initial <= 0 {
		p.Initial = defaults.Initial
	}
	if p.Factor < 1 {
		p.Factor = defaults.Factor
	}
	if p.MaxTotal < 0 {
		p.MaxTotal = 0
	}
	return p
}

type VisibilityReport struct {
	ID      int64
	BlobKey string
	Polls   int
	Waited  time.Duration
	Visible bool
}

type CoordinatorOptions struct {
	Blobs       BlobStore
	Policy      BackoffPolicy
	InlineLimit int
	Sleep       Sleeper
	NewBlobKey  func() string
	Logger      zerolog.Logger
	// OnReport, when set, observes every completed commit.
	OnReport func(VisibilityReport)
}

// Coordinator writes message records and waits until the datastore reports
// them, masking read-after-write lag in eventually consistent backends.
type Coordinator struct {
	messages    MessageStore
	blobs       BlobStore
	policy      BackoffPolicy
	inlineLimit int
	sleep       Sleeper
	newBlobKey  func() string
	logger      zerolog.Logger
	onReport    func(VisibilityReport)
}

func NewCoordinator(messages MessageStore, opts CoordinatorOptions) *Coordinator {
	if opts.Policy == (BackoffPolicy{}) {
		opts.Policy = DefaultBackoffPolicy()
	}
	if opts.InlineLimit <= 0 {
		opts.InlineLimit = DefaultInlinePayloadLimit
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.NewBlobKey == nil {
		opts.NewBlobKey = uuid.NewString
	}
	return &Coordinator{
		messages:    messages,
		blobs:       opts.Blobs,
		policy:      opts.Policy.normalized(),
		inlineLimit: opts.InlineLimit,
		sleep:       opts.Sleep,
		newBlobKey:  opts.NewBlobKey,
		logger:      opts.Logger,
		onReport:    opts.OnReport,
	}
}

// CommitAndAwaitVisible persists rec and polls until it is counted. Reaching
// the wait ceiling is logged and is not an error.
func (c *Coordinator) CommitAndAwaitVisible(ctx context.Context, rec *MessageRecord) (VisibilityReport, error) {
	if rec == nil {
		return VisibilityReport{}, Fail(ErrStorageFailed, "Unable to create new message.")
	}
	var writtenBlob string
	if len(rec.Payload) > c.inlineLimit && c.blobs != nil {
		key := c.newBlobKey()
		if err := c.blobs.Put(ctx, key, rec.Payload); err != nil {
			c.logger.Error().Err(err).Str("retrieval_id", rec.RetrievalID).Msg("blob write failed")
			return VisibilityReport{}, Fail(ErrStorageFailed, "Unable to create new message.")
		}
		rec.BlobKey = key
		rec.Payload = nil
		writtenBlob = key
	}

	id, err := c.messages.PutMessage(ctx, rec)
	if err != nil || id <= 0 {
		c.logger.Error().Err(err).Str("retrieval_id", rec.RetrievalID).Int64("id", id).Msg("message write returned no identity")
		if writtenBlob != "" {
			if delErr := c.blobs.Delete(ctx, writtenBlob); delErr != nil {
				c.logger.Warn().Err(delErr).Str("blob_key", writtenBlob).Msg("orphaned blob delete failed")
			}
		}
		return VisibilityReport{}, Fail(ErrStorageFailed, "Unable to create new message.")
	}

	report := c.await(ctx, rec.RetrievalID)
	report.ID = id
	report.BlobKey = rec.BlobKey
	if c.onReport != nil {
		c.onReport(report)
	}
	return report, nil
}

func (c *Coordinator) await(ctx context.Context, retrievalID string) VisibilityReport {
	var report VisibilityReport
	delay := c.policy.Initial
	for {
		count, err := c.messages.CountMessages(ctx, retrievalID)
		report.Polls++
		if err != nil {
			c.logger.Debug().Err(err).Str("retrieval_id", retrievalID).Msg("visibility poll failed")
		} else if count >= 1 {
			report.Visible = true
			return report
		}
		if report.Waited >= c.policy.MaxTotal {
			c.logger.Error().
				Str("retrieval_id", retrievalID).
				Dur("waited", report.Waited).
				Int("polls", report.Polls).
				Msg("message not visible before wait ceiling; dispatching anyway")
			return report
		}
		step := delay
		if remaining := c.policy.MaxTotal - report.Waited; step > remaining {
			step = remaining
		}
		if err := c.sleep(ctx, step); err != nil {
			c.logger.Error().Err(err).Str("retrieval_id", retrievalID).Msg("visibility wait interrupted")
			return report
		}
		report.Waited += step
		delay = time.Duration(float64(delay) * c.policy.Factor)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
