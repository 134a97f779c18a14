package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dispatchly/internal/common"

	"github.com/google/uuid"
)

// DispatcherOptions bundles the tuning knobs for the dispatch engine.
type DispatcherOptions struct {
	Retry          RetryPolicy
	AdapterTimeout time.Duration
	Batching       BatcherConfig
	Breaker        BreakerSettings
}

// inflightState tracks a dispatch whose channels have not all settled,
// carrying its cancellation signal. Cancellation lets an in-flight adapter
// call finish but suppresses any retry it would have scheduled.
type inflightState struct {
	once     sync.Once
	cancelCh chan struct{}
}

func newInflightState() *inflightState {
	return &inflightState{cancelCh: make(chan struct{})}
}

func (s *inflightState) cancel() {
	s.once.Do(func() { close(s.cancelCh) })
}

func (s *inflightState) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// Dispatcher coordinates a dispatch request end to end: template resolution,
// rate limiting, batching, adapter invocation and retry, aggregating
// per-channel outcomes into a Receipt. Unrelated requests never share locks;
// shared state is confined to per-key rate limit counters and batch windows.
type Dispatcher struct {
	registry   *Registry
	limiter    RateLimiter
	recipients RecipientDirectory
	journal    DeliveryJournal
	metrics    MetricsRecorder
	adapters   map[Channel]Adapter
	batcher    *Batcher

	policy         RetryPolicy
	adapterTimeout time.Duration

	// cancelProbe, when set, is consulted between attempts so cancellations
	// recorded out of process (store status flipped) also suppress retries.
	cancelProbe func(ctx context.Context, notificationID string) bool

	mu       sync.Mutex
	inflight map[string]*inflightState
	wg       sync.WaitGroup
}

// NewDispatcher wires a dispatch engine. journal may be nil (no audit trail);
// metrics may be nil (no observability). Each adapter is wrapped in a circuit
// breaker.
func NewDispatcher(
	registry *Registry,
	limiter RateLimiter,
	recipients RecipientDirectory,
	journal DeliveryJournal,
	metrics MetricsRecorder,
	opts DispatcherOptions,
	adapters ...Adapter,
) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 10 * time.Second
	}

	am := make(map[Channel]Adapter, len(adapters))
	for _, a := range adapters {
		am[a.Channel()] = WithBreaker(a, opts.Breaker)
	}

	d := &Dispatcher{
		registry:       registry,
		limiter:        limiter,
		recipients:     recipients,
		journal:        journal,
		metrics:        metrics,
		adapters:       am,
		policy:         opts.Retry.normalized(),
		adapterTimeout: opts.AdapterTimeout,
		inflight:       make(map[string]*inflightState),
	}
	d.batcher = NewBatcher(opts.Batching, d.flushBatch)
	return d
}

// SetCancelProbe installs a check for out-of-process cancellation, consulted
// before each retry attempt.
func (d *Dispatcher) SetCancelProbe(probe func(ctx context.Context, notificationID string) bool) {
	d.cancelProbe = probe
}

// Dispatch runs the orchestration for one notification and returns its
// receipt. The receipt is returned as soon as the synchronous phase
// (template resolution, rate limiting, batching decisions) completes;
// adapter deliveries settle asynchronously. Template and configuration
// errors abort with no partial side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) (*Receipt, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}

	tmpl, err := d.registry.Lookup(n.Template)
	if err != nil {
		return nil, err
	}

	channels := dedupChannels(n.Channels)
	if len(channels) == 0 {
		channels = tmpl.Channels
	}
	if len(channels) == 0 {
		return nil, common.NewValidationError("no channels requested")
	}
	for _, ch := range channels {
		if !tmpl.SupportsChannel(ch) {
			return nil, &common.UnsupportedChannelError{Template: n.Template, Channel: string(ch)}
		}
	}

	// Render every channel up front so a template error leaves no partial
	// side effects: nothing sent, nothing counted, nothing batched.
	rendered := make(map[Channel]*Message, len(channels))
	for _, ch := range channels {
		msg, err := d.registry.Render(n.Template, ch, n.Variables)
		if err != nil {
			return nil, err
		}
		rendered[ch] = msg
	}

	rcpt, err := d.recipients.GetRecipient(ctx, n.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("looking up recipient %s: %w", n.RecipientID, err)
	}
	if rcpt == nil {
		return nil, common.NewNotFoundError("recipient", n.RecipientID)
	}

	receipt := newReceipt(n.ID, channels)
	st := d.register(n.ID, receipt)

	deliverCtx := context.WithoutCancel(ctx)
	var batchChannels []Channel

	for _, ch := range channels {
		if !rcpt.ChannelEnabled(ch) {
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeSkipped, Reason: "recipient opted out"})
			continue
		}
		if rcpt.Address(ch) == "" {
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeTerminal, Reason: "no address on file"})
			continue
		}

		admission, err := d.limiter.TryAcquire(ctx, n.RecipientID, 1)
		if err != nil {
			// Fail open: a broken limiter backend must not block delivery.
			slog.Error("rate limit check failed, admitting", "recipient", n.RecipientID, "channel", ch, "error", err)
			admission = Admission{Allowed: true}
		}
		if !admission.Allowed {
			d.metrics.RateLimited(admission.Scope)
			d.finish(receipt, ch, ChannelOutcome{
				Kind:       OutcomeDeferred,
				Reason:     fmt.Sprintf("rate limited (%s)", admission.Scope),
				RetryAfter: admission.RetryAfter,
			})
			continue
		}

		if d.batcher.Batchable(tmpl.Category, n.Priority) {
			batchChannels = append(batchChannels, ch)
			continue
		}

		d.wg.Add(1)
		go d.deliver(deliverCtx, st, n.ID, ch, rendered[ch], rcpt, receipt)
	}

	if len(batchChannels) > 0 {
		disposition := d.batcher.Enqueue(&BatchItem{
			NotificationID: n.ID,
			RecipientID:    n.RecipientID,
			Category:       tmpl.Category,
			Template:       n.Template,
			Variables:      n.Variables,
			Channels:       batchChannels,
			EnqueuedAt:     time.Now(),
		})
		if disposition == DispositionQueued {
			for _, ch := range batchChannels {
				d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeDeferred, Reason: "held for batch delivery"})
			}
		} else {
			for _, ch := range batchChannels {
				d.wg.Add(1)
				go d.deliver(deliverCtx, st, n.ID, ch, rendered[ch], rcpt, receipt)
			}
		}
	}

	return receipt, nil
}

// Cancel marks an in-flight notification cancelled. The in-flight adapter
// call, if any, runs to completion; any subsequent retry is suppressed and
// unresolved channels settle as Cancelled.
//
// Cancel only reaches dispatches owned by this process; it is the API for
// embedding the Dispatcher directly. The server/worker split cancels through
// the store instead: the API flips the record's status and the cancel probe
// installed by NewWorker picks that up before the next attempt.
func (d *Dispatcher) Cancel(notificationID string) bool {
	d.mu.Lock()
	st, ok := d.inflight[notificationID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	st.cancel()
	return true
}

// Shutdown flushes open batch windows and waits for in-flight deliveries,
// bounded by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.batcher.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) register(notificationID string, receipt *Receipt) *inflightState {
	st := newInflightState()
	d.mu.Lock()
	d.inflight[notificationID] = st
	d.mu.Unlock()

	go func() {
		<-receipt.Done()
		d.mu.Lock()
		delete(d.inflight, notificationID)
		d.mu.Unlock()
	}()
	return st
}

func (d *Dispatcher) finish(receipt *Receipt, ch Channel, oc ChannelOutcome) {
	if receipt.resolve(ch, oc) {
		d.metrics.DeliveryResolved(ch, oc.Kind)
	}
}

// deliver drives the per-channel attempt loop: Pending → Success |
// TerminalFailure | (RetryableFailure → Pending while attempts remain) →
// ExhaustedFailure. Attempts for one (notification, channel) pair are
// strictly ordered; attempt N+1 never starts before N's outcome is known.
func (d *Dispatcher) deliver(ctx context.Context, st *inflightState, id string, ch Channel, msg *Message, rcpt *Recipient, receipt *Receipt) {
	defer d.wg.Done()

	adapter, ok := d.adapters[ch]
	if !ok {
		d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeTerminal, Reason: "no adapter configured"})
		return
	}

	maxAttempts := d.policy.MaxAttempts
	for attempt := 1; ; attempt++ {
		if st.cancelled() || d.probeCancelled(ctx, id) {
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeCancelled, Attempts: attempt - 1})
			return
		}

		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, d.adapterTimeout)
		providerID, err := adapter.Send(actx, msg, rcpt)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			d.recordAttempt(ctx, id, ch, attempt, start, elapsed, AttemptSuccess, "", providerID)
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeSuccess, Attempts: attempt, ProviderID: providerID})
			slog.Info("delivery succeeded", "notification_id", id, "channel", ch, "attempts", attempt, "provider_id", providerID)
			return
		}

		if IsTerminal(err) {
			d.recordAttempt(ctx, id, ch, attempt, start, elapsed, AttemptTerminalFailure, err.Error(), "")
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeTerminal, Reason: err.Error(), Attempts: attempt})
			slog.Warn("delivery failed permanently", "notification_id", id, "channel", ch, "error", err)
			return
		}

		d.recordAttempt(ctx, id, ch, attempt, start, elapsed, AttemptRetryableFailure, err.Error(), "")

		if attempt >= maxAttempts {
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeExhausted, Reason: err.Error(), Attempts: attempt})
			slog.Warn("delivery retries exhausted", "notification_id", id, "channel", ch, "attempts", attempt, "error", err)
			return
		}

		delay := d.policy.DelayFor(attempt, err)
		slog.Debug("delivery retry scheduled", "notification_id", id, "channel", ch, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-st.cancelCh:
			timer.Stop()
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeCancelled, Attempts: attempt})
			return
		}
	}
}

func (d *Dispatcher) probeCancelled(ctx context.Context, id string) bool {
	return d.cancelProbe != nil && d.cancelProbe(ctx, id)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, id string, ch Channel, attempt int, start time.Time, elapsed time.Duration, outcome AttemptOutcome, errMsg, providerID string) {
	d.metrics.AttemptObserved(ch, outcome, elapsed.Seconds())
	if d.journal == nil {
		return
	}
	rec := &DeliveryAttempt{
		NotificationID: id,
		Channel:        ch,
		AttemptNumber:  attempt,
		StartedAt:      start,
		Duration:       elapsed,
		Outcome:        outcome,
		Error:          errMsg,
		ProviderID:     providerID,
	}
	if err := d.journal.RecordAttempt(ctx, rec); err != nil {
		slog.Error("failed to record delivery attempt", "notification_id", id, "channel", ch, "error", err)
	}
}

// flushBatch delivers the merged contents of a flushed batch window. The
// merged delivery is a notification of its own: a fresh ID, its own journal
// record, its own attempts and outcomes. Per-item receipts were already
// settled as Deferred when the items were queued.
func (d *Dispatcher) flushBatch(recipientID string, cat Category, items []*BatchItem) {
	d.metrics.BatchFlushed(len(items))

	ctx := context.Background()
	rcpt, err := d.recipients.GetRecipient(ctx, recipientID)
	if err != nil || rcpt == nil {
		slog.Error("batch flush dropped: recipient lookup failed", "recipient", recipientID, "category", cat, "error", err)
		return
	}

	// Union of requested channels, canonical order.
	perChannel := make(map[Channel][]DigestItem)
	var channels []Channel
	for _, ch := range AllChannels {
		for _, item := range items {
			for _, c := range item.Channels {
				if c == ch {
					perChannel[ch] = append(perChannel[ch], DigestItem{Template: item.Template, Variables: item.Variables})
					break
				}
			}
		}
		if len(perChannel[ch]) > 0 {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return
	}

	mergedID := uuid.New().String()
	if d.journal != nil {
		chs := make([]string, len(channels))
		for i, ch := range channels {
			chs[i] = string(ch)
		}
		log := &NotificationLog{
			ID:          mergedID,
			RecipientID: recipientID,
			Template:    items[0].Template,
			Category:    string(cat),
			Channels:    chs,
			Priority:    string(PriorityMedium),
			Status:      StatusProcessing,
			Batch:       true,
			BatchSize:   len(items),
		}
		if err := d.journal.Create(ctx, log); err != nil {
			slog.Error("failed to persist batch record", "batch_id", mergedID, "error", err)
		} else {
			mergedID = log.ID
		}
	}

	receipt := newReceipt(mergedID, channels)
	st := d.register(mergedID, receipt)

	for _, ch := range channels {
		msg, err := d.registry.RenderDigest(cat, ch, perChannel[ch])
		if err != nil {
			d.finish(receipt, ch, ChannelOutcome{Kind: OutcomeTerminal, Reason: "digest render failed: " + err.Error()})
			continue
		}
		d.wg.Add(1)
		go d.deliver(ctx, st, mergedID, ch, msg, rcpt, receipt)
	}

	<-receipt.Done()
	outcomes := receipt.Outcomes()
	if d.journal != nil {
		if err := d.journal.UpdateOutcomes(ctx, mergedID, StatusFromOutcomes(outcomes), outcomes); err != nil {
			slog.Error("failed to persist batch outcomes", "batch_id", mergedID, "error", err)
		}
	}
	slog.Info("batch delivered", "batch_id", mergedID, "recipient", recipientID, "category", cat, "items", len(items), "channels", len(channels))
}

// StatusFromOutcomes derives the log status from settled channel outcomes.
func StatusFromOutcomes(outcomes map[Channel]ChannelOutcome) Status {
	if len(outcomes) == 0 {
		return StatusFailed
	}
	allFailed, allCancelled := true, true
	for _, oc := range outcomes {
		if oc.Kind != OutcomeTerminal && oc.Kind != OutcomeExhausted {
			allFailed = false
		}
		if oc.Kind != OutcomeCancelled {
			allCancelled = false
		}
	}
	switch {
	case allCancelled:
		return StatusCancelled
	case allFailed:
		return StatusFailed
	default:
		return StatusDispatched
	}
}
