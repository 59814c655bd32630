// Package leads implements the qualification pipeline: intake and
// deduplication of webhook submissions, the per-lead state machine, and the
// orchestration of the normalize, enrich, score and schedule stages through
// their collaborators.
package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"leadflow_backend/internal/crm"
	"leadflow_backend/internal/enrichment"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/handoff"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/normalize"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scheduling"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Normalizer turns a raw submission into canonical contact fields.
type Normalizer interface {
	Normalize(ctx context.Context, raw map[string]any) (normalize.Result, error)
}

// Enricher looks up firmographic attributes by email. Enabled reports whether
// a credential is configured; a disabled enricher skips the stage entirely.
type Enricher interface {
	Enabled() bool
	Lookup(ctx context.Context, email string) (enrichment.Attributes, error)
}

// Scorer produces the qualification outcome for an enriched lead against a
// rule snapshot.
type Scorer interface {
	Score(ctx context.Context, view scoring.LeadView, snap *rules.Snapshot) (scoring.Outcome, error)
}

// Booker finds and books the earliest acceptable meeting slot.
type Booker interface {
	Schedule(ctx context.Context, req scheduling.Request) (scheduling.Result, error)
}

// HandoffLedger records opportunities owed to the CRM for async delivery.
type HandoffLedger interface {
	Insert(ctx context.Context, params handoff.InsertParams) (uuid.UUID, error)
}

// RulesSource yields the current qualification rule snapshot.
type RulesSource interface {
	Snapshot() *rules.Snapshot
}

// Submission outcome types live in domain so the HTTP handler can depend on
// them without importing the orchestrator.
type (
	Disposition  = domain.Disposition
	SubmitResult = domain.SubmitResult
)

const (
	DispositionAccepted  = domain.DispositionAccepted
	DispositionCoalesced = domain.DispositionCoalesced
	DispositionUnchanged = domain.DispositionUnchanged
)

const (
	bookedDuplicateMsg = "orchestrator: duplicate event for a booked lead, acknowledging without a new run"
	staleClaimMsg      = "orchestrator: run lost its claim on the lead, stopping"
	storageStopMsg     = "orchestrator: run stopped on a storage error"
)

// errSuperseded is returned from a stage commit when a newer submission
// claimed the lead while the stage was executing.
var errSuperseded = errors.New("run superseded")

// Orchestrator owns every lead state transition and drives each pipeline run
// through its stages. At most one run is in flight per identity key; a
// duplicate submission bumps the key's generation counter, which the running
// goroutine notices at its next commit point.
type Orchestrator struct {
	repo       repository.LeadsRepository
	normalizer Normalizer
	enricher   Enricher
	scorer     Scorer
	booker     Booker
	handoffs   HandoffLedger
	rules      RulesSource
	bus        events.Bus
	log        *logger.Logger

	maxRetries int
	baseDelay  time.Duration
	pipelines  *semaphore.Weighted

	// sleep is replaced in tests to make backoff instantaneous.
	sleep func(ctx context.Context, d time.Duration) error

	// Per-key run registry: an entry exists while a pipeline goroutine owns
	// the key; its generation counter is bumped to supersede the run.
	runs   map[string]*keyRun
	runsMu sync.Mutex

	wg sync.WaitGroup
}

type keyRun struct {
	gen int
}

func NewOrchestrator(repo repository.LeadsRepository, normalizer Normalizer, enricher Enricher, scorer Scorer, booker Booker, handoffs HandoffLedger, rulesSource RulesSource, bus events.Bus, cfg config.PipelineConfig, log *logger.Logger) *Orchestrator {
	maxRetries := cfg.GetStageMaxRetries()
	if maxRetries < 1 {
		maxRetries = 1
	}
	maxConcurrent := cfg.GetPipelineMaxConcurrent()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		repo:       repo,
		normalizer: normalizer,
		enricher:   enricher,
		scorer:     scorer,
		booker:     booker,
		handoffs:   handoffs,
		rules:      rulesSource,
		bus:        bus,
		log:        log,
		maxRetries: maxRetries,
		baseDelay:  cfg.GetRetryBaseDelay(),
		pipelines:  semaphore.NewWeighted(int64(maxConcurrent)),
		sleep:      ctxSleep,
		runs:       make(map[string]*keyRun),
	}
}

// Submit ingests one webhook event. It answers immediately with the lead id
// and a disposition; stage work happens on a background goroutine. Duplicate
// events are routed by the stored lead's state: in-flight runs are superseded,
// rerunnable terminal leads get a fresh run, booked leads are left alone.
func (o *Orchestrator) Submit(ctx context.Context, payload map[string]any) (SubmitResult, error) {
	identityKey, err := identityFromPayload(payload)
	if err != nil {
		return SubmitResult{}, err
	}

	lead, err := o.repo.GetByIdentityKey(ctx, identityKey)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return o.acceptNew(ctx, identityKey, payload)
	case err != nil:
		return SubmitResult{}, err
	}
	return o.acceptExisting(ctx, lead, payload)
}

// Retry starts a fresh run for a lead parked in a rerunnable terminal state.
func (o *Orchestrator) Retry(ctx context.Context, leadID uuid.UUID) (repository.Lead, error) {
	lead, err := o.repo.GetByID(ctx, leadID)
	if err != nil {
		return repository.Lead{}, err
	}
	if !domain.IsRerunnable(lead.State) {
		return repository.Lead{}, apperr.Conflict(fmt.Sprintf("lead in state %s cannot be re-run", lead.State))
	}

	fresh, err := o.repo.StartFreshRun(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleRun) {
			return repository.Lead{}, apperr.Conflict("lead state changed, re-run refused")
		}
		return repository.Lead{}, err
	}
	_ = o.repo.AppendTimeline(ctx, leadID, repository.TimelineRunStarted, fmt.Sprintf("manual retry, run %d", fresh.RunEpoch))
	o.launch(fresh)
	return fresh, nil
}

// Resume relaunches pipelines for leads a previous process left in flight.
// Safe to call on every startup: stage side effects are idempotent within a
// run epoch, so re-entering a half-finished stage cannot duplicate them.
func (o *Orchestrator) Resume(ctx context.Context) error {
	inFlight, err := o.repo.ListInFlight(ctx)
	if err != nil {
		return err
	}
	for _, lead := range inFlight {
		o.log.Info("orchestrator: resuming in-flight lead", "leadId", lead.ID, "state", lead.State, "runEpoch", lead.RunEpoch)
		o.launch(lead)
	}
	return nil
}

// Drain waits for in-flight pipeline goroutines to finish, up to the
// context's deadline.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) acceptNew(ctx context.Context, identityKey string, payload map[string]any) (SubmitResult, error) {
	lead, err := o.repo.Create(ctx, repository.CreateLeadParams{IdentityKey: identityKey, RawPayload: payload})
	if err != nil {
		// Insert race: a concurrent submit created the lead between our read
		// and this insert. The unique index rejected ours; take the
		// existing-lead path instead.
		if existing, lookupErr := o.repo.GetByIdentityKey(ctx, identityKey); lookupErr == nil {
			return o.acceptExisting(ctx, existing, payload)
		}
		return SubmitResult{}, err
	}

	o.bus.Publish(ctx, events.LeadReceived{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		IdentityKey: identityKey,
		Email:       payloadString(payload, "email"),
		Company:     payloadString(payload, "company"),
		Source:      payloadString(payload, "source"),
	})
	o.launch(lead)
	return SubmitResult{LeadID: lead.ID, Disposition: DispositionAccepted}, nil
}

func (o *Orchestrator) acceptExisting(ctx context.Context, lead repository.Lead, payload map[string]any) (SubmitResult, error) {
	// A booked lead is never reopened: the meeting exists, and a duplicate
	// event must not book a second one.
	if lead.State == domain.StateScheduled || lead.State == domain.StateDone {
		o.log.Info(bookedDuplicateMsg, "leadId", lead.ID, "state", lead.State)
		return SubmitResult{LeadID: lead.ID, Disposition: DispositionUnchanged}, nil
	}

	merged, err := o.repo.MergePayload(ctx, lead.ID, payload)
	if err != nil {
		return SubmitResult{}, err
	}

	if domain.IsRerunnable(lead.State) {
		fresh, err := o.repo.StartFreshRun(ctx, lead.ID)
		if err != nil {
			if errors.Is(err, repository.ErrStaleRun) {
				// A concurrent submit reopened the lead first; its run will
				// process our merged payload.
				return SubmitResult{LeadID: lead.ID, Disposition: DispositionCoalesced}, nil
			}
			return SubmitResult{}, err
		}
		_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineRunStarted, fmt.Sprintf("fresh run %d after %s", fresh.RunEpoch, lead.State))
		o.launch(fresh)
		return SubmitResult{LeadID: lead.ID, Disposition: DispositionAccepted}, nil
	}

	// In flight: the payload is merged and the running goroutine is told to
	// restart. It finishes its current stage, parks the run as STALE and
	// starts a fresh one from the merged payload.
	superseded := o.supersede(lead.IdentityKey)
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineCoalesced, "duplicate event merged into the raw payload")
	o.bus.Publish(ctx, events.LeadCoalesced{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		IdentityKey: lead.IdentityKey,
		Superseded:  superseded,
	})
	if !superseded {
		// In-progress state on disk but no goroutine owns the key: a crash
		// left the run behind. Pick it up from where it stopped.
		o.launch(merged)
	}
	return SubmitResult{LeadID: lead.ID, Disposition: DispositionCoalesced}, nil
}

// launch hands a lead to its per-key pipeline goroutine. If the key already
// has one, the generation bump makes that goroutine restart from the stored
// lead instead.
func (o *Orchestrator) launch(lead repository.Lead) {
	key := lead.IdentityKey

	o.runsMu.Lock()
	if rs, ok := o.runs[key]; ok {
		rs.gen++
		o.runsMu.Unlock()
		return
	}
	rs := &keyRun{gen: 1}
	o.runs[key] = rs
	gen := rs.gen
	o.runsMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Pipelines deliberately run on a background context: a webhook
		// disconnect must not abort the run it started.
		ctx := context.Background()
		if err := o.pipelines.Acquire(ctx, 1); err != nil {
			o.releaseKey(key)
			return
		}
		defer o.pipelines.Release(1)
		o.runLoop(ctx, key, lead, gen)
	}()
}

func (o *Orchestrator) releaseKey(key string) {
	o.runsMu.Lock()
	delete(o.runs, key)
	o.runsMu.Unlock()
}

// supersede bumps the generation for a key with a run in flight. Returns
// false when no goroutine owns the key.
func (o *Orchestrator) supersede(key string) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	rs, ok := o.runs[key]
	if !ok {
		return false
	}
	rs.gen++
	return true
}

func (o *Orchestrator) currentGen(key string) int {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	if rs, ok := o.runs[key]; ok {
		return rs.gen
	}
	return 0
}

// commitGuard refuses a stage commit when the run was superseded while the
// stage executed.
func (o *Orchestrator) commitGuard(lead repository.Lead, gen int) error {
	if o.currentGen(lead.IdentityKey) != gen {
		return errSuperseded
	}
	return nil
}

// runLoop owns one identity key until every generation is settled. Each
// iteration drives a single run to rest; a generation bump observed afterward
// means new data arrived, and the stored state decides whether a fresh run
// may start.
func (o *Orchestrator) runLoop(ctx context.Context, key string, lead repository.Lead, gen int) {
	for {
		o.runPipeline(ctx, lead, gen)

		// Release the key only when the generation is settled; a bump that
		// landed after the pipeline's last check must not be dropped.
		o.runsMu.Lock()
		rs := o.runs[key]
		if rs == nil || rs.gen == gen {
			delete(o.runs, key)
			o.runsMu.Unlock()
			return
		}
		gen = rs.gen
		o.runsMu.Unlock()

		current, err := o.repo.GetByID(ctx, lead.ID)
		if err != nil {
			o.log.Error("orchestrator: reloading superseded lead failed", "leadId", lead.ID, "error", err)
			o.releaseKey(key)
			return
		}
		switch {
		case domain.IsRerunnable(current.State):
			fresh, err := o.repo.StartFreshRun(ctx, current.ID)
			if err != nil {
				o.log.Error("orchestrator: fresh run after supersede failed", "leadId", current.ID, "error", err)
				o.releaseKey(key)
				return
			}
			_ = o.repo.AppendTimeline(ctx, current.ID, repository.TimelineRunStarted, fmt.Sprintf("fresh run %d from merged payload", fresh.RunEpoch))
			lead = fresh
		case domain.IsInProgress(current.State):
			// A racing manual retry already reset the lead; keep driving it.
			lead = current
		default:
			// Booked or done: later data never re-books a meeting.
			o.releaseKey(key)
			return
		}
	}
}

// runPipeline drives one run until it rests, resuming from wherever the
// lead's state says it left off. It returns when the run reaches a terminal
// state, is superseded, or loses its database claim.
func (o *Orchestrator) runPipeline(ctx context.Context, lead repository.Lead, gen int) {
	for {
		// Once SCHEDULED the booking is committed; a supersede can no longer
		// discard it, so only the remaining bookkeeping runs.
		if lead.State != domain.StateScheduled && o.currentGen(lead.IdentityKey) != gen {
			o.parkStale(ctx, lead)
			return
		}

		var err error
		switch lead.State {
		case domain.StateReceived, domain.StateNormalizing:
			lead, err = o.stageNormalize(ctx, lead, gen)
		case domain.StateNormalized, domain.StateEnriching:
			lead, err = o.stageEnrich(ctx, lead, gen)
		case domain.StateEnriched, domain.StateScoring:
			lead, err = o.stageScore(ctx, lead, gen)
		case domain.StateScored:
			lead, err = o.routeScored(ctx, lead)
		case domain.StateScheduling:
			lead, err = o.stageSchedule(ctx, lead, gen)
		case domain.StateScheduled:
			lead, err = o.finishScheduled(ctx, lead)
		default:
			return
		}

		switch {
		case err == nil:
		case errors.Is(err, errSuperseded):
			o.parkStale(ctx, lead)
			return
		case errors.Is(err, repository.ErrStaleRun):
			o.log.Warn(staleClaimMsg, "leadId", lead.ID, "state", lead.State)
			return
		default:
			// Storage trouble: leave the lead where it is; Resume picks it
			// up on the next start.
			o.log.Error(storageStopMsg, "leadId", lead.ID, "state", lead.State, "error", err)
			return
		}
	}
}

func (o *Orchestrator) stageNormalize(ctx context.Context, lead repository.Lead, gen int) (repository.Lead, error) {
	lead, err := o.enterStage(ctx, lead, domain.StateNormalizing)
	if err != nil {
		return lead, err
	}

	var result normalize.Result
	attempts, err := o.attempt(ctx, lead, domain.StageNormalize, func(ctx context.Context) error {
		var stageErr error
		result, stageErr = o.normalizer.Normalize(ctx, lead.RawPayload)
		return stageErr
	})
	if err != nil {
		return o.settleFailure(ctx, lead, domain.StageNormalize, attempts, err)
	}

	if err := o.commitGuard(lead, gen); err != nil {
		return lead, err
	}
	if err := o.repo.SetCanonicalFields(ctx, lead.ID, lead.RunEpoch, repository.CanonicalFields{
		Name:    result.Name,
		Email:   result.Email,
		Company: result.Company,
		Domain:  result.Domain,
		Title:   result.Title,
		Phone:   result.Phone,
	}); err != nil {
		return lead, err
	}
	lead.Name = &result.Name
	lead.Email = &result.Email
	lead.Company = &result.Company
	lead.Domain = &result.Domain
	lead.Title = result.Title
	lead.Phone = result.Phone

	err = o.transition(ctx, &lead, domain.StateNormalized, "")
	return lead, err
}

func (o *Orchestrator) stageEnrich(ctx context.Context, lead repository.Lead, gen int) (repository.Lead, error) {
	lead, err := o.enterStage(ctx, lead, domain.StateEnriching)
	if err != nil {
		return lead, err
	}

	if !o.enricher.Enabled() {
		_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineStageSkipped, "enrichment skipped: no credential configured")
		if err := o.commitGuard(lead, gen); err != nil {
			return lead, err
		}
		err = o.transition(ctx, &lead, domain.StateEnriched, "")
		return lead, err
	}

	var attrs enrichment.Attributes
	attempts, err := o.attempt(ctx, lead, domain.StageEnrich, func(ctx context.Context) error {
		var stageErr error
		attrs, stageErr = o.enricher.Lookup(ctx, strVal(lead.Email))
		if apperr.Is(stageErr, apperr.KindNotFound) {
			// An unknown email is a clean empty result, not a failure.
			attrs = enrichment.Attributes{}
			return nil
		}
		return stageErr
	})
	if err != nil {
		return o.settleFailure(ctx, lead, domain.StageEnrich, attempts, err)
	}

	if err := o.commitGuard(lead, gen); err != nil {
		return lead, err
	}
	if attrs.Empty() {
		o.log.Info("orchestrator: enrichment returned no attributes", "leadId", lead.ID)
	} else {
		if err := o.repo.MergeEnrichment(ctx, lead.ID, lead.RunEpoch, repository.EnrichmentFields{
			Revenue:      attrs.Revenue,
			Headcount:    attrs.Headcount,
			Industry:     nilIfEmpty(attrs.Industry),
			FundingStage: nilIfEmpty(attrs.FundingStage),
		}); err != nil {
			return lead, err
		}
		if attrs.Revenue != nil {
			lead.Revenue = attrs.Revenue
		}
		if attrs.Headcount != nil {
			lead.Headcount = attrs.Headcount
		}
		if attrs.Industry != "" {
			lead.Industry = &attrs.Industry
		}
		if attrs.FundingStage != "" {
			lead.FundingStage = &attrs.FundingStage
		}
	}

	err = o.transition(ctx, &lead, domain.StateEnriched, "")
	return lead, err
}

func (o *Orchestrator) stageScore(ctx context.Context, lead repository.Lead, gen int) (repository.Lead, error) {
	lead, err := o.enterStage(ctx, lead, domain.StateScoring)
	if err != nil {
		return lead, err
	}

	// Re-entry after a crash that landed between the qualification commit
	// and the state transition: the decision already exists, only the
	// transition is owed.
	if lead.Decision != domain.DecisionPending {
		err = o.transition(ctx, &lead, domain.StateScored, "")
		return lead, err
	}

	view := scoring.LeadView{
		Name:         strVal(lead.Name),
		Email:        strVal(lead.Email),
		Company:      strVal(lead.Company),
		Domain:       strVal(lead.Domain),
		Title:        strVal(lead.Title),
		Revenue:      lead.Revenue,
		Headcount:    lead.Headcount,
		Industry:     strVal(lead.Industry),
		FundingStage: strVal(lead.FundingStage),
	}

	var outcome scoring.Outcome
	attempts, err := o.attempt(ctx, lead, domain.StageScore, func(ctx context.Context) error {
		var stageErr error
		outcome, stageErr = o.scorer.Score(ctx, view, o.rules.Snapshot())
		return stageErr
	})
	if err != nil {
		return o.settleFailure(ctx, lead, domain.StageScore, attempts, err)
	}

	if err := o.commitGuard(lead, gen); err != nil {
		return lead, err
	}
	if err := o.repo.SetQualification(ctx, lead.ID, lead.RunEpoch, outcome.Score, outcome.Rationale, outcome.Decision); err != nil {
		return lead, err
	}
	lead.Score = &outcome.Score
	lead.Rationale = &outcome.Rationale
	lead.Decision = outcome.Decision
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineQualification, fmt.Sprintf("%s: score %d, %s", outcome.Decision, outcome.Score, outcome.Rationale))

	err = o.transition(ctx, &lead, domain.StateScored, "")
	return lead, err
}

func (o *Orchestrator) routeScored(ctx context.Context, lead repository.Lead) (repository.Lead, error) {
	switch lead.Decision {
	case domain.DecisionQualified:
		o.bus.Publish(ctx, events.LeadQualified{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Email:     strVal(lead.Email),
			Company:   strVal(lead.Company),
			Score:     intVal(lead.Score),
			Rationale: strVal(lead.Rationale),
		})
		err := o.transition(ctx, &lead, domain.StateScheduling, "")
		return lead, err
	case domain.DecisionDisqualified:
		if err := o.transition(ctx, &lead, domain.StateDisqualified, strVal(lead.Rationale)); err != nil {
			return lead, err
		}
		o.bus.Publish(ctx, events.LeadDisqualified{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Email:     strVal(lead.Email),
			Company:   strVal(lead.Company),
			Reason:    strVal(lead.Rationale),
			Score:     lead.Score,
		})
		return lead, nil
	default:
		// A lead at SCORED without a decision means an earlier write was
		// lost; park it for review rather than guessing.
		return o.settleFailure(ctx, lead, domain.StageScore, 0, fmt.Errorf("lead reached %s without a decision", domain.StateScored))
	}
}

func (o *Orchestrator) stageSchedule(ctx context.Context, lead repository.Lead, gen int) (repository.Lead, error) {
	token := domain.IdempotencyToken(lead.ID, domain.StageSchedule, lead.RunEpoch)

	var booking scheduling.Result
	attempts, err := o.attempt(ctx, lead, domain.StageSchedule, func(ctx context.Context) error {
		var stageErr error
		booking, stageErr = o.booker.Schedule(ctx, scheduling.Request{
			LeadName:  strVal(lead.Name),
			LeadEmail: strVal(lead.Email),
			Company:   strVal(lead.Company),
			Token:     token,
		})
		return stageErr
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNoAvailability) {
			return o.settleFollowup(ctx, lead, err)
		}
		return o.settleFailure(ctx, lead, domain.StageSchedule, attempts, err)
	}

	if err := o.commitGuard(lead, gen); err != nil {
		return lead, err
	}
	if err := o.repo.SetScheduling(ctx, lead.ID, lead.RunEpoch, booking.MeetingID, booking.Start, booking.End); err != nil {
		return lead, err
	}
	lead.MeetingID = &booking.MeetingID
	lead.MeetingStart = &booking.Start
	lead.MeetingEnd = &booking.End
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineMeetingBooked, fmt.Sprintf("meeting %s at %s", booking.MeetingID, booking.Start.Format(time.RFC3339)))

	err = o.transition(ctx, &lead, domain.StateScheduled, "")
	return lead, err
}

// finishScheduled publishes the booking, queues the CRM handoff and closes
// the run. The handoff row must exist before DONE: its idempotency key makes
// re-entry after a crash land on the same row instead of queueing twice.
func (o *Orchestrator) finishScheduled(ctx context.Context, lead repository.Lead) (repository.Lead, error) {
	o.bus.Publish(ctx, events.LeadScheduled{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		Email:        strVal(lead.Email),
		Company:      strVal(lead.Company),
		MeetingID:    strVal(lead.MeetingID),
		MeetingStart: timeVal(lead.MeetingStart),
		MeetingEnd:   timeVal(lead.MeetingEnd),
	})

	opportunity := crm.Opportunity{
		LeadID:       lead.ID.String(),
		ContactName:  strVal(lead.Name),
		Email:        strVal(lead.Email),
		Phone:        strVal(lead.Phone),
		Company:      strVal(lead.Company),
		Title:        strVal(lead.Title),
		Industry:     strVal(lead.Industry),
		Revenue:      lead.Revenue,
		Headcount:    lead.Headcount,
		Score:        intVal(lead.Score),
		Rationale:    strVal(lead.Rationale),
		MeetingID:    strVal(lead.MeetingID),
		MeetingStart: lead.MeetingStart,
	}
	if _, err := o.handoffs.Insert(ctx, handoff.InsertParams{
		LeadID:         lead.ID,
		MeetingID:      strVal(lead.MeetingID),
		Payload:        opportunity,
		IdempotencyKey: domain.IdempotencyToken(lead.ID, domain.StageHandoff, lead.RunEpoch),
	}); err != nil {
		// Stay SCHEDULED: re-entry retries the insert, and DONE must imply
		// the ledger row exists.
		o.log.Error("orchestrator: queueing CRM handoff failed", "leadId", lead.ID, "error", err)
		return lead, err
	}
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineHandoffQueued, "opportunity queued for CRM delivery")

	err := o.transition(ctx, &lead, domain.StateDone, "")
	return lead, err
}

// settleFailure parks the lead in ERRORED with the failure recorded; manual
// retry or a new submission starts the next run.
func (o *Orchestrator) settleFailure(ctx context.Context, lead repository.Lead, stage string, attempts int, cause error) (repository.Lead, error) {
	reason := fmt.Sprintf("%s failed: %s", stage, cause.Error())
	if err := o.transition(ctx, &lead, domain.StateErrored, reason); err != nil {
		return lead, err
	}
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineStageFailed, reason)
	o.bus.Publish(ctx, events.LeadErrored{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		Name:         strVal(lead.Name),
		Email:        strVal(lead.Email),
		Company:      strVal(lead.Company),
		Stage:        stage,
		Attempts:     attempts,
		ErrorMessage: cause.Error(),
	})
	return lead, nil
}

// settleFollowup parks a qualified lead that could not be booked; a human
// schedules manually or retries once the calendar opens up.
func (o *Orchestrator) settleFollowup(ctx context.Context, lead repository.Lead, cause error) (repository.Lead, error) {
	reason := cause.Error()
	if err := o.transition(ctx, &lead, domain.StateNeedsFollowup, reason); err != nil {
		return lead, err
	}
	o.bus.Publish(ctx, events.LeadSchedulingFollowupRequired{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Name:      strVal(lead.Name),
		Email:     strVal(lead.Email),
		Company:   strVal(lead.Company),
		Reason:    reason,
	})
	return lead, nil
}

// parkStale ends a superseded run. The fresh run is started by the run loop
// once it observes the settled generation.
func (o *Orchestrator) parkStale(ctx context.Context, lead repository.Lead) {
	if err := o.transition(ctx, &lead, domain.StateStale, "superseded by a newer submission"); err != nil {
		o.log.Warn("orchestrator: parking superseded run failed", "leadId", lead.ID, "error", err)
		return
	}
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineSuperseded, fmt.Sprintf("run %d superseded, result discarded", lead.RunEpoch))
}

// enterStage commits the move into an in-progress stage state unless the lead
// is already there from a crashed run.
func (o *Orchestrator) enterStage(ctx context.Context, lead repository.Lead, state string) (repository.Lead, error) {
	if lead.State == state {
		return lead, nil
	}
	err := o.transition(ctx, &lead, state, "")
	return lead, err
}

// transition commits a state change and fans it out: log, timeline entry,
// LeadStateChanged event. The local lead copy is updated on success.
func (o *Orchestrator) transition(ctx context.Context, lead *repository.Lead, to, reason string) error {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := o.repo.UpdateState(ctx, lead.ID, lead.RunEpoch, lead.State, to, reasonPtr); err != nil {
		return err
	}
	o.log.StateTransition(lead.ID.String(), lead.State, to, reason)

	detail := lead.State + " -> " + to
	if reason != "" {
		detail += ": " + reason
	}
	_ = o.repo.AppendTimeline(ctx, lead.ID, repository.TimelineStateChanged, detail)

	o.bus.Publish(ctx, events.LeadStateChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		OldState:  lead.State,
		NewState:  to,
		Reason:    reason,
	})
	lead.State = to
	lead.StateReason = reasonPtr
	return nil
}

// attempt runs one stage's work under the retry policy: up to maxRetries
// tries, exponential backoff between them, and only retryable failures ever
// retried. Every try lands in the stage attempt counter. Returns the number
// of tries made and the final error, if any.
func (o *Orchestrator) attempt(ctx context.Context, lead repository.Lead, stage string, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	for try := 1; try <= o.maxRetries; try++ {
		err := fn(ctx)
		if err == nil {
			if _, recErr := o.repo.RecordStageAttempt(ctx, lead.ID, stage, lead.RunEpoch, nil); recErr != nil {
				o.log.Error("orchestrator: recording stage attempt failed", "leadId", lead.ID, "stage", stage, "error", recErr)
			}
			return try, nil
		}

		lastErr = err
		msg := err.Error()
		if _, recErr := o.repo.RecordStageAttempt(ctx, lead.ID, stage, lead.RunEpoch, &msg); recErr != nil {
			o.log.Error("orchestrator: recording stage attempt failed", "leadId", lead.ID, "stage", stage, "error", recErr)
		}

		if !apperr.Retryable(err) {
			return try, err
		}
		if try < o.maxRetries {
			delay := o.baseDelay << (try - 1)
			o.log.Warn("orchestrator: stage attempt failed, backing off", "leadId", lead.ID, "stage", stage, "attempt", try, "delay", delay.String(), "error", err)
			if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
				return try, sleepErr
			}
		}
	}
	return o.maxRetries, lastErr
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func identityFromPayload(payload map[string]any) (string, error) {
	key := domain.IdentityKey(payloadString(payload, "external_id"), payloadString(payload, "email"))
	if key == "" {
		return "", apperr.Validation("an email or external_id is required").
			WithDetails(map[string]string{"email": "required when external_id is absent"})
	}
	return key, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func timeVal(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
