package audit

import (
	"context"
	"fmt"
	"slotswapper/internal/exchanges/repository"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/metrics"
	"slotswapper/pkg/model"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	KindReservedWithoutClaim     = "reserved_without_claim"
	KindClaimWithoutOpenRequest  = "claim_without_open_request"
	KindOpenRequestLegNotReserve = "open_request_leg_not_reserved"
	KindClaimRequestMismatch     = "claim_request_mismatch"

	runTimeout = 1 * time.Minute
)

// Kinds lists every violation kind the auditor reports, in report order.
var Kinds = []string{
	KindReservedWithoutClaim,
	KindClaimWithoutOpenRequest,
	KindOpenRequestLegNotReserve,
	KindClaimRequestMismatch,
}

type Violation struct {
	Kind      string `json:"kind"`
	SlotID    string `json:"slot_id"`
	RequestID string `json:"request_id,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s slot=%s request=%s", v.Kind, v.SlotID, v.RequestID)
}

// Auditor checks that every RESERVED slot is a leg of exactly one OPEN
// request and that the claim index agrees with both.
type Auditor struct {
	store repository.Store
	log   *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewAuditor(store repository.Store, log *logger.Logger) *Auditor {
	return &Auditor{store: store, log: log}
}

// Run performs one audit over a consistent snapshot of the store.
func (a *Auditor) Run(ctx context.Context) ([]Violation, error) {
	var violations []Violation
	err := a.store.WithTransaction(ctx, func(ctx context.Context) error {
		found, err := a.scan(ctx)
		violations = found
		return err
	})
	metrics.RecordAuditRun(err)
	if err != nil {
		a.log.Error("Invariant audit failed", "error", err)
		return nil, err
	}

	counts := make(map[string]int, len(Kinds))
	for _, v := range violations {
		counts[v.Kind]++
		a.log.Error("Invariant violation",
			"kind", v.Kind,
			"slot_id", v.SlotID,
			"request_id", v.RequestID,
		)
	}
	for _, kind := range Kinds {
		metrics.SetAuditViolations(kind, counts[kind])
	}

	if len(violations) == 0 {
		a.log.Debug("Invariant audit clean")
	} else {
		a.log.Warn("Invariant audit found violations", "count", len(violations))
	}
	return violations, nil
}

func (a *Auditor) scan(ctx context.Context) ([]Violation, error) {
	reserved, err := a.store.Slots().Find(ctx, repository.SlotFilter{
		States: []model.SlotState{model.SlotReserved},
	}, model.Page{})
	if err != nil {
		return nil, fmt.Errorf("failed to list reserved slots: %w", err)
	}
	open, err := a.store.Requests().Find(ctx, repository.ExchangeRequestFilter{
		Statuses: []model.ExchangeStatus{model.ExchangeOpen},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	claims, err := a.store.Claims().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}

	claimBySlot := make(map[string]string, len(claims))
	for _, c := range claims {
		claimBySlot[c.SlotID] = c.RequestID
	}
	openByID := make(map[string]*model.ExchangeRequest, len(open))
	for _, r := range open {
		openByID[r.ID] = r
	}
	reservedIDs := make(map[string]bool, len(reserved))
	for _, s := range reserved {
		reservedIDs[s.ID] = true
	}

	var violations []Violation
	for _, s := range reserved {
		if _, ok := claimBySlot[s.ID]; !ok {
			violations = append(violations, Violation{Kind: KindReservedWithoutClaim, SlotID: s.ID})
		}
	}
	for _, c := range claims {
		if _, ok := openByID[c.RequestID]; !ok {
			violations = append(violations, Violation{Kind: KindClaimWithoutOpenRequest, SlotID: c.SlotID, RequestID: c.RequestID})
		}
	}
	for _, r := range open {
		for _, slotID := range r.Legs() {
			if !reservedIDs[slotID] {
				violations = append(violations, Violation{Kind: KindOpenRequestLegNotReserve, SlotID: slotID, RequestID: r.ID})
			}
			if owner, ok := claimBySlot[slotID]; ok && owner != r.ID {
				violations = append(violations, Violation{Kind: KindClaimRequestMismatch, SlotID: slotID, RequestID: r.ID})
			}
		}
	}
	return violations, nil
}

// Start schedules Run. An empty schedule disables the auditor.
func (a *Auditor) Start(schedule string) error {
	if schedule == "" {
		a.log.Info("Invariant audit disabled")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return fmt.Errorf("auditor already started")
	}

	cl := cronLogger{log: a.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_, _ = a.Run(ctx)
	}); err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	c.Start()
	a.cron = c
	a.log.Info("Invariant audit scheduled", "schedule", schedule)
	return nil
}

// Stop waits for a running audit to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.log.Info("Invariant audit stopped")
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
