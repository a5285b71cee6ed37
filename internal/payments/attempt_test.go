package payments

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func initiated() Attempt {
	return Attempt{ID: "att-1", Status: StatusInitiated, AmountMinorUnits: 465_000, Currency: "NGN", CreatedAt: fixedNow}
}

func mustTransition(t *testing.T, a Attempt, e Event) Attempt {
	t.Helper()
	next, err := Transition(a, e, fixedNow)
	if err != nil {
		t.Fatalf("transition %s from %s: %v", e.Kind, a.Status, err)
	}
	return next
}

func TestTransitionHappyPath(t *testing.T) {
	a := initiated()
	a = mustTransition(t, a, Event{Kind: EventLoad, Meta: map[string]any{"popup": "opened"}})
	if a.Status != StatusInitiated || a.LoadMeta["popup"] != "opened" {
		t.Fatalf("load should keep initiated and record meta: %+v", a)
	}

	a = mustTransition(t, a, Event{Kind: EventSuccess, Reference: " ref-123 ", Status: "success", RawIDs: map[string]string{"trxref": "T1"}})
	if a.Status != StatusSucceededClient || a.Reference != "ref-123" || a.RawIDs["trxref"] != "T1" {
		t.Fatalf("unexpected after success: %+v", a)
	}

	a = mustTransition(t, a, Event{Kind: EventVerifyStarted})
	if a.Status != StatusVerifying || !a.VerifyStartedAt.Equal(fixedNow) {
		t.Fatalf("unexpected after verify start: %+v", a)
	}

	a = mustTransition(t, a, Event{Kind: EventVerified, Verification: map[string]any{"status": "success"}})
	if a.Status != StatusVerified || a.Verification["status"] != "success" {
		t.Fatalf("unexpected after verified: %+v", a)
	}

	a = mustTransition(t, a, Event{Kind: EventOrderCreated, OrderID: "o-1", OrderNumber: "SF-1001"})
	if a.Status != StatusOrderCreated || a.OrderNumber != "SF-1001" || !a.Status.IsTerminal() {
		t.Fatalf("unexpected after order created: %+v", a)
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	a := initiated()
	_ = mustTransition(t, a, Event{Kind: EventSuccess, Reference: "ref"})
	if a.Status != StatusInitiated || a.Reference != "" {
		t.Fatalf("input attempt mutated: %+v", a)
	}
}

func TestTransitionCancelOnlyWhileInitiated(t *testing.T) {
	a := mustTransition(t, initiated(), Event{Kind: EventCancel})
	if a.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", a.Status)
	}

	succeeded := mustTransition(t, initiated(), Event{Kind: EventSuccess, Reference: "ref"})
	if _, err := Transition(succeeded, Event{Kind: EventCancel}, fixedNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancel after success to be rejected, got %v", err)
	}
}

func TestTransitionErrorRecordsMessage(t *testing.T) {
	a := mustTransition(t, initiated(), Event{Kind: EventError, Message: " declined "})
	if a.Status != StatusErrored || a.FailureMessage != "declined" {
		t.Fatalf("unexpected errored attempt: %+v", a)
	}
}

func TestTransitionSuccessReferenceChecks(t *testing.T) {
	a := initiated()
	if _, err := Transition(a, Event{Kind: EventSuccess}, fixedNow); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}

	a.ExpectedReference = "pi_123"
	if _, err := Transition(a, Event{Kind: EventSuccess, Reference: "pi_999"}, fixedNow); !errors.Is(err, ErrReferenceMismatch) {
		t.Fatalf("expected ErrReferenceMismatch, got %v", err)
	}
	next := mustTransition(t, a, Event{Kind: EventSuccess, Reference: "pi_123"})
	if next.Reference != "pi_123" {
		t.Fatalf("expected reference recorded, got %q", next.Reference)
	}
}

func TestTransitionVerificationOutcomes(t *testing.T) {
	verifying := mustTransition(t, mustTransition(t, initiated(), Event{Kind: EventSuccess, Reference: "r"}), Event{Kind: EventVerifyStarted})

	cases := []struct {
		kind EventKind
		want Status
		code FailureCode
	}{
		{kind: EventVerifyRejected, want: StatusVerifyFailed, code: FailureVerificationRejected},
		{kind: EventVerifyUnavailable, want: StatusVerifyFailed, code: FailureVerificationUnavailable},
		{kind: EventVerifyTimedOut, want: StatusVerifyTimedOut, code: FailureVerificationTimedOut},
		{kind: EventVerified, want: StatusVerified},
	}
	for _, tc := range cases {
		got := mustTransition(t, verifying, Event{Kind: tc.kind, Message: "m"})
		if got.Status != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.kind, tc.want, got.Status)
		}
		if got.FailureCode != tc.code {
			t.Errorf("%s: expected failure code %q, got %q", tc.kind, tc.code, got.FailureCode)
		}
	}
}

func TestTransitionOrderFailureAndReconcile(t *testing.T) {
	verified := Attempt{ID: "a", Status: StatusVerified, Acknowledged: true}
	failed := mustTransition(t, verified, Event{Kind: EventOrderFailed, Message: "backend down"})
	if failed.Status != StatusOrderCreationFailed || failed.Acknowledged {
		t.Fatalf("unexpected failed attempt: %+v", failed)
	}
	if _, err := Transition(failed, Event{Kind: EventOrderCreated, OrderID: "o"}, fixedNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("order created must only follow verified, got %v", err)
	}
	reconciled := mustTransition(t, failed, Event{Kind: EventReconciled, OrderID: "o", OrderNumber: "n"})
	if reconciled.Status != StatusOrderCreated || reconciled.FailureMessage != "" {
		t.Fatalf("unexpected reconciled attempt: %+v", reconciled)
	}
	if _, err := Transition(verified, Event{Kind: EventReconciled}, fixedNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reconciled must only follow order creation failure, got %v", err)
	}
}

func TestTransitionRejectsEventsOnTerminalStatuses(t *testing.T) {
	kinds := []EventKind{EventLoad, EventSuccess, EventCancel, EventError, EventVerifyStarted, EventVerified, EventOrderCreated}
	for _, status := range Statuses {
		if !status.IsTerminal() || status == StatusOrderCreationFailed {
			continue
		}
		for _, kind := range kinds {
			if status == StatusVerifyTimedOut && kind == EventVerified {
				continue
			}
			a := Attempt{Status: status}
			if _, err := Transition(a, Event{Kind: kind, Reference: "r"}, fixedNow); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s on %s: expected ErrInvalidTransition, got %v", kind, status, err)
			}
		}
	}
}

func TestTransitionUnknownEvent(t *testing.T) {
	if _, err := Transition(initiated(), Event{Kind: "refund"}, fixedNow); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestNoPathReachesOrderCreatedWithoutVerified(t *testing.T) {
	// Walk the adjacency table from Initiated without ever entering Verified.
	seen := map[Status]bool{StatusInitiated: true}
	queue := []Status{StatusInitiated}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		for _, to := range Statuses {
			if to == StatusVerified || seen[to] || !CanTransition(from, to) {
				continue
			}
			seen[to] = true
			queue = append(queue, to)
		}
	}
	if seen[StatusOrderCreated] {
		t.Fatalf("order created reachable without verification")
	}
	if seen[StatusOrderCreationFailed] {
		t.Fatalf("order creation failure reachable without verification")
	}
}

func TestOnlyVerifiedAndFailedOrdersLeadToOrderCreated(t *testing.T) {
	for _, from := range Statuses {
		want := from == StatusVerified || from == StatusOrderCreationFailed
		if got := CanTransition(from, StatusOrderCreated); got != want {
			t.Errorf("CanTransition(%s, order_created) = %v, want %v", from, got, want)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	nonTerminal := map[Status]bool{
		StatusInitiated:       true,
		StatusSucceededClient: true,
		StatusVerifying:       true,
		StatusVerified:        true,
	}
	for _, s := range Statuses {
		if s.IsTerminal() == nonTerminal[s] {
			t.Errorf("%s: unexpected terminal classification", s)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("bogus").Valid() {
		t.Fatalf("unknown status should be invalid")
	}
	if !StatusOrderCreationFailed.NeedsReconciliation() || !StatusSucceededClient.NeedsReconciliation() || StatusVerifyFailed.NeedsReconciliation() {
		t.Fatalf("unexpected reconciliation classification")
	}
}

func TestAttemptNeedsReconciliation(t *testing.T) {
	tests := []struct {
		name    string
		attempt Attempt
		want    bool
	}{
		{name: "client success", attempt: Attempt{Status: StatusSucceededClient}, want: true},
		{name: "timed out", attempt: Attempt{Status: StatusVerifyTimedOut, FailureCode: FailureVerificationTimedOut}, want: true},
		{name: "verifier unavailable", attempt: Attempt{Status: StatusVerifyFailed, FailureCode: FailureVerificationUnavailable}, want: true},
		{name: "still processing", attempt: Attempt{Status: StatusVerifyFailed, FailureCode: FailureVerificationPending}, want: true},
		{name: "rejected", attempt: Attempt{Status: StatusVerifyFailed, FailureCode: FailureVerificationRejected}, want: false},
		{name: "cancelled", attempt: Attempt{Status: StatusCancelled}, want: false},
		{name: "order created", attempt: Attempt{Status: StatusOrderCreated}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.attempt.NeedsReconciliation(); got != tc.want {
				t.Fatalf("NeedsReconciliation() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTransitionReverifiesUnresolvedAttempts(t *testing.T) {
	timedOut := Attempt{Status: StatusVerifyTimedOut, FailureCode: FailureVerificationTimedOut, FailureMessage: "verification timed out"}
	verified, err := Transition(timedOut, Event{Kind: EventVerified, Verification: map[string]any{"status": "success"}}, fixedNow)
	if err != nil {
		t.Fatalf("verified after timeout: %v", err)
	}
	if verified.Status != StatusVerified || verified.FailureCode != "" || verified.FailureMessage != "" {
		t.Fatalf("unexpected attempt: %+v", verified)
	}

	pending, err := Transition(Attempt{Status: StatusVerifying}, Event{Kind: EventVerifyPending, Message: "payment status is processing"}, fixedNow)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Status != StatusVerifyFailed || pending.FailureCode != FailureVerificationPending {
		t.Fatalf("unexpected pending attempt: %+v", pending)
	}
	rejected, err := Transition(pending, Event{Kind: EventVerifyRejected, Message: "canceled"}, fixedNow)
	if err != nil {
		t.Fatalf("rejected after pending: %v", err)
	}
	if rejected.FailureCode != FailureVerificationRejected {
		t.Fatalf("unexpected rejected attempt: %+v", rejected)
	}
	if _, err := Transition(rejected, Event{Kind: EventVerified}, fixedNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("a definitive rejection must stay final, got %v", err)
	}
}
