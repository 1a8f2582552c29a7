// Package jobs hosts the asynq background worker: bounded retry of
// transport-failed authorizations and the CAE expiry scan.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pampa-erp/pampa-erp/internal/fiscal"
	jobmetrics "github.com/pampa-erp/pampa-erp/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthorizeRetry retries an authorization whose previous attempt
	// failed at the transport level.
	TaskAuthorizeRetry = "fiscal:authorize_retry"
	// TaskCAEExpiryScan flags authorized invoices whose CAE expires soon.
	TaskCAEExpiryScan = "fiscal:cae_expiry_scan"
)

// AuthorizeRetryPayload identifies the draft to resubmit.
type AuthorizeRetryPayload struct {
	InvoiceID string `json:"invoice_id"`
	Actor     string `json:"actor"`
}

// NewAuthorizeRetryTask constructs the retry task. MaxRetry and backoff here
// only govern transport failures; the handler skips retries the moment the
// authority actually answered.
func NewAuthorizeRetryTask(invoiceID uuid.UUID, actor string) (*asynq.Task, error) {
	body, err := json.Marshal(AuthorizeRetryPayload{InvoiceID: invoiceID.String(), Actor: actor})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthorizeRetry, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
	), nil
}

// AuthorizeRetryHandler resubmits drafts. It holds the same fiscal service
// the HTTP handler uses, so locking and state checks behave identically.
func AuthorizeRetryHandler(service *fiscal.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskAuthorizeRetry)
		var payload AuthorizeRetryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		id, err := uuid.Parse(payload.InvoiceID)
		if err != nil {
			return tracker.End(asynq.SkipRetry)
		}

		_, err = service.Authorize(ctx, id, payload.Actor)
		switch {
		case err == nil:
			return tracker.End(nil)
		case fiscal.IsRetryable(err):
			// Still unreachable: let asynq back off and try again.
			return tracker.End(err)
		default:
			// A definitive outcome arrived (rejection, illegal state, local
			// validation). Retrying cannot change it.
			logger.Info("authorize retry reached a final outcome",
				slog.String("invoice_id", payload.InvoiceID),
				slog.Any("error", err))
			return tracker.End(asynq.SkipRetry)
		}
	}
}

// CAEExpiryPayload carries the scan window.
type CAEExpiryPayload struct {
	Within time.Duration `json:"within"`
}

// NewCAEExpiryScanTask constructs the periodic expiry scan task.
func NewCAEExpiryScanTask(within time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CAEExpiryPayload{Within: within})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCAEExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// ExpiringCAELister is the slice of the fiscal repository the scan needs.
type ExpiringCAELister interface {
	ListExpiringCAE(ctx context.Context, before time.Time) ([]fiscal.Invoice, error)
}

// CAEExpiryScanHandler logs authorized invoices whose CAE expires inside the
// window so operators can act before the code lapses.
func CAEExpiryScanHandler(repo ExpiringCAELister, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskCAEExpiryScan)
		var payload CAEExpiryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if payload.Within <= 0 {
			payload.Within = 72 * time.Hour
		}
		invoices, err := repo.ListExpiringCAE(ctx, time.Now().Add(payload.Within))
		if err != nil {
			return tracker.End(err)
		}
		metrics.SetExpiringCAE(len(invoices))
		for _, inv := range invoices {
			logger.Warn("CAE approaching expiry",
				slog.String("invoice_id", inv.ID.String()),
				slog.String("number", inv.FormattedNumber()),
				slog.Time("cae_expiry", inv.Authorization.CAEExpiry))
		}
		return tracker.End(nil)
	}
}
