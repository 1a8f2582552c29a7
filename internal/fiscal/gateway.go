package fiscal

import "context"

// PointOfSale is one sales channel enabled with the authority.
type PointOfSale struct {
	Number  int
	Kind    string
	Blocked bool
}

// Authorizer submits assembled invoices to the external authority.
//
// Authorize returns the granted artifacts on approval, *RejectionError when
// the authority refuses the submission, and *TransportError when the
// authority could not be reached. Callers must treat the two failures
// differently: a rejection is terminal for the attempt, a transport failure
// leaves the invoice untouched and may be retried.
type Authorizer interface {
	Authorize(ctx context.Context, sub *Submission) (*Authorization, error)
	PointsOfSale(ctx context.Context) ([]PointOfSale, error)
	VerifyAuthorization(ctx context.Context, cae string, typeCode, pointOfSale int, sequence int64) (bool, error)
}
