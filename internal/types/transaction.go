package types

import (
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/samber/lo"
)

// TransactionType is the destination-side type tag of a recorded transaction
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
)

func (t TransactionType) String() string {
	return string(t)
}

func (t TransactionType) Validate() error {
	allowed := []TransactionType{
		TransactionTypePayment,
		TransactionTypeRefund,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid transaction type").
			WithHint("Please provide a valid transaction type").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TransactionResult is the destination-side result tag of a recorded transaction
type TransactionResult string

const (
	TransactionResultSuccessful TransactionResult = "successful"
	TransactionResultFailed     TransactionResult = "failed"
)

func (r TransactionResult) String() string {
	return string(r)
}

func (r TransactionResult) Validate() error {
	allowed := []TransactionResult{
		TransactionResultSuccessful,
		TransactionResultFailed,
	}
	if !lo.Contains(allowed, r) {
		return ierr.NewError("invalid transaction result").
			WithHint("Please provide a valid transaction result").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Source-side transaction statuses that map to TransactionResultSuccessful
const (
	SourceTransactionStatusProcessed = "Processed"
	SourceTransactionStatusSettled   = "Settled"
)
