package market

import (
	"errors"

	"github.com/xtrntr/marketplace/internal/ledger"
)

// Registry rejection reasons. Every rejected operation leaves the registry,
// the ledger and the persisted slots exactly as they were.
var (
	ErrNotOwner            = errors.New("caller does not own the asset")
	ErrNoSuchListing       = errors.New("no listing for asset")
	ErrNotSeller           = errors.New("caller is not the seller")
	ErrInsufficientPayment = errors.New("payment below listing price")
	ErrListingInactive     = errors.New("listing is not active")
	ErrInvalidRate         = errors.New("fee rate must be within [0, 100]")
	ErrInvalidPrice        = errors.New("price must not be negative")
	ErrUnauthorized        = errors.New("caller is not the administrator")
	ErrIndexOutOfRange     = errors.New("listing position out of range")
)

// Code is a stable machine-readable rejection reason.
type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeNoSuchListing       Code = "NO_SUCH_LISTING"
	CodeNotSeller           Code = "NOT_SELLER"
	CodeInsufficientPayment Code = "INSUFFICIENT_PAYMENT"
	CodeListingInactive     Code = "LISTING_INACTIVE"
	CodeInvalidRate         Code = "INVALID_RATE"
	CodeInvalidPrice        Code = "INVALID_PRICE"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeIndexOutOfRange     Code = "INDEX_OUT_OF_RANGE"
	CodeTransferFailed      Code = "TRANSFER_FAILED"
	CodePaymentFailed       Code = "PAYMENT_FAILED"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNotOwner, CodeNotOwner},
	{ErrNoSuchListing, CodeNoSuchListing},
	{ErrNotSeller, CodeNotSeller},
	{ErrInsufficientPayment, CodeInsufficientPayment},
	{ErrListingInactive, CodeListingInactive},
	{ErrInvalidRate, CodeInvalidRate},
	{ErrInvalidPrice, CodeInvalidPrice},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrIndexOutOfRange, CodeIndexOutOfRange},
	{ledger.ErrTransferFailed, CodeTransferFailed},
	{ledger.ErrPaymentFailed, CodePaymentFailed},
}

// CodeOf maps err to its rejection code, or CodeUnknown.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
