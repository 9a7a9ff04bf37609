package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Amount validation.
	ErrInvalidAmount     = "E_INVALID_AMOUNT"
	ErrNonPositiveAmount = "E_NON_POSITIVE_AMOUNT"

	// Transaction validation.
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrInvalidRecipient  = "E_INVALID_RECIPIENT"
	ErrReasonTooShort    = "E_REASON_TOO_SHORT"
	ErrReasonTooLong     = "E_REASON_TOO_LONG"
	ErrUnknownAccount    = "E_UNKNOWN_ACCOUNT"
	ErrUnknownFaction    = "E_UNKNOWN_FACTION"
	ErrNotAuthorized     = "E_NOT_AUTHORIZED"

	// Ledger state.
	ErrBusy         = "E_BUSY"
	ErrStorageRead  = "E_STORAGE_READ"
	ErrStorageWrite = "E_STORAGE_WRITE"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrInvalidAmount:     {},
	ErrNonPositiveAmount: {},
	ErrInsufficientFunds: {},
	ErrInvalidRecipient:  {},
	ErrReasonTooShort:    {},
	ErrReasonTooLong:     {},
	ErrUnknownAccount:    {},
	ErrUnknownFaction:    {},
	ErrNotAuthorized:     {},
	ErrBusy:              {},
	ErrStorageRead:       {},
	ErrStorageWrite:      {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
