package enums

import "fmt"

// FinancialEventType maps to the financial_event_type enum in Postgres. Each
// value names one signed monetary fact extracted from a raw report line.
type FinancialEventType string

const (
	FinancialEventTypeSale            FinancialEventType = "sale"
	FinancialEventTypeTransfer        FinancialEventType = "transfer"
	FinancialEventTypeCommissionNoVAT FinancialEventType = "commission_no_vat"
	FinancialEventTypeCommissionVAT   FinancialEventType = "commission_vat"
	FinancialEventTypeAcquiringFee    FinancialEventType = "acquiring_fee"
	FinancialEventTypeDeliveryFee     FinancialEventType = "delivery_fee"
	FinancialEventTypeRebillLogistics FinancialEventType = "rebill_logistics"
	FinancialEventTypePvzFee          FinancialEventType = "pvz_fee"
)

var validFinancialEventTypes = []FinancialEventType{
	FinancialEventTypeSale,
	FinancialEventTypeTransfer,
	FinancialEventTypeCommissionNoVAT,
	FinancialEventTypeCommissionVAT,
	FinancialEventTypeAcquiringFee,
	FinancialEventTypeDeliveryFee,
	FinancialEventTypeRebillLogistics,
	FinancialEventTypePvzFee,
}

// FinancialEventTypes returns all canonical event types.
func FinancialEventTypes() []FinancialEventType {
	out := make([]FinancialEventType, len(validFinancialEventTypes))
	copy(out, validFinancialEventTypes)
	return out
}

// IsValid reports whether the value matches the canonical event type enum.
func (t FinancialEventType) IsValid() bool {
	for _, candidate := range validFinancialEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsReturnSensitive reports whether a return document flips the sign of this
// event type. Sale and transfer money flips; cost line items keep their sign.
func (t FinancialEventType) IsReturnSensitive() bool {
	return t == FinancialEventTypeSale || t == FinancialEventTypeTransfer
}

// ParseFinancialEventType converts raw input into FinancialEventType.
func ParseFinancialEventType(value string) (FinancialEventType, error) {
	for _, candidate := range validFinancialEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid financial event type %q", value)
}
