package events

import (
	"strings"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// MappingRule binds one money field of a raw line to an event type. Aliases
// carry both the snake_case and camelCase upstream spellings; the first
// present, non-null, non-zero alias wins.
type MappingRule struct {
	Aliases      []string
	EventType    enums.FinancialEventType
	DefaultScope enums.EventScope
}

// mappingRules is the declarative field-to-event table for the Wildberries
// realization report. Completeness against the event-type enum is unit
// checked.
var mappingRules = []MappingRule{
	{
		Aliases:      []string{"retail_amount", "retailAmount"},
		EventType:    enums.FinancialEventTypeSale,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"ppvz_for_pay", "ppvzForPay", "for_pay", "forPay"},
		EventType:    enums.FinancialEventTypeTransfer,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"ppvz_sales_commission", "ppvzSalesCommission"},
		EventType:    enums.FinancialEventTypeCommissionNoVAT,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"ppvz_vw_nds", "ppvzVwNds"},
		EventType:    enums.FinancialEventTypeCommissionVAT,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"acquiring_fee", "acquiringFee"},
		EventType:    enums.FinancialEventTypeAcquiringFee,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"delivery_rub", "deliveryRub"},
		EventType:    enums.FinancialEventTypeDeliveryFee,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"rebill_logistic_cost", "rebillLogisticCost"},
		EventType:    enums.FinancialEventTypeRebillLogistics,
		DefaultScope: enums.EventScopeSku,
	},
	{
		Aliases:      []string{"ppvz_reward", "ppvzReward"},
		EventType:    enums.FinancialEventTypePvzFee,
		DefaultScope: enums.EventScopeMarketplace,
	},
}

// MappingRules returns the rule table.
func MappingRules() []MappingRule {
	return mappingRules
}

// mappedAliases is the set of every alias any rule claims, for unmapped
// field detection.
var mappedAliases = func() map[string]struct{} {
	set := map[string]struct{}{}
	for _, rule := range mappingRules {
		for _, alias := range rule.Aliases {
			set[strings.ToLower(alias)] = struct{}{}
		}
	}
	return set
}()

// returnMarkers flag a line as a return document. Matching is a
// case-insensitive substring check on the doc-type and operation-name
// fields; upstream spells these in Russian.
var returnMarkers = []string{"возврат", "return"}

// isReturnLine reports whether the line represents a return document or
// operation, which flips the sign of sale- and transfer-type amounts.
func isReturnLine(body payload) bool {
	for _, field := range []string{"doc_type_name", "docTypeName", "supplier_oper_name", "supplierOperName"} {
		value := strings.ToLower(body.str(field))
		if value == "" {
			continue
		}
		for _, marker := range returnMarkers {
			if strings.Contains(value, marker) {
				return true
			}
		}
	}
	return false
}

// moneyLikeTokens mark a field name as money-like for unmapped-field
// detection.
var moneyLikeTokens = []string{
	"amount", "price", "cost", "fee", "rub", "pay",
	"commission", "reward", "penalty", "bonus", "nds",
}

// knownNonMoneyFields are numeric fields that look money-like by name but
// never carry money.
var knownNonMoneyFields = map[string]struct{}{
	"nm_id": {}, "nmId": {},
	"rrd_id": {}, "rrdId": {},
	"quantity": {},
	"delivery_amount": {}, "deliveryAmount": {},
	"return_amount": {}, "returnAmount": {},
}

// unmappedMoneyFields returns numeric, money-like-named fields of the line
// that no mapping rule claims. These produce no events but must not vanish
// silently.
func unmappedMoneyFields(body payload) []string {
	var fields []string
	for name, value := range body {
		if _, mapped := mappedAliases[strings.ToLower(name)]; mapped {
			continue
		}
		if _, skip := knownNonMoneyFields[name]; skip {
			continue
		}
		parsed, ok := toDecimal(value)
		if !ok || parsed.IsZero() {
			continue
		}
		lower := strings.ToLower(name)
		for _, token := range moneyLikeTokens {
			if strings.Contains(lower, token) {
				fields = append(fields, name)
				break
			}
		}
	}
	return fields
}
