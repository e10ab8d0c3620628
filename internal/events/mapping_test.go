package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

func TestMappingRulesCoverEveryEventType(t *testing.T) {
	covered := map[enums.FinancialEventType]bool{}
	for _, rule := range MappingRules() {
		require.NotEmpty(t, rule.Aliases, "rule for %s has no aliases", rule.EventType)
		require.True(t, rule.EventType.IsValid())
		require.True(t, rule.DefaultScope.IsValid())
		assert.False(t, covered[rule.EventType], "event type %s mapped twice", rule.EventType)
		covered[rule.EventType] = true
	}
	for _, eventType := range enums.FinancialEventTypes() {
		assert.True(t, covered[eventType], "event type %s has no mapping rule", eventType)
	}
}

func TestMappingRulesCarryBothSpellings(t *testing.T) {
	for _, rule := range MappingRules() {
		assert.GreaterOrEqual(t, len(rule.Aliases), 2,
			"rule for %s should list snake_case and camelCase aliases", rule.EventType)
	}
}

func mustPayload(t *testing.T, raw string) payload {
	t.Helper()
	body, err := parsePayload(json.RawMessage(raw))
	require.NoError(t, err)
	return body
}

func TestParsePayloadToleratesStringEncoding(t *testing.T) {
	direct := mustPayload(t, `{"retail_amount": 100.5}`)
	encoded := mustPayload(t, `"{\"retail_amount\": 100.5}"`)

	a, _, ok := direct.amount("retail_amount")
	require.True(t, ok)
	b, _, ok := encoded.amount("retail_amount")
	require.True(t, ok)
	assert.True(t, a.Equal(b))

	_, err := parsePayload(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestAmountLookupPrefersFirstPresentAlias(t *testing.T) {
	body := mustPayload(t, `{"ppvzForPay": 250.0}`)

	amount, field, ok := body.amount("ppvz_for_pay", "ppvzForPay")
	require.True(t, ok)
	assert.Equal(t, "ppvzForPay", field)
	assert.Equal(t, "250", amount.String())

	// Zero and absent both produce no event.
	zero := mustPayload(t, `{"ppvz_for_pay": 0}`)
	_, _, ok = zero.amount("ppvz_for_pay", "ppvzForPay")
	assert.False(t, ok)
}

func TestIsReturnLine(t *testing.T) {
	cases := []struct {
		payload string
		want    bool
	}{
		{`{"doc_type_name": "Возврат"}`, true},
		{`{"doc_type_name": "возврат товара"}`, true},
		{`{"supplier_oper_name": "Частичный ВОЗВРАТ"}`, true},
		{`{"docTypeName": "Return"}`, true},
		{`{"doc_type_name": "Продажа"}`, false},
		{`{"supplier_oper_name": "Логистика"}`, false},
		{`{"quantity": 1}`, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isReturnLine(mustPayload(t, tc.payload)), tc.payload)
	}
}

func TestUnmappedMoneyFieldDetection(t *testing.T) {
	body := mustPayload(t, `{
		"retail_amount": 100,
		"storage_fee": 12.5,
		"penalty": 3,
		"quantity": 2,
		"nm_id": 123456,
		"site_country": "RU"
	}`)

	unmapped := unmappedMoneyFields(body)
	assert.ElementsMatch(t, []string{"storage_fee", "penalty"}, unmapped)
}

func TestDateParsing(t *testing.T) {
	body := mustPayload(t, `{"sale_dt": "2024-02-10T12:30:00Z", "rr_dt": "2024-02-11"}`)

	exact, ok := body.date("sale_dt", "saleDt")
	require.True(t, ok)
	assert.Equal(t, "2024-02-10T12:30:00Z", exact.Format("2006-01-02T15:04:05Z"))

	bare, ok := body.date("rr_dt", "rrDt")
	require.True(t, ok)
	assert.Equal(t, "2024-02-11", bare.Format("2006-01-02"))

	_, ok = body.date("order_dt")
	assert.False(t, ok)
}

func TestLineKeySurrogate(t *testing.T) {
	withID := RawLine{ReportID: "r-1", LineID: "12345", RowPK: 7}
	assert.Equal(t, "12345", withID.LineKey())

	withoutID := RawLine{ReportID: "r-1", RowPK: 7}
	assert.Equal(t, "r-1:7", withoutID.LineKey())
}
