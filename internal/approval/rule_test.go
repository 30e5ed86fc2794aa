package approval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name string
		rule ApprovalRule
		want RuleErrorCode // "" means valid
	}{
		{"valid group", groupRule("eng", 1), ""},
		{"valid nested", andRule(orRule(groupRule("eng", 2), groupRule("legal", 1))), ""},
		{"unknown type", ApprovalRule{Type: "XOR"}, ErrInvalidRuleType},
		{"empty type", ApprovalRule{}, ErrInvalidRuleType},
		{"and without children", ApprovalRule{Type: RuleAnd}, ErrAndRuleMustHaveRules},
		{"or without children", ApprovalRule{Type: RuleOr}, ErrOrRuleMustHaveRules},
		{"zero min count", groupRule("eng", 0), ErrGroupRuleInvalidMin},
		{"negative min count", groupRule("eng", -2), ErrGroupRuleInvalidMin},
		{"empty group id", groupRule("", 1), ErrGroupRuleInvalidGroupID},
		{"invalid child", andRule(groupRule("eng", 1), ApprovalRule{Type: "NOR"}), ErrInvalidRuleType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var ruleErr *RuleError
			require.ErrorAs(t, err, &ruleErr)
			assert.Equal(t, tt.want, ruleErr.Code)
		})
	}
}

func TestRuleValidateDepthBound(t *testing.T) {
	// Nest OR nodes one past the maximum.
	rule := groupRule("eng", 1)
	for i := 0; i < MaxRuleDepth; i++ {
		rule = orRule(rule)
	}

	var ruleErr *RuleError
	require.ErrorAs(t, rule.Validate(), &ruleErr)
	assert.Equal(t, ErrMaxRuleNestingExceeded, ruleErr.Code)

	// One level shallower is fine.
	rule = groupRule("eng", 1)
	for i := 0; i < MaxRuleDepth-1; i++ {
		rule = orRule(rule)
	}
	assert.NoError(t, rule.Validate())
}

func TestParseRuleRejectsMalformedContent(t *testing.T) {
	_, err := ParseRule([]byte(`{"type": "AND", "rules": [`))
	var ruleErr *RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, ErrMalformedContent, ruleErr.Code)
}

func TestParseRuleRevalidatesStoredTrees(t *testing.T) {
	// Well-formed JSON, structurally invalid rule.
	_, err := ParseRule([]byte(`{"type": "GROUP", "group_id": "eng", "min_count": 0}`))
	var ruleErr *RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, ErrGroupRuleInvalidMin, ruleErr.Code)
}

func TestRuleSerializationPreservesChildOrder(t *testing.T) {
	rule := orRule(groupRule("legal", 1), groupRule("eng", 2), groupRule("security", 1))

	data, err := MarshalRule(&rule)
	require.NoError(t, err)

	parsed, err := ParseRule(data)
	require.NoError(t, err)

	require.Len(t, parsed.Rules, 3)
	assert.Equal(t, "legal", parsed.Rules[0].GroupID)
	assert.Equal(t, "eng", parsed.Rules[1].GroupID)
	assert.Equal(t, "security", parsed.Rules[2].GroupID)

	// Round-trip is byte-stable for audit/display.
	again, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestReferencedGroups(t *testing.T) {
	rule := andRule(
		orRule(groupRule("eng", 1), groupRule("legal", 1)),
		groupRule("eng", 2),
		groupRule("security", 1),
	)

	assert.Equal(t, []string{"eng", "legal", "security"}, rule.ReferencedGroups())
}
