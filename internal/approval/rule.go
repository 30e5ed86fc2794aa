package approval

import (
	"encoding/json"
	"fmt"
)

// RuleType tags the variant of an ApprovalRule node.
type RuleType string

const (
	RuleGroup RuleType = "GROUP"
	RuleAnd   RuleType = "AND"
	RuleOr    RuleType = "OR"
)

// MaxRuleDepth bounds rule-tree nesting, checked at validation time.
const MaxRuleDepth = 10

// ApprovalRule is one node of the recursive approval policy tree.
//
// Exactly one variant is populated per node, selected by Type:
//   - GROUP: GroupID and MinCount — satisfied when at least MinCount distinct
//     group members hold an active APPROVE vote naming the group;
//   - AND: Rules — satisfied when every child is satisfied;
//   - OR: Rules — satisfied when at least one child is satisfied.
//
// The JSON form round-trips child order even though evaluation is
// order-insensitive, so stored policies display exactly as authored.
type ApprovalRule struct {
	Type     RuleType       `json:"type"`
	GroupID  string         `json:"group_id,omitempty"`
	MinCount int            `json:"min_count,omitempty"`
	Rules    []ApprovalRule `json:"rules,omitempty"`
}

// RuleErrorCode identifies a structural defect in a rule tree.
type RuleErrorCode string

const (
	ErrInvalidRuleType         RuleErrorCode = "invalid_rule_type"
	ErrAndRuleMustHaveRules    RuleErrorCode = "and_rule_must_have_rules"
	ErrOrRuleMustHaveRules     RuleErrorCode = "or_rule_must_have_rules"
	ErrMaxRuleNestingExceeded  RuleErrorCode = "max_rule_nesting_exceeded"
	ErrGroupRuleInvalidMin     RuleErrorCode = "group_rule_invalid_min_count"
	ErrGroupRuleInvalidGroupID RuleErrorCode = "group_rule_invalid_group_id"
	ErrMalformedContent        RuleErrorCode = "malformed_content"
)

// RuleError reports why a rule tree failed validation.
type RuleError struct {
	Code RuleErrorCode
}

func (e *RuleError) Error() string {
	return string(e.Code)
}

// Validate checks the structural invariants of the rule tree. It is pure and
// must be run at template creation and again whenever a tree is deserialized
// from storage.
func (r *ApprovalRule) Validate() error {
	return r.validate(1)
}

func (r *ApprovalRule) validate(depth int) error {
	if depth > MaxRuleDepth {
		return &RuleError{Code: ErrMaxRuleNestingExceeded}
	}

	switch r.Type {
	case RuleGroup:
		if r.GroupID == "" {
			return &RuleError{Code: ErrGroupRuleInvalidGroupID}
		}
		if r.MinCount < 1 {
			return &RuleError{Code: ErrGroupRuleInvalidMin}
		}
		return nil

	case RuleAnd:
		if len(r.Rules) == 0 {
			return &RuleError{Code: ErrAndRuleMustHaveRules}
		}
		for i := range r.Rules {
			if err := r.Rules[i].validate(depth + 1); err != nil {
				return err
			}
		}
		return nil

	case RuleOr:
		if len(r.Rules) == 0 {
			return &RuleError{Code: ErrOrRuleMustHaveRules}
		}
		for i := range r.Rules {
			if err := r.Rules[i].validate(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return &RuleError{Code: ErrInvalidRuleType}
}

// ReferencedGroups returns every group ID mentioned anywhere in the tree,
// deduplicated, in first-appearance order.
func (r *ApprovalRule) ReferencedGroups() []string {
	seen := make(map[string]bool)
	var groups []string
	r.walk(func(node *ApprovalRule) {
		if node.Type == RuleGroup && !seen[node.GroupID] {
			seen[node.GroupID] = true
			groups = append(groups, node.GroupID)
		}
	})
	return groups
}

func (r *ApprovalRule) walk(fn func(*ApprovalRule)) {
	fn(r)
	for i := range r.Rules {
		r.Rules[i].walk(fn)
	}
}

// ParseRule deserializes and validates a persisted rule tree. Malformed JSON
// is reported as malformed_content rather than being coerced; structural
// defects keep their specific codes.
func ParseRule(data []byte) (*ApprovalRule, error) {
	var rule ApprovalRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, &RuleError{Code: ErrMalformedContent}
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// MarshalRule serializes a rule tree for storage, preserving child order.
func MarshalRule(rule *ApprovalRule) ([]byte, error) {
	data, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("marshal approval rule: %w", err)
	}
	return data, nil
}
