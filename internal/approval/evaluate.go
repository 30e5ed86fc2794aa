package approval

import "time"

// MembershipSet answers "is this entity currently a member of this group" for
// the evaluator. Membership is re-checked at evaluation time, not frozen at
// vote time, so a voter who left a group no longer counts toward its quorum.
type MembershipSet struct {
	byGroup map[string]map[string]bool
}

// NewMembershipSet indexes memberships by group and entity.
func NewMembershipSet(memberships []Membership) MembershipSet {
	byGroup := make(map[string]map[string]bool)
	for _, m := range memberships {
		members := byGroup[m.GroupID]
		if members == nil {
			members = make(map[string]bool)
			byGroup[m.GroupID] = members
		}
		members[m.Entity.Key()] = true
	}
	return MembershipSet{byGroup: byGroup}
}

// Contains reports whether entity is a member of groupID.
func (s MembershipSet) Contains(entity EntityRef, groupID string) bool {
	return s.byGroup[groupID][entity.Key()]
}

// EffectiveVotes reduces a casted_at-ascending vote ledger to each voter's
// most recent vote. Ties on casted_at resolve to the later ledger entry
// (insertion order). WITHDRAW votes survive the reduction — they mask the
// voter's earlier votes — but contribute nothing to tallying.
func EffectiveVotes(votes []Vote) []Vote {
	latest := make(map[string]int, len(votes))
	var order []string
	for i, v := range votes {
		key := v.Voter.Key()
		prev, ok := latest[key]
		if !ok {
			latest[key] = i
			order = append(order, key)
			continue
		}
		if !votes[i].CastedAt.Before(votes[prev].CastedAt) {
			latest[key] = i
		}
	}

	effective := make([]Vote, 0, len(order))
	for _, key := range order {
		effective = append(effective, votes[latest[key]])
	}
	return effective
}

// Evaluate derives a workflow's status from its approval rule and vote
// ledger. It is deterministic and side-effect-free:
//
//  1. Votes reduce to one effective vote per voter.
//  2. Any effective VETO rejects the workflow outright — veto is absolute and
//     short-circuits tree evaluation.
//  3. Otherwise the rule tree is evaluated against the effective APPROVE
//     votes, re-checking group membership per vote.
//  4. A satisfied root approves the workflow; past the deadline and
//     unsatisfied means expired; anything else stays pending.
func Evaluate(rule *ApprovalRule, votes []Vote, members MembershipSet, expiresAt, now time.Time) WorkflowStatus {
	effective := EffectiveVotes(votes)

	var approvals []Vote
	for _, v := range effective {
		switch v.Type {
		case VoteVeto:
			return StatusRejected
		case VoteApprove:
			approvals = append(approvals, v)
		}
	}

	if satisfied(rule, approvals, members) {
		return StatusApproved
	}
	if now.After(expiresAt) {
		return StatusExpired
	}
	return StatusPending
}

// satisfied recurses over the rule tree. An unknown tag evaluates to false:
// persisted rules are validated on load, so this only guards against a bug.
func satisfied(rule *ApprovalRule, approvals []Vote, members MembershipSet) bool {
	switch rule.Type {
	case RuleGroup:
		count := 0
		for _, v := range approvals {
			if votedForGroup(v, rule.GroupID) && members.Contains(v.Voter, rule.GroupID) {
				count++
			}
		}
		return count >= rule.MinCount

	case RuleAnd:
		for i := range rule.Rules {
			if !satisfied(&rule.Rules[i], approvals, members) {
				return false
			}
		}
		return true

	case RuleOr:
		for i := range rule.Rules {
			if satisfied(&rule.Rules[i], approvals, members) {
				return true
			}
		}
		return false
	}
	return false
}

func votedForGroup(v Vote, groupID string) bool {
	for _, g := range v.VotedForGroups {
		if g == groupID {
			return true
		}
	}
	return false
}
