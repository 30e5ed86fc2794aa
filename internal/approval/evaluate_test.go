package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	evalNow    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	farFuture  = evalNow.Add(48 * time.Hour)
	recentPast = evalNow.Add(-time.Hour)
)

func groupRule(groupID string, minCount int) ApprovalRule {
	return ApprovalRule{Type: RuleGroup, GroupID: groupID, MinCount: minCount}
}

func andRule(rules ...ApprovalRule) ApprovalRule {
	return ApprovalRule{Type: RuleAnd, Rules: rules}
}

func orRule(rules ...ApprovalRule) ApprovalRule {
	return ApprovalRule{Type: RuleOr, Rules: rules}
}

func user(id string) EntityRef {
	return EntityRef{Kind: EntityUser, ID: id}
}

// approveVote builds an APPROVE vote cast offset minutes after a fixed base.
func approveVote(voter EntityRef, offset int, groups ...string) Vote {
	return Vote{
		Voter:          voter,
		Type:           VoteApprove,
		VotedForGroups: groups,
		CastedAt:       evalNow.Add(time.Duration(offset) * time.Minute),
		Seq:            int64(offset),
	}
}

func vetoVote(voter EntityRef, offset int) Vote {
	return Vote{Voter: voter, Type: VoteVeto, CastedAt: evalNow.Add(time.Duration(offset) * time.Minute), Seq: int64(offset)}
}

func withdrawVote(voter EntityRef, offset int) Vote {
	return Vote{Voter: voter, Type: VoteWithdraw, CastedAt: evalNow.Add(time.Duration(offset) * time.Minute), Seq: int64(offset)}
}

func membersOf(groupID string, entities ...EntityRef) []Membership {
	var memberships []Membership
	for _, e := range entities {
		memberships = append(memberships, Membership{Entity: e, GroupID: groupID, Role: RoleVoter})
	}
	return memberships
}

func TestEvaluateTwoApprovalsSatisfyQuorum(t *testing.T) {
	rule := groupRule("eng", 2)
	members := NewMembershipSet(membersOf("eng", user("alice"), user("bob")))
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		approveVote(user("bob"), 2, "eng"),
	}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusApproved, status)
}

func TestEvaluateWithdrawRevertsToPending(t *testing.T) {
	rule := groupRule("eng", 2)
	members := NewMembershipSet(membersOf("eng", user("alice"), user("bob")))
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		approveVote(user("bob"), 2, "eng"),
		withdrawVote(user("bob"), 3),
	}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusPending, status)
}

func TestEvaluateOrBranchApproves(t *testing.T) {
	rule := orRule(groupRule("eng", 1), groupRule("legal", 1))
	members := NewMembershipSet(membersOf("legal", user("carol")))
	votes := []Vote{approveVote(user("carol"), 1, "legal")}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusApproved, status)
}

func TestEvaluateVetoIsAbsolute(t *testing.T) {
	rule := groupRule("eng", 2)
	members := NewMembershipSet(membersOf("eng", user("alice"), user("bob"), user("mallory")))
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		approveVote(user("bob"), 2, "eng"),
		vetoVote(user("mallory"), 3),
	}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusRejected, status)
}

func TestEvaluateExpiredUnsatisfiedRule(t *testing.T) {
	rule := groupRule("eng", 2)
	members := NewMembershipSet(membersOf("eng", user("alice")))
	votes := []Vote{approveVote(user("alice"), -120, "eng")}

	status := Evaluate(&rule, votes, members, recentPast, evalNow)
	assert.Equal(t, StatusExpired, status)
}

func TestEvaluateQuorumBoundary(t *testing.T) {
	rule := groupRule("eng", 3)
	voters := []EntityRef{user("a"), user("b"), user("c")}
	members := NewMembershipSet(membersOf("eng", voters...))

	var votes []Vote
	for i, v := range voters[:2] {
		votes = append(votes, approveVote(v, i, "eng"))
	}
	assert.Equal(t, StatusPending, Evaluate(&rule, votes, members, farFuture, evalNow),
		"n-1 approvals must not satisfy the quorum")

	votes = append(votes, approveVote(voters[2], 3, "eng"))
	assert.Equal(t, StatusApproved, Evaluate(&rule, votes, members, farFuture, evalNow),
		"exactly n approvals must satisfy the quorum")
}

func TestEvaluateVetoThenWithdrawUnblocks(t *testing.T) {
	rule := groupRule("eng", 1)
	members := NewMembershipSet(membersOf("eng", user("alice"), user("bob")))
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		vetoVote(user("bob"), 2),
		withdrawVote(user("bob"), 3),
	}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusApproved, status)
}

func TestEvaluateLatestVotePerVoterWins(t *testing.T) {
	rule := groupRule("eng", 1)
	members := NewMembershipSet(membersOf("eng", user("alice")))

	// Approve, then veto: the veto is effective.
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		vetoVote(user("alice"), 2),
	}
	assert.Equal(t, StatusRejected, Evaluate(&rule, votes, members, farFuture, evalNow))

	// Veto, then approve: the approve is effective.
	votes = []Vote{
		vetoVote(user("alice"), 1),
		approveVote(user("alice"), 2, "eng"),
	}
	assert.Equal(t, StatusApproved, Evaluate(&rule, votes, members, farFuture, evalNow))
}

func TestEvaluateCastedAtTieBreaksByInsertionOrder(t *testing.T) {
	rule := groupRule("eng", 1)
	members := NewMembershipSet(membersOf("eng", user("alice")))

	at := evalNow.Add(time.Minute)
	votes := []Vote{
		{Voter: user("alice"), Type: VoteApprove, VotedForGroups: []string{"eng"}, CastedAt: at, Seq: 1},
		{Voter: user("alice"), Type: VoteWithdraw, CastedAt: at, Seq: 2},
	}

	status := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, StatusPending, status, "the later ledger entry must win the tie")
}

func TestEvaluateMembershipRecheckedAtEvaluationTime(t *testing.T) {
	rule := groupRule("eng", 1)
	votes := []Vote{approveVote(user("alice"), 1, "eng")}

	// Alice voted while a member but has since left the group.
	empty := NewMembershipSet(nil)
	assert.Equal(t, StatusPending, Evaluate(&rule, votes, empty, farFuture, evalNow))
}

func TestEvaluateApproveMustNameTheGroup(t *testing.T) {
	rule := groupRule("eng", 1)
	members := NewMembershipSet(membersOf("eng", user("alice")))

	// An approve vote for a different group does not count toward eng.
	votes := []Vote{approveVote(user("alice"), 1, "legal")}
	assert.Equal(t, StatusPending, Evaluate(&rule, votes, members, farFuture, evalNow))
}

func TestEvaluateComposition(t *testing.T) {
	engMember := user("e1")
	legalMember := user("l1")
	secMember := user("s1")
	memberships := append(membersOf("eng", engMember), membersOf("legal", legalMember)...)
	memberships = append(memberships, membersOf("security", secMember)...)
	members := NewMembershipSet(memberships)

	eng := approveVote(engMember, 1, "eng")
	legal := approveVote(legalMember, 2, "legal")
	sec := approveVote(secMember, 3, "security")

	// Depth 3: AND(OR(eng, legal), AND(security)).
	nested := andRule(
		orRule(groupRule("eng", 1), groupRule("legal", 1)),
		andRule(groupRule("security", 1)),
	)

	tests := []struct {
		name  string
		rule  ApprovalRule
		votes []Vote
		want  WorkflowStatus
	}{
		{"and: both satisfied", andRule(groupRule("eng", 1), groupRule("legal", 1)), []Vote{eng, legal}, StatusApproved},
		{"and: one missing", andRule(groupRule("eng", 1), groupRule("legal", 1)), []Vote{eng}, StatusPending},
		{"and: none satisfied", andRule(groupRule("eng", 1), groupRule("legal", 1)), nil, StatusPending},
		{"or: first satisfied", orRule(groupRule("eng", 1), groupRule("legal", 1)), []Vote{eng}, StatusApproved},
		{"or: second satisfied", orRule(groupRule("eng", 1), groupRule("legal", 1)), []Vote{legal}, StatusApproved},
		{"or: none satisfied", orRule(groupRule("eng", 1), groupRule("legal", 1)), nil, StatusPending},
		{"nested: or branch plus security", nested, []Vote{legal, sec}, StatusApproved},
		{"nested: or unsatisfied", nested, []Vote{sec}, StatusPending},
		{"nested: security missing", nested, []Vote{eng, legal}, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(&tt.rule, tt.votes, members, farFuture, evalNow))
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	rule := andRule(orRule(groupRule("eng", 2), groupRule("legal", 1)), groupRule("security", 1))
	memberships := append(membersOf("eng", user("a"), user("b")), membersOf("security", user("s"))...)
	members := NewMembershipSet(memberships)
	votes := []Vote{
		approveVote(user("a"), 1, "eng"),
		approveVote(user("b"), 2, "eng"),
		approveVote(user("s"), 3, "security"),
		withdrawVote(user("b"), 4),
	}

	first := Evaluate(&rule, votes, members, farFuture, evalNow)
	second := Evaluate(&rule, votes, members, farFuture, evalNow)
	assert.Equal(t, first, second)
	assert.Equal(t, StatusPending, first)
}

func TestEffectiveVotesReduction(t *testing.T) {
	votes := []Vote{
		approveVote(user("alice"), 1, "eng"),
		approveVote(user("bob"), 2, "eng"),
		vetoVote(user("alice"), 3),
		withdrawVote(user("bob"), 4),
	}

	effective := EffectiveVotes(votes)
	require.Len(t, effective, 2)

	byVoter := make(map[string]VoteType)
	for _, v := range effective {
		byVoter[v.Voter.Key()] = v.Type
	}
	assert.Equal(t, VoteVeto, byVoter[user("alice").Key()])
	assert.Equal(t, VoteWithdraw, byVoter[user("bob").Key()])
}
