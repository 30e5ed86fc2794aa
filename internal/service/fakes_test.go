package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

// ── fake workflow store ───────────────────────────────────────────────────────

type fakeWorkflowStore struct {
	mu        sync.Mutex
	workflows map[string]*approval.Workflow
	// beforeUpdate runs inside ConditionalUpdate before the version check,
	// letting tests interleave a competing write.
	beforeUpdate func()
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{workflows: make(map[string]*approval.Workflow)}
}

func (s *fakeWorkflowStore) Create(_ context.Context, wf *approval.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf.Version = 1
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *fakeWorkflowStore) GetByID(_ context.Context, id string) (*approval.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, apperr.NotFound("workflow", id)
	}
	copied := *wf
	return &copied, nil
}

func (s *fakeWorkflowStore) ListByStatus(_ context.Context, status approval.WorkflowStatus, limit int) ([]*approval.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Workflow
	for _, wf := range s.workflows {
		if wf.Status == status && len(out) < limit {
			copied := *wf
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeWorkflowStore) PendingByTemplateID(_ context.Context, templateID string) ([]*approval.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Workflow
	for _, wf := range s.workflows {
		if wf.TemplateID == templateID && wf.Status == approval.StatusPending {
			copied := *wf
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeWorkflowStore) ConditionalUpdate(_ context.Context, id string, expectedVersion int64, patch repository.WorkflowPatch) (*approval.Workflow, error) {
	if s.beforeUpdate != nil {
		hook := s.beforeUpdate
		s.beforeUpdate = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, apperr.NotFound("workflow", id)
	}
	if wf.Version != expectedVersion {
		return nil, apperr.Concurrency("workflow was modified concurrently: " + id)
	}
	if patch.Status != nil {
		wf.Status = *patch.Status
	}
	if patch.RecalculationRequired != nil {
		wf.RecalculationRequired = *patch.RecalculationRequired
	}
	wf.Version++
	copied := *wf
	return &copied, nil
}

// markDirty mirrors the vote-write side effect on the workflow row.
func (s *fakeWorkflowStore) markDirty(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return apperr.NotFound("workflow", id)
	}
	wf.RecalculationRequired = true
	wf.Version++
	return nil
}

// ── fake vote store ───────────────────────────────────────────────────────────

type fakeVoteStore struct {
	mu        sync.Mutex
	votes     []approval.Vote
	workflows *fakeWorkflowStore
	nextSeq   int64
}

func newFakeVoteStore(workflows *fakeWorkflowStore) *fakeVoteStore {
	return &fakeVoteStore{workflows: workflows}
}

func (s *fakeVoteStore) AppendAndMarkDirty(_ context.Context, vote *approval.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.workflows.markDirty(vote.WorkflowID); err != nil {
		return err
	}
	s.nextSeq++
	vote.Seq = s.nextSeq
	if vote.CastedAt.IsZero() {
		vote.CastedAt = time.Now()
	}
	s.votes = append(s.votes, *vote)
	return nil
}

func (s *fakeVoteStore) AllForWorkflow(_ context.Context, workflowID string) ([]approval.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Vote
	for _, v := range s.votes {
		if v.WorkflowID == workflowID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeVoteStore) LatestByVoter(_ context.Context, workflowID string, voter approval.EntityRef) (*approval.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *approval.Vote
	for i := range s.votes {
		v := s.votes[i]
		if v.WorkflowID == workflowID && v.Voter == voter {
			latest = &v
		}
	}
	return latest, nil
}

// ── fake template store ───────────────────────────────────────────────────────

type fakeTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*approval.WorkflowTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*approval.WorkflowTemplate)}
}

func (s *fakeTemplateStore) Create(_ context.Context, tpl *approval.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tpl
	s.templates[tpl.ID] = &copied
	return nil
}

func (s *fakeTemplateStore) GetByID(_ context.Context, id string) (*approval.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, apperr.NotFound("workflow_template", id)
	}
	copied := *tpl
	return &copied, nil
}

func (s *fakeTemplateStore) List(_ context.Context) ([]*approval.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.WorkflowTemplate
	for _, tpl := range s.templates {
		copied := *tpl
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeTemplateStore) MaxVersion(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, tpl := range s.templates {
		if tpl.Name == name && tpl.Version > max {
			max = tpl.Version
		}
	}
	return max, nil
}

func (s *fakeTemplateStore) UpdateStatus(_ context.Context, id string, status approval.TemplateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return apperr.NotFound("workflow_template", id)
	}
	tpl.Status = status
	return nil
}

// ── fake membership store ─────────────────────────────────────────────────────

type fakeMembershipStore struct {
	mu          sync.Mutex
	memberships []approval.Membership
}

func (s *fakeMembershipStore) add(entity approval.EntityRef, groupID string, role approval.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, approval.Membership{Entity: entity, GroupID: groupID, Role: role})
}

func (s *fakeMembershipStore) remove(entity approval.EntityRef, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.memberships[:0]
	for _, m := range s.memberships {
		if m.Entity != entity || m.GroupID != groupID {
			kept = append(kept, m)
		}
	}
	s.memberships = kept
}

func (s *fakeMembershipStore) MembershipsOf(_ context.Context, entity approval.EntityRef) ([]approval.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Membership
	for _, m := range s.memberships {
		if m.Entity == entity {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMembershipStore) MembersOfGroups(_ context.Context, groupIDs []string) ([]approval.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(groupIDs))
	for _, g := range groupIDs {
		want[g] = true
	}
	var out []approval.Membership
	for _, m := range s.memberships {
		if want[m.GroupID] {
			out = append(out, m)
		}
	}
	return out, nil
}

// ── fake event sink ───────────────────────────────────────────────────────────

type fakeEventSink struct {
	mu         sync.Mutex
	enqueued   []string
	published  []approval.StatusChangedEvent
	enqueueErr error
}

func (s *fakeEventSink) EnqueueRecalculation(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, workflowID)
	return nil
}

func (s *fakeEventSink) PublishStatusChanged(_ context.Context, event approval.StatusChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, event)
}
