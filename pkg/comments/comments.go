// Package comments implements the Comment Service: typed feedback records
// exchanged between participants, threaded replies, and the round-level
// stats and summaries the orchestrators surface to LLM prompts.
package comments

import (
	"context"
	"fmt"
	"sort"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/comment"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/google/uuid"
)

// defaultMaxThreadDepth bounds getThread traversal so a malformed or
// maliciously deep reply chain can't force an unbounded number of queries.
const defaultMaxThreadDepth = 10

// Service wraps an ent client with comment operations.
type Service struct {
	client       *ent.Client
	maxThreadDepth int
}

// New constructs a Service with the default thread-depth bound.
func New(client *ent.Client) *Service {
	return &Service{client: client, maxThreadDepth: defaultMaxThreadDepth}
}

// WithMaxThreadDepth overrides the traversal bound, returning a new Service.
func (s *Service) WithMaxThreadDepth(depth int) *Service {
	return &Service{client: s.client, maxThreadDepth: depth}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	AuthorID            string
	TargetParticipantID string
	StoryArtifactID     *string
	PassageID           *string
	Content              string
	Type                 string
	Round                int
	Phase                string
	ParentID             *string
}

// Create inserts a new comment.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ent.Comment, error) {
	create := s.client.Comment.Create().
		SetID(uuid.NewString()).
		SetAuthorID(in.AuthorID).
		SetTargetParticipantID(in.TargetParticipantID).
		SetContent(in.Content).
		SetRound(in.Round).
		SetPhase(comment.Phase(in.Phase))
	if in.Type != "" {
		create = create.SetType(comment.Type(in.Type))
	}
	if in.StoryArtifactID != nil {
		create = create.SetStoryArtifactID(*in.StoryArtifactID)
	}
	if in.PassageID != nil {
		create = create.SetPassageID(*in.PassageID)
	}
	if in.ParentID != nil {
		create = create.SetParentID(*in.ParentID)
	}

	c, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create comment: %v", apperrors.ErrInvalidInput, err)
	}
	return c, nil
}

// GetByID fetches one comment by id.
func (s *Service) GetByID(ctx context.Context, id string) (*ent.Comment, error) {
	c, err := s.client.Comment.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: comment %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}
	return c, nil
}

// Received returns comments where participantID is the target.
func (s *Service) Received(ctx context.Context, participantID string) ([]*ent.Comment, error) {
	return s.client.Comment.Query().
		Where(comment.TargetParticipantID(participantID)).
		Order(ent.Asc(comment.FieldCreatedAt)).
		All(ctx)
}

// Authored returns comments authored by participantID.
func (s *Service) Authored(ctx context.Context, participantID string) ([]*ent.Comment, error) {
	return s.client.Comment.Query().
		Where(comment.AuthorID(participantID)).
		Order(ent.Asc(comment.FieldCreatedAt)).
		All(ctx)
}

// ByStoryArtifact returns comments attached to a story artifact.
func (s *Service) ByStoryArtifact(ctx context.Context, storyArtifactID string) ([]*ent.Comment, error) {
	return s.client.Comment.Query().
		Where(comment.StoryArtifactID(storyArtifactID)).
		Order(ent.Asc(comment.FieldCreatedAt)).
		All(ctx)
}

// Replies returns the direct (one-level) replies to parentID.
func (s *Service) Replies(ctx context.Context, parentID string) ([]*ent.Comment, error) {
	return s.client.Comment.Query().
		Where(comment.ParentID(parentID)).
		Order(ent.Asc(comment.FieldCreatedAt)).
		All(ctx)
}

// GetThread returns rootID's comment plus all transitive replies in
// creation order, bounded to s.maxThreadDepth levels.
func (s *Service) GetThread(ctx context.Context, rootID string) ([]*ent.Comment, error) {
	root, err := s.GetByID(ctx, rootID)
	if err != nil {
		return nil, err
	}

	thread := []*ent.Comment{root}
	frontier := []string{rootID}

	for depth := 0; depth < s.maxThreadDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0)
		for _, parentID := range frontier {
			replies, err := s.Replies(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("failed to load replies at depth %d: %w", depth, err)
			}
			for _, r := range replies {
				thread = append(thread, r)
				next = append(next, r.ID)
			}
		}
		frontier = next
	}

	replies := thread[1:]
	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})

	return thread, nil
}

// Resolve marks a comment resolved in addressedInRound.
func (s *Service) Resolve(ctx context.Context, id string, addressedInRound int) (*ent.Comment, error) {
	c, err := s.client.Comment.UpdateOneID(id).
		SetResolved(true).
		SetAddressedInRound(addressedInRound).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: comment %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to resolve comment: %w", err)
	}
	return c, nil
}

// Unresolve clears the resolved flag and addressedInRound.
func (s *Service) Unresolve(ctx context.Context, id string) (*ent.Comment, error) {
	c, err := s.client.Comment.UpdateOneID(id).
		SetResolved(false).
		ClearAddressedInRound().
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: comment %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to unresolve comment: %w", err)
	}
	return c, nil
}

// UpdateContent edits a comment's text.
func (s *Service) UpdateContent(ctx context.Context, id, content string) (*ent.Comment, error) {
	c, err := s.client.Comment.UpdateOneID(id).
		SetContent(content).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, fmt.Errorf("%w: comment %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	return c, nil
}

// Delete removes a comment. Its replies, and their replies in turn, cascade
// at the DB level (entsql.OnDelete(Cascade) on the self-reference).
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.client.Comment.DeleteOneID(id).Exec(ctx); err != nil {
		if ent.IsNotFound(err) {
			return fmt.Errorf("%w: comment %s", apperrors.ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// Stats summarizes a participant's comment activity for one round.
type Stats struct {
	Received   int
	Given      int
	Resolved   int
	Unresolved int
	ByType     map[string]int
}

// StatsForRound computes Stats for participantID in round.
func (s *Service) StatsForRound(ctx context.Context, participantID string, round int) (Stats, error) {
	received, err := s.client.Comment.Query().
		Where(comment.TargetParticipantID(participantID), comment.Round(round)).
		All(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query received comments: %w", err)
	}

	given, err := s.client.Comment.Query().
		Where(comment.AuthorID(participantID), comment.Round(round)).
		Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count given comments: %w", err)
	}

	stats := Stats{
		Received: len(received),
		Given:    given,
		ByType:   make(map[string]int),
	}
	for _, c := range received {
		stats.ByType[string(c.Type)]++
		if c.Resolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
	}
	return stats, nil
}

// feedbackTypeOrder is the canonical ordering BuildFeedbackSummary groups by.
var feedbackTypeOrder = []string{"PRAISE", "SUGGESTION", "CRITIQUE", "QUESTION", "FEEDBACK"}

// BuildFeedbackSummary groups comments by type and renders them in the
// canonical order PRAISE -> SUGGESTION -> CRITIQUE -> QUESTION -> FEEDBACK.
// Pure function: no I/O, deterministic given its input.
func BuildFeedbackSummary(commentList []*ent.Comment) string {
	byType := make(map[string][]*ent.Comment)
	for _, c := range commentList {
		byType[string(c.Type)] = append(byType[string(c.Type)], c)
	}
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
	}

	var out string
	for _, t := range feedbackTypeOrder {
		group, ok := byType[t]
		if !ok || len(group) == 0 {
			continue
		}
		out += t + ":\n"
		for _, c := range group {
			out += "- " + c.Content + "\n"
		}
	}
	return out
}
