// Package agentcontext manages each synthetic actor's persistent memory
// across rounds: story drafts authored, partner stories played, feedback
// exchanged, and cumulative learnings. Appends are serializable
// read-modify-write transactions so concurrent readers always see a
// consistent snapshot.
package agentcontext

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/agentcontext"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// appendBackoffMin/Max jitter retries after a serialization conflict on the
// agent context row; appendMaxRetries bounds how many retries are made.
const (
	appendMaxRetries     = 5
	appendBackoffMin     = 10 * time.Millisecond
	appendBackoffMax     = 40 * time.Millisecond
	serializationFailure = "40001"
)

// Service wraps an ent client with the agent-context operations.
type Service struct {
	client *ent.Client
}

// New constructs a Service over client.
func New(client *ent.Client) *Service {
	return &Service{client: client}
}

// Entry is one item appended to a list field, always tagged with the round
// it was produced in.
type Entry struct {
	Round     int                    `json:"round"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"createdAt"`
}

func toMaps(entries []Entry) []map[string]interface{} {
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{
			"round":     e.Round,
			"data":      e.Data,
			"createdAt": e.CreatedAt,
		}
	}
	return out
}

// GetOrCreate returns the participant's AgentContext, creating one with
// round=1, phase=AUTHOR, and five empty lists if it doesn't exist yet.
func (s *Service) GetOrCreate(ctx context.Context, participantID string) (*ent.AgentContext, error) {
	existing, err := s.client.AgentContext.Query().
		Where(agentcontext.ParticipantID(participantID)).
		Only(ctx)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query agent context: %w", err)
	}

	created, err := s.client.AgentContext.Create().
		SetID(uuid.NewString()).
		SetParticipantID(participantID).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// Lost a create race; the winner's row is authoritative.
			return s.client.AgentContext.Query().
				Where(agentcontext.ParticipantID(participantID)).
				Only(ctx)
		}
		return nil, fmt.Errorf("failed to create agent context: %w", err)
	}
	return created, nil
}

// UpdatePhase sets the participant's current phase.
func (s *Service) UpdatePhase(ctx context.Context, participantID, phase string) error {
	n, err := s.client.AgentContext.Update().
		Where(agentcontext.ParticipantID(participantID)).
		SetCurrentPhase(agentcontext.CurrentPhase(phase)).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: agent context for participant %s", apperrors.ErrNotFound, participantID)
	}
	return nil
}

// AdvanceRound increments the round and resets the phase to AUTHOR,
// atomically.
func (s *Service) AdvanceRound(ctx context.Context, participantID string) error {
	n, err := s.client.AgentContext.Update().
		Where(agentcontext.ParticipantID(participantID)).
		AddCurrentRound(1).
		SetCurrentPhase(agentcontext.CurrentPhaseAUTHOR).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to advance round: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: agent context for participant %s", apperrors.ErrNotFound, participantID)
	}
	return nil
}

type listField int

const (
	listOwnStoryDrafts listField = iota
	listPartnerStoriesPlayed
	listFeedbackGiven
	listFeedbackReceived
	listCumulativeLearnings
)

// appendToList is a serializable read-modify-write: load the current list,
// append the entry, write it back, all in one transaction. Concurrent
// appends to the same participant conflict at the database level; those are
// retried with a jittered backoff rather than lost.
func (s *Service) appendToList(ctx context.Context, participantID string, field listField, entry Entry) error {
	entryMap := toMaps([]Entry{entry})[0]

	for attempt := 0; ; attempt++ {
		err := s.withSerializableTx(ctx, func(tx *ent.Tx) error {
			ac, err := tx.AgentContext.Query().
				Where(agentcontext.ParticipantID(participantID)).
				Only(ctx)
			if err != nil {
				if ent.IsNotFound(err) {
					return fmt.Errorf("%w: agent context for participant %s", apperrors.ErrNotFound, participantID)
				}
				return fmt.Errorf("failed to load agent context: %w", err)
			}

			update := tx.AgentContext.UpdateOneID(ac.ID)
			switch field {
			case listOwnStoryDrafts:
				update = update.SetOwnStoryDrafts(append(ac.OwnStoryDrafts, entryMap))
			case listPartnerStoriesPlayed:
				update = update.SetPartnerStoriesPlayed(append(ac.PartnerStoriesPlayed, entryMap))
			case listFeedbackGiven:
				update = update.SetFeedbackGiven(append(ac.FeedbackGiven, entryMap))
			case listFeedbackReceived:
				update = update.SetFeedbackReceived(append(ac.FeedbackReceived, entryMap))
			case listCumulativeLearnings:
				update = update.SetCumulativeLearnings(append(ac.CumulativeLearnings, entryMap))
			}

			if _, err := update.Save(ctx); err != nil {
				return fmt.Errorf("failed to append entry: %w", err)
			}
			return nil
		})

		if err == nil || !isSerializationConflict(err) || attempt >= appendMaxRetries {
			return err
		}
		time.Sleep(appendBackoffMin + time.Duration(rand.Int63n(int64(appendBackoffMax-appendBackoffMin))))
	}
}

// withSerializableTx runs fn inside a SERIALIZABLE transaction, committing
// on success and rolling back (folding any rollback error into the original)
// on failure or panic.
func (s *Service) withSerializableTx(ctx context.Context, fn func(tx *ent.Tx) error) error {
	tx, err := s.client.BeginTx(ctx, &stdsql.TxOptions{Isolation: stdsql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isSerializationConflict reports whether err is a Postgres serialization
// failure (SQLSTATE 40001), the expected way two concurrent SERIALIZABLE
// appends to the same row collide.
func isSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

// AppendOwnDraft records a story draft the participant authored this round.
func (s *Service) AppendOwnDraft(ctx context.Context, participantID string, round int, data map[string]interface{}) error {
	return s.appendToList(ctx, participantID, listOwnStoryDrafts, Entry{Round: round, Data: data, CreatedAt: time.Now()})
}

// AppendPartnerStoryPlayed records a partner's story the participant played.
func (s *Service) AppendPartnerStoryPlayed(ctx context.Context, participantID string, round int, data map[string]interface{}) error {
	return s.appendToList(ctx, participantID, listPartnerStoriesPlayed, Entry{Round: round, Data: data, CreatedAt: time.Now()})
}

// AppendFeedbackGiven records feedback the participant gave a partner.
func (s *Service) AppendFeedbackGiven(ctx context.Context, participantID string, round int, data map[string]interface{}) error {
	return s.appendToList(ctx, participantID, listFeedbackGiven, Entry{Round: round, Data: data, CreatedAt: time.Now()})
}

// AppendFeedbackReceived records feedback the participant received.
func (s *Service) AppendFeedbackReceived(ctx context.Context, participantID string, round int, data map[string]interface{}) error {
	return s.appendToList(ctx, participantID, listFeedbackReceived, Entry{Round: round, Data: data, CreatedAt: time.Now()})
}

// AppendLearning records a cumulative, cross-round learning.
func (s *Service) AppendLearning(ctx context.Context, participantID string, round int, data map[string]interface{}) error {
	return s.appendToList(ctx, participantID, listCumulativeLearnings, Entry{Round: round, Data: data, CreatedAt: time.Now()})
}

// BuildSummary renders a deterministic, human-readable roll-up of ac,
// sectioned by round and list, suitable as LLM prompt context. Pure
// function: no I/O, fully testable in isolation.
func BuildSummary(ac *ent.AgentContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Round %d, phase %s\n\n", ac.CurrentRound, ac.CurrentPhase)

	writeSection(&sb, "Own story drafts", ac.OwnStoryDrafts)
	writeSection(&sb, "Partner stories played", ac.PartnerStoriesPlayed)
	writeSection(&sb, "Feedback given", ac.FeedbackGiven)
	writeSection(&sb, "Feedback received", ac.FeedbackReceived)
	writeSection(&sb, "Cumulative learnings", ac.CumulativeLearnings)

	return strings.TrimRight(sb.String(), "\n")
}

func writeSection(sb *strings.Builder, title string, entries []map[string]interface{}) {
	fmt.Fprintf(sb, "## %s\n", title)
	if len(entries) == 0 {
		sb.WriteString("(none)\n\n")
		return
	}
	for _, entry := range entries {
		round := entry["round"]
		fmt.Fprintf(sb, "- [round %v] %v\n", round, entry["data"])
	}
	sb.WriteString("\n")
}
