package store

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/batch"
	"github.com/codeready-toolchain/studyengine/ent/comment"
	"github.com/codeready-toolchain/studyengine/ent/condition"
	"github.com/codeready-toolchain/studyengine/ent/event"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/study"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/google/uuid"
)

// ConditionInput describes one experimental arm to create alongside a study.
type ConditionInput struct {
	Name   string
	Config map[string]interface{}
}

// CreateStudyInput is the payload for CreateStudyWithRelations.
type CreateStudyInput struct {
	Name           string
	Description    *string
	ExecutionMode  string
	ConfigDocument map[string]interface{}
	Conditions     []ConditionInput
}

// CreateStudyWithRelations atomically creates a study and its conditions.
func (c *Client) CreateStudyWithRelations(ctx context.Context, in CreateStudyInput) (*ent.Study, error) {
	var created *ent.Study

	err := c.WithTx(ctx, func(tx *ent.Tx) error {
		studyCreate := tx.Study.Create().
			SetID(uuid.NewString()).
			SetName(in.Name).
			SetExecutionMode(study.ExecutionMode(in.ExecutionMode)).
			SetConfigDocument(in.ConfigDocument)
		if in.Description != nil {
			studyCreate = studyCreate.SetDescription(*in.Description)
		}

		s, err := studyCreate.Save(ctx)
		if err != nil {
			return fmt.Errorf("%w: create study: %v", apperrors.ErrInvalidInput, err)
		}

		for _, cond := range in.Conditions {
			condCreate := tx.Condition.Create().
				SetID(uuid.NewString()).
				SetStudyID(s.ID).
				SetName(cond.Name)
			if cond.Config != nil {
				condCreate = condCreate.SetConfig(cond.Config)
			}
			if _, err := condCreate.Save(ctx); err != nil {
				return fmt.Errorf("%w: create condition %q: %v", apperrors.ErrInvalidInput, cond.Name, err)
			}
		}

		created = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ParticipantSeed describes one participant row to insert as part of batch
// materialization; filled in by pkg/batchworkers, which owns uniqueId /
// metadata / pairing conventions.
type ParticipantSeed struct {
	ID              string
	UniqueID        string
	ActorType       string
	Role            string
	ConditionID     *string
	LLMConfig       map[string]interface{}
	PartnerID       *string
	PairingMetadata map[string]interface{}
	Metadata        map[string]interface{}
}

// CreateBatchWithActors creates the batch row and all of its participants in
// a single transaction, then sets actorsCreated to the number inserted.
func (c *Client) CreateBatchWithActors(ctx context.Context, studyID string, conditionID *string, name string, seeds []ParticipantSeed) (*ent.Batch, error) {
	var created *ent.Batch

	err := c.WithTx(ctx, func(tx *ent.Tx) error {
		batchCreate := tx.Batch.Create().
			SetID(uuid.NewString()).
			SetStudyID(studyID).
			SetName(name).
			SetPaired(len(seeds) > 0 && seeds[0].PartnerID != nil)
		if conditionID != nil {
			batchCreate = batchCreate.SetConditionID(*conditionID)
		}

		b, err := batchCreate.Save(ctx)
		if err != nil {
			return fmt.Errorf("%w: create batch: %v", apperrors.ErrInvalidInput, err)
		}

		const chunkSize = 100
		for start := 0; start < len(seeds); start += chunkSize {
			end := start + chunkSize
			if end > len(seeds) {
				end = len(seeds)
			}

			builders := make([]*ent.ParticipantCreate, 0, end-start)
			for _, seed := range seeds[start:end] {
				pc := tx.Participant.Create().
					SetID(seed.ID).
					SetBatchID(b.ID).
					SetStudyID(studyID).
					SetUniqueID(seed.UniqueID).
					SetActorType(participant.ActorType(seed.ActorType)).
					SetRole(participant.Role(seed.Role)).
					SetMetadata(seed.Metadata)
				if seed.ConditionID != nil {
					pc = pc.SetConditionID(*seed.ConditionID)
				}
				if seed.LLMConfig != nil {
					pc = pc.SetLlmConfig(seed.LLMConfig)
				}
				if seed.PartnerID != nil {
					pc = pc.SetPartnerID(*seed.PartnerID)
				}
				if seed.PairingMetadata != nil {
					pc = pc.SetPairingMetadata(seed.PairingMetadata)
				}
				builders = append(builders, pc)
			}

			if _, err := tx.Participant.CreateBulk(builders...).Save(ctx); err != nil {
				return fmt.Errorf("%w: insert participants [%d:%d]: %v", apperrors.ErrInvalidInput, start, end, err)
			}
		}

		b, err = b.Update().SetActorsCreated(len(seeds)).Save(ctx)
		if err != nil {
			return fmt.Errorf("failed to set actorsCreated: %w", err)
		}

		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// terminalParticipantStates mark completedAt when a participant transitions
// into one of them.
var terminalParticipantStates = map[string]bool{
	string(participant.StateCOMPLETE):   true,
	string(participant.StateWITHDRAWN):  true,
	string(participant.StateEXCLUDED):   true,
}

// UpdateParticipantWithEvent reads the participant's previous state, writes
// the new state, and appends a STATE_CHANGE event carrying
// {previousState, newState, ...eventData} — all inside one transaction.
func (c *Client) UpdateParticipantWithEvent(ctx context.Context, participantID string, newState string, eventData map[string]interface{}) (*ent.Participant, error) {
	var updated *ent.Participant

	err := c.WithTx(ctx, func(tx *ent.Tx) error {
		p, err := tx.Participant.Get(ctx, participantID)
		if err != nil {
			if ent.IsNotFound(err) {
				return fmt.Errorf("%w: participant %s", apperrors.ErrNotFound, participantID)
			}
			return fmt.Errorf("failed to load participant: %w", err)
		}

		previousState := string(p.State)

		updateCall := tx.Participant.UpdateOneID(participantID).
			SetState(participant.State(newState))
		if terminalParticipantStates[newState] {
			updateCall = updateCall.SetCompletedAt(time.Now())
		}

		p, err = updateCall.Save(ctx)
		if err != nil {
			return fmt.Errorf("%w: update participant state: %v", apperrors.ErrConflict, err)
		}

		data := map[string]interface{}{
			"previousState": previousState,
			"newState":      newState,
		}
		for k, v := range eventData {
			data[k] = v
		}

		_, err = tx.Event.Create().
			SetID(uuid.NewString()).
			SetParticipantID(participantID).
			SetType(event.TypeSTATE_CHANGE).
			SetData(data).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("failed to append state_change event: %w", err)
		}

		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// activeParticipantStates blocks study deletion while any participant is in
// one of these states.
var activeParticipantStates = []participant.State{
	participant.StateACTIVE,
	participant.StateSCHEDULED,
	participant.StateCONFIRMED,
	participant.StateCHECKED_IN,
}

// DeleteStudyWithRelations refuses if any participant in the study is
// active, else cascades the deletion bottom-up: comments, batches
// (cascading to participants, which cascade to events, story artifacts,
// agent contexts, survey responses and biosignal samples), conditions,
// then the study itself.
func (c *Client) DeleteStudyWithRelations(ctx context.Context, studyID string) error {
	return c.WithTx(ctx, func(tx *ent.Tx) error {
		exists, err := tx.Study.Query().Where(study.ID(studyID)).Exist(ctx)
		if err != nil {
			return fmt.Errorf("failed to check study: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: study %s", apperrors.ErrNotFound, studyID)
		}

		blocked, err := tx.Participant.Query().
			Where(
				participant.StudyID(studyID),
				participant.StateIn(activeParticipantStates...),
			).
			Exist(ctx)
		if err != nil {
			return fmt.Errorf("failed to check active participants: %w", err)
		}
		if blocked {
			return fmt.Errorf("%w: study %s has active participants", apperrors.ErrConflict, studyID)
		}

		participantIDs, err := tx.Participant.Query().
			Where(participant.StudyID(studyID)).
			IDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list participants: %w", err)
		}

		// Comments aren't owned by a single cascading parent (they
		// reference both an author and a target participant), so they're
		// deleted explicitly before the participants they point to.
		if len(participantIDs) > 0 {
			if _, err := tx.Comment.Delete().
				Where(comment.Or(
					comment.AuthorIDIn(participantIDs...),
					comment.TargetParticipantIDIn(participantIDs...),
				)).
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete comments: %w", err)
			}
		}

		if _, err := tx.Batch.Delete().Where(batch.StudyID(studyID)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete batches: %w", err)
		}

		if _, err := tx.Condition.Delete().Where(condition.StudyID(studyID)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete conditions: %w", err)
		}

		if _, err := tx.Study.DeleteOneID(studyID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete study: %w", err)
		}

		return nil
	})
}
