// Package hybrid runs the asynchronous collaborative session: a
// persisted phase-barrier state machine over a human/synthetic or
// human/human pair, advancing both sides only once both have completed
// the current phase. Events are emitted via Postgres LISTEN/NOTIFY right
// after the state-changing row is persisted, so a listener reconnecting
// after a drop can always reconstruct current state from the table
// alone rather than relying on the notification itself.
package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/phasecompletion"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/pkg/collaborative"
	"github.com/codeready-toolchain/studyengine/pkg/comments"
	"github.com/google/uuid"
)

// Phase mirrors collaborative.Phase for the async state machine.
type Phase = collaborative.Phase

const (
	PhaseAuthor = collaborative.PhaseAuthor
	PhasePlay   = collaborative.PhasePlay
	PhaseReview = collaborative.PhaseReview
)

var defaultPhases = []Phase{PhaseAuthor, PhasePlay, PhaseReview}

// SessionConfig is the resolved collaboration config stored on the
// HybridSession row.
type SessionConfig struct {
	Phases           []Phase `json:"phases"`
	Rounds           int     `json:"rounds"`
	FeedbackRequired bool    `json:"feedbackRequired"`
	MaxPlayActions   int     `json:"maxPlayActions"`
	PhaseTimeLimits  map[string]int `json:"phaseTimeLimits,omitempty"` // seconds, per phase name
}

func (c SessionConfig) withDefaults() SessionConfig {
	if len(c.Phases) == 0 {
		c.Phases = defaultPhases
	}
	if c.Rounds == 0 {
		c.Rounds = 1
	}
	return c
}

// PhaseReadyEvent is emitted when a participant may begin a phase.
type PhaseReadyEvent struct {
	SessionID     string                 `json:"sessionId"`
	ParticipantID string                 `json:"participantId"`
	Round         int                    `json:"round"`
	Phase         Phase                  `json:"phase"`
	PartnerContent map[string]interface{} `json:"partnerContent,omitempty"`
	TimeLimit     int                    `json:"timeLimit,omitempty"`
}

// Orchestrator drives HybridSession state transitions.
type Orchestrator struct {
	client   *ent.Client
	comments *comments.Service
	notifier Notifier
	broker   *broker.Broker
}

// Notifier abstracts Postgres LISTEN/NOTIFY so callers can swap in a
// no-op for tests. Events are persisted as rows first; Notify is called
// immediately after, so a listener that missed the notification can
// always reconstruct current state by reading PhaseCompletion rows.
type Notifier interface {
	Notify(ctx context.Context, channel string, payload interface{}) error
}

// New constructs an Orchestrator.
func New(client *ent.Client, commentSvc *comments.Service, notifier Notifier, b *broker.Broker) *Orchestrator {
	return &Orchestrator{client: client, comments: commentSvc, notifier: notifier, broker: b}
}

// InitializeSession creates the HybridSession row and the (round=1,
// phases[0]) PENDING completions for both sides, then emits phase:ready
// for each.
func (o *Orchestrator) InitializeSession(ctx context.Context, sessionID, studyID, a, b string, cfg SessionConfig) error {
	cfg = cfg.withDefaults()
	cfgJSON, err := toJSONMap(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode session config: %w", err)
	}

	if err := o.client.HybridSession.Create().
		SetID(sessionID).
		SetStudyID(studyID).
		SetParticipantAID(a).
		SetParticipantBID(b).
		SetConfig(cfgJSON).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create hybrid session %s: %w", sessionID, err)
	}

	firstPhase := cfg.Phases[0]
	for _, pid := range []string{a, b} {
		if _, err := o.client.PhaseCompletion.Create().
			SetID(uuid.NewString()).
			SetHybridSessionID(sessionID).
			SetParticipantID(pid).
			SetPartnerID(otherOf(pid, a, b)).
			SetRound(1).
			SetPhase(phasecompletion.Phase(firstPhase)).
			Save(ctx); err != nil {
			return fmt.Errorf("failed to create initial phase completion for %s: %w", pid, err)
		}
	}

	for _, pid := range []string{a, b} {
		o.emitPhaseReady(ctx, PhaseReadyEvent{
			SessionID:     sessionID,
			ParticipantID: pid,
			Round:         1,
			Phase:         firstPhase,
			TimeLimit:     cfg.PhaseTimeLimits[string(firstPhase)],
		})
	}
	return nil
}

// OnPhaseComplete records participantID's completion of its current
// phase with result, and advances the pair if the partner has already
// completed the same phase.
func (o *Orchestrator) OnPhaseComplete(ctx context.Context, sessionID, participantID string, result map[string]interface{}) error {
	session, err := o.client.HybridSession.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load hybrid session %s: %w", sessionID, err)
	}
	cfg, err := sessionConfig(session)
	if err != nil {
		return err
	}

	mine, err := o.client.PhaseCompletion.Query().
		Where(
			phasecompletion.HybridSessionID(sessionID),
			phasecompletion.ParticipantID(participantID),
		).
		Order(ent.Desc(phasecompletion.FieldRound), ent.Desc(phasecompletion.FieldCreatedAt)).
		First(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current phase completion for %s: %w", participantID, err)
	}

	now := time.Now()
	if _, err := o.client.PhaseCompletion.UpdateOneID(mine.ID).
		SetStatus(phasecompletion.StatusCOMPLETED).
		SetCompletedAt(now).
		SetResult(result).
		Save(ctx); err != nil {
		return fmt.Errorf("failed to record phase completion: %w", err)
	}
	o.emitPhaseComplete(ctx, sessionID, participantID, mine.Round, Phase(mine.Phase))

	if isSynthetic, err := o.participantIsSynthetic(ctx, mine.PartnerID); err == nil && isSynthetic && o.broker != nil {
		jobID := fmt.Sprintf("hybrid-phase-%s-%s-%d-%s", sessionID, mine.PartnerID, mine.Round, mine.Phase)
		if _, err := o.broker.Enqueue(ctx, "hybrid-session-synthetic-phase", map[string]interface{}{
			"sessionId":              sessionID,
			"syntheticParticipantId": mine.PartnerID,
			"humanParticipantId":     participantID,
			"phase":                  string(mine.Phase),
			"round":                  mine.Round,
		}, broker.EnqueueOptions{JobID: jobID}); err != nil {
			return fmt.Errorf("failed to enqueue synthetic phase trigger: %w", err)
		}
	}

	partner, err := o.client.PhaseCompletion.Query().
		Where(
			phasecompletion.HybridSessionID(sessionID),
			phasecompletion.ParticipantID(mine.PartnerID),
			phasecompletion.Round(mine.Round),
			phasecompletion.Phase(mine.Phase),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil // partner hasn't reached this phase yet; barrier not satisfied.
		}
		return fmt.Errorf("failed to load partner phase completion: %w", err)
	}
	if partner.Status != phasecompletion.StatusCOMPLETED {
		return nil
	}

	return o.advanceBoth(ctx, session, cfg, mine.ParticipantID, mine.PartnerID, mine.Round, Phase(mine.Phase))
}

// advanceBoth moves both sides to the next phase (or round, or session
// completion) once a phase barrier is satisfied.
func (o *Orchestrator) advanceBoth(ctx context.Context, session *ent.HybridSession, cfg SessionConfig, a, b string, round int, phase Phase) error {
	nextRound, nextPhase, done := nextStep(cfg, round, phase)
	if done {
		if err := o.client.HybridSession.UpdateOneID(session.ID).
			SetCompletedAt(time.Now()).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to mark session %s complete: %w", session.ID, err)
		}
		o.emitSessionComplete(ctx, session.ID)
		return nil
	}

	for _, pid := range []string{a, b} {
		partnerID := otherOf(pid, a, b)
		if _, err := o.client.PhaseCompletion.Create().
			SetID(uuid.NewString()).
			SetHybridSessionID(session.ID).
			SetParticipantID(pid).
			SetPartnerID(partnerID).
			SetRound(nextRound).
			SetPhase(phasecompletion.Phase(nextPhase)).
			Save(ctx); err != nil {
			return fmt.Errorf("failed to create next phase completion for %s: %w", pid, err)
		}

		partnerContent, err := o.partnerContentFor(ctx, pid, partnerID, nextRound, nextPhase)
		if err != nil {
			return fmt.Errorf("failed to resolve partner content for %s: %w", pid, err)
		}

		o.emitPhaseReady(ctx, PhaseReadyEvent{
			SessionID:      session.ID,
			ParticipantID:  pid,
			Round:          nextRound,
			Phase:          nextPhase,
			PartnerContent: partnerContent,
			TimeLimit:      cfg.PhaseTimeLimits[string(nextPhase)],
		})
	}
	return nil
}

// partnerContentFor resolves the partnerContent payload per spec §4.12:
// on entering PLAY, the partner's draft story artifact id for this
// round; on entering AUTHOR with round > 1, the comments targeting this
// participant from the previous round's REVIEW phase.
func (o *Orchestrator) partnerContentFor(ctx context.Context, participantID, partnerID string, round int, phase Phase) (map[string]interface{}, error) {
	switch phase {
	case PhasePlay:
		completion, err := o.client.PhaseCompletion.Query().
			Where(
				phasecompletion.ParticipantID(partnerID),
				phasecompletion.Round(round),
				phasecompletion.Phase(phasecompletion.PhaseAUTHOR),
			).
			Only(ctx)
		if err != nil {
			if ent.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		if completion.Result == nil {
			return nil, nil
		}
		return map[string]interface{}{"storyArtifactId": completion.Result["storyArtifactId"]}, nil

	case PhaseAuthor:
		if round <= 1 {
			return nil, nil
		}
		received, err := o.comments.Received(ctx, participantID)
		if err != nil {
			return nil, err
		}
		var feedbackIDs []string
		for _, c := range received {
			if c.Round == round-1 && string(c.Phase) == string(PhaseReview) {
				feedbackIDs = append(feedbackIDs, c.ID)
			}
		}
		return map[string]interface{}{"feedbackIds": feedbackIDs}, nil

	default:
		return nil, nil
	}
}

func (o *Orchestrator) participantIsSynthetic(ctx context.Context, participantID string) (bool, error) {
	p, err := o.client.Participant.Get(ctx, participantID)
	if err != nil {
		return false, err
	}
	return p.ActorType == participant.ActorTypeSYNTHETIC, nil
}

// nextStep computes the next (round, phase) per the barrier invariants,
// or reports done when the last phase of the last round has passed.
func nextStep(cfg SessionConfig, round int, phase Phase) (nextRound int, nextPhase Phase, done bool) {
	idx := -1
	for i, p := range cfg.Phases {
		if p == phase {
			idx = i
			break
		}
	}
	if idx == len(cfg.Phases)-1 {
		if round >= cfg.Rounds {
			return 0, "", true
		}
		return round + 1, cfg.Phases[0], false
	}
	return round, cfg.Phases[idx+1], false
}

func otherOf(id, a, b string) string {
	if id == a {
		return b
	}
	return a
}

func sessionConfig(session *ent.HybridSession) (SessionConfig, error) {
	var cfg SessionConfig
	raw, err := json.Marshal(session.Config)
	if err != nil {
		return cfg, fmt.Errorf("failed to re-marshal session config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode session config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func toJSONMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (o *Orchestrator) emitPhaseReady(ctx context.Context, ev PhaseReadyEvent) {
	o.publish(ctx, "phase:ready", ev)
}

func (o *Orchestrator) emitPhaseComplete(ctx context.Context, sessionID, participantID string, round int, phase Phase) {
	o.publish(ctx, "phase:complete", map[string]interface{}{
		"sessionId":     sessionID,
		"participantId": participantID,
		"round":         round,
		"phase":         phase,
	})
}

func (o *Orchestrator) emitSessionComplete(ctx context.Context, sessionID string) {
	o.publish(ctx, "session:complete", map[string]interface{}{"sessionId": sessionID})
}

func (o *Orchestrator) publish(ctx context.Context, channel string, payload interface{}) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, channel, payload); err != nil {
		// Notification is best-effort; the persisted row remains the
		// source of truth for any listener that reconnects late.
		_ = err
	}
}
