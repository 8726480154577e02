package hybrid

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/phasecompletion"
	"github.com/codeready-toolchain/studyengine/pkg/collaborative"
	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
	"github.com/codeready-toolchain/studyengine/pkg/studyconfig"
)

// SyntheticPhaseInput is the hybrid-session-synthetic-phase job payload.
type SyntheticPhaseInput struct {
	SessionID              string                 `json:"sessionId"`
	SyntheticParticipantID string                 `json:"syntheticParticipantId"`
	HumanParticipantID     string                 `json:"humanParticipantId"`
	Phase                  Phase                  `json:"phase"`
	Round                  int                    `json:"round"`
	LLMConfig              map[string]interface{} `json:"llmConfig,omitempty"`
	ResponseDelayMs        int                    `json:"responseDelayMs,omitempty"`
}

// SyntheticPhaseWorker executes one phase on behalf of a synthetic
// participant whose human partner just completed the same phase.
type SyntheticPhaseWorker struct {
	client        *ent.Client
	orchestrator  *Orchestrator
	collaborative *collaborative.Orchestrator
}

// NewSyntheticPhaseWorker constructs a SyntheticPhaseWorker.
func NewSyntheticPhaseWorker(client *ent.Client, orchestrator *Orchestrator, collab *collaborative.Orchestrator) *SyntheticPhaseWorker {
	return &SyntheticPhaseWorker{client: client, orchestrator: orchestrator, collaborative: collab}
}

// Run executes in.Phase for the synthetic participant by deferring to the
// collaborative orchestrator's single-phase execution and, on success,
// calls onPhaseComplete with the produced result. If the synthetic has
// already completed this phase (a race with a prior delivery), it returns
// nil with no further action.
func (w *SyntheticPhaseWorker) Run(ctx context.Context, in SyntheticPhaseInput) error {
	existing, err := w.client.PhaseCompletion.Query().
		Where(
			phasecompletion.HybridSessionID(in.SessionID),
			phasecompletion.ParticipantID(in.SyntheticParticipantID),
			phasecompletion.Round(in.Round),
			phasecompletion.Phase(phasecompletion.Phase(in.Phase)),
		).
		Only(ctx)
	if err == nil && existing.Status == phasecompletion.StatusCOMPLETED {
		return nil // already completed this phase; nothing to do.
	}

	session, err := w.client.HybridSession.Get(ctx, in.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load hybrid session %s: %w", in.SessionID, err)
	}
	study, err := w.client.Study.Get(ctx, session.StudyID)
	if err != nil {
		return fmt.Errorf("failed to load study %s: %w", session.StudyID, err)
	}
	if err := studyconfig.Validate(study.ConfigDocument); err != nil {
		return w.fail(ctx, in, fmt.Errorf("study config document is invalid: %w", err))
	}

	if in.ResponseDelayMs > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(in.ResponseDelayMs) * time.Millisecond):
		}
	}

	llmCfg := llmConfigFromMap(in.LLMConfig)
	llm, err := llmclient.NewClient(llmCfg, "")
	if err != nil {
		return w.fail(ctx, in, fmt.Errorf("failed to construct llm client: %w", err))
	}

	self := collaborative.Agent{ParticipantID: in.SyntheticParticipantID, LLM: llm}
	partner := collaborative.Agent{ParticipantID: in.HumanParticipantID}

	result, err := w.collaborative.ExecuteSinglePhase(ctx, self, partner, in.Phase, in.Round)
	if err != nil {
		return w.fail(ctx, in, fmt.Errorf("synthetic phase execution failed: %w", err))
	}

	if err := w.orchestrator.OnPhaseComplete(ctx, in.SessionID, in.SyntheticParticipantID, result); err != nil {
		return fmt.Errorf("failed to record synthetic phase completion: %w", err)
	}
	return nil
}

func (w *SyntheticPhaseWorker) fail(ctx context.Context, in SyntheticPhaseInput, cause error) error {
	_, err := w.client.PhaseCompletion.Update().
		Where(
			phasecompletion.HybridSessionID(in.SessionID),
			phasecompletion.ParticipantID(in.SyntheticParticipantID),
			phasecompletion.Round(in.Round),
			phasecompletion.Phase(phasecompletion.Phase(in.Phase)),
		).
		SetStatus(phasecompletion.StatusFAILED).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("%w (also failed to record FAILED completion: %v)", cause, err)
	}
	return cause
}

func llmConfigFromMap(m map[string]interface{}) llmclient.Config {
	cfg := llmclient.Config{}
	if v, ok := m["provider"].(string); ok {
		cfg.Provider = v
	}
	if v, ok := m["model"].(string); ok {
		cfg.Model = v
	}
	if v, ok := m["temperature"].(float64); ok {
		cfg.Temperature = v
	}
	if v, ok := m["maxTokens"].(float64); ok {
		cfg.MaxTokens = int(v)
	}
	return cfg
}
