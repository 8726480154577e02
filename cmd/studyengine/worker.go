package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/studyengine/ent/event"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/pkg/batchprogress"
	"github.com/codeready-toolchain/studyengine/pkg/batchworkers"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/pkg/collaborative"
	"github.com/codeready-toolchain/studyengine/pkg/export"
	"github.com/codeready-toolchain/studyengine/pkg/hybrid"
	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
	"github.com/codeready-toolchain/studyengine/pkg/studyconfig"
	"github.com/codeready-toolchain/studyengine/pkg/syntheticworker"
	"github.com/google/uuid"
)

// Queue names. These are the payload contracts the (out-of-scope)
// researcher-facing API and the pairing/batch-creation paths agree on.
const (
	queueBatchSingleActor = "batch-creation"
	queueBatchPaired      = "collaborative-batch-creation"
	queueSyntheticExec    = "synthetic-execution"
	queueCollaborative    = "collaborative-session"
	queueHybridSynthPhase = "hybrid-session-synthetic-phase"
	queueSessionInit      = "session-init"
	queueDataExport       = "data-export"
)

// queueConcurrency caps how many jobs of each queue run at once per pod.
var queueConcurrency = map[string]int{
	queueBatchSingleActor: 4,
	queueBatchPaired:      4,
	queueSyntheticExec:    16,
	queueCollaborative:    8,
	queueHybridSynthPhase: 8,
	queueSessionInit:      4,
	queueDataExport:       2,
}

// startWorkers subscribes every queue handler on a.broker and blocks until
// ctx is done. Each Subscribe call runs its own pool of goroutines and
// blocks until ctx is cancelled, so every queue is started concurrently.
func (a *app) startWorkers(ctx context.Context) {
	batchWorker := batchworkers.New(a.store.Client, a.broker)
	synthPhaseWorker := hybrid.NewSyntheticPhaseWorker(a.store.Client, a.hybridOrch, a.collabOrch)

	go a.broker.Subscribe(ctx, queueBatchSingleActor, queueConcurrency[queueBatchSingleActor], func(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
		var in batchworkers.SingleActorInput
		if err := decodePayload(payload, &in); err != nil {
			return broker.Terminal(err)
		}
		return batchWorker.RunSingleActor(ctx, in, progress)
	})

	go a.broker.Subscribe(ctx, queueBatchPaired, queueConcurrency[queueBatchPaired], func(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
		var in batchworkers.PairedInput
		if err := decodePayload(payload, &in); err != nil {
			return broker.Terminal(err)
		}
		return batchWorker.RunPaired(ctx, in, progress)
	})

	go a.broker.Subscribe(ctx, queueSyntheticExec, queueConcurrency[queueSyntheticExec], func(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
		var in syntheticworker.Input
		if err := decodePayload(payload, &in); err != nil {
			return broker.Terminal(err)
		}
		return a.synthWorker.Run(ctx, in, progress)
	})

	go a.broker.Subscribe(ctx, queueCollaborative, queueConcurrency[queueCollaborative], a.handleCollaborativeSession)

	go a.broker.Subscribe(ctx, queueHybridSynthPhase, queueConcurrency[queueHybridSynthPhase], func(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
		var in hybrid.SyntheticPhaseInput
		if err := decodePayload(payload, &in); err != nil {
			return broker.Terminal(err)
		}
		return synthPhaseWorker.Run(ctx, in)
	})

	go a.broker.Subscribe(ctx, queueSessionInit, queueConcurrency[queueSessionInit], a.handleSessionInit)

	go a.broker.Subscribe(ctx, queueDataExport, queueConcurrency[queueDataExport], func(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
		var in export.Input
		if err := decodePayload(payload, &in); err != nil {
			return broker.Terminal(err)
		}
		return a.exportWorker.Run(ctx, in, progress)
	})

	go a.broker.StartQueueDepthReporter(ctx, queueNames(), queueDepthReportInterval)

	<-ctx.Done()
}

// queueDepthReportInterval bounds how stale the queue_depth gauge is
// allowed to get between scrapes.
const queueDepthReportInterval = 15 * time.Second

func queueNames() []string {
	names := make([]string, 0, len(queueConcurrency))
	for q := range queueConcurrency {
		names = append(names, q)
	}
	return names
}

// sessionInitPayload is the session-init job pairing.Service enqueues
// after forming a pair.
type sessionInitPayload struct {
	StudyID        string `json:"studyId"`
	BatchID        string `json:"batchId"`
	ParticipantIDA string `json:"participantIdA"`
	ParticipantIDB string `json:"participantIdB"`
	ActorTypeA     string `json:"actorTypeA"`
	ActorTypeB     string `json:"actorTypeB"`
}

// handleSessionInit implements spec §4.12's routing determination:
// SYNCHRONOUS (both SYNTHETIC) runs immediately via the collaborative
// orchestrator; anything else starts the asynchronous hybrid state
// machine.
func (a *app) handleSessionInit(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
	var in sessionInitPayload
	if err := decodePayload(payload, &in); err != nil {
		return broker.Terminal(err)
	}

	study, err := a.store.Study.Get(ctx, in.StudyID)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to load study %s: %w", in.StudyID, err))
	}
	if study.ExecutionMode == "TIMED" {
		return broker.Terminal(fmt.Errorf("study %s: execution mode TIMED is not implemented", in.StudyID))
	}
	collab, err := studyconfig.DecodeCollaboration(study.ConfigDocument)
	if err != nil {
		return broker.Terminal(fmt.Errorf("study config document is invalid: %w", err))
	}

	if in.ActorTypeA == string(participant.ActorTypeSYNTHETIC) && in.ActorTypeB == string(participant.ActorTypeSYNTHETIC) {
		return a.runSynchronousSession(ctx, in, collab, progress)
	}

	cfg := hybrid.SessionConfig{
		Rounds:           collab.Rounds,
		FeedbackRequired: collab.FeedbackRequired,
		MaxPlayActions:   collab.MaxPlayActions,
		PhaseTimeLimits:  collab.PhaseTimeLimits,
	}
	for _, p := range collab.Phases {
		cfg.Phases = append(cfg.Phases, hybrid.Phase(p))
	}

	sessionID := uuid.NewString()
	if err := a.hybridOrch.InitializeSession(ctx, sessionID, in.StudyID, in.ParticipantIDA, in.ParticipantIDB, cfg); err != nil {
		return broker.Retryable(fmt.Errorf("failed to initialize hybrid session: %w", err))
	}
	progress(100)
	return nil
}

// runSynchronousSession enqueues the actual RunSession work onto the
// collaborative-session queue so it shares that queue's concurrency cap
// and retry semantics instead of running inline on the session-init
// worker goroutine.
func (a *app) runSynchronousSession(ctx context.Context, in sessionInitPayload, collab studyconfig.Collaboration, progress func(int)) error {
	raw, err := json.Marshal(collab)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to marshal collaboration config: %w", err))
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return broker.Terminal(err)
	}
	payload["participantIdA"] = in.ParticipantIDA
	payload["participantIdB"] = in.ParticipantIDB
	payload["batchId"] = in.BatchID

	if _, err := a.broker.Enqueue(ctx, queueCollaborative, payload, broker.EnqueueOptions{
		JobID: fmt.Sprintf("collab-%s-%s", in.ParticipantIDA, in.ParticipantIDB),
	}); err != nil {
		return broker.Retryable(fmt.Errorf("failed to enqueue collaborative session: %w", err))
	}
	progress(100)
	return nil
}

type collaborativeSessionPayload struct {
	ParticipantIDA   string   `json:"participantIdA"`
	ParticipantIDB   string   `json:"participantIdB"`
	BatchID          string   `json:"batchId"`
	Rounds           int      `json:"rounds"`
	Phases           []string `json:"phases,omitempty"`
	FeedbackRequired bool     `json:"feedbackRequired"`
	MaxPlayActions   int      `json:"maxPlayActions"`
	PluginType       string   `json:"pluginType,omitempty"`
}

// handleCollaborativeSession runs the synchronous two-synthetic-agent
// session end to end: loads both participants' LLM configs, drives
// collaborative.RunSession, terminalizes both participants, and
// recomputes the owning batch's progress (spec §4.9, §4.11).
func (a *app) handleCollaborativeSession(ctx context.Context, payload map[string]interface{}, progress func(int)) error {
	var in collaborativeSessionPayload
	if err := decodePayload(payload, &in); err != nil {
		return broker.Terminal(err)
	}

	pa, err := a.store.Participant.Get(ctx, in.ParticipantIDA)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to load participant %s: %w", in.ParticipantIDA, err))
	}
	pb, err := a.store.Participant.Get(ctx, in.ParticipantIDB)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to load participant %s: %w", in.ParticipantIDB, err))
	}

	llmA, err := llmclient.NewClient(llmConfigFromDocument(pa.LlmConfig), "")
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to construct llm client for %s: %w", pa.ID, err))
	}
	llmB, err := llmclient.NewClient(llmConfigFromDocument(pb.LlmConfig), "")
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to construct llm client for %s: %w", pb.ID, err))
	}

	cfg := collaborative.SessionConfig{
		Rounds:           in.Rounds,
		FeedbackRequired: in.FeedbackRequired,
		MaxPlayActions:   in.MaxPlayActions,
		PluginType:       in.PluginType,
	}
	for _, p := range in.Phases {
		cfg.Phases = append(cfg.Phases, collaborative.Phase(p))
	}

	agentA := collaborative.Agent{ParticipantID: pa.ID, LLM: llmA, Role: string(pa.Role)}
	agentB := collaborative.Agent{ParticipantID: pb.ID, LLM: llmB, Role: string(pb.Role)}

	results, err := a.collabOrch.RunSession(ctx, agentA, agentB, cfg, progress)
	if err != nil {
		return broker.Retryable(fmt.Errorf("collaborative session failed: %w", err))
	}

	phasesSucceeded, phasesFailed := phasesOutcome(results)
	status := "COMPLETE"
	if phasesFailed > 0 {
		status = "PARTIAL"
	}

	now := time.Now()
	for _, p := range []struct {
		id        string
		succeeded bool
	}{
		{id: pa.ID, succeeded: participantSucceeded(results, pa.ID)},
		{id: pb.ID, succeeded: participantSucceeded(results, pb.ID)},
	} {
		state := participant.StateCOMPLETE
		if !p.succeeded {
			state = participant.StateEXCLUDED
		}
		if err := a.store.Participant.UpdateOneID(p.id).
			SetState(state).
			SetCompletedAt(now).
			Exec(ctx); err != nil {
			return broker.Retryable(fmt.Errorf("failed to complete participant %s: %w", p.id, err))
		}
		a.emitSessionComplete(ctx, p.id, status, phasesSucceeded, phasesFailed)
	}

	if err := batchprogress.Recompute(ctx, a.store.Client, a.statusCache, in.BatchID); err != nil {
		return broker.Retryable(err)
	}

	progress(100)
	return nil
}

// phasesOutcome tallies how many of a session's PhaseResults succeeded vs
// failed, the basis for the PARTIAL/COMPLETE status distinction.
func phasesOutcome(results []collaborative.PhaseResult) (succeeded, failed int) {
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// participantSucceeded reports whether every phase result belonging to
// participantID succeeded.
func participantSucceeded(results []collaborative.PhaseResult, participantID string) bool {
	for _, r := range results {
		if r.ParticipantID == participantID && !r.Success {
			return false
		}
	}
	return true
}

// emitSessionComplete records the session's terminal status on the
// participant's event journal. Best-effort: the participant state
// transition above is authoritative, this is observability only.
func (a *app) emitSessionComplete(ctx context.Context, participantID, status string, phasesSucceeded, phasesFailed int) {
	if err := a.store.Event.Create().
		SetID(uuid.NewString()).
		SetParticipantID(participantID).
		SetType(event.TypeSESSION_COMPLETE).
		SetData(map[string]interface{}{
			"status":          status,
			"phasesSucceeded": phasesSucceeded,
			"phasesFailed":    phasesFailed,
		}).
		Exec(ctx); err != nil {
		slog.Warn("failed to emit session_complete event", "participantId", participantID, "error", err)
	}
}

func llmConfigFromDocument(m map[string]interface{}) llmclient.Config {
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

// decodePayload round-trips a broker job payload through JSON into a
// typed struct, the same contract every queue's producer and consumer
// agree on.
func decodePayload(payload map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}
