// Package syntheticworker runs one synthetic participant's session:
// instantiate the story plugin, loop the LLM through actions until the
// story completes, times out, or the batch is paused/deleted out from
// under it.
package syntheticworker

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/event"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/codeready-toolchain/studyengine/pkg/batchprogress"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
	"github.com/codeready-toolchain/studyengine/pkg/statuscache"
	"github.com/codeready-toolchain/studyengine/pkg/storyplugin"
	"github.com/google/uuid"
)

const (
	defaultMaxActions = 100
	defaultTimeoutMs  = 300000
	batchCheckEvery   = 5
	actionHistoryCap  = 10
)

// TaskConfig controls one synthetic session's run, defaulted per spec §4.8.
type TaskConfig struct {
	PluginType string `json:"pluginType,omitempty"`
	StoryID    string `json:"storyId,omitempty"`
	MaxActions int    `json:"maxActions,omitempty"`
	TimeoutMs  int    `json:"timeoutMs,omitempty"`
}

func (t TaskConfig) withDefaults() TaskConfig {
	if t.PluginType == "" {
		t.PluginType = storyplugin.DefaultPluginType
	}
	if t.MaxActions == 0 {
		t.MaxActions = defaultMaxActions
	}
	if t.TimeoutMs == 0 {
		t.TimeoutMs = defaultTimeoutMs
	}
	return t
}

// Input is the synthetic-execution job payload.
type Input struct {
	ParticipantID    string     `json:"participantId"`
	ConditionID      string     `json:"conditionId,omitempty"`
	BatchExecutionID string     `json:"batchId,omitempty"`
	TaskConfig       TaskConfig `json:"taskConfig,omitempty"`
}

// Worker runs synthetic participant sessions.
type Worker struct {
	client    *ent.Client
	cache     *statuscache.Cache
	registry  *storyplugin.Registry
	llmClientFactory func(cfg llmclient.Config, apiKey string) (llmclient.Client, error)
	apiKeyFor func(provider string) string
}

// New constructs a Worker.
func New(client *ent.Client, cache *statuscache.Cache, registry *storyplugin.Registry, apiKeyFor func(provider string) string) *Worker {
	return &Worker{
		client:           client,
		cache:            cache,
		registry:         registry,
		llmClientFactory: llmclient.NewClient,
		apiKeyFor:        apiKeyFor,
	}
}

// result describes the session's terminal outcome for tests and callers.
type result struct {
	Status         string
	ActionsExecuted int
}

// Run executes one synthetic participant session.
func (w *Worker) Run(ctx context.Context, in Input, progress func(int)) error {
	cfg := in.TaskConfig.withDefaults()

	// 1. Pause guard fast path.
	if in.BatchExecutionID != "" {
		status, err := w.getStatusCached(ctx, in.BatchExecutionID)
		if err == nil {
			if status.Terminal() {
				return nil // SKIPPED: batch already reached a terminal state.
			}
			if status == statuscache.StatusPaused {
				return broker.Retryable(fmt.Errorf("batch %s is paused", in.BatchExecutionID))
			}
		}
	}

	// 2. Transition participant to ACTIVE.
	p, err := w.client.Participant.UpdateOneID(in.ParticipantID).
		SetState(participant.StateACTIVE).
		Save(ctx)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to activate participant %s: %w", in.ParticipantID, err))
	}

	// 3. Load LLM config, emit SESSION_START.
	if p.LlmConfig == nil {
		return broker.Terminal(fmt.Errorf("%w: participant %s has no llm config", apperrors.ErrInvalidInput, in.ParticipantID))
	}
	w.emit(ctx, in.ParticipantID, event.TypeSESSION_START, map[string]interface{}{"pluginType": cfg.PluginType})
	progress(15)

	// 4. Instantiate story plugin.
	plugin, err := w.registry.Create(ctx, cfg.PluginType, cfg.StoryID)
	if err != nil {
		return w.terminalExclude(ctx, in.ParticipantID, fmt.Errorf("failed to create story plugin %q: %w", cfg.PluginType, err))
	}
	if !plugin.SupportsHeadless() {
		return w.terminalExclude(ctx, in.ParticipantID, fmt.Errorf("story plugin %q does not support headless execution", cfg.PluginType))
	}

	// 5. Construct LLM client.
	llmCfg := llmConfigFromMap(p.LlmConfig)
	llm, err := w.llmClientFactory(llmCfg, w.apiKeyFor(llmCfg.Provider))
	if err != nil {
		return w.terminalExclude(ctx, in.ParticipantID, fmt.Errorf("failed to construct llm client: %w", err))
	}

	role := string(p.Role)
	if role == "" {
		role = string(participant.RoleNAVIGATOR)
	}

	res, err := w.runActionLoop(ctx, in, cfg, role, plugin, llm, progress)
	_ = plugin.Destroy(ctx)

	if err != nil {
		var classErr *classifiedError
		if asClassified(err, &classErr) && classErr.retryable {
			return broker.Retryable(classErr.err)
		}
		return w.terminalExclude(ctx, in.ParticipantID, err)
	}

	w.emit(ctx, in.ParticipantID, event.TypeSESSION_END, map[string]interface{}{
		"status":          res.Status,
		"actionsExecuted": res.ActionsExecuted,
	})

	if err := w.client.Participant.UpdateOneID(in.ParticipantID).
		SetState(participant.StateCOMPLETE).
		SetCompletedAt(time.Now()).
		Exec(ctx); err != nil {
		return broker.Terminal(fmt.Errorf("failed to complete participant %s: %w", in.ParticipantID, err))
	}

	if in.BatchExecutionID != "" {
		if err := batchprogress.Recompute(ctx, w.client, w.cache, in.BatchExecutionID); err != nil {
			return broker.Terminal(err)
		}
	}

	progress(100)
	return nil
}

type classifiedError struct {
	err       error
	retryable bool
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

func asClassified(err error, target **classifiedError) bool {
	if ce, ok := err.(*classifiedError); ok {
		*target = ce
		return true
	}
	return false
}

// runActionLoop drives the LLM/plugin interaction until completion,
// timeout, or maxActions, wrapped by an absolute wall-clock timeout.
func (w *Worker) runActionLoop(ctx context.Context, in Input, cfg TaskConfig, role string, plugin storyplugin.Plugin, llm llmclient.Client, progress func(int)) (result, error) {
	deadline := time.Now().Add(time.Duration(cfg.TimeoutMs) * time.Millisecond)
	loopCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var history []llmclient.ActionRecord
	executed := 0

	for i := 0; i < cfg.MaxActions; i++ {
		if loopCtx.Err() != nil {
			w.emit(ctx, in.ParticipantID, event.TypeSYNTHETIC_TIMEOUT, map[string]interface{}{"actionsExecuted": executed})
			if err := w.client.Participant.UpdateOneID(in.ParticipantID).
				SetState(participant.StateCOMPLETE).
				SetCompletedAt(time.Now()).
				Exec(ctx); err != nil {
				return result{}, fmt.Errorf("failed to complete timed-out participant: %w", err)
			}
			return result{Status: "TIMEOUT", ActionsExecuted: executed}, nil
		}

		if i > 0 && i%batchCheckEvery == 0 && in.BatchExecutionID != "" {
			status, err := w.getStatusCached(loopCtx, in.BatchExecutionID)
			if err == nil {
				if status.Terminal() {
					return result{}, &classifiedError{retryable: true, err: fmt.Errorf("batch %s reached terminal status %s mid-run", in.BatchExecutionID, status)}
				}
				if status == statuscache.StatusPaused {
					return result{}, &classifiedError{retryable: true, err: fmt.Errorf("batch %s is paused", in.BatchExecutionID)}
				}
			}
		}

		done, err := plugin.IsComplete(loopCtx)
		if err != nil {
			return result{}, fmt.Errorf("plugin.isComplete failed: %w", err)
		}
		if done {
			break
		}

		actions, err := plugin.GetAvailableActions(loopCtx)
		if err != nil {
			return result{}, fmt.Errorf("plugin.getAvailableActions failed: %w", err)
		}
		if len(actions) == 0 {
			break
		}

		state, err := plugin.GetState(loopCtx)
		if err != nil {
			return result{}, fmt.Errorf("plugin.getState failed: %w", err)
		}

		roleCtx := llmclient.RoleContext{
			State:            state,
			Role:             role,
			AvailableActions: actions,
			ActionHistory:    lastN(history, actionHistoryCap),
		}

		action, reasoning, genErr := llm.Generate(loopCtx, roleCtx)
		record := llmclient.ActionRecord{Index: i, Type: action.Type, Params: action.Params, Reasoning: reasoning}

		if genErr != nil {
			record.Success = false
			record.Error = genErr.Error()
			history = append(history, record)
			w.emit(ctx, in.ParticipantID, event.TypeSYNTHETIC_ACTION, actionEventData(record))
			continue
		}

		_, execErr := plugin.Execute(loopCtx, action)
		if execErr != nil {
			record.Success = false
			record.Error = execErr.Error()
		} else {
			record.Success = true
			executed++
		}
		history = append(history, record)
		w.emit(ctx, in.ParticipantID, event.TypeSYNTHETIC_ACTION, actionEventData(record))

		pct := 15 + int(float64(i+1)/float64(cfg.MaxActions)*75)
		if pct > 90 {
			pct = 90
		}
		progress(pct)
	}

	return result{Status: "COMPLETE", ActionsExecuted: executed}, nil
}

func actionEventData(r llmclient.ActionRecord) map[string]interface{} {
	return map[string]interface{}{
		"index":     r.Index,
		"type":      r.Type,
		"params":    r.Params,
		"success":   r.Success,
		"error":     r.Error,
		"reasoning": r.Reasoning,
	}
}

func lastN(history []llmclient.ActionRecord, n int) []llmclient.ActionRecord {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func (w *Worker) terminalExclude(ctx context.Context, participantID string, cause error) error {
	w.emit(ctx, participantID, event.TypeSYNTHETIC_ERROR, map[string]interface{}{"error": cause.Error()})
	if err := w.client.Participant.UpdateOneID(participantID).
		SetState(participant.StateEXCLUDED).
		SetCompletedAt(time.Now()).
		Exec(ctx); err != nil {
		return broker.Terminal(fmt.Errorf("failed to exclude participant %s after error %v: %w", participantID, cause, err))
	}
	return broker.Terminal(cause)
}

func (w *Worker) emit(ctx context.Context, participantID string, typ event.Type, data map[string]interface{}) {
	if err := w.client.Event.Create().
		SetID(uuid.NewString()).
		SetParticipantID(participantID).
		SetType(typ).
		SetData(data).
		Exec(ctx); err != nil {
		// Event emission is best-effort; session state transitions are authoritative.
		_ = err
	}
}

// getStatusCached reads the batch status from cache, falling back to the
// store on a miss and repopulating the cache.
func (w *Worker) getStatusCached(ctx context.Context, batchID string) (statuscache.Status, error) {
	if w.cache != nil {
		if status, err := w.cache.Get(ctx, batchID); err == nil {
			return status, nil
		}
	}

	b, err := w.client.Batch.Get(ctx, batchID)
	if err != nil {
		return "", err
	}
	status := statuscache.Status(b.Status)
	if w.cache != nil {
		_ = w.cache.Set(ctx, batchID, status)
	}
	return status, nil
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
	if v, ok := m["systemPrompt"].(string); ok {
		cfg.SystemPrompt = v
	}
	return cfg
}
