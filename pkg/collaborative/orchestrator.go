// Package collaborative runs the synchronous two-agent collaborative
// session: each round, both partners author, play each other's stories,
// and review, advancing in lockstep.
package collaborative

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/comment"
	"github.com/codeready-toolchain/studyengine/ent/storyartifact"
	"github.com/codeready-toolchain/studyengine/pkg/agentcontext"
	"github.com/codeready-toolchain/studyengine/pkg/blobstore"
	"github.com/codeready-toolchain/studyengine/pkg/comments"
	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
	"github.com/codeready-toolchain/studyengine/pkg/storyplugin"
)

// Phase is one stage of a collaborative round.
type Phase string

const (
	PhaseAuthor Phase = "AUTHOR"
	PhasePlay   Phase = "PLAY"
	PhaseReview Phase = "REVIEW"
)

var defaultPhases = []Phase{PhaseAuthor, PhasePlay, PhaseReview}

const defaultMaxPlayActions = 20

// SessionConfig configures one runSession call.
type SessionConfig struct {
	Rounds           int     `json:"rounds"`
	Phases           []Phase `json:"phases,omitempty"` // defaults to AUTHOR, PLAY, REVIEW
	FeedbackRequired bool    `json:"feedbackRequired"`
	MaxPlayActions   int     `json:"maxPlayActions"`
	PluginType       string  `json:"pluginType,omitempty"`
}

func (c SessionConfig) withDefaults() SessionConfig {
	if len(c.Phases) == 0 {
		c.Phases = defaultPhases
	}
	if c.MaxPlayActions == 0 {
		c.MaxPlayActions = defaultMaxPlayActions
	}
	if c.PluginType == "" {
		c.PluginType = storyplugin.DefaultPluginType
	}
	return c
}

// PhaseResult is the outcome of one participant's executePhase call.
type PhaseResult struct {
	Phase         Phase
	Round         int
	ParticipantID string
	Success       bool
	Data          map[string]interface{}
	Error         string
}

// Agent is the participant-side handle the orchestrator drives.
type Agent struct {
	ParticipantID string
	LLM           llmclient.Client
	Role          string
}

// Orchestrator runs collaborative sessions.
type Orchestrator struct {
	client   *ent.Client
	blobs    *blobstore.Store
	contexts *agentcontext.Service
	comments *comments.Service
}

// New constructs an Orchestrator.
func New(client *ent.Client, blobs *blobstore.Store, contexts *agentcontext.Service, commentSvc *comments.Service) *Orchestrator {
	return &Orchestrator{client: client, blobs: blobs, contexts: contexts, comments: commentSvc}
}

// RunSession drives A and B through cfg.Rounds rounds of cfg.Phases,
// reporting overall percent-complete progress via onProgress.
func (o *Orchestrator) RunSession(ctx context.Context, a, b Agent, cfg SessionConfig, onProgress func(int)) ([]PhaseResult, error) {
	cfg = cfg.withDefaults()
	if a.LLM == nil || b.LLM == nil {
		return nil, fmt.Errorf("collaborative: both participants must have an llm client attached")
	}

	var allResults []PhaseResult
	totalSteps := cfg.Rounds * len(cfg.Phases)
	step := 0

	for round := 1; round <= cfg.Rounds; round++ {
		for _, phase := range cfg.Phases {
			results := o.runPhaseParallel(ctx, a, b, phase, round, cfg)
			allResults = append(allResults, results...)

			o.exchangePhaseData(phase)

			step++
			if onProgress != nil {
				onProgress(int(float64(step) / float64(totalSteps) * 100))
			}
		}

		if round < cfg.Rounds {
			if err := o.contexts.AdvanceRound(ctx, a.ParticipantID); err != nil {
				return allResults, fmt.Errorf("failed to advance round for %s: %w", a.ParticipantID, err)
			}
			if err := o.contexts.AdvanceRound(ctx, b.ParticipantID); err != nil {
				return allResults, fmt.Errorf("failed to advance round for %s: %w", b.ParticipantID, err)
			}
		}
	}

	return allResults, nil
}

// runPhaseParallel runs executePhase for both sides concurrently; one
// side's failure is captured in its PhaseResult and does not abort the
// other.
func (o *Orchestrator) runPhaseParallel(ctx context.Context, a, b Agent, phase Phase, round int, cfg SessionConfig) []PhaseResult {
	var wg sync.WaitGroup
	results := make([]PhaseResult, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = o.executePhase(ctx, a, b, phase, round, cfg)
	}()
	go func() {
		defer wg.Done()
		results[1] = o.executePhase(ctx, b, a, phase, round, cfg)
	}()
	wg.Wait()

	return results
}

// ExecuteSinglePhase runs one phase for self on behalf of a caller that
// drives rounds itself rather than through RunSession — the hybrid
// orchestrator's synthetic-phase worker, which triggers one phase at a
// time as its human partner completes each one.
func (o *Orchestrator) ExecuteSinglePhase(ctx context.Context, self, partner Agent, phase Phase, round int) (map[string]interface{}, error) {
	if self.LLM == nil {
		return nil, fmt.Errorf("collaborative: participant must have an llm client attached")
	}
	cfg := SessionConfig{}.withDefaults()
	result := o.executePhase(ctx, self, partner, phase, round, cfg)
	if !result.Success {
		return nil, fmt.Errorf("phase execution failed: %s", result.Error)
	}
	return result.Data, nil
}

// exchangePhaseData is a reserved hook for cross-agent synchronization
// beyond what executePhase already does directly. It must be idempotent;
// currently a no-op since AUTHOR/PLAY/REVIEW already read/write the
// shared store directly.
func (o *Orchestrator) exchangePhaseData(_ Phase) {}

func (o *Orchestrator) executePhase(ctx context.Context, self, partner Agent, phase Phase, round int, cfg SessionConfig) PhaseResult {
	result := PhaseResult{Phase: phase, Round: round, ParticipantID: self.ParticipantID}

	var (
		data map[string]interface{}
		err  error
	)
	switch phase {
	case PhaseAuthor:
		data, err = o.executeAuthor(ctx, self, round, cfg)
	case PhasePlay:
		data, err = o.executePlay(ctx, self, partner, round, cfg)
	case PhaseReview:
		data, err = o.executeReview(ctx, self, partner, round)
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

func (o *Orchestrator) executeAuthor(ctx context.Context, self Agent, round int, cfg SessionConfig) (map[string]interface{}, error) {
	var feedback []*ent.Comment
	if round > 1 && cfg.FeedbackRequired {
		received, err := o.comments.Received(ctx, self.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load received feedback: %w", err)
		}
		for _, c := range received {
			if c.Round == round-1 && c.Phase == "REVIEW" {
				feedback = append(feedback, c)
			}
		}
	}

	roleCtx := llmclient.RoleContext{
		Role: self.Role,
		State: map[string]interface{}{
			"round":    round,
			"feedback": feedback,
		},
	}

	action, _, err := self.LLM.Generate(ctx, roleCtx)
	if err != nil {
		return nil, fmt.Errorf("author generation failed: %w", err)
	}
	if action.Type != "CREATE_STORY" {
		return nil, fmt.Errorf("expected CREATE_STORY action, got %q", action.Type)
	}

	story := Story{
		Passages:     asMap(action.Params["passages"]),
		StartPassage: asString(action.Params["startPassage"]),
		Round:        round,
		CreatedAt:    time.Now(),
	}

	artifact, err := PersistStory(ctx, o.client, o.blobs, self.ParticipantID, cfg.PluginType, story)
	if err != nil {
		return nil, fmt.Errorf("failed to persist authored story: %w", err)
	}

	if err := o.contexts.AppendOwnDraft(ctx, self.ParticipantID, round, map[string]interface{}{
		"storyArtifactId": artifact.ID,
		"storySummary":    action.Params["storySummary"],
	}); err != nil {
		return nil, fmt.Errorf("failed to append own draft: %w", err)
	}

	return map[string]interface{}{"storyArtifactId": artifact.ID}, nil
}

func (o *Orchestrator) executePlay(ctx context.Context, self, partner Agent, round int, cfg SessionConfig) (map[string]interface{}, error) {
	partnerStory, err := o.latestStoryArtifact(ctx, partner.ParticipantID, cfg.PluginType, round)
	if err != nil {
		return nil, fmt.Errorf("partner story artifact missing for round %d: %w", round, err)
	}

	var choicesMade []map[string]interface{}
	var observations []string
	reachedEnding := false

	for i := 0; i < cfg.MaxPlayActions; i++ {
		roleCtx := llmclient.RoleContext{
			Role: self.Role,
			State: map[string]interface{}{
				"round":           round,
				"storyArtifactId": partnerStory.ID,
			},
		}
		action, reasoning, err := self.LLM.Generate(ctx, roleCtx)
		if err != nil {
			return nil, fmt.Errorf("play generation failed at step %d: %w", i, err)
		}
		if action.Type == "" || action.Params["destination"] == nil {
			reachedEnding = true
			break
		}
		choicesMade = append(choicesMade, map[string]interface{}{
			"step":        i,
			"destination": action.Params["destination"],
		})
		if reasoning != "" {
			observations = append(observations, reasoning)
		}
	}

	entry := map[string]interface{}{
		"round":              round,
		"storyArtifactId":    partnerStory.ID,
		"choicesMade":        choicesMade,
		"observations":       observations,
		"overallImpression":  nil,
		"reachedEnding":       reachedEnding,
	}
	if err := o.contexts.AppendPartnerStoryPlayed(ctx, self.ParticipantID, round, entry); err != nil {
		return nil, fmt.Errorf("failed to append partner story played: %w", err)
	}

	return entry, nil
}

func (o *Orchestrator) executeReview(ctx context.Context, self, partner Agent, round int) (map[string]interface{}, error) {
	roleCtx := llmclient.RoleContext{
		Role:  self.Role,
		State: map[string]interface{}{"round": round, "partnerId": partner.ParticipantID},
	}
	action, _, err := self.LLM.Generate(ctx, roleCtx)
	if err != nil {
		return nil, fmt.Errorf("review generation failed: %w", err)
	}
	if action.Type != "SUBMIT_FEEDBACK" {
		return nil, fmt.Errorf("expected SUBMIT_FEEDBACK action, got %q", action.Type)
	}

	rawComments, _ := action.Params["comments"].([]interface{})
	var createdIDs []string
	hasStrengths := false
	if strengths, ok := action.Params["strengths"].([]interface{}); ok && len(strengths) > 0 {
		hasStrengths = true
	}

	for _, rc := range rawComments {
		m, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		commentType := asString(m["type"])
		if !validCommentType(commentType) {
			commentType = string(comment.TypeFEEDBACK)
		}
		var passageID *string
		if p := asString(m["passageId"]); p != "" {
			passageID = &p
		}

		c, err := o.comments.Create(ctx, comments.CreateInput{
			AuthorID:            self.ParticipantID,
			TargetParticipantID: partner.ParticipantID,
			PassageID:           passageID,
			Content:             asString(m["content"]),
			Type:                commentType,
			Round:               round,
			Phase:               string(PhaseReview),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback comment: %w", err)
		}
		createdIDs = append(createdIDs, c.ID)
	}

	if err := o.contexts.AppendFeedbackGiven(ctx, self.ParticipantID, round, map[string]interface{}{"commentIds": createdIDs}); err != nil {
		return nil, fmt.Errorf("failed to append feedback given: %w", err)
	}
	if err := o.contexts.AppendFeedbackReceived(ctx, partner.ParticipantID, round, map[string]interface{}{"commentIds": createdIDs}); err != nil {
		return nil, fmt.Errorf("failed to append feedback received: %w", err)
	}

	if hasStrengths {
		if err := o.contexts.AppendLearning(ctx, self.ParticipantID, round, map[string]interface{}{
			"tag":     "storytelling",
			"summary": action.Params["overallAssessment"],
		}); err != nil {
			return nil, fmt.Errorf("failed to append learning: %w", err)
		}
	}

	return map[string]interface{}{"commentIds": createdIDs}, nil
}

func (o *Orchestrator) latestStoryArtifact(ctx context.Context, participantID, pluginType string, round int) (*ent.StoryArtifact, error) {
	return o.client.StoryArtifact.Query().
		Where(
			storyartifact.ParticipantID(participantID),
			storyartifact.PluginType(pluginType),
			storyartifact.Round(round),
		).
		Order(ent.Desc(storyartifact.FieldVersion)).
		First(ctx)
}

func validCommentType(t string) bool {
	switch t {
	case string(comment.TypeFEEDBACK), string(comment.TypePRAISE), string(comment.TypeSUGGESTION), string(comment.TypeCRITIQUE), string(comment.TypeQUESTION):
		return true
	default:
		return false
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}
