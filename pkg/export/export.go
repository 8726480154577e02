// Package export runs the Export Worker: a bulk, four-query read (one query
// each for one batch's participants, events, survey responses, and story
// artifact metadata; none per participant), flattened to JSON, JSONL, or
// CSV and written to the blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/event"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/storyartifact"
	"github.com/codeready-toolchain/studyengine/ent/surveyresponse"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/codeready-toolchain/studyengine/pkg/blobstore"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/pkg/metrics"
)

// Format is the export file shape.
type Format string

const (
	FormatJSON  Format = "JSON"
	FormatJSONL Format = "JSONL"
	FormatCSV   Format = "CSV"
)

func (f Format) extension() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCSV:
		return "csv"
	default:
		return "json"
	}
}

func (f Format) valid() bool {
	switch f {
	case FormatJSON, FormatJSONL, FormatCSV:
		return true
	default:
		return false
	}
}

// Input is the data-export job payload.
type Input struct {
	BatchID                string   `json:"batchId"`
	StudyID                string   `json:"studyId"`
	Format                 Format   `json:"format,omitempty"`
	IncludeEvents          bool     `json:"includeEvents,omitempty"`
	IncludeSurveyResponses bool     `json:"includeSurveyResponses,omitempty"`
	IncludeStoryData       bool     `json:"includeStoryData,omitempty"`
	ParticipantIDs         []string `json:"participantIds,omitempty"`
	EventTypes             []string `json:"eventTypes,omitempty"`
}

func (in Input) withDefaults() Input {
	if in.Format == "" {
		in.Format = FormatJSON
	}
	return in
}

// Worker produces batch export artifacts.
type Worker struct {
	client  *ent.Client
	blobs   *blobstore.Store
	metrics *metrics.Metrics
}

// New constructs a Worker.
func New(client *ent.Client, blobs *blobstore.Store) *Worker {
	return &Worker{client: client, blobs: blobs}
}

// WithMetrics attaches a Metrics collector to count written exports by
// format.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	return w
}

// participantRecord is the per-participant row emitted to every format;
// CSV flattens it to the scalar fields and aggregate counts only.
type participantRecord struct {
	ParticipantID       string                   `json:"participantId"`
	UniqueID            string                   `json:"uniqueId"`
	ActorType           string                   `json:"actorType"`
	State               string                   `json:"state"`
	Role                string                   `json:"role"`
	ConditionID         string                   `json:"conditionId,omitempty"`
	PartnerID           string                   `json:"partnerId,omitempty"`
	CreatedAt           time.Time                `json:"createdAt"`
	CompletedAt         *time.Time               `json:"completedAt,omitempty"`
	EventCount          int                      `json:"eventCount"`
	SurveyResponseCount int                      `json:"surveyResponseCount"`
	StoryDataCount      int                      `json:"storyDataCount"`
	Events              []map[string]interface{} `json:"events,omitempty"`
	SurveyResponses     []map[string]interface{} `json:"surveyResponses,omitempty"`
	StoryArtifacts      []map[string]interface{} `json:"storyArtifacts,omitempty"`
}

// Run produces the export artifact for in.BatchID and updates the batch's
// exportPath, reporting 0-100 progress via progress.
func (w *Worker) Run(ctx context.Context, in Input, progress func(int)) error {
	in = in.withDefaults()
	if !in.Format.valid() {
		return broker.Terminal(fmt.Errorf("%w: unsupported export format %q", apperrors.ErrInvalidInput, in.Format))
	}

	participants, err := w.loadParticipants(ctx, in)
	if err != nil {
		return broker.Retryable(fmt.Errorf("failed to load participants for export: %w", err))
	}
	progress(10)

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}

	eventsByParticipant, err := w.loadEvents(ctx, ids, in)
	if err != nil {
		return broker.Retryable(fmt.Errorf("failed to load events for export: %w", err))
	}
	progress(35)

	surveysByParticipant, err := w.loadSurveyResponses(ctx, ids)
	if err != nil {
		return broker.Retryable(fmt.Errorf("failed to load survey responses for export: %w", err))
	}
	progress(55)

	storiesByParticipant, err := w.loadStoryArtifacts(ctx, ids)
	if err != nil {
		return broker.Retryable(fmt.Errorf("failed to load story artifacts for export: %w", err))
	}
	progress(70)

	records := make([]participantRecord, 0, len(participants))
	for _, p := range participants {
		rec := participantRecord{
			ParticipantID:       p.ID,
			UniqueID:            p.UniqueID,
			ActorType:           string(p.ActorType),
			State:               string(p.State),
			Role:                string(p.Role),
			CreatedAt:           p.CreatedAt,
			CompletedAt:         p.CompletedAt,
			EventCount:          len(eventsByParticipant[p.ID]),
			SurveyResponseCount: len(surveysByParticipant[p.ID]),
			StoryDataCount:      len(storiesByParticipant[p.ID]),
		}
		if p.ConditionID != nil {
			rec.ConditionID = *p.ConditionID
		}
		if p.PartnerID != nil {
			rec.PartnerID = *p.PartnerID
		}
		if in.IncludeEvents {
			rec.Events = eventsByParticipant[p.ID]
		}
		if in.IncludeSurveyResponses {
			rec.SurveyResponses = surveysByParticipant[p.ID]
		}
		if in.IncludeStoryData {
			rec.StoryArtifacts = storiesByParticipant[p.ID]
		}
		records = append(records, rec)
	}

	body, err := writeRecords(in.Format, records)
	if err != nil {
		return broker.Terminal(fmt.Errorf("failed to serialize export: %w", err))
	}
	progress(85)

	isoTimestamp := time.Now().UTC().Format("20060102T150405Z")
	key := blobstore.ExportKey(in.StudyID, in.BatchID, isoTimestamp, in.Format.extension())
	storedKey, err := w.blobs.Put(ctx, key, bytes.NewReader(body), contentTypeFor(in.Format))
	if err != nil {
		return broker.Retryable(fmt.Errorf("failed to upload export artifact: %w", err))
	}

	if err := w.client.Batch.UpdateOneID(in.BatchID).
		SetExportPath(storedKey).
		Exec(ctx); err != nil {
		return broker.Retryable(fmt.Errorf("failed to record export path on batch %s: %w", in.BatchID, err))
	}

	if w.metrics != nil {
		w.metrics.ExportsWritten.WithLabelValues(string(in.Format)).Inc()
	}

	progress(100)
	return nil
}

func (w *Worker) loadParticipants(ctx context.Context, in Input) ([]*ent.Participant, error) {
	q := w.client.Participant.Query().Where(participant.BatchID(in.BatchID))
	if len(in.ParticipantIDs) > 0 {
		q = q.Where(participant.IDIn(in.ParticipantIDs...))
	}
	return q.All(ctx)
}

func (w *Worker) loadEvents(ctx context.Context, ids []string, in Input) (map[string][]map[string]interface{}, error) {
	out := map[string][]map[string]interface{}{}
	if len(ids) == 0 {
		return out, nil
	}
	q := w.client.Event.Query().Where(event.ParticipantIDIn(ids...)).Order(ent.Asc(event.FieldCreatedAt))
	if len(in.EventTypes) > 0 {
		types := make([]event.Type, len(in.EventTypes))
		for i, t := range in.EventTypes {
			types[i] = event.Type(t)
		}
		q = q.Where(event.TypeIn(types...))
	}
	rows, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		out[e.ParticipantID] = append(out[e.ParticipantID], map[string]interface{}{
			"id":        e.ID,
			"type":      string(e.Type),
			"data":      e.Data,
			"createdAt": e.CreatedAt,
		})
	}
	return out, nil
}

func (w *Worker) loadSurveyResponses(ctx context.Context, ids []string) (map[string][]map[string]interface{}, error) {
	out := map[string][]map[string]interface{}{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := w.client.SurveyResponse.Query().
		Where(surveyresponse.ParticipantIDIn(ids...)).
		Order(ent.Asc(surveyresponse.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.ParticipantID] = append(out[s.ParticipantID], map[string]interface{}{
			"id":        s.ID,
			"round":     s.Round,
			"payload":   s.Payload,
			"createdAt": s.CreatedAt,
		})
	}
	return out, nil
}

func (w *Worker) loadStoryArtifacts(ctx context.Context, ids []string) (map[string][]map[string]interface{}, error) {
	out := map[string][]map[string]interface{}{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := w.client.StoryArtifact.Query().
		Where(storyartifact.ParticipantIDIn(ids...)).
		Order(ent.Asc(storyartifact.FieldVersion)).
		All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.ParticipantID] = append(out[s.ParticipantID], map[string]interface{}{
			"id":         s.ID,
			"pluginType": s.PluginType,
			"version":    s.Version,
			"round":      s.Round,
			"status":     string(s.Status),
			"blobKey":    s.BlobKey,
			"createdAt":  s.CreatedAt,
		})
	}
	return out, nil
}

func contentTypeFor(f Format) string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

func writeRecords(f Format, records []participantRecord) ([]byte, error) {
	switch f {
	case FormatJSONL:
		return writeJSONL(records)
	case FormatCSV:
		return writeCSV(records)
	default:
		return json.MarshalIndent(records, "", "  ")
	}
}

func writeJSONL(records []participantRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"participantId", "uniqueId", "actorType", "state", "role", "conditionId",
	"partnerId", "createdAt", "completedAt", "eventCount", "surveyResponseCount",
	"storyDataCount",
}

func writeCSV(records []participantRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		completedAt := ""
		if r.CompletedAt != nil {
			completedAt = r.CompletedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.ParticipantID, r.UniqueID, r.ActorType, r.State, r.Role, r.ConditionID,
			r.PartnerID, r.CreatedAt.UTC().Format(time.RFC3339), completedAt,
			strconv.Itoa(r.EventCount), strconv.Itoa(r.SurveyResponseCount),
			strconv.Itoa(r.StoryDataCount),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
