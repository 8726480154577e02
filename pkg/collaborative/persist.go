package collaborative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/storyartifact"
	"github.com/codeready-toolchain/studyengine/pkg/blobstore"
	"github.com/google/uuid"
)

// Story is the payload persisted by PersistStory.
type Story struct {
	Passages     map[string]interface{} `json:"passages"`
	StartPassage string                 `json:"startPassage"`
	Round        int                    `json:"round"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// PersistStory allocates the next dense version for
// (participantID, pluginType), uploads the story JSON to the blob store,
// and inserts the CONFIRMED story artifact row, all within one
// transaction. If the row insert fails after the upload, the blob is
// best-effort deleted (logged, not re-raised) and the original DB error
// is returned so the transaction rolls back.
func PersistStory(ctx context.Context, client *ent.Client, blobs *blobstore.Store, participantID, pluginType string, story Story) (*ent.StoryArtifact, error) {
	tx, err := client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	maxVersion, err := tx.StoryArtifact.Query().
		Where(storyartifact.ParticipantID(participantID), storyartifact.PluginType(pluginType)).
		Order(ent.Desc(storyartifact.FieldVersion)).
		First(ctx)
	version := 1
	if err == nil {
		version = maxVersion.Version + 1
	} else if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query current story version: %w", err)
	}

	epochMs := story.CreatedAt.UnixMilli()
	blobKey := blobstore.StoryArtifactKey(participantID, pluginType, version, epochMs)

	body, err := json.Marshal(story)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal story: %w", err)
	}

	if _, err := blobs.Put(ctx, blobKey, bytes.NewReader(body), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to upload story blob: %w", err)
	}

	artifact, err := tx.StoryArtifact.Create().
		SetID(uuid.NewString()).
		SetParticipantID(participantID).
		SetPluginType(pluginType).
		SetVersion(version).
		SetRound(story.Round).
		SetBlobKey(blobKey).
		SetBucket(blobs.Bucket()).
		SetStatus(storyartifact.StatusCONFIRMED).
		Save(ctx)
	if err != nil {
		if delErr := blobs.Delete(context.Background(), blobKey); delErr != nil {
			// Best-effort cleanup; the original DB error is authoritative.
			slog.Warn("failed to delete story blob after insert failure", "blob_key", blobKey, "error", delErr)
		}
		return nil, fmt.Errorf("failed to insert story artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit story persistence: %w", err)
	}
	return artifact, nil
}
