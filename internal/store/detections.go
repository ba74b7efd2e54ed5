package store

import (
	"context"
	"errors"
	"time"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

// UpsertDetection records a sighting of a model id. First sightings insert
// a full row; repeat sightings refresh source and lastSeenAt (and hints when
// any were supplied) while the processing outcome stays untouched. The
// returned detection carries the persisted identity.
func (s *Store) UpsertDetection(ctx context.Context, det *registry.Detection) (*registry.Detection, error) {
	if det.ID == "" {
		return nil, errors.New("detection id required")
	}
	if det.ModelID == "" {
		return nil, errors.New("detection model id required")
	}
	now := time.Now().UTC()
	det.FirstSeenAt = now
	det.LastSeenAt = now
	query := `
	INSERT INTO detections (
		id, model_id, source, hints, processed, added_to_registry,
		proficiencies_generated, skip_reason, first_seen_at, last_seen_at
	) VALUES (
		:id, :model_id, :source, :hints, :processed, :added_to_registry,
		:proficiencies_generated, :skip_reason, :first_seen_at, :last_seen_at
	)
	ON CONFLICT(model_id) DO UPDATE SET
		source = excluded.source,
		last_seen_at = excluded.last_seen_at`
	if _, err := s.q.NamedExecContext(ctx, query, det); err != nil {
		return nil, err
	}
	if !det.Hints.Empty() {
		_, err := s.q.ExecContext(ctx,
			`UPDATE detections SET hints = ? WHERE model_id = ?`, det.Hints, det.ModelID)
		if err != nil {
			return nil, err
		}
	}
	return s.GetDetection(ctx, det.ModelID)
}

// GetDetection loads the detection row for a model id.
func (s *Store) GetDetection(ctx context.Context, modelID string) (*registry.Detection, error) {
	var det registry.Detection
	if err := s.q.GetContext(ctx, &det, `SELECT * FROM detections WHERE model_id = ?`, modelID); err != nil {
		return nil, err
	}
	return &det, nil
}

// ListUnprocessedDetections returns every detection awaiting action, oldest
// sighting first.
func (s *Store) ListUnprocessedDetections(ctx context.Context) ([]registry.Detection, error) {
	var dets []registry.Detection
	err := s.q.SelectContext(ctx, &dets,
		`SELECT * FROM detections WHERE processed = 0 ORDER BY first_seen_at`)
	if err != nil {
		return nil, err
	}
	return dets, nil
}

// DetectionOutcome records how a detection was resolved.
type DetectionOutcome struct {
	AddedToRegistry        bool
	ProficienciesGenerated bool
	SkipReason             string
}

// MarkDetectionProcessed consumes a detection with its outcome.
func (s *Store) MarkDetectionProcessed(ctx context.Context, modelID string, outcome DetectionOutcome) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE detections
		SET processed = 1, added_to_registry = ?, proficiencies_generated = ?, skip_reason = ?
		WHERE model_id = ?`,
		outcome.AddedToRegistry, outcome.ProficienciesGenerated, outcome.SkipReason, modelID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProcessedDetectionsBefore removes processed detections whose last
// sighting is older than the cutoff.
func (s *Store) DeleteProcessedDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM detections WHERE processed = 1 AND last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
