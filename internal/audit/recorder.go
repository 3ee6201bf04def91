package audit

import "context"

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes bridge events to a Repository. A failed write is logged
// and dropped; audit must never block the caller's operation.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// RecordEvent stores a gateway session event.
func (r *Recorder) RecordEvent(ctx context.Context, action string, details map[string]any) {
	r.record(ctx, &Entry{
		Action:     action,
		EntityType: EntitySession,
		Source:     SourceBridge,
		Details:    details,
	})
}

// RecordChange stores an operator change made through the API.
func (r *Recorder) RecordChange(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	r.record(ctx, &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     SourceAPI,
		Details:    details,
	})
}

func (r *Recorder) record(ctx context.Context, e *Entry) {
	if err := r.repo.Create(ctx, e); err != nil && r.logger != nil {
		r.logger.Warn("audit write failed", "action", e.Action, "error", err)
	}
}
