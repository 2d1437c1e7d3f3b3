package usecase

import (
	"context"
	"fmt"

	"FinScan/internal/domain/models"
	applogger "FinScan/pkg/logger"
	"FinScan/pkg/queue"
)

// LabelSignalType is the queue message type for single-signal labeling.
const LabelSignalType = "signal.label"

// LabelSignalJob labels one freshly fired signal off the queue, ahead of
// the periodic sweep. Horizons whose windows are still open stay pending
// and the sweep finishes them later.
type LabelSignalJob struct {
	uc *LabelUseCase
	l  *applogger.Logger
}

var _ queue.Job = (*LabelSignalJob)(nil)

func NewLabelSignalJob(uc *LabelUseCase, l *applogger.Logger) *LabelSignalJob {
	return &LabelSignalJob{uc: uc, l: l}
}

func (j *LabelSignalJob) Name() string { return "label-signal" }

func (j *LabelSignalJob) Type() string { return LabelSignalType }

func (j *LabelSignalJob) Handle(ctx context.Context, payload interface{}) error {
	sig, err := queue.ParsePayload[models.Signal](payload)
	if err != nil {
		return fmt.Errorf("label job payload: %w", err)
	}

	computed, pending, err := j.uc.LabelOne(ctx, *sig)
	if err != nil {
		return fmt.Errorf("label signal %s: %w", sig.ID, err)
	}
	if pending > 0 {
		j.l.Debug("label job left open horizons for the sweep",
			applogger.String("signal_id", sig.ID),
			applogger.Int("computed", computed),
			applogger.Int("pending", pending))
	}
	return nil
}
