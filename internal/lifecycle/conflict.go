package lifecycle

import "kanban/internal/model"

// ConflictResolution explains why a scan could not trigger the card.
type ConflictResolution string

const (
	ConflictNone             ConflictResolution = "ok"
	ConflictAlreadyTriggered ConflictResolution = "already_triggered"
	ConflictStageAdvanced    ConflictResolution = "stage_advanced"
	ConflictCardInactive     ConflictResolution = "card_inactive"
)

// DetectScanConflict classifies a scan against the card's current state.
func DetectScanConflict(stage model.Stage, isActive bool) ConflictResolution {
	switch {
	case !isActive:
		return ConflictCardInactive
	case stage == model.StageCreated:
		return ConflictNone
	case stage == model.StageTriggered:
		return ConflictAlreadyTriggered
	default:
		return ConflictStageAdvanced
	}
}

func conflictError(res ConflictResolution, card model.Card) *Error {
	e := &Error{Code: CodeScanConflict, Resolution: res}
	switch res {
	case ConflictAlreadyTriggered:
		e.Message = "card has already been triggered and is waiting in the order queue"
	case ConflictStageAdvanced:
		e.Message = "card has already advanced to stage " + string(card.CurrentStage)
	case ConflictCardInactive:
		e.Message = "card is inactive"
	default:
		e.Message = "scan conflict"
	}
	return e
}
