package service

import (
	"log"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/submission"
)

// DetachedRouter hands a background submission outcome to the service that
// owns its record kind. Fields may be set after the router is passed to the
// orchestrator.
type DetachedRouter struct {
	Sessions   *SessionService
	WorkOrders *WorkOrderService
}

func (r *DetachedRouter) Complete(out *submission.Outcome) {
	log.Printf("Submission: detached %s %s finished (failed assets: %d, document failed: %v)",
		out.RecordKind, out.RecordID, len(out.FailedAssetIDs), out.DocumentGenerationFailed)
	switch out.RecordKind {
	case models.RecordKindWorkOrder:
		if r.WorkOrders != nil {
			r.WorkOrders.DetachedComplete(out)
			return
		}
	case models.RecordKindCompletion:
		if r.Sessions != nil {
			r.Sessions.DetachedComplete(out)
			return
		}
	}
	log.Printf("Warning: no owner for detached %s %s", out.RecordKind, out.RecordID)
}
