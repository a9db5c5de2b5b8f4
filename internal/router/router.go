package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/fieldops/internal/handler"
	mw "github.com/parisxmas/fieldops/internal/middleware"
)

// Handlers groups every HTTP handler the router mounts. Blobs may be nil when
// photos are served from S3.
type Handlers struct {
	Sessions    *handler.SessionHandler
	Completions *handler.CompletionHandler
	WorkOrders  *handler.WorkOrderHandler
	Blobs       *handler.BlobHandler
	Admin       *handler.AdminHandler
}

func New(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Completion wizard sessions
		r.Route("/completions/sessions", func(r chi.Router) {
			r.Post("/", h.Sessions.Create)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/", h.Sessions.Get)
				r.Delete("/", h.Sessions.Delete)
				r.Put("/narrative", h.Sessions.SetNarrative)
				r.Put("/satisfaction", h.Sessions.SetSatisfaction)
				r.Put("/follow-up", h.Sessions.SetFollowUp)
				r.Post("/assets", h.Sessions.AddAssets)
				r.Patch("/assets/{assetId}", h.Sessions.UpdateAsset)
				r.Delete("/assets/{assetId}", h.Sessions.DeleteAsset)
				r.Get("/assets/{assetId}/preview", h.Sessions.Preview)
				r.Put("/signatures/{role}", h.Sessions.PutSignature)
				r.Delete("/signatures/{role}", h.Sessions.DeleteSignature)
				r.Post("/advance", h.Sessions.Advance)
				r.Post("/retreat", h.Sessions.Retreat)
				r.Post("/submit", h.Sessions.Submit)
				r.Post("/cancel", h.Sessions.Cancel)
				r.Post("/retry-assets", h.Sessions.RetryAssets)
			})
		})

		// Completion records
		r.Post("/completions/search", h.Completions.Search)
		r.Get("/completions/{completionId}", h.Completions.Get)
		r.Get("/receipts/verify", h.Completions.VerifyReceipt)

		// Work orders
		r.Post("/work-orders", h.WorkOrders.Create)
		r.Get("/work-orders/{workOrderId}", h.WorkOrders.Get)

		if h.Blobs != nil {
			r.Get("/blobs/*", h.Blobs.Download)
		}

		// Admin
		r.Get("/admin/indexes", h.Admin.ListIndexes)
		r.Post("/admin/compact", h.Admin.Compact)
	})

	return r
}
