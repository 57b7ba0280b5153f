// Package adminhttp is the thin chi-routed admin HTTP surface spec.md §6
// describes as a collaborator, not part of the core: it only ever calls the
// engine package's public, message.Value/id.ID-shaped operations (it cannot
// import engine/internal/* at all — see DESIGN.md). It implements the
// `/devices`, `/apps`, `/rules` resources of spec.md §6 at create/start/
// stop/delete granularity, plus read-only polling of a rule's Databoard ring
// (`/rules/{id}/boards`); it does not implement list/search, read by id,
// PUT update or `/schemas`, per SPEC_FULL.md §4's "thin shim" Non-goal.
package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldmesh/core/engine"
	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/storage"
)

// Options configures the router.
type Options struct {
	Engine *engine.Engine
	Events *eventsReader // optional; nil disables GET /events
}

// eventsReader is the narrow capability the /events handler needs from
// storage/memstore.EventSink, kept as a separate interface so Options does
// not force every caller onto the memstore backend.
type eventsReader interface {
	Recent(n int) []storage.Event
}

// NewEventsReader lets main wire any storage/memstore.EventSink (or another
// backend offering the same Recent(n) method) into Options.Events.
func NewEventsReader(r interface {
	Recent(n int) []storage.Event
}) *eventsReader {
	v := eventsReader(r)
	return &v
}

// NewRouter builds the chi router exposing the admin surface over opts.Engine.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, opts.Engine.Snapshot())
	})
	if mp := opts.Engine.MetricsProvider(); mp != nil {
		if promP, ok := mp.(interface{ MetricsHandler() http.Handler }); ok {
			r.Handle("/metrics", promP.MetricsHandler())
		}
	}
	if opts.Events != nil {
		r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, (*opts.Events).Recent(200))
		})
	}

	r.Route("/devices", resourceRoutes(opts.Engine, storage.ResourceDevice))
	r.Route("/apps", resourceRoutes(opts.Engine, storage.ResourceApp))
	r.Route("/rules", ruleRoutes(opts.Engine))

	return r
}

type createResourceRequest struct {
	ID   string        `json:"id,omitempty"`
	Name string        `json:"name"`
	Conf message.Value `json:"conf"`
}

type createEndpointRequest struct {
	ID   string        `json:"id,omitempty"`
	Conf message.Value `json:"conf"`
}

func resourceRoutes(e *engine.Engine, resType storage.ResourceType) func(chi.Router) {
	create := e.CreateDeviceFromConf
	if resType == storage.ResourceApp {
		create = e.CreateAppFromConf
	}
	return func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body createResourceRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, ferr.NewInvalidConf("body", "malformed JSON"))
				return
			}
			resID, err := parseOrNewID(body.ID)
			if err != nil {
				writeError(w, ferr.NewInvalidConf("id", "malformed id"))
				return
			}
			newID, err := create(req.Context(), resID, body.Name, body.Conf)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": newID.String()})
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Put("/start", func(w http.ResponseWriter, req *http.Request) {
				resID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.StartResource(req.Context(), resID); err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
			})
			r.Put("/stop", func(w http.ResponseWriter, req *http.Request) {
				resID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.StopResource(req.Context(), resID); err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
			})
			r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				resID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.DeleteResource(req.Context(), resID); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			r.Route("/source", endpointRoutes(e, endpoint_roleSource))
			r.Route("/sink", endpointRoutes(e, endpoint_roleSink))
		})
	}
}

// endpoint_roleSource/Sink are the "source"/"sink" role tags
// TagEndpointConf expects; kept as string constants here because
// endpoint.Role itself is an internal type this package cannot import.
const (
	endpoint_roleSource = "source"
	endpoint_roleSink   = "sink"
)

func endpointRoutes(e *engine.Engine, role string) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			resID, err := idParam(req)
			if err != nil {
				writeError(w, err)
				return
			}
			var body createEndpointRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, ferr.NewInvalidConf("body", "malformed JSON"))
				return
			}
			epID, err := parseOrNewID(body.ID)
			if err != nil {
				writeError(w, ferr.NewInvalidConf("id", "malformed id"))
				return
			}
			conf := body.Conf
			conf.Set("role", message.String(role))
			if err := e.CreateEndpointFromConf(req.Context(), resID, epID, conf); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": epID.String()})
		})
		r.Delete("/{epID}", func(w http.ResponseWriter, req *http.Request) {
			resID, err := idParam(req)
			if err != nil {
				writeError(w, err)
				return
			}
			epID, err := id.Parse(chi.URLParam(req, "epID"))
			if err != nil {
				writeError(w, ferr.NewInvalidConf("epID", "malformed id"))
				return
			}
			if err := e.DeleteEndpoint(req.Context(), resID, epID); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
}

func ruleRoutes(e *engine.Engine) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			// Rule graphs reference Go-native transformation functions
			// (spec.md §4.4), which cannot arrive over JSON; rules are
			// created in code through Engine.CreateRule/CreateRuleFromSpec,
			// not through this surface, per SPEC_FULL.md §4's thin-shim
			// Non-goal.
			writeError(w, ferr.ErrNotImplemented)
		})
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/start", func(w http.ResponseWriter, req *http.Request) {
				ruleID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.StartRule(req.Context(), ruleID); err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
			})
			r.Put("/stop", func(w http.ResponseWriter, req *http.Request) {
				ruleID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.StopRule(req.Context(), ruleID); err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
			})
			r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				ruleID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				if err := e.DeleteRule(req.Context(), ruleID); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusOK)
			})
			r.Get("/boards", func(w http.ResponseWriter, req *http.Request) {
				ruleID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				boards, err := e.DataboardIDs(ruleID)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"boards": boards})
			})
			r.Get("/boards/{board}", func(w http.ResponseWriter, req *http.Request) {
				ruleID, err := idParam(req)
				if err != nil {
					writeError(w, err)
					return
				}
				boardParam := chi.URLParam(req, "board")
				board, err := strconv.Atoi(boardParam)
				if err != nil {
					writeError(w, ferr.NewInvalidConf("board", "must be an integer node index"))
					return
				}
				batch, ok, err := e.DataboardSnapshot(ruleID, engine.NodeIndex(board))
				if err != nil {
					writeError(w, err)
					return
				}
				if !ok {
					writeError(w, ferr.NewNotFound("databoard", boardParam))
					return
				}
				writeJSON(w, http.StatusOK, batch)
			})
		})
	}
}

func idParam(req *http.Request) (id.ID, error) {
	return id.Parse(chi.URLParam(req, "id"))
}

func parseOrNewID(s string) (id.ID, error) {
	if s == "" {
		return id.New(), nil
	}
	return id.Parse(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the ferr taxonomy onto spec.md §6's status codes: 400
// invalid configuration, 404 unknown id, 409 in use / wrong state, 5xx
// internal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ferr.ErrInvalidConf):
		status = http.StatusBadRequest
	case errors.Is(err, ferr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ferr.ErrInUse), errors.Is(err, ferr.ErrWrongState), errors.Is(err, ferr.ErrNameExists), errors.Is(err, ferr.ErrAddressExists):
		status = http.StatusConflict
	case errors.Is(err, ferr.ErrNotImplemented):
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
