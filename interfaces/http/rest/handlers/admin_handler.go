package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/kgerrors"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/pkg/api"
)

// AdminHandler handles provider configuration endpoints. Configs are stored
// profiles; exactly one per kind is active, and activating one hot-swaps the
// live provider client without a restart.
type AdminHandler struct {
	graph     store.Graph
	registry  *provider.Registry
	publisher events.Publisher
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(graph store.Graph, registry *provider.Registry, publisher events.Publisher, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		graph:     graph,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// ListConfigs handles GET /admin/{kind}-config
func (h *AdminHandler) ListConfigs(kind domain.ModelConfigKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configs, err := h.graph.ListModelConfigs(r.Context(), kind)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		list := api.ModelConfigList{Kind: string(kind), Configs: make([]api.ModelConfigView, 0, len(configs))}
		for _, c := range configs {
			list.Configs = append(list.Configs, configView(c))
		}
		api.WriteData(w, http.StatusOK, list)
	}
}

// PutConfig handles PUT /admin/{kind}-config. Configs are upserted by name:
// an existing name is updated in place unless it is change-protected.
func (h *AdminHandler) PutConfig(kind domain.ModelConfigKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ModelConfigRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if kind == domain.ModelConfigEmbedding && req.Dimension <= 0 {
			writeError(w, h.logger, kgerrors.Validation("embedding configs require a positive dimension"))
			return
		}

		ctx := r.Context()
		existing, err := h.findByName(r, kind, req.Name)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		now := time.Now().UTC()
		status := http.StatusOK
		var cfg *domain.ModelConfig
		if existing != nil {
			if existing.ChangeProtected {
				writeError(w, h.logger, kgerrors.Conflict("config %q is change-protected", req.Name).
					WithDetail("config_id", existing.ID))
				return
			}
			cfg = existing
		} else {
			status = http.StatusCreated
			cfg = &domain.ModelConfig{
				ID:        "mc_" + uuid.NewString(),
				Kind:      kind,
				Name:      req.Name,
				CreatedAt: now,
			}
		}

		cfg.Provider = req.Provider
		cfg.Model = req.Model
		cfg.Dimension = req.Dimension
		cfg.APIKeyEnv = req.APIKeyEnv
		cfg.BaseURL = req.BaseURL
		cfg.DeleteProtected = req.DeleteProtected
		cfg.ChangeProtected = req.ChangeProtected
		cfg.UpdatedAt = now

		if err := h.graph.PutModelConfig(store.WithWriteIntent(ctx), cfg); err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Info("model config stored",
			zap.String("config_id", cfg.ID),
			zap.String("kind", string(kind)),
			zap.String("name", cfg.Name),
			zap.String("provider", cfg.Provider))
		api.WriteData(w, status, configView(cfg))
	}
}

// ActivateConfig handles POST /admin/{kind}-config/activate. Activation
// deactivates siblings in one transaction and hot-swaps the live provider;
// a failed swap rolls the store back to the previous active config.
func (h *AdminHandler) ActivateConfig(kind domain.ModelConfigKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ActivateConfigRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}

		ctx := r.Context()
		target, err := h.graph.GetModelConfig(ctx, req.ConfigID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if target.Kind != kind {
			writeError(w, h.logger, kgerrors.Validation("config %s is a %s config", target.ID, target.Kind))
			return
		}

		prev, err := h.activeConfig(r, kind)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		// Stored vectors are only comparable against embeddings of the same
		// dimension, so a dimension change is refused while concepts exist.
		if kind == domain.ModelConfigEmbedding {
			live := h.registry.Embedder().Dimension()
			if live != 0 && live != target.Dimension {
				stats, serr := h.graph.Stats(ctx, "")
				if serr != nil {
					writeError(w, h.logger, serr)
					return
				}
				if stats.Concepts > 0 {
					writeError(w, h.logger, kgerrors.Conflict(
						"cannot switch embedding dimension from %d to %d while %d concepts exist",
						live, target.Dimension, stats.Concepts).
						WithDetail("active_dimension", live).
						WithDetail("requested_dimension", target.Dimension))
					return
				}
			}
		}

		activated, err := h.graph.ActivateModelConfig(store.WithWriteIntent(ctx), target.ID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		if err := h.reload(r, activated); err != nil {
			if prev != nil {
				if _, rerr := h.graph.ActivateModelConfig(store.WithWriteIntent(ctx), prev.ID); rerr != nil {
					h.logger.Error("rollback after failed provider swap failed",
						zap.String("config_id", prev.ID), zap.Error(rerr))
				}
			}
			writeError(w, h.logger, err)
			return
		}

		h.publish(r, events.Event{
			Type:      events.TypeConfigActivated,
			Aggregate: activated.ID,
			Detail: map[string]any{
				"kind":     string(kind),
				"name":     activated.Name,
				"provider": activated.Provider,
				"model":    activated.Model,
			},
		})
		h.logger.Info("model config activated",
			zap.String("config_id", activated.ID),
			zap.String("kind", string(kind)),
			zap.String("provider", activated.Provider),
			zap.String("model", activated.Model))
		api.WriteData(w, http.StatusOK, configView(activated))
	}
}

// DeleteConfig handles DELETE /admin/{kind}-config/{configID}
func (h *AdminHandler) DeleteConfig(kind domain.ModelConfigKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "configID")
		if id == "" {
			writeError(w, h.logger, kgerrors.Validation("config id is required"))
			return
		}

		ctx := r.Context()
		cfg, err := h.graph.GetModelConfig(ctx, id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if cfg.Kind != kind {
			writeError(w, h.logger, kgerrors.Validation("config %s is a %s config", cfg.ID, cfg.Kind))
			return
		}
		if cfg.DeleteProtected {
			writeError(w, h.logger, kgerrors.Conflict("config %q is delete-protected", cfg.Name))
			return
		}
		if cfg.Active {
			writeError(w, h.logger, kgerrors.Conflict("config %q is active; activate another config first", cfg.Name))
			return
		}

		if err := h.graph.DeleteModelConfig(store.WithWriteIntent(ctx), id); err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Info("model config deleted",
			zap.String("config_id", id), zap.String("kind", string(kind)))
		w.WriteHeader(http.StatusNoContent)
	}
}

// reload swaps the live provider client to the activated config.
func (h *AdminHandler) reload(r *http.Request, cfg *domain.ModelConfig) error {
	switch cfg.Kind {
	case domain.ModelConfigEmbedding:
		return h.registry.ReloadEmbedder(r.Context(), cfg)
	case domain.ModelConfigExtraction:
		return h.registry.ReloadChat(cfg)
	default:
		return kgerrors.Validation("unknown config kind %q", cfg.Kind)
	}
}

func (h *AdminHandler) findByName(r *http.Request, kind domain.ModelConfigKind, name string) (*domain.ModelConfig, error) {
	configs, err := h.graph.ListModelConfigs(r.Context(), kind)
	if err != nil {
		return nil, err
	}
	for _, c := range configs {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, nil
}

func (h *AdminHandler) activeConfig(r *http.Request, kind domain.ModelConfigKind) (*domain.ModelConfig, error) {
	configs, err := h.graph.ListModelConfigs(r.Context(), kind)
	if err != nil {
		return nil, err
	}
	for _, c := range configs {
		if c.Active {
			return c, nil
		}
	}
	return nil, nil
}

func (h *AdminHandler) publish(r *http.Request, ev events.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(r.Context(), ev); err != nil {
		h.logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func configView(c *domain.ModelConfig) api.ModelConfigView {
	return api.ModelConfigView{
		ID:              c.ID,
		Kind:            string(c.Kind),
		Name:            c.Name,
		Provider:        c.Provider,
		Model:           c.Model,
		Dimension:       c.Dimension,
		APIKeyEnv:       c.APIKeyEnv,
		BaseURL:         c.BaseURL,
		Active:          c.Active,
		DeleteProtected: c.DeleteProtected,
		ChangeProtected: c.ChangeProtected,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
