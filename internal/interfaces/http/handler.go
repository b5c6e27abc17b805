package httpinterface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/application"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/order"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/pubsub"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/transfer"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node"
)

// Engine is the subset of *application.Engine exposed to operators.
type Engine interface {
	Balance() domain.BalanceState
	SubscribeBalance() <-chan domain.BalanceState
	UnsubscribeBalance(ch <-chan domain.BalanceState)
	Channels() []domain.ChannelInfo
	CampaignStatus() coopclose.Status
	NeedsForceClose() []domain.ChannelInfo
	ListTransfers(ctx context.Context, activeOnly bool) ([]domain.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	TransferToSavings(
		ctx context.Context, channelIds []string,
	) (domain.TransferIntent, error)
	TransferToSpending(
		ctx context.Context, o domain.PendingOrder,
	) (domain.TransferIntent, error)
	OrderStep(id string) (int, error)
}

type handler struct {
	engine   Engine
	webhooks application.PubSubService
}

func (h *handler) register(r chi.Router) {
	r.Get("/balance", h.getBalance)
	r.Get("/balance/stream", h.streamBalance)
	r.Get("/channels", h.listChannels)
	r.Get("/coopclose", h.getCampaign)
	r.Get("/transfers", h.listTransfers)
	r.Get("/transfers/{id}", h.getTransfer)
	r.Post("/transfers/savings", h.transferToSavings)
	r.Post("/transfers/spending", h.transferToSpending)
	r.Get("/orders/{id}/step", h.getOrderStep)
	r.Get("/webhooks", h.listWebhooks)
	r.Post("/webhooks", h.addWebhook)
	r.Delete("/webhooks/{id}", h.removeWebhook)
}

func (h *handler) getBalance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newBalanceInfo(h.engine.Balance()))
}

func (h *handler) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels": channelsInfo(h.engine.Channels()).toJSON(),
	})
}

func (h *handler) getCampaign(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newCampaignInfo(
		h.engine.CampaignStatus(), h.engine.NeedsForceClose(),
	))
}

func (h *handler) listTransfers(w http.ResponseWriter, req *http.Request) {
	activeOnly := false
	if v := req.URL.Query().Get("active"); len(v) > 0 {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid active flag"))
			return
		}
		activeOnly = b
	}

	transfers, err := h.engine.ListTransfers(req.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": transfersInfo(transfers).toJSON(),
	})
}

func (h *handler) getTransfer(w http.ResponseWriter, req *http.Request) {
	t, err := h.engine.GetTransfer(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferInfo(*t))
}

func (h *handler) transferToSavings(w http.ResponseWriter, req *http.Request) {
	body := transferToSavingsRequest{}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	intent, err := h.engine.TransferToSavings(req.Context(), body.ChannelIds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentInfo(intent))
}

func (h *handler) transferToSpending(w http.ResponseWriter, req *http.Request) {
	body := node.Order{}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := body.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	intent, err := h.engine.TransferToSpending(req.Context(), o)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentInfo(intent))
}

func (h *handler) getOrderStep(w http.ResponseWriter, req *http.Request) {
	step, err := h.engine.OrderStep(chi.URLParam(req, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"step": step})
}

func (h *handler) listWebhooks(w http.ResponseWriter, req *http.Request) {
	if h.webhooks == nil {
		writeError(w, http.StatusNotImplemented, errWebhooksDisabled)
		return
	}
	hooks, err := h.webhooks.ListWebhooks(req.Context(), req.URL.Query().Get("event"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": webhooksInfo(hooks).toJSON(),
	})
}

func (h *handler) addWebhook(w http.ResponseWriter, req *http.Request) {
	if h.webhooks == nil {
		writeError(w, http.StatusNotImplemented, errWebhooksDisabled)
		return
	}
	body := addWebhookRequest{}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.webhooks.AddWebhook(
		req.Context(), body.Event, body.Endpoint, body.Secret,
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *handler) removeWebhook(w http.ResponseWriter, req *http.Request) {
	if h.webhooks == nil {
		writeError(w, http.StatusNotImplemented, errWebhooksDisabled)
		return
	}
	if err := h.webhooks.RemoveWebhook(req.Context(), chi.URLParam(req, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

var errWebhooksDisabled = errors.New("webhooks are disabled")

func decodeBody(req *http.Request, out interface{}) error {
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

// writeServiceError maps the errors of the application layer to a status
// code.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTransferNotFound),
		errors.Is(err, domain.ErrWebhookNotFound),
		errors.Is(err, order.ErrOrderNotTracked):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, application.ErrChannelNotFound),
		errors.Is(err, transfer.ErrNothingToTransfer),
		errors.Is(err, domain.ErrTransferNullAmount),
		errors.Is(err, domain.ErrWebhookInvalidEndpoint),
		errors.Is(err, pubsub.ErrInvalidTopic),
		errors.Is(err, order.ErrOrderAlreadyExpired):
		writeError(w, http.StatusBadRequest, err)
	default:
		log.WithError(err).Warn("http: internal error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("http: failed to write response")
	}
}
