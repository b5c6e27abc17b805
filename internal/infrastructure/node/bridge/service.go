package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node"
	"github.com/synonymdev/bitkit-balanced/pkg/circuitbreaker"
	"go.uber.org/ratelimit"
)

const (
	DefaultRequestTimeout = 15 * time.Second

	// The bridge runs inside the mobile app, polling bursts must not flood it.
	maxRequestsPerSecond = 20

	onchainPath      = "/onchain"
	channelsPath     = "/channels"
	closeChannelPath = "/channels/close"
	ordersPath       = "/orders"
	openChannelPath  = "/orders/%s/open"
)

var (
	// ErrMissingURL ...
	ErrMissingURL = errors.New("missing bridge url")
	// ErrUnexpectedStatus is returned for any non 2xx response.
	ErrUnexpectedStatus = errors.New("unexpected bridge response")
)

type service struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    ratelimit.Limiter
}

// NewService returns a client of the native node bridge. Every request goes
// through a circuit breaker shared by all the sources.
func NewService(
	bridgeURL string, requestTimeout time.Duration,
) (ports.NodeSource, error) {
	if len(bridgeURL) <= 0 {
		return nil, ErrMissingURL
	}
	if _, err := url.ParseRequestURI(bridgeURL); err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	return &service{
		baseURL:    strings.TrimSuffix(bridgeURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		cb:         circuitbreaker.NewCircuitBreaker("node-bridge"),
		limiter:    ratelimit.New(maxRequestsPerSecond),
	}, nil
}

func (s *service) GetOnchainState(
	ctx context.Context,
) (domain.OnchainState, error) {
	var state node.OnchainState
	if err := s.do(ctx, http.MethodGet, onchainPath, nil, &state); err != nil {
		return domain.OnchainState{}, err
	}
	return state.ToDomain(), nil
}

func (s *service) ListChannels(
	ctx context.Context,
) ([]domain.ChannelInfo, error) {
	var resp struct {
		Channels []node.Channel `json:"channels"`
	}
	if err := s.do(ctx, http.MethodGet, channelsPath, nil, &resp); err != nil {
		return nil, err
	}
	return node.ChannelsToDomain(resp.Channels)
}

func (s *service) CloseChannel(
	ctx context.Context, channel domain.ChannelInfo,
) error {
	body := struct {
		ChannelId          string `json:"channel_id"`
		CounterpartyNodeId string `json:"counterparty_node_id"`
	}{channel.ChannelId, channel.CounterpartyNodeId}

	if err := s.do(ctx, http.MethodPost, closeChannelPath, body, nil); err != nil {
		return err
	}
	log.WithField("channel_id", channel.ChannelId).Debug(
		"bridge: close request accepted",
	)
	return nil
}

func (s *service) ListOrders(
	ctx context.Context, ids []string,
) ([]domain.PendingOrder, error) {
	if len(ids) <= 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	path := fmt.Sprintf("%s?%s", ordersPath, query.Encode())

	var resp struct {
		Orders []node.Order `json:"orders"`
	}
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return node.OrdersToDomain(resp.Orders)
}

func (s *service) OpenChannel(ctx context.Context, orderId string) error {
	path := fmt.Sprintf(openChannelPath, url.PathEscape(orderId))
	return s.do(ctx, http.MethodPost, path, nil, nil)
}

// do sends the request through the circuit breaker and decodes the JSON
// response into out, if not nil.
func (s *service) do(
	ctx context.Context, method, path string, in, out interface{},
) error {
	var payload []byte
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = buf
	}

	s.limiter.Take()
	resp, err := s.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(
			ctx, method, s.baseURL+path, bytes.NewReader(payload),
		)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, fmt.Errorf(
				"%w: %s %s: %d %s", ErrUnexpectedStatus,
				method, path, res.StatusCode, strings.TrimSpace(string(body)),
			)
		}
		return body, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.([]byte), out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}
