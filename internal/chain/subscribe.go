package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"dexmirror/internal/address"
)

// Notification reports that an account changed at Slot.
type Notification struct {
	Address address.Address
	Slot    uint64
}

const maxBackoff = 30 * time.Second

// Subscriber streams accountSubscribe notifications over the node's
// websocket endpoint. It only signals changes; account data is still read
// through GetMultipleAccounts.
type Subscriber struct {
	url        string
	commitment string
	backoff    time.Duration
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

func NewSubscriber(wsURL, commitment string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		url:        wsURL,
		commitment: commitment,
		backoff:    time.Second,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// Run subscribes to every address and forwards notifications to out until
// ctx is done. Dropped connections are re-established after a backoff that
// doubles while sessions keep failing and starts over once every
// subscription was acknowledged.
func (s *Subscriber) Run(ctx context.Context, addrs []address.Address, out chan<- Notification) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses to subscribe")
	}
	delay := s.backoff
	for {
		active, err := s.session(ctx, addrs, out)
		if ctx.Err() != nil {
			return nil
		}
		if active {
			delay = s.backoff
		}
		s.logger.Warn("account subscription dropped", zap.Error(err), zap.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = nextDelay(delay)
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// session runs one connection. active reports whether every subscription was
// acknowledged before it ended.
func (s *Subscriber) session(ctx context.Context, addrs []address.Address, out chan<- Notification) (active bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for i, addr := range addrs {
		cfg := map[string]interface{}{"encoding": EncodingBase64}
		if s.commitment != "" {
			cfg["commitment"] = s.commitment
		}
		req := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  "accountSubscribe",
			"params":  []interface{}{addr.String(), cfg},
		}
		if err := conn.WriteJSON(req); err != nil {
			return false, fmt.Errorf("subscribe %s: %w", addr, err)
		}
	}

	var parser fastjson.Parser
	subs := make(map[uint64]address.Address, len(addrs))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return active, fmt.Errorf("read: %w", err)
		}
		msg, err := parseMessage(&parser, data)
		if err != nil {
			s.logger.Debug("skip malformed message", zap.Error(err))
			continue
		}

		switch msg.kind {
		case messageSubscribed:
			if msg.id < 1 || msg.id > uint64(len(addrs)) {
				continue
			}
			subs[msg.subscription] = addrs[msg.id-1]
			if !active && len(subs) == len(addrs) {
				active = true
				s.logger.Info("account subscriptions active", zap.Int("accounts", len(subs)))
			}
		case messageError:
			s.logger.Warn("subscription rejected", zap.Uint64("id", msg.id), zap.String("error", msg.err))
		case messageNotification:
			addr, ok := subs[msg.subscription]
			if !ok {
				continue
			}
			select {
			case out <- Notification{Address: addr, Slot: msg.slot}:
			case <-ctx.Done():
				return active, ctx.Err()
			}
		}
	}
}

type messageKind int

const (
	messageUnknown messageKind = iota
	messageSubscribed
	messageNotification
	messageError
)

type message struct {
	kind         messageKind
	id           uint64
	subscription uint64
	slot         uint64
	err          string
}

// parseMessage classifies one websocket frame: a subscribe reply
// {"id":n,"result":sub}, an error reply, or an accountNotification.
func parseMessage(p *fastjson.Parser, data []byte) (message, error) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return message{}, err
	}

	if method := string(v.GetStringBytes("method")); method != "" {
		if method != "accountNotification" {
			return message{kind: messageUnknown}, nil
		}
		params := v.Get("params")
		if params == nil {
			return message{}, fmt.Errorf("notification without params")
		}
		return message{
			kind:         messageNotification,
			subscription: params.GetUint64("subscription"),
			slot:         params.GetUint64("result", "context", "slot"),
		}, nil
	}

	id := v.GetUint64("id")
	if e := v.Get("error"); e != nil {
		return message{kind: messageError, id: id, err: string(e.GetStringBytes("message"))}, nil
	}
	if res := v.Get("result"); res != nil && res.Type() == fastjson.TypeNumber {
		sub, err := res.Uint64()
		if err != nil {
			return message{}, fmt.Errorf("subscription id: %w", err)
		}
		return message{kind: messageSubscribed, id: id, subscription: sub}, nil
	}
	return message{kind: messageUnknown}, nil
}
