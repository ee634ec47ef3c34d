// Package source подписывается на логи программы через Solana JSON-RPC
// websocket (logsSubscribe) и отдаёт строки лога как models.RawLog.
//
// Соединение восстанавливается автоматически с экспоненциальной задержкой.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"escrowflow/internal/models"
	"escrowflow/pkg/retry"
	"escrowflow/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const subscribeRequestID = 1

// ErrSubscribeRejected - узел отклонил logsSubscribe; переподключение не поможет
var ErrSubscribeRejected = errors.New("logs subscription rejected")

// State состояние подписки
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config настройки подписки и переподключения
type Config struct {
	WSURL      string
	ProgramID  string
	Commitment models.Commitment

	InitialDelay   time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		Commitment:     models.CommitmentFinalized,
		InitialDelay:   1 * time.Second,
		MaxDelay:       60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// SolanaSource источник логов программы
type SolanaSource struct {
	cfg     Config
	backoff retry.Config
	dialer  websocket.Dialer
	logger  *utils.Logger
	state   atomic.Int32
}

// New создает источник; нулевые поля cfg заменяются значениями по умолчанию
func New(cfg Config, logger *utils.Logger) *SolanaSource {
	def := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.InitialDelay)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	return &SolanaSource{
		cfg: cfg,
		backoff: retry.Config{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		logger: logger.WithComponent("source"),
	}
}

// State текущее состояние подписки
func (s *SolanaSource) State() State {
	return State(s.state.Load())
}

func (s *SolanaSource) setState(st State) {
	s.state.Store(int32(st))
}

// Run держит подписку до отмены ctx, переподключаясь при обрывах.
// Возвращает nil при отмене и ошибку, если узел отклонил подписку.
func (s *SolanaSource) Run(ctx context.Context, out chan<- models.RawLog) error {
	attempt := 0

	for {
		s.setState(StateConnecting)
		subscribed, err := s.session(ctx, out)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}
		if errors.Is(err, ErrSubscribeRejected) {
			s.setState(StateClosed)
			return err
		}

		// после успешной подписки отсчёт задержки начинается заново
		if subscribed {
			attempt = 0
		}
		delay := s.backoff.Backoff(attempt)
		attempt++
		s.setState(StateReconnecting)
		s.logger.Warn("log subscription lost, reconnecting",
			utils.Attempt(attempt), utils.Duration("delay", delay), utils.Err(err))

		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return nil
		case <-time.After(delay):
		}
	}
}

// session одно соединение: dial, logsSubscribe, чтение уведомлений.
// subscribed сообщает, дошло ли дело до подтверждённой подписки.
func (s *SolanaSource) session(ctx context.Context, out chan<- models.RawLog) (subscribed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, _, err := s.dialer.DialContext(dialCtx, s.cfg.WSURL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.cfg.WSURL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := s.subscribe(conn); err != nil {
		return false, err
	}

	readTimeout := s.cfg.PingInterval + s.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go s.pingPump(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skipping undecodable rpc message", utils.Err(err))
			continue
		}

		switch {
		case msg.ID != nil && *msg.ID == subscribeRequestID:
			if msg.Error != nil {
				return false, fmt.Errorf("%w: %d %s", ErrSubscribeRejected, msg.Error.Code, msg.Error.Message)
			}
			subscribed = true
			s.setState(StateSubscribed)
			s.logger.Info("subscribed to program logs",
				utils.String("program_id", s.cfg.ProgramID),
				utils.Commitment(string(s.cfg.Commitment)),
				utils.String("subscription", string(msg.Result)))

		case msg.Method == "logsNotification" && msg.Params != nil:
			value := msg.Params.Result.Value
			// упавшие транзакции откатывают состояние, их события не публикуются
			if value.Err != nil {
				continue
			}
			records := ExtractRecords(s.cfg.ProgramID, value.Signature, msg.Params.Result.Context.Slot, s.cfg.Commitment, value.Logs)
			for _, r := range records {
				select {
				case out <- r:
				case <-ctx.Done():
					return subscribed, ctx.Err()
				}
			}
		}
	}
}

func (s *SolanaSource) subscribe(conn *websocket.Conn) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string][]string{"mentions": {s.cfg.ProgramID}},
			map[string]string{"commitment": string(s.cfg.Commitment)},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode subscribe request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}
	return nil
}

// pingPump шлёт ping; WriteControl безопасен параллельно с чтением
func (s *SolanaSource) pingPump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", utils.Err(err))
				conn.Close()
				return
			}
		}
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     *int64              `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *rpcError           `json:"error"`
	Method string              `json:"method"`
	Params *logsParams         `json:"params"`
}

type logsParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string      `json:"signature"`
			Err       interface{} `json:"err"`
			Logs      []string    `json:"logs"`
		} `json:"value"`
	} `json:"result"`
}
