// Package normalizer превращает строки логов программы в NormalizedEvent
// и публикует их в шину с ключом offer_id.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"escrowflow/internal/bus"
	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/pkg/retry"
	"escrowflow/pkg/utils"
)

const defaultDrainTimeout = 10 * time.Second

// ErrDrainTimeout - при остановке принятые события не успели уйти в шину
var ErrDrainTimeout = errors.New("normalizer drain timeout")

const (
	resultPublished = "published"
	resultSkipped   = "skipped"
	resultDropped   = "dropped"
	resultFailed    = "failed"
)

// Config параметры нормализации и публикации
type Config struct {
	Cluster   string
	ProgramID string
	Topic     string
	// MaxInFlight - число одновременных публикаций; события одного оффера
	// всегда публикуются одним воркером по порядку
	MaxInFlight int
	Retry       retry.Config
	// DrainTimeout - сколько после отмены дописывать в шину уже принятые записи
	DrainTimeout time.Duration
}

// Normalizer разбирает сырые записи и публикует события
type Normalizer struct {
	cfg       Config
	publisher bus.Publisher
	logger    *utils.Logger
	now       func() int64
}

// New создает нормализатор
func New(cfg Config, publisher bus.Publisher, logger *utils.Logger) *Normalizer {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Normalizer{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.WithComponent("normalizer"),
		now:       utils.UnixMillis,
	}
}

// Normalize строит каноническое событие из строки лога.
// ErrNotEvent - строка не событие; ErrMalformedPayload - битое событие.
func (n *Normalizer) Normalize(raw models.RawLog) (*models.NormalizedEvent, error) {
	payload, err := parsePayload(raw.Payload)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateSignature(raw.Signature); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedPayload, err)
	}

	return &models.NormalizedEvent{
		EventID:    raw.EventID(),
		EventType:  payload.Type,
		Cluster:    n.cfg.Cluster,
		Slot:       raw.Slot,
		Signature:  raw.Signature,
		ProgramID:  n.cfg.ProgramID,
		OfferID:    payload.OfferID,
		Maker:      payload.Maker,
		Taker:      payload.Taker,
		MintA:      payload.MintA,
		MintB:      payload.MintB,
		AmountA:    payload.AmountA,
		AmountB:    payload.AmountB,
		Commitment: raw.Commitment,
		TsIngestMs: n.now(),
	}, nil
}

// Publish публикует событие с ключом offer_id, повторяя транзиентные ошибки.
// Исчерпание попыток возвращается как ошибка с retry.ErrExhausted.
func (n *Normalizer) Publish(ctx context.Context, ev *models.NormalizedEvent) error {
	payload, err := models.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}

	policy := n.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordPublishRetry(n.cfg.Topic)
		n.logger.Warn("publish failed, retrying",
			utils.EventID(ev.EventID), utils.Attempt(attempt), utils.Err(err), utils.Duration("delay", delay))
	}

	err = retry.Do(ctx, func() error {
		return n.publisher.Publish(ctx, n.cfg.Topic, ev.OfferID, payload)
	}, policy)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.EventID, err)
	}
	return nil
}

// Run читает записи из in до его закрытия или отмены ctx.
// Битые записи отбрасываются с диагностикой. Отмена ctx останавливает только
// чтение: принятые записи дописываются в шину в пределах DrainTimeout.
// Любое неопубликованное событие (исчерпаны попытки, истек дренаж)
// возвращается как ошибка.
func (n *Normalizer) Run(ctx context.Context, in <-chan models.RawLog) error {
	pubCtx, stopPublish := context.WithCancelCause(context.WithoutCancel(ctx))
	defer stopPublish(nil)
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	shards := make([]chan *models.NormalizedEvent, n.cfg.MaxInFlight)
	var (
		wg   sync.WaitGroup
		once sync.Once
		lost atomic.Int64
	)

	for i := range shards {
		shards[i] = make(chan *models.NormalizedEvent, 64)
		wg.Add(1)
		go func(ch <-chan *models.NormalizedEvent) {
			defer wg.Done()
			for ev := range ch {
				if pubCtx.Err() != nil {
					lost.Add(1)
					metrics.RecordNormalized(resultFailed)
					continue
				}
				if err := n.Publish(pubCtx, ev); err != nil {
					lost.Add(1)
					metrics.RecordNormalized(resultFailed)
					once.Do(func() {
						n.logger.Error("publish failed, stopping",
							utils.EventID(ev.EventID), utils.OfferID(ev.OfferID), utils.Err(err))
						stopReading()
						stopPublish(err)
					})
					continue
				}
				metrics.RecordNormalized(resultPublished)
				n.logger.Debug("event published",
					utils.EventID(ev.EventID), utils.OfferID(ev.OfferID),
					utils.EventType(string(ev.EventType)), utils.Slot(ev.Slot))
			}
		}(shards[i])
	}

	n.logger.Info("normalizer started",
		utils.Int("max_in_flight", n.cfg.MaxInFlight), utils.Topic(n.cfg.Topic))

	// отсчёт дренажа начинается с отмены ctx
	stopDrainTimer := context.AfterFunc(ctx, func() {
		n.logger.Info("draining accepted records", utils.Duration("timeout", n.cfg.DrainTimeout))
		time.AfterFunc(n.cfg.DrainTimeout, func() { stopPublish(ErrDrainTimeout) })
	})
	defer stopDrainTimer()

	lost.Add(n.dispatch(readCtx, pubCtx, in, shards))
	if ctx.Err() != nil && pubCtx.Err() == nil {
		lost.Add(n.drainInput(pubCtx, in, shards))
	}

	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()

	if count := lost.Load(); count > 0 {
		cause := context.Cause(pubCtx)
		n.logger.Error("events not published", utils.Int64("lost", count), utils.Err(cause))
		return fmt.Errorf("%d events not published: %w", count, cause)
	}
	return nil
}

// drainInput без ожидания разбирает записи, уже лежащие в in.
// Возвращает число событий, которые не удалось поставить в очередь.
func (n *Normalizer) drainInput(ctx context.Context, in <-chan models.RawLog, shards []chan *models.NormalizedEvent) int64 {
	var lost int64
	for {
		select {
		case raw, ok := <-in:
			if !ok {
				return lost
			}
			if !n.route(ctx, raw, shards) {
				lost++
			}
		default:
			return lost
		}
	}
}

// dispatch читает in до закрытия или отмены readCtx. Постановка в очередь
// ждёт воркеров и прерывается только отменой публикации (pubCtx).
func (n *Normalizer) dispatch(readCtx, pubCtx context.Context, in <-chan models.RawLog, shards []chan *models.NormalizedEvent) int64 {
	for {
		var raw models.RawLog
		var ok bool
		select {
		case <-readCtx.Done():
			return 0
		case raw, ok = <-in:
			if !ok {
				return 0
			}
		}
		if !n.route(pubCtx, raw, shards) {
			return 1
		}
	}
}

// route нормализует запись и ставит событие в очередь шарда по offer_id.
// false - событие не поставлено, потому что ctx отменён.
func (n *Normalizer) route(ctx context.Context, raw models.RawLog, shards []chan *models.NormalizedEvent) bool {
	ev, err := n.Normalize(raw)
	switch {
	case errors.Is(err, ErrNotEvent):
		metrics.RecordNormalized(resultSkipped)
		return true
	case err != nil:
		metrics.RecordNormalized(resultDropped)
		n.logger.Warn("dropping malformed log record",
			utils.Signature(raw.Signature), utils.Slot(raw.Slot),
			utils.Uint64("log_index", uint64(raw.LogIndex)), utils.Err(err))
		return true
	}

	shard := shards[xxhash.Sum64String(ev.OfferID)%uint64(len(shards))]
	select {
	case shard <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
