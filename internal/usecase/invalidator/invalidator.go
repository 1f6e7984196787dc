package invalidator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

var errSubscriptionEnded = errors.New("subscription ended")

// Rebuilder выполняет полный пересчёт кэша отчётов.
type Rebuilder interface {
	Rebuild(ctx context.Context) ([]domain.CacheRecord, error)
}

// Config задаёт тайминги инвалидатора.
type Config struct {
	Debounce         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	RefreshInterval  time.Duration
}

// checkpoint — токен последнего увиденного события на момент старта пересчёта.
type checkpoint struct {
	token []byte
	seq   uint64
	epoch uint64
}

// Invalidator следит за журналом изменений постов и пересчитывает кэш отчётов.
//
// Чтение событий и пересчёт идут в разных горутинах и связаны каналом на один
// сигнал: события во время пересчёта схлопываются в ровно один следующий
// пересчёт, пересчёты не пересекаются. Токен возобновления сохраняется только
// после успешного пересчёта, начатого после соответствующего события.
type Invalidator struct {
	feed    domain.ChangeFeed
	tokens  domain.ResumeTokenStore
	rebuild Rebuilder
	cfg     Config
	log     zerolog.Logger

	trigger chan struct{}

	mu          sync.Mutex
	conn        State
	rebuilding  bool
	observed    []byte
	observedSeq uint64
	acked       []byte
	ackedSeq    uint64
	epoch       uint64
}

// New создаёт инвалидатор.
func New(feed domain.ChangeFeed, tokens domain.ResumeTokenStore, rebuild Rebuilder, cfg Config, logger zerolog.Logger) *Invalidator {
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	return &Invalidator{
		feed:    feed,
		tokens:  tokens,
		rebuild: rebuild,
		cfg:     cfg,
		log:     logger,
		trigger: make(chan struct{}, 1),
		conn:    StateIdle,
	}
}

// State возвращает текущее состояние.
func (inv *Invalidator) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.stateLocked()
}

// Run читает журнал изменений до отмены контекста.
func (inv *Invalidator) Run(ctx context.Context) {
	token, err := inv.tokens.Load(ctx)
	if err != nil {
		inv.log.Warn().Err(err).Msg("invalidator: не удалось загрузить токен, начинаем с полного пересчёта")
	}
	inv.mu.Lock()
	inv.acked = token
	inv.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inv.work(ctx)
	}()

	inv.watch(ctx)
	wg.Wait()
	inv.setConn(StateIdle)
	inv.log.Info().Msg("invalidator: остановлен")
}

func (inv *Invalidator) watch(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = inv.cfg.ReconnectInitial
	bo.MaxInterval = inv.cfg.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for ctx.Err() == nil {
		err := inv.session(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		inv.setConn(StateReconnecting)
		wait := bo.NextBackOff()
		inv.log.Warn().Err(err).Dur("retry_in", wait).Msg("invalidator: подписка потеряна, переподключаемся")
		if !sleep(ctx, wait) {
			return
		}
	}
}

// session держит одну подписку и возвращает причину её потери.
func (inv *Invalidator) session(ctx context.Context, bo backoff.BackOff) error {
	token := inv.ackedToken()
	stream, err := inv.feed.Watch(ctx, token)
	if errors.Is(err, domain.ErrResumeTokenLost) {
		inv.resync(ctx, "журнал больше не хранит токен возобновления")
		token = nil
		stream, err = inv.feed.Watch(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("подписка на изменения: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			inv.log.Debug().Err(err).Msg("invalidator: ошибка закрытия подписки")
		}
	}()

	if token == nil {
		inv.log.Info().Msg("invalidator: нет токена возобновления, полный пересчёт")
		inv.request()
	}
	bo.Reset()
	inv.setConn(StateWatching)

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrResumeTokenLost) {
				inv.resync(ctx, "журнал потерял позицию подписки")
			}
			return fmt.Errorf("чтение изменений: %w", err)
		}
		if ev.Operation != "" {
			metrics.IncChangeEvent(string(ev.Operation))
		}
		if ev.Terminal() {
			inv.resync(ctx, "подписка завершена событием "+string(ev.Operation))
			return fmt.Errorf("%w: %s", errSubscriptionEnded, ev.Operation)
		}
		if !ev.Mutation() {
			continue
		}
		inv.observe(ev.ResumeToken)
		inv.request()
	}
}

func (inv *Invalidator) work(ctx context.Context) {
	var refresh <-chan time.Time
	if inv.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(inv.cfg.RefreshInterval)
		defer ticker.Stop()
		refresh = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-inv.trigger:
			if !sleep(ctx, inv.cfg.Debounce) {
				return
			}
			// Сигналы за время ожидания покрываются этим пересчётом.
			select {
			case <-inv.trigger:
			default:
			}
		case <-refresh:
			inv.log.Debug().Msg("invalidator: плановое обновление отчётов")
		}
		inv.runRebuild(ctx)
	}
}

func (inv *Invalidator) runRebuild(ctx context.Context) {
	cp := inv.snapshot()
	inv.setRebuilding(true)
	start := time.Now()
	records, err := inv.rebuild.Rebuild(ctx)
	inv.setRebuilding(false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		inv.log.Error().Err(err).Msg("invalidator: пересчёт не удался, повторим")
		if sleep(ctx, inv.cfg.ReconnectInitial) {
			inv.request()
		}
		return
	}
	inv.log.Info().Int("channels", len(records)).Dur("took", time.Since(start)).Msg("invalidator: кэш отчётов пересчитан")
	inv.ack(ctx, cp)
}

// request ставит сигнал на пересчёт, если он ещё не стоит.
func (inv *Invalidator) request() {
	select {
	case inv.trigger <- struct{}{}:
	default:
	}
}

func (inv *Invalidator) observe(token []byte) {
	if len(token) == 0 {
		return
	}
	inv.mu.Lock()
	inv.observed = bytes.Clone(token)
	inv.observedSeq++
	inv.mu.Unlock()
}

// resync сбрасывает токены и запрашивает полный пересчёт.
func (inv *Invalidator) resync(ctx context.Context, reason string) {
	inv.log.Warn().Str("reason", reason).Msg("invalidator: ресинхронизация полным пересчётом")
	inv.mu.Lock()
	inv.acked = nil
	inv.observed = nil
	inv.epoch++
	inv.mu.Unlock()
	if err := inv.tokens.Clear(ctx); err != nil {
		inv.log.Error().Err(err).Msg("invalidator: не удалось удалить токен возобновления")
	}
	inv.request()
}

func (inv *Invalidator) snapshot() checkpoint {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return checkpoint{token: inv.observed, seq: inv.observedSeq, epoch: inv.epoch}
}

func (inv *Invalidator) ack(ctx context.Context, cp checkpoint) {
	inv.mu.Lock()
	if cp.token == nil || cp.epoch != inv.epoch || cp.seq <= inv.ackedSeq {
		inv.mu.Unlock()
		return
	}
	inv.acked = cp.token
	inv.ackedSeq = cp.seq
	inv.mu.Unlock()

	if err := inv.tokens.Save(ctx, cp.token); err != nil {
		inv.log.Error().Err(err).Msg("invalidator: не удалось сохранить токен возобновления")
	}
}

func (inv *Invalidator) ackedToken() []byte {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.acked
}

func (inv *Invalidator) setConn(s State) {
	inv.mu.Lock()
	inv.conn = s
	state := inv.stateLocked()
	inv.mu.Unlock()
	metrics.SetInvalidatorState(int(state))
}

func (inv *Invalidator) setRebuilding(v bool) {
	inv.mu.Lock()
	inv.rebuilding = v
	state := inv.stateLocked()
	inv.mu.Unlock()
	metrics.SetInvalidatorState(int(state))
}

func (inv *Invalidator) stateLocked() State {
	if inv.rebuilding {
		return StateInvalidating
	}
	return inv.conn
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
