package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viaclara/clarad/internal/assistant"
	"github.com/viaclara/clarad/internal/authz"
	"github.com/viaclara/clarad/internal/config"
	"github.com/viaclara/clarad/internal/db"
	"github.com/viaclara/clarad/internal/eventbus"
	"github.com/viaclara/clarad/internal/executor"
	"github.com/viaclara/clarad/internal/ledger"
	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/perm"
	"github.com/viaclara/clarad/internal/scene"
	"github.com/viaclara/clarad/internal/tracker"
)

// Services is a container for all application services.
// It manages initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Device cloud
	LIFX      *lifx.Client
	Directory *Directory

	// Authorization
	Perms *perm.Store
	Gate  *authz.Gate

	// Scene reconciliation
	Matcher *scene.Matcher
	Tracker *tracker.Tracker

	// Command execution
	Executor     *executor.Executor
	Collaborator assistant.Collaborator

	// Request-facing surface
	Control *ControlService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.LIFX = lifx.NewClient(
		cfg.LIFX.BaseURL,
		cfg.LIFX.Token,
		cfg.LIFX.Timeout.Duration(),
		cfg.LIFX.RateLimitRPS,
		cfg.LIFX.QuotaMax,
	)
	s.Directory = NewDirectory(s.LIFX, s.Bus)

	s.Perms = perm.NewStore(database.DB)
	s.Gate = authz.NewGate(s.Perms)

	s.Matcher = scene.NewMatcher(scene.Tolerances{
		Brightness: cfg.Matcher.BrightnessTolerance,
		Saturation: cfg.Matcher.SaturationTolerance,
		HueDegrees: cfg.Matcher.HueToleranceDegrees,
		Kelvin:     cfg.Matcher.KelvinTolerance,
		Threshold:  cfg.Matcher.MatchThreshold,
	})
	s.Tracker = tracker.New(s.Matcher, s.Directory, tracker.Config{
		PollInterval:      cfg.Tracker.PollInterval.Duration(),
		ActivationTimeout: cfg.Tracker.ActivationTimeout.Duration(),
		AllowOverlapping:  cfg.Tracker.AllowOverlapping,
	})
	s.Tracker.OnTransition(func(sceneUUID string, from, to tracker.Status) {
		s.Bus.Publish(eventbus.SceneTransition{
			SceneUUID: sceneUUID,
			From:      from.String(),
			To:        to.String(),
		})
	})

	s.Executor = executor.New(s.Gate, s.LIFX, s.Tracker, s.Ledger, executor.Config{
		ZoneCommandDelay: cfg.Executor.ZoneCommandDelay.Duration(),
		DefaultDuration:  cfg.Executor.DefaultDuration,
	})

	s.Collaborator = assistant.NewClient(assistant.Config{
		BaseURL:   cfg.Assistant.BaseURL,
		APIKey:    cfg.Assistant.APIKey,
		Model:     cfg.Assistant.Model,
		MaxTokens: cfg.Assistant.MaxTokens,
		Timeout:   cfg.Assistant.Timeout.Duration(),
	})

	s.Control = &ControlService{
		perms:        s.Perms,
		gate:         s.Gate,
		directory:    s.Directory,
		executor:     s.Executor,
		collaborator: s.Collaborator,
		tracker:      s.Tracker,
		bus:          s.Bus,
	}

	return s, nil
}

// Start brings the services up: verifies cloud connectivity, seeds default
// users, takes the first snapshot, and starts the tracker poll loop.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.LIFX.Connect(ctx); err != nil {
		return err
	}
	if err := s.Perms.EnsureDefaultUsers(ctx); err != nil {
		return err
	}

	// First directory read before requests arrive. Not fatal: the tracker
	// poll loop retries, and requests fail closed until it succeeds.
	if _, err := s.Directory.FetchSnapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial directory snapshot failed, will retry on poll")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Tracker.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	return nil
}

// Stop shuts down services in reverse dependency order.
func (s *Services) Stop() error {
	s.wg.Wait()

	timeout := s.cfg.ShutdownTimeout.Duration()
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Bus.Close(ctx)

	if err := s.LIFX.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close LIFX client")
	}
	if err := s.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
		return err
	}

	log.Info().Msg("All services stopped")
	return nil
}
