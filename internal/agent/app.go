// Package agent assembles the device agent: local cache, remote clients,
// one synchronizer per entity kind, the feature coordinators, and the
// enforcement aggregator, all driven until a shutdown signal arrives.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fokuslabs/focusgate/internal/accountability"
	"github.com/fokuslabs/focusgate/internal/agent/config"
	"github.com/fokuslabs/focusgate/internal/cache"
	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/familylock"
	"github.com/fokuslabs/focusgate/internal/feed"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/regret"
	"github.com/fokuslabs/focusgate/internal/remote"
	"github.com/fokuslabs/focusgate/internal/schedule"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/fokuslabs/focusgate/internal/syncmgr"
	"github.com/fokuslabs/focusgate/internal/timers"
	"github.com/fokuslabs/focusgate/internal/websites"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store *cache.Store
	agg   *enforce.Aggregator

	timerSync    *syncer.Synchronizer[models.TimerState]
	websiteSync  *syncer.Synchronizer[models.BlockedWebsite]
	modeSync     *syncer.Synchronizer[models.FocusMode]
	scheduleSync *syncer.Synchronizer[models.Schedule]
	settingsSync *syncer.Synchronizer[models.UserSettings]
	statsSync    *syncer.Synchronizer[models.UserStats]
	partnerSync  *syncer.Synchronizer[models.Partnership]
	acfgSync     *syncer.Synchronizer[models.AccountabilityConfig]
	requestSync  *syncer.Synchronizer[models.UnlockRequest]
	approvalSync *syncer.Synchronizer[models.UnlockApproval]
	memberSync   *syncer.Synchronizer[models.FamilyMember]
	lockSync     *syncer.Synchronizer[models.FamilyLock]
	regretSync   *syncer.Synchronizer[models.RegretWindow]

	session *syncmgr.Coordinator

	timerService   *timers.Service
	scheduleCheck  *schedule.Checker
	regretService  *regret.Service
	websiteService *websites.Service
	accountability *accountability.Coordinator
	familyLocks    *familylock.Coordinator
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewText(os.Stdout).With("app", "agent")

	store, err := cache.Open(ctx, cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("cache init error: %w", err)
	}

	token, err := remote.FetchToken(ctx, cfg.GatewayAddr, cfg.DeviceID, cfg.DeviceSecret)
	if err != nil {
		// Offline start: the cache keeps serving and sign-in retries later.
		logger.Warn(ctx, "token fetch failed, starting offline", "error", err)
	}

	rstore := remote.NewHTTPStore(cfg.GatewayAddr, token)
	fd := feed.NewWSSubscriber(cfg.GatewayAddr, token, logger)

	app := &App{
		config: cfg,
		logger: logger,
		store:  store,

		timerSync:    syncer.New[models.TimerState](models.KindTimerState, store, rstore, fd, logger),
		websiteSync:  syncer.New[models.BlockedWebsite](models.KindBlockedWebsite, store, rstore, fd, logger),
		modeSync:     syncer.New[models.FocusMode](models.KindFocusMode, store, rstore, fd, logger),
		scheduleSync: syncer.New[models.Schedule](models.KindSchedule, store, rstore, fd, logger),
		settingsSync: syncer.New[models.UserSettings](models.KindUserSettings, store, rstore, fd, logger),
		statsSync:    syncer.New[models.UserStats](models.KindUserStats, store, rstore, fd, logger),
		partnerSync:  syncer.New[models.Partnership](models.KindPartnership, store, rstore, fd, logger),
		acfgSync:     syncer.New[models.AccountabilityConfig](models.KindAccountabilityConfig, store, rstore, fd, logger),
		requestSync:  syncer.New[models.UnlockRequest](models.KindUnlockRequest, store, rstore, fd, logger),
		approvalSync: syncer.New[models.UnlockApproval](models.KindUnlockApproval, store, rstore, fd, logger),
		memberSync:   syncer.New[models.FamilyMember](models.KindFamilyMember, store, rstore, fd, logger),
		lockSync:     syncer.New[models.FamilyLock](models.KindFamilyLock, store, rstore, fd, logger),
		regretSync:   syncer.New[models.RegretWindow](models.KindRegretWindow, store, rstore, fd, logger),
	}

	backend := enforce.DetectBackend(cfg.HostsPath, cfg.ScanInterval, logger)
	app.agg = enforce.NewAggregator(backend, logger)

	app.session = syncmgr.New(logger,
		app.timerSync, app.websiteSync, app.modeSync, app.scheduleSync,
		app.settingsSync, app.statsSync, app.partnerSync, app.acfgSync,
		app.requestSync, app.approvalSync, app.memberSync, app.lockSync,
		app.regretSync,
	)

	app.timerService = timers.New(app.timerSync, app.agg, cfg.UserID, cfg.DeviceID, logger)
	app.scheduleCheck = schedule.NewChecker(app.scheduleSync, app.agg, logger)
	app.regretService = regret.New(app.regretSync, app.settingsSync, app.agg, cfg.UserID, cfg.DeviceID, logger)
	app.websiteService = websites.New(app.websiteSync, app.agg, cfg.UserID, logger)
	app.accountability = accountability.New(app.partnerSync, app.acfgSync, app.requestSync,
		app.approvalSync, rstore, app.agg, cfg.UserID, cfg.DeviceID, logger)
	app.familyLocks = familylock.New(app.lockSync, app.memberSync, rstore, app.agg,
		cfg.UserID, cfg.DeviceID, logger)

	// An early timer stop arms a regret window when the user's settings
	// ask for one.
	app.timerService.OnEarlyStop = app.regretService.ArmOnEarlyStop
	app.accountability.OnUnlockApproved = func(requestID string) {
		logger.Info(ctx, "unlock request approved by partners", "request_id", requestID)
	}
	app.familyLocks.OnLockExpired = func(lockID string) {
		logger.Info(ctx, "family lock completed", "lock_id", lockID)
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run signs in, starts every feature loop, and blocks until a signal or a
// context cancellation stops the agent.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting agent...", "user_id", app.config.UserID, "device_id", app.config.DeviceID)

	app.initSignalHandler(cancelFunc)

	if err := app.session.SignIn(ctx, app.config.UserID); err != nil {
		app.logger.Warn(ctx, "sign-in failed, continuing from cache", "error", err)
	}
	app.logger.Info(ctx, "session status", "status", string(app.session.Status()))

	tick := app.config.RecheckInterval

	var wg sync.WaitGroup
	for _, loop := range []func(){
		func() { app.timerService.Run(ctx, tick) },
		func() { app.scheduleCheck.Run(ctx, tick) },
		func() { app.regretService.Run(ctx, tick) },
		func() { app.websiteService.Run(ctx) },
		func() { app.accountability.Run(ctx) },
		func() { app.familyLocks.Run(ctx, tick) },
		func() { app.watchFocusModes(ctx) },
	} {
		wg.Add(1)
		go func(run func()) {
			defer wg.Done()
			run()
		}(loop)
	}

	<-ctx.Done()
	app.logger.Info(ctx, "stopping agent...")

	app.session.SignOut()
	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "cache close error", "error", err)
	}
}

// watchFocusModes keeps the aggregator's app selection in step with the
// synced focus modes. The selection is the union of all mode names; the
// platform backend resolves names to processes.
func (app *App) watchFocusModes(ctx context.Context) {
	updates := app.modeSync.Updates()

	refresh := func() {
		modes, err := app.modeSync.List(ctx)
		if err != nil {
			app.logger.Warn(ctx, "failed to list focus modes", "error", err)
			return
		}
		var apps []string
		for _, m := range modes {
			apps = append(apps, m.Name)
		}
		app.agg.SetApps(apps)
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return
		case _, open := <-updates:
			if !open {
				return
			}
			refresh()
		}
	}
}
