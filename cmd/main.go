package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/config"
	"github.com/Lumerin-protocol/contract-settlement/internal/handlers/httphandlers"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/notify"
	"github.com/Lumerin-protocol/contract-settlement/internal/repositories/ethereum"
	"github.com/Lumerin-protocol/contract-settlement/internal/repositories/memory"
	"github.com/Lumerin-protocol/contract-settlement/internal/repositories/postgres"
	"github.com/Lumerin-protocol/contract-settlement/internal/repositories/redislock"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/Lumerin-protocol/contract-settlement/internal/signature"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	err := start()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func start() error {
	var cfg config.Config
	err := config.LoadConfig(&cfg, &os.Args)
	if err != nil {
		return err
	}

	newLogger := func(name, level string) (*lib.Logger, error) {
		opts := lib.LoggerOptions{
			Level:  level,
			Color:  cfg.Log.Color,
			IsProd: cfg.Log.IsProd,
			JSON:   cfg.Log.JSON,
		}
		if cfg.Log.FolderPath != "" {
			opts.FilePath = filepath.Join(cfg.Log.FolderPath, name+".log")
		}
		return lib.NewLogger(opts)
	}

	appLog, err := newLogger("app", cfg.Log.LevelApp)
	if err != nil {
		return err
	}
	httpLog, err := newLogger("http", cfg.Log.LevelHTTP)
	if err != nil {
		return err
	}
	settlementLog, err := newLogger("settlement", cfg.Log.LevelSettlement)
	if err != nil {
		return err
	}
	storageLog, err := newLogger("storage", cfg.Log.LevelStorage)
	if err != nil {
		return err
	}

	defer func() {
		_ = appLog.Sync()
		_ = httpLog.Sync()
		_ = settlementLog.Sync()
		_ = storageLog.Sync()
	}()

	appLog.Infof("contract settlement %s started", config.BuildVersion)
	appLog.Infof("config: %+v", cfg.GetSanitized())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-shutdownChan
		appLog.Warnf("Received signal: %s", s)
		cancel()

		s = <-shutdownChan
		appLog.Warnf("Received signal: %s. Forcing exit...", s)
		os.Exit(1)
	}()

	store, closeStore, err := newStore(ctx, &cfg, storageLog.Named("STORE"))
	if err != nil {
		return err
	}
	defer closeStore()

	locker, err := newLocker(ctx, &cfg, storageLog.Named("LOCK"))
	if err != nil {
		return err
	}

	ledger, err := newLedger(ctx, &cfg, settlementLog.Named("LEDGER"))
	if err != nil {
		return err
	}

	coordinator := settlement.NewCoordinator(
		ledger,
		settlement.RetryPolicy{
			MaxAttempts: cfg.Settlement.MaxAttempts,
			BaseDelay:   cfg.Settlement.BaseDelay,
			MaxDelay:    cfg.Settlement.MaxDelay,
		},
		rate.NewLimiter(rate.Limit(cfg.Settlement.RateLimit), cfg.Settlement.RateBurst),
		settlementLog.Named("COORDINATOR"),
	)

	svc := service.NewContractService(
		service.Config{
			DefaultExpiry:    cfg.Contract.DefaultExpiry,
			MaxDocumentBytes: cfg.Contract.MaxDocumentBytes,
			LockTimeout:      cfg.Contract.LockTimeout,
		},
		store,
		locker,
		signature.NewCollector(signature.NewEthereumVerifier(), appLog.Named("SIGNATURES")),
		coordinator,
		notify.NewLogNotifier(appLog.Named("NOTIFY")),
		lib.NewSystemClock(),
		appLog.Named("SERVICE"),
	)

	err = svc.Recover(ctx)
	if err != nil {
		return lib.WrapError(errors.New("settlement recovery failed"), err)
	}

	handl := httphandlers.NewHTTPHandler(svc, coordinator, &cfg, httphandlers.HTTPHandlerConfig{
		AdminToken:    cfg.Web.AdminToken,
		CallbackToken: cfg.Settlement.CallbackToken,
	}, httpLog.Named("HTTP"))

	server := &http.Server{
		Addr:              cfg.Web.Address,
		Handler:           handl,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := lib.NewTask("expiry-sweeper", service.NewSweeper(cfg.Contract.SweepInterval, svc, appLog.Named("SWEEPER")), appLog)
	poller := lib.NewTask("settlement-poller", service.NewSettlementPoller(cfg.Settlement.PollInterval, svc, settlementLog.Named("POLLER")), settlementLog)

	g, ctx := errgroup.WithContext(ctx)

	sweeper.Start(ctx)
	poller.Start(ctx)

	g.Go(func() error {
		httpLog.Infof("http server is listening: %s", cfg.Web.Address)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	<-sweeper.Stop()
	<-poller.Stop()

	appLog.Infof("App exited due to %s", context.Cause(ctx))
	return err
}

func newStore(ctx context.Context, cfg *config.Config, log interfaces.ILogger) (service.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Storage.DatabaseURL, int32(cfg.Storage.MaxConns))
		if err != nil {
			return nil, nil, lib.WrapError(errors.New("cannot connect to database"), err)
		}
		if cfg.Storage.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, lib.WrapError(errors.New("migration failed"), err)
			}
			log.Infof("database migrated")
		}
		log.Infof("using postgres storage")
		return postgres.NewContractStore(pool), pool.Close, nil
	default:
		log.Warnf("using in-memory storage, contracts are lost on restart")
		return memory.NewContractStore(), func() {}, nil
	}
}

func newLocker(ctx context.Context, cfg *config.Config, log interfaces.ILogger) (service.Locker, error) {
	switch cfg.Lock.Driver {
	case "redis":
		client := redislock.NewClient(cfg.Lock.RedisAddress, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		locker := redislock.NewLocker(client, "contract-settlement:", cfg.Lock.TTL, cfg.Lock.RetryInterval, log)
		if err := locker.Ping(ctx); err != nil {
			return nil, lib.WrapError(errors.New("cannot connect to redis"), err)
		}
		log.Infof("using redis locks at %s", cfg.Lock.RedisAddress)
		return locker, nil
	default:
		return lib.NewKeyedMutex(), nil
	}
}

func newLedger(ctx context.Context, cfg *config.Config, log interfaces.ILogger) (settlement.Ledger, error) {
	if cfg.Settlement.Ledger != "ethereum" {
		log.Warnf("using in-memory ledger, settlements are simulated")
		return settlement.NewMemoryLedger(), nil
	}

	client, err := ethereum.DialContext(ctx, cfg.Settlement.EthNodeAddress)
	if err != nil {
		return nil, lib.WrapError(errors.New("cannot connect to ethereum node"), err)
	}
	log.Infof("connected to ethereum node: %s", client.URL())

	var wallet *ethereum.Wallet
	if cfg.Settlement.Mnemonic != "" {
		wallet, err = ethereum.NewWalletFromMnemonic(cfg.Settlement.Mnemonic, cfg.Settlement.AccountIndex)
	} else {
		wallet, err = ethereum.NewWalletFromPrivateKey(cfg.Settlement.WalletPrivateKey)
	}
	if err != nil {
		return nil, lib.WrapError(errors.New("cannot load wallet"), err)
	}
	log.Infof("settlement wallet: %s", wallet.Address().Hex())

	return ethereum.NewLedger(ethereum.LedgerConfig{
		SettlementAddr: common.HexToAddress(cfg.Settlement.ContractAddress),
		LegacyTx:       cfg.Settlement.EthLegacyTx,
		GasLimit:       cfg.Settlement.GasLimit,
		Confirmations:  cfg.Settlement.Confirmations,
	}, client, wallet, log), nil
}
