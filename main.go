package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	fcmetrics "github.com/ipfs-force-community/metrics"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/plugin/ochttp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/sophon-bridge/api"
	"github.com/ipfs-force-community/sophon-bridge/approval"
	"github.com/ipfs-force-community/sophon-bridge/broker"
	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/cmds"
	"github.com/ipfs-force-community/sophon-bridge/config"
	bridgemetrics "github.com/ipfs-force-community/sophon-bridge/metrics"
	"github.com/ipfs-force-community/sophon-bridge/nodeclient"
	"github.com/ipfs-force-community/sophon-bridge/relay"
	"github.com/ipfs-force-community/sophon-bridge/signer"
	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
	"github.com/ipfs-force-community/sophon-bridge/version"
)

var log = logging.Logger("main")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:  "sophon-bridge",
		Usage: "bridge between dApp pages and the wallet approval surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "host address and port the bridge api will listen on",
				Value: "/ip4/127.0.0.1/tcp/45132",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "directory holding config and persisted wallet state",
				Value: "~/.sophon-bridge",
			},
		},
		Commands: []*cli.Command{
			runCmd, cmds.SessionCmds, cmds.PendingCmds,
		},
	}
	app.Version = version.UserVersion
	if err := app.Run(os.Args); err != nil {
		log.Warn(err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start sophon-bridge daemon",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "dev", Usage: "generate two unlocked in-memory accounts"},
		&cli.BoolFlag{Name: "enable-eth-sign", Usage: "allow the legacy eth_sign method"},
		&cli.StringFlag{Name: "jaeger-proxy", EnvVars: []string{"SOPHON_BRIDGE_JAEGER_PROXY"}},
		&cli.Float64Flag{Name: "trace-sampler", EnvVars: []string{"SOPHON_BRIDGE_TRACE_SAMPLER"}, Value: 1.0},
		&cli.StringFlag{Name: "trace-node-name", Value: "sophon-bridge"},
	},
	Action: func(cctx *cli.Context) error {
		repoPath, err := homedir.Expand(cctx.String("repo"))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(repoPath, 0755); err != nil {
			return err
		}

		cfgPath := filepath.Join(repoPath, config.ConfigFile)
		cfg, err := config.ReadConfig(cfgPath)
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
			if err := config.WriteConfig(cfgPath, cfg); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if cctx.IsSet("listen") {
			cfg.API.ListenAddress = cctx.String("listen")
		}
		if cctx.Bool("enable-eth-sign") {
			cfg.EnableEthSign = true
		}
		if proxy := cctx.String("jaeger-proxy"); len(proxy) > 0 {
			cfg.Trace.JaegerTracingEnabled = true
			cfg.Trace.JaegerEndpoint = proxy
			cfg.Trace.ProbabilitySampler = cctx.Float64("trace-sampler")
			cfg.Trace.ServerName = cctx.String("trace-node-name")
		}

		return RunMain(cctx.Context, cfg, repoPath, cctx.Bool("dev"))
	},
}

func RunMain(ctx context.Context, cfg *config.Config, repoPath string, dev bool) error {
	requestCfg := toRequestConfig(cfg.Request)

	log.Infof("sophon-bridge current version %s, listen %s", version.UserVersion, cfg.API.ListenAddress)

	store := storage.NewFileStore(filepath.Join(repoPath, cfg.Node.StatePath))
	chainReg := chains.NewRegistry(ctx, store, cfg.Node.DefaultChainID)
	memSigner := signer.NewMemSigner()
	node := nodeclient.New()

	b := broker.NewBroker(ctx, requestCfg, store, chainReg, memSigner, node)
	b.SetEnableEthSign(cfg.EnableEthSign)
	if dev {
		var accounts []common.Address
		for i := 0; i < 2; i++ {
			addr, err := memSigner.AddKey()
			if err != nil {
				return err
			}
			accounts = append(accounts, addr)
		}
		b.SetUnlockedAccounts(ctx, accounts)
		log.Infof("dev accounts unlocked: %v", accounts)
	}

	frontend := approval.NewFrontend(b, chainReg, node)
	b.SetApprovalOpener(func(pr *types.PendingRequest) {
		log.Infow("approval required", "id", pr.ID, "method", pr.Method, "origin", pr.Origin)
	})

	bridgeAPIImpl := api.NewBridgeAPIImpl(b, frontend)

	log.Info("Setting up control endpoint at " + cfg.API.ListenAddress)

	var bridgeStruct api.BridgeStruct
	api.PermissionProxy(bridgeAPIImpl, &bridgeStruct)

	pageRelay := relay.New(b, b.Sessions(), requestCfg)

	router := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Bridge", &bridgeStruct)
	router.Handle("/rpc/v1", rpcServer)
	router.Handle("/tab", pageRelay.Handler())
	router.Handle("/healthcheck", healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker("store", healthcheck.CheckerFunc(func(ctx context.Context) error {
			_, err := store.Get(ctx, nil)
			return err
		})),
	))
	router.PathPrefix("/").Handler(http.DefaultServeMux)

	if err := bridgemetrics.SetupMetrics(ctx, cfg.Metrics, bridgeAPIImpl); err != nil {
		return err
	}

	handler := (http.Handler)(router)
	if repoter, err := fcmetrics.SetupJaegerTracing(cfg.Trace.ServerName, cfg.Trace); err != nil {
		log.Fatalf("register %s JaegerRepoter to %s failed:%s", cfg.Trace.ServerName, cfg.Trace.JaegerEndpoint, err)
	} else if repoter != nil {
		log.Infof("register jaeger-tracing exporter to %s, with node-name:%s", cfg.Trace.JaegerEndpoint, cfg.Trace.ServerName)
		defer fcmetrics.ShutdownJaeger(ctx, repoter)
		handler = &ochttp.Handler{Handler: handler}
	}
	srv := &http.Server{Handler: handler}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-ctx.Done():
			log.Warn("received shutdown")
		}

		log.Info("Shutting down...")
		bridgemetrics.ApiState.Set(ctx, 0)
		if err := srv.Shutdown(context.TODO()); err != nil {
			log.Errorf("shutting down RPC server failed: %s", err)
		}
	}()

	addr, err := multiaddr.NewMultiaddr(cfg.API.ListenAddress)
	if err != nil {
		return err
	}

	nl, err := manet.Listen(addr)
	if err != nil {
		return err
	}

	log.Infof("start to rpc listen %s", nl.Addr())
	bridgemetrics.ApiState.Set(ctx, 1)
	if err = srv.Serve(manet.NetListener(nl)); err != nil && err != http.ErrServerClosed {
		return err
	}

	log.Info("Graceful shutdown successful")
	return nil
}

func toRequestConfig(cfg *config.RequestConfig) *types.RequestConfig {
	out := types.DefaultRequestConfig()
	if cfg == nil {
		return out
	}
	if cfg.RequestQueueSize > 0 {
		out.RequestQueueSize = cfg.RequestQueueSize
	}
	if cfg.RPCTimeout > 0 {
		out.RPCTimeout = cfg.RPCTimeout
	}
	if cfg.ApprovalTimeout > 0 {
		out.ApprovalTimeout = cfg.ApprovalTimeout
	}
	if cfg.SubmitTimeout > 0 {
		out.SubmitTimeout = cfg.SubmitTimeout
	}
	if cfg.ClearInterval > 0 {
		out.ClearInterval = cfg.ClearInterval
	}
	if cfg.ReconnectAttempts > 0 {
		out.ReconnectAttempts = cfg.ReconnectAttempts
	}
	if cfg.ReconnectBackoff > 0 {
		out.ReconnectBackoff = cfg.ReconnectBackoff
	}
	if cfg.BroadcastGrace > 0 {
		out.BroadcastGrace = cfg.BroadcastGrace
	}
	return out
}
