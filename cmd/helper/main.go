package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/mpc-helper/api/clients"
	"github.com/ruteri/mpc-helper/api/handlers"
	"github.com/ruteri/mpc-helper/cmd/flags"
	"github.com/ruteri/mpc-helper/common"
	"github.com/ruteri/mpc-helper/config"
	"github.com/ruteri/mpc-helper/cryptoutils"
	"github.com/ruteri/mpc-helper/httpserver"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/metrics"
	"github.com/ruteri/mpc-helper/query"
	"github.com/ruteri/mpc-helper/transport"
)

var flagIdentity = &cli.UintFlag{
	Name:     "identity",
	Required: true,
	Usage:    "helper identity in the ring, 1 to 3",
}

var serveFlags = append([]cli.Flag{
	flagIdentity,
	flags.NetworkFlag,
	&cli.UintFlag{
		Name:  "shard-index",
		Value: 0,
		Usage: "index of this shard",
	},
	&cli.UintFlag{
		Name:  "shard-count",
		Value: 1,
		Usage: "number of shards of this helper; more than one requires shard_port on every peer",
	},
	&cli.UintFlag{
		Name:  "ring-port",
		Value: 3000,
		Usage: "port serving report collectors and ring peers",
	},
	&cli.UintFlag{
		Name:  "shard-port",
		Value: 6000,
		Usage: "port serving the other shards of this helper",
	},
	&cli.BoolFlag{
		Name:  "disable-https",
		Usage: "serve plain HTTP and talk to peers over http://, identifying them by the X-Origin header",
	},
	&cli.StringFlag{
		Name:  "tls-cert",
		Usage: "PEM certificate served to clients and presented to peers",
	},
	&cli.StringFlag{
		Name:  "tls-key",
		Usage: "PEM private key of --tls-cert",
	},
	flags.LogServiceFlagFn("mpc-helper"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "helper",
		Usage:  "Run an MPC helper party",
		Flags:  serveFlags,
		Action: runHelper,
		Commands: []*cli.Command{
			keygenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runHelper(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	identity, err := interfaces.NewHelperIdentity(int(cCtx.Uint(flagIdentity.Name)))
	if err != nil {
		return err
	}
	shardIndex := interfaces.ShardIndex(cCtx.Uint("shard-index"))
	shardCount := interfaces.ShardIndex(cCtx.Uint("shard-count"))
	disableHTTPS := cCtx.Bool("disable-https")
	logger = logger.With("helper", identity.String(), "shard", shardIndex.String())

	ringServer := config.ServerConfig{Port: uint16(cCtx.Uint("ring-port")), DisableHTTPS: disableHTTPS}
	shardServer := config.ServerConfig{Port: uint16(cCtx.Uint("shard-port")), DisableHTTPS: disableHTTPS}
	if !disableHTTPS {
		tlsFiles := &config.TLSConfig{CertFile: cCtx.String("tls-cert"), KeyFile: cCtx.String("tls-key")}
		ringServer.TLS, shardServer.TLS = tlsFiles, tlsFiles
	}
	if err := ringServer.Validate(); err != nil {
		return err
	}

	data, format, err := flags.LoadNetwork(cCtx)
	if err != nil {
		return err
	}
	var ringNetwork *config.NetworkConfig[interfaces.HelperIdentity]
	var shardNetwork *config.NetworkConfig[interfaces.ShardIndex]
	if shardCount > 1 {
		ringNetwork, shardNetwork, err = config.ShardedServerFromConfig(data, format, identity, shardIndex, shardCount)
	} else {
		ringNetwork, err = config.ParseRingNetwork(data, format)
	}
	if err != nil {
		return fmt.Errorf("loading network: %w", err)
	}

	var serverTLS *tls.Config
	self := clients.ClientIdentity{Origin: identity.String()}
	if disableHTTPS {
		if ringNetwork, err = ringNetwork.OverrideScheme(ringServer.Scheme()); err != nil {
			return err
		}
		if shardNetwork != nil {
			if shardNetwork, err = shardNetwork.OverrideScheme(shardServer.Scheme()); err != nil {
				return err
			}
		}
	} else {
		cert, err := ringServer.TLS.Certificate()
		if err != nil {
			return err
		}
		serverTLS = cryptoutils.ServerTLSConfig(cert)
		self.Certificate = &cert
	}

	metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
	if err != nil {
		return err
	}

	// ring
	ringClients, err := clients.ForNetwork(ringNetwork, self)
	if err != nil {
		return err
	}
	processor := query.NewProcessor(identity, logger, metrics.NewQueryMetrics(metricsSrv.Registerer()))
	ringTransport := transport.New(transport.Config[interfaces.HelperIdentity]{
		Identity: identity,
		Clients:  clients.PeerClients(ringClients),
		Handler:  processor,
		Log:      logger,
		Metrics:  metrics.NewTransportMetrics(metricsSrv.Registerer(), "ring"),
	})
	processor.Connect(ringTransport)

	ringCfg := flags.ConfigureServer(cCtx, logger, ringServer.ListenAddr())
	ringCfg.TLS = serverTLS
	ringCfg.Metrics = metricsSrv
	ringCfg.MetricsAddr = cCtx.String(flags.MetricsAddrFlag.Name)
	ring, err := httpserver.New(ringCfg, handlers.NewRingHandler(ringTransport, handlers.HelperIdentifier(ringNetwork, disableHTTPS), logger))
	if err != nil {
		return err
	}
	servers := []*httpserver.Server{ring}

	// shards
	if shardNetwork != nil {
		shard, err := newShardServer(cCtx, logger, shardIndex, shardNetwork, shardServer, serverTLS, self.Certificate, metricsSrv)
		if err != nil {
			return err
		}
		servers = append(servers, shard)
	}

	for _, srv := range servers {
		srv.RunInBackground()
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	logger.Info("Helper is running, press Ctrl+C to stop", "shards", shardCount.String())
	<-exit
	logger.Info("Shutdown signal received")

	for _, srv := range servers {
		srv.Shutdown()
	}
	logger.Info("Helper shutdown complete")
	return nil
}

func newShardServer(cCtx *cli.Context, logger *slog.Logger, shardIndex interfaces.ShardIndex, network *config.NetworkConfig[interfaces.ShardIndex], server config.ServerConfig, serverTLS *tls.Config, cert *tls.Certificate, metricsSrv *metrics.MetricsServer) (*httpserver.Server, error) {
	shardClients, err := clients.ForNetwork(network, clients.ClientIdentity{Origin: shardIndex.String(), Certificate: cert})
	if err != nil {
		return nil, err
	}
	shardTransport := transport.NewShard(
		shardIndex,
		clients.PeerClients(shardClients),
		query.NewShardHandler(logger),
		logger,
		metrics.NewTransportMetrics(metricsSrv.Registerer(), "shard"),
	)

	cfg := flags.ConfigureServer(cCtx, logger, server.ListenAddr())
	cfg.TLS = serverTLS
	return httpserver.New(cfg, handlers.NewShardHandler(shardTransport, handlers.ShardIdentifier(network, server.DisableHTTPS), logger))
}
