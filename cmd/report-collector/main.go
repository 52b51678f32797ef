package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ruteri/mpc-helper/api/clients"
	"github.com/ruteri/mpc-helper/cmd/flags"
	"github.com/ruteri/mpc-helper/config"
	"github.com/ruteri/mpc-helper/interfaces"
)

var flagQueryID = &cli.StringFlag{
	Name:     "query-id",
	Required: true,
	Usage:    "id of the query",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 10 * time.Minute,
	Usage: "overall deadline",
}

func main() {
	app := &cli.App{
		Name:  "report-collector",
		Usage: "Submit queries to a helper ring and collect the results",
		Flags: []cli.Flag{
			flags.NetworkFlag,
			flags.LogJsonFlag,
			flags.LogDebugFlag,
			flags.LogServiceFlagFn("report-collector"),
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Create a query, upload one input per helper and print every helper's output",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "input",
						Usage: "input file of H1, H2 and H3, in that order",
					},
					&cli.StringFlag{
						Name:  "input-dir",
						Usage: "directory holding h1.bin, h2.bin and h3.bin, instead of --input",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "write each helper's output to <dir>/h<n>.out instead of printing it",
					},
					&cli.UintFlag{
						Name:  "leader",
						Value: 1,
						Usage: "helper that receives the query",
					},
					&cli.StringFlag{
						Name:  "query-type",
						Value: string(interfaces.QueryTypeRelay),
						Usage: "query type",
					},
					&cli.IntFlag{
						Name:  "record-size",
						Value: 8,
						Usage: "size of one input record in bytes",
					},
				},
				Action: runQuery,
			},
			{
				Name:   "status",
				Usage:  "Print the status of a query on every helper",
				Flags:  []cli.Flag{flagQueryID},
				Action: queryStatus,
			},
			{
				Name:   "kill",
				Usage:  "Kill a query on every helper",
				Flags:  []cli.Flag{flagQueryID},
				Action: killQuery,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func helperClients(cCtx *cli.Context) (map[interfaces.HelperIdentity]*clients.HelperClient, error) {
	data, format, err := flags.LoadNetwork(cCtx)
	if err != nil {
		return nil, err
	}
	network, err := config.ParseRingNetwork(data, format)
	if err != nil {
		return nil, err
	}
	return clients.ForNetwork(network, clients.ClientIdentity{})
}

func readInputs(cCtx *cli.Context) ([3][]byte, error) {
	var inputs [3][]byte
	paths := cCtx.StringSlice("input")
	if dir := cCtx.String("input-dir"); dir != "" {
		paths = nil
		for _, h := range interfaces.AllHelpers() {
			paths = append(paths, filepath.Join(dir, fmt.Sprintf("h%d.bin", h.AsIndex()+1)))
		}
	}
	if len(paths) != len(inputs) {
		return inputs, fmt.Errorf("expected 3 inputs, got %d", len(paths))
	}
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return inputs, err
		}
		inputs[i] = data
	}
	return inputs, nil
}

func runQuery(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	helpers, err := helperClients(cCtx)
	if err != nil {
		return err
	}
	inputs, err := readInputs(cCtx)
	if err != nil {
		return err
	}
	leader, err := interfaces.NewHelperIdentity(int(cCtx.Uint("leader")))
	if err != nil {
		return err
	}

	cfg := interfaces.QueryConfig{
		QueryType:  interfaces.QueryType(cCtx.String("query-type")),
		RecordSize: cCtx.Int("record-size"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	start := time.Now()
	queryID, err := helpers[leader].CreateQuery(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating query: %w", err)
	}
	logger.Info("query created", "queryID", queryID, "leader", leader.String())

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range interfaces.AllHelpers() {
		h := h
		g.Go(func() error {
			if err := helpers[h].QueryInput(gctx, queryID, bytes.NewReader(inputs[h.AsIndex()])); err != nil {
				return fmt.Errorf("input to %s: %w", h, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("uploading inputs failed, killing query", "queryID", queryID, "err", err)
		killAll(context.Background(), logger, helpers, queryID)
		return err
	}

	var outputs [3][]byte
	g, gctx = errgroup.WithContext(ctx)
	for _, h := range interfaces.AllHelpers() {
		h := h
		g.Go(func() error {
			out, err := helpers[h].CompleteQuery(gctx, queryID)
			if err != nil {
				return fmt.Errorf("completing on %s: %w", h, err)
			}
			outputs[h.AsIndex()] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("query completed", "queryID", queryID, "duration", time.Since(start))

	return writeOutputs(cCtx.String("output-dir"), outputs)
}

func writeOutputs(dir string, outputs [3][]byte) error {
	for _, h := range interfaces.AllHelpers() {
		out := outputs[h.AsIndex()]
		if dir == "" {
			fmt.Printf("%s: %d bytes %s\n", h, len(out), hex.EncodeToString(out))
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("h%d.out", h.AsIndex()+1)), out, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func queryStatus(cCtx *cli.Context) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	helpers, err := helperClients(cCtx)
	if err != nil {
		return err
	}
	queryID, err := interfaces.ParseQueryID(cCtx.String(flagQueryID.Name))
	if err != nil {
		return err
	}
	for _, h := range interfaces.AllHelpers() {
		status, err := helpers[h].QueryStatus(ctx, queryID)
		if err != nil {
			fmt.Printf("%s: %v\n", h, err)
			continue
		}
		fmt.Printf("%s: %s\n", h, status)
	}
	return nil
}

func killQuery(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	helpers, err := helperClients(cCtx)
	if err != nil {
		return err
	}
	queryID, err := interfaces.ParseQueryID(cCtx.String(flagQueryID.Name))
	if err != nil {
		return err
	}
	killAll(ctx, logger, helpers, queryID)
	return nil
}

func killAll(ctx context.Context, logger *slog.Logger, helpers map[interfaces.HelperIdentity]*clients.HelperClient, queryID interfaces.QueryID) {
	for _, h := range interfaces.AllHelpers() {
		if err := helpers[h].KillQuery(ctx, queryID); err != nil {
			logger.Warn("kill failed", "helper", h.String(), "queryID", queryID, "err", err)
			continue
		}
		logger.Info("query killed", "helper", h.String(), "queryID", queryID)
	}
}
