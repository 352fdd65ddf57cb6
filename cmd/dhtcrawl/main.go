package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/arrowhead-labs/dhtcrawl/internal/dht"
	"github.com/arrowhead-labs/dhtcrawl/internal/logging"
)

func main() {
	setupLogger()

	app := &cli.App{
		Name:      "dhtcrawl",
		Usage:     "scrape peers for an info_hash, or crawl the mainline DHT for info_hashes",
		ArgsUsage: "[info_hash]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 6881, Usage: "UDP port to bind (falls back to an ephemeral port if taken)"},
			&cli.IntFlag{Name: "timeout", Value: 30, Usage: "scrape timeout in seconds, or crawl duration (0 = infinite)"},
			&cli.IntFlag{Name: "query-interval", Value: 3, Usage: "crawler active find_node cadence, in seconds"},
		},
		Action: run,
	}

	// app.Run already exits with the right code for cli.Exit errors via
	// HandleExitCoder; anything else reaching here is a runtime failure.
	if err := app.Run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(2)
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}

func run(c *cli.Context) error {
	port := c.Int("port")
	if port < 1 || port > 65535 {
		return cli.Exit(fmt.Sprintf("invalid port %d", port), 1)
	}

	queryInterval := c.Int("query-interval")
	if queryInterval < 1 {
		return cli.Exit(fmt.Sprintf("invalid query-interval %d, must be >= 1", queryInterval), 1)
	}

	timeoutSecs := c.Int("timeout")
	if timeoutSecs < 0 {
		return cli.Exit(fmt.Sprintf("invalid timeout %d", timeoutSecs), 1)
	}

	var infoHash *dht.NodeID
	if arg := c.Args().First(); arg != "" {
		h, err := parseInfoHash(arg)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		infoHash = &h
	}

	cfg := dht.DefaultConfig()
	cfg.ListenAddr = net.JoinHostPort("", strconv.Itoa(port))
	cfg.QueryInterval = queryInterval

	engine, err := dht.NewEngine(cfg, slog.Default())
	if err != nil {
		return cli.Exit(fmt.Sprintf("creating engine: %v", err), 2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("starting engine: %v", err), 2)
	}
	defer engine.Stop()

	if infoHash != nil {
		return runScrape(ctx, engine, *infoHash, time.Duration(timeoutSecs)*time.Second)
	}
	return runCrawl(ctx, engine, queryInterval, time.Duration(timeoutSecs)*time.Second)
}

func runScrape(ctx context.Context, engine *dht.Engine, infoHash dht.NodeID, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	peers, err := engine.ScrapePeers(ctx, infoHash, timeout)
	if err != nil {
		return cli.Exit(fmt.Sprintf("scrape failed: %v", err), 2)
	}

	slog.Info("scrape complete", "info_hash", hex.EncodeToString(infoHash[:]), "peers", len(peers))
	for _, p := range peers {
		fmt.Println(p.String())
	}

	return nil
}

func runCrawl(ctx context.Context, engine *dht.Engine, queryInterval int, duration time.Duration) error {
	engine.SetOnDiscovery(func(infoHash dht.NodeID, source *net.UDPAddr, tag dht.DiscoveryTag) {
		slog.Debug("discovered info_hash", "info_hash", hex.EncodeToString(infoHash[:]), "source", source, "tag", tag)
	})

	onProgress := func(stats dht.ProgressStats) {
		slog.Info("crawl progress",
			"elapsed_s", stats.ElapsedSeconds,
			"unique_hashes", stats.UniqueHashes,
			"discoveries_per_min", stats.DiscoveriesPerMin,
			"total_requests", stats.TotalRequests,
			"routing_table_size", stats.RoutingTableSize,
			"bep51_sent", stats.BEP51SamplesSent,
			"bep51_recv", stats.BEP51SamplesRecv,
		)
	}

	if err := engine.Crawl(ctx, queryInterval, duration, onProgress); err != nil {
		return cli.Exit(fmt.Sprintf("crawl failed: %v", err), 2)
	}
	return nil
}

func parseInfoHash(s string) (dht.NodeID, error) {
	var id dht.NodeID

	if len(s) != 40 {
		return id, fmt.Errorf("info_hash must be 40 hex characters, got %d", len(s))
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("info_hash is not valid hex: %w", err)
	}

	copy(id[:], decoded)
	return id, nil
}
