package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/race/bot"
	"github.com/mcdev12/typerace/go/internal/race/memstore"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/race/service"
	"github.com/mcdev12/typerace/go/internal/race/transport/memory"
	"github.com/mcdev12/typerace/go/internal/race/transport/natsbus"
)

type options struct {
	serviceURL string
	natsURL    string
	name       string
	timeout    time.Duration
	vote       bool
	profile    bot.Profile

	// host and swarm
	players  int
	mode     string
	duration int

	local bool
}

// backend is where racers meet: the deployed service and NATS, or an
// in-process hub and store.
type backend struct {
	cfg        config.Config
	store      racesync.Store
	transports func(ctx context.Context, clientID string) (racesync.Transport, error)
	close      func()
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{profile: bot.DefaultProfile()}

	cmd := &cobra.Command{
		Use:          "racebot",
		Short:        "scripted racers for load and soak testing",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.serviceURL, "service-url",
		config.GetEnv("RACE_SERVICE_URL", "http://localhost:8080"),
		"race service base URL")
	cmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url",
		config.GetEnv("NATS_URL", nats.DefaultURL),
		"NATS server URL")
	cmd.PersistentFlags().StringVar(&opts.name, "name", "bot", "display name prefix")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute,
		"give up on a race after this long")
	cmd.PersistentFlags().BoolVar(&opts.vote, "vote", false, "vote for a rematch after the race")
	cmd.PersistentFlags().IntVar(&opts.profile.WPM, "wpm", opts.profile.WPM, "typing speed")
	cmd.PersistentFlags().Float64Var(&opts.profile.ErrorRate, "error-rate", opts.profile.ErrorRate,
		"chance of a corrected mistake per character")
	cmd.PersistentFlags().Float64Var(&opts.profile.Jitter, "jitter", opts.profile.Jitter,
		"random spread of the key interval")

	cmd.AddCommand(newHostCmd(opts))
	cmd.AddCommand(newJoinCmd(opts))
	cmd.AddCommand(newSwarmCmd(opts))
	return cmd
}

func addRoomFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntVar(&opts.players, "players", 2, "start once this many players are present")
	cmd.Flags().StringVar(&opts.mode, "mode", string(models.RaceModeTime), "race mode: time or words")
	cmd.Flags().IntVar(&opts.duration, "duration", 0, "race duration in seconds (0 uses the default)")
}

func newHostCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "create a room, wait for players and race",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := remoteBackend(opts)
			if err != nil {
				return err
			}
			defer b.close()

			hostID := clientID(opts.name)
			code, err := createRoom(ctx, b, hostID, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s\n", code)
			return runRacer(ctx, b, code, hostID, opts, bot.AsHost(opts.players))
		},
	}
	addRoomFlags(cmd, opts)
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "join an existing room and race",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := remoteBackend(opts)
			if err != nil {
				return err
			}
			defer b.close()

			code := strings.ToUpper(strings.TrimSpace(args[0]))
			return runRacer(ctx, b, code, clientID(opts.name), opts)
		},
	}
}

func newSwarmCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "run a host and its joiners in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var b *backend
			var err error
			if opts.local {
				b, err = localBackend()
			} else {
				b, err = remoteBackend(opts)
			}
			if err != nil {
				return err
			}
			defer b.close()

			if opts.players < 2 || opts.players > b.cfg.Race.MaxPlayers {
				return fmt.Errorf("players must be between 2 and %d", b.cfg.Race.MaxPlayers)
			}

			hostID := clientID(opts.name)
			code, err := createRoom(ctx, b, hostID, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s\n", code)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return runRacer(gctx, b, code, hostID, opts, bot.AsHost(opts.players))
			})
			for range opts.players - 1 {
				id := clientID(opts.name)
				g.Go(func() error {
					return runRacer(gctx, b, code, id, opts)
				})
			}
			return g.Wait()
		},
	}
	addRoomFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.local, "local", false, "use an in-process transport and store")
	return cmd
}

func remoteBackend(opts *options) (*backend, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	nc, err := natsbus.Connect(opts.natsURL)
	if err != nil {
		return nil, err
	}

	natsCfg := natsbus.DefaultConfig()
	natsCfg.PresenceBucket = cfg.NATS.PresenceBucket
	natsCfg.PresenceTTL = cfg.NATS.PresenceTTL

	return &backend{
		cfg:   cfg,
		store: service.NewClient(http.DefaultClient, opts.serviceURL),
		transports: func(ctx context.Context, clientID string) (racesync.Transport, error) {
			return natsbus.New(ctx, nc, clientID, natsCfg)
		},
		close: nc.Close,
	}, nil
}

func localBackend() (*backend, error) {
	cfg := config.Default()
	hub := memory.NewHub()
	return &backend{
		cfg:   cfg,
		store: memstore.New(cfg.Race),
		transports: func(_ context.Context, clientID string) (racesync.Transport, error) {
			return hub.Client(clientID), nil
		},
		close: func() {},
	}, nil
}

func createRoom(ctx context.Context, b *backend, hostID string, opts *options) (string, error) {
	room, err := b.store.CreateRoom(ctx, hostID, models.RaceSettings{
		Duration:   opts.duration,
		Mode:       models.RaceMode(opts.mode),
		MaxPlayers: max(opts.players, b.cfg.Race.MaxPlayers),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return room.Code, nil
}

func runRacer(ctx context.Context, b *backend, code, id string, opts *options, extra ...bot.Option) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	transport, err := b.transports(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to bind transport for %s: %w", id, err)
	}
	if cl, ok := transport.(interface{ Close(context.Context) error }); ok {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cl.Close(closeCtx)
		}()
	}

	session := race.New(code, displayName(opts.name, id), b.cfg.Race, b.store, transport)
	racerOpts := []bot.Option{}
	if opts.vote {
		racerOpts = append(racerOpts, bot.WithRematchVote())
	}
	racer := bot.New(session, opts.profile, append(racerOpts, extra...)...)

	snap, err := racer.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("bot %s: %w", id, err)
	}

	event := log.Info().Str("race_code", code).Str("client_id", id).Int("position", snap.Position)
	if snap.Result != nil {
		event = event.Int("wpm", snap.Result.WPM).Int("accuracy", snap.Result.FinalAccuracy)
	}
	event.Msg("bot finished race")
	return nil
}

func clientID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func displayName(prefix, id string) string {
	return fmt.Sprintf("%s %s", prefix, strings.TrimPrefix(id, prefix+"-"))
}
