package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/foilportal/internal/api"
	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/calendar"
	"github.com/foilportal/internal/config"
	"github.com/foilportal/internal/database"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/internal/notify"
	"github.com/foilportal/internal/requests"
	"github.com/foilportal/internal/responses"
	"github.com/foilportal/internal/storage"
	"github.com/foilportal/internal/sweep"
	"github.com/foilportal/internal/users"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the portal API server and the nightly job queue",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadAndValidate(c)
			if err != nil {
				return err
			}
			log := newLogger()

			deps, err := buildDeps(cfg, log)
			if err != nil {
				return err
			}
			defer deps.db.Close()

			pool, err := database.NewPool(c.Context, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			queue, err := sweep.NewJobQueue(pool, deps.sweeper, sweep.DefaultQueueConfig(), log)
			if err != nil {
				return err
			}
			if err := queue.Start(c.Context); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				queue.Stop(ctx)
			}()

			port := cfg.Server.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}
			log.Info().Int("port", port).Msg("starting API server")

			server := api.NewServer(port, deps.db, deps.requests, deps.responses,
				deps.users, deps.events, deps.tokens, deps.dispatcher, deps.files, log)
			return server.Start()
		},
	}
}

type deps struct {
	db         *sql.DB
	requests   *requests.Service
	responses  *responses.Registry
	users      *users.Service
	events     *events.Repo
	tokens     *auth.TokenService
	dispatcher notify.Dispatcher
	files      *storage.Store
	sweeper    *sweep.Sweeper
}

// buildDeps wires the domain services from one config.
func buildDeps(cfg *config.Config, log zerolog.Logger) (*deps, error) {
	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	cal := calendar.New(time.Now().UTC(), cfg.Calendar.HolidayYearsAhead)
	eventsRepo := events.NewRepo(db)

	requestsSvc := requests.NewService(db, eventsRepo, cal, requests.Config{
		DueDays:                  cfg.Requests.DueDays,
		AgencyDescriptionDueDays: cfg.Requests.AgencyDescriptionDueDays,
	}, log)

	registry := responses.NewRegistry(db, eventsRepo, cal, responses.Config{
		ReleaseDays:        cfg.Requests.ReleaseDays,
		DefaultAgencyEmail: cfg.Mail.DefaultAgencyEmail,
	}, log)

	usersSvc := users.NewService(db, eventsRepo, log)

	var dispatcher notify.Dispatcher
	if cfg.Mail.Host != "" {
		dispatcher = notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host: cfg.Mail.Host,
			Port: cfg.Mail.Port,
			From: cfg.Mail.From,
		}, log)
	} else {
		dispatcher = notify.NewLogDispatcher(log)
	}

	files := storage.NewStore(storage.Config{
		Directory:         cfg.Uploads.Directory,
		MinBytes:          cfg.Uploads.MinBytes,
		MaxBytes:          cfg.Uploads.MaxBytes,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
	}, nil, log)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute, db)

	sweeper := sweep.NewSweeper(db, requestsSvc, eventsRepo, cal, dispatcher, sweep.Config{
		DueSoonDays:   cfg.Requests.DueSoonDays,
		OperatorEmail: cfg.Mail.OperatorEmail,
	}, log)

	return &deps{
		db:         db,
		requests:   requestsSvc,
		responses:  registry,
		users:      usersSvc,
		events:     eventsRepo,
		tokens:     tokens,
		dispatcher: dispatcher,
		files:      files,
		sweeper:    sweeper,
	}, nil
}
