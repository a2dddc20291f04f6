package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	echoadapter "github.com/awslabs/aws-lambda-go-api-proxy/echo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	peloton "github.com/jcherniak/peloton-api"
)

func client(c *cli.Context) (*peloton.Client, error) {
	return peloton.NewClient(
		c.String("username"),
		c.String("password"),
		peloton.WithPageSize(c.Int("page-size")),
	)
}

func encode(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func workouts(c *cli.Context) error {
	client, err := client(c)
	if err != nil {
		return err
	}
	workouts, err := client.Workouts(c.Context)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(workouts))
	for _, w := range workouts {
		out = append(out, peloton.Serialize(w, 2, false))
	}
	return encode(c, out)
}

func workout(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one workout id")
	}
	client, err := client(c)
	if err != nil {
		return err
	}
	w, err := client.Workout(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if _, err := w.Achievements(c.Context); err != nil {
		return err
	}
	return encode(c, peloton.Serialize(w, 2, false))
}

func metrics(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one workout id")
	}
	client, err := client(c)
	if err != nil {
		return err
	}
	w, err := client.Workout(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	m, err := w.Metrics(c.Context)
	if err != nil {
		return err
	}
	return encode(c, peloton.Serialize(m, 2, false))
}

func serve(c *cli.Context) error {
	client, err := client(c)
	if err != nil {
		return err
	}
	engine := echo.New()
	engine.HideBanner = true
	peloton.NewHandler(client).Register(engine)

	if c.Bool("lambda") {
		log.Info().Msg("running function")
		lambda.Start(echoadapter.New(engine).ProxyWithContext)
		return nil
	}

	log.Info().Str("address", c.String("addr")).Msg("serving")
	return engine.Start(c.String("addr"))
}

func main() {
	app := &cli.App{
		Name:     "peloton",
		HelpName: "peloton",
		Usage:    "Peloton workout history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Required: true,
				Usage:    "account username or email",
				EnvVars:  []string{"PELOTON_USER"},
			},
			&cli.StringFlag{
				Name:     "password",
				Required: true,
				Usage:    "account password",
				EnvVars:  []string{"PELOTON_PASSWORD"},
			},
			&cli.IntFlag{
				Name:    "page-size",
				Value:   10,
				Usage:   "listing page size",
				EnvVars: []string{"PELOTON_PAGE_SIZE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "workouts",
				Usage:  "list workout history",
				Action: workouts,
			},
			{
				Name:      "workout",
				Usage:     "show one workout with leaderboard standings",
				ArgsUsage: "workout-id",
				Action:    workout,
			},
			{
				Name:      "metrics",
				Usage:     "show performance metrics for a workout",
				ArgsUsage: "workout-id",
				Action:    metrics,
			},
			{
				Name:  "serve",
				Usage: "serve workout history as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Value: ":9001",
						Usage: "listen address",
					},
					&cli.BoolFlag{
						Name:    "lambda",
						Value:   false,
						Usage:   "run as a lambda function",
						EnvVars: []string{"LAMBDA"},
					},
				},
				Action: serve,
			},
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			log.Error().Err(err).Msg(c.App.Name)
		},
		Before: func(c *cli.Context) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			zerolog.DurationFieldUnit = time.Millisecond
			zerolog.DurationFieldInteger = false
			log.Logger = log.Output(
				zerolog.ConsoleWriter{
					Out:        c.App.ErrWriter,
					NoColor:    false,
					TimeFormat: time.RFC3339,
				},
			)
			return nil
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
