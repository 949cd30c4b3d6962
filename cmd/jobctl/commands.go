package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/CanSsever/qoder-deneme-sub000/internal/bootstrap"
	"github.com/CanSsever/qoder-deneme-sub000/internal/cache"
	"github.com/CanSsever/qoder-deneme-sub000/internal/dispatch"
	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/pkg/zip"
)

const webhookDrainTimeout = 30 * time.Second

func App() *cli.Command {
	return &cli.Command{
		Name:  "jobctl",
		Usage: "Operate the image job pipeline",

		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Only log warnings and errors",
			},
		},
		Commands: []*cli.Command{
			createCmd(),
			processCmd(),
			cancelCmd(),
			enqueueCmd(),
			fingerprintCmd(),
			exportCmd(),
			migrateCmd(),
			healthCmd(),
			tokenCmd(),
		},
	}
}

func jobFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "type",
			Aliases:  []string{"t"},
			Usage:    "Job type (restore-face, swap-face, upscale)",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Input image URL, repeatable and ordered",
		},
		&cli.StringSliceFlag{
			Name:    "param",
			Aliases: []string{"p"},
			Usage:   "Job parameter as key=value; JSON values are decoded",
		},
	}
}

func createCmd() *cli.Command {
	flags := append(jobFlags(),
		&cli.StringFlag{Name: "user", Usage: "Owning user id", Value: "cli"},
		&cli.StringFlag{Name: "provider", Usage: "Provider override"},
		&cli.StringFlag{Name: "webhook", Usage: "Job-level webhook URL"},
	)
	return &cli.Command{
		Name:  "create",
		Usage: "Insert a pending job and print its id",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			job, err := jobFromFlags(cmd)
			if err != nil {
				return err
			}
			job.UserID = cmd.String("user")
			job.Provider = cmd.String("provider")
			job.WebhookURL = cmd.String("webhook")
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				if err := rt.Store.CreateJob(ctx, job); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.Root().Writer, job.ID)
				return err
			})
		},
	}
}

func processCmd() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Run one job inline until it finishes",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := jobIDArg(cmd)
			if err != nil {
				return err
			}
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				res := rt.Orchestrator.Process(ctx, jobID)
				drain(rt)
				if err := printJSON(cmd.Root().Writer, res.Map()); err != nil {
					return err
				}
				if res.Status == domain.JobStatusFailed {
					return cli.Exit("job failed: "+res.Error, 2)
				}
				return nil
			})
		},
	}
}

func cancelCmd() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a job",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := jobIDArg(cmd)
			if err != nil {
				return err
			}
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				res, err := rt.Orchestrator.Cancel(ctx, jobID)
				drain(rt)
				if err != nil {
					return err
				}
				return printJSON(cmd.Root().Writer, res.Map())
			})
		},
	}
}

func enqueueCmd() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Publish a job id to the Kafka job topic",
		ArgsUsage: "<job-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "trace-id", Usage: "Trace id carried with the message"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := jobIDArg(cmd)
			if err != nil {
				return err
			}
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			producer, err := dispatch.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return err
			}
			defer producer.Close()
			return producer.Enqueue(ctx, dispatch.JobMessage{JobID: jobID, TraceID: cmd.String("trace-id")})
		},
	}
}

func fingerprintCmd() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "Print the cache fingerprint of a job description",
		Flags: append(jobFlags(), &cli.BoolFlag{Name: "canonical", Usage: "Also print the hashed canonical form"}),
		Action: func(_ context.Context, cmd *cli.Command) error {
			job, err := jobFromFlags(cmd)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			if cmd.Bool("canonical") {
				if _, err := fmt.Fprintf(w, "%s\n---\n", cache.Canonical(job)); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(w, cache.Fingerprint(job))
			return err
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write every output of a job into a zip file",
		ArgsUsage: "<job-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Archive path (default <job-id>.zip)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := jobIDArg(cmd)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				out = jobID + ".zip"
			}
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				artifacts, err := rt.Store.ListArtifactsByJob(ctx, jobID)
				if err != nil {
					return err
				}
				if len(artifacts) == 0 {
					return cli.Exit("job "+jobID+" has no artifacts", 1)
				}
				data, err := zip.ArchiveArtifacts(ctx, rt.Files, artifacts)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.Root().Writer, "%s (%d artifacts)\n", out, len(artifacts))
				return err
			})
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				return rt.Migrate(ctx)
			})
		},
	}
}

func healthCmd() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check provider reachability",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
				health := rt.Providers.Health(ctx)
				if err := printJSON(cmd.Root().Writer, map[string]any{
					"default":   rt.Providers.Default(),
					"providers": health,
				}); err != nil {
					return err
				}
				if !health[rt.Providers.Default()] {
					return cli.Exit("default provider unreachable", 3)
				}
				return nil
			})
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage stored provider credentials",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a credential (runpod, replicate, webhook)",
				ArgsUsage: "<provider> <token>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 2 {
						return cli.Exit("usage: jobctl token set <provider> <token>", 1)
					}
					provider := strings.ToLower(strings.TrimSpace(cmd.Args().Get(0)))
					return withRuntime(ctx, cmd, func(rt *bootstrap.Runtime) error {
						return rt.Secrets.SetToken(ctx, provider, cmd.Args().Get(1))
					})
				},
			},
		},
	}
}

func withRuntime(ctx context.Context, cmd *cli.Command, fn func(*bootstrap.Runtime) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cmd.Bool("quiet") {
		logger = logger.Level(zerolog.WarnLevel)
	}
	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func drain(rt *bootstrap.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookDrainTimeout)
	defer cancel()
	rt.Webhooks.Shutdown(ctx)
}

func jobIDArg(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", cli.Exit("a job id is required", 1)
	}
	return id, nil
}

func jobFromFlags(cmd *cli.Command) (*domain.Job, error) {
	jobType, err := domain.ParseJobType(cmd.String("type"))
	if err != nil {
		return nil, err
	}
	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return nil, err
	}
	return &domain.Job{
		Type:      jobType,
		InputURLs: cmd.StringSlice("input"),
		Params:    params,
	}, nil
}

// parseParams turns key=value pairs into job parameters. Values that parse
// as JSON keep their JSON type, anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := map[string]any{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
