// Command anchorctl runs anchoring operations against the configured store
// and ledger. It reads the same environment as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/app"
	"anchorage/internal/platform/config"
	"anchorage/internal/platform/logger"
	"anchorage/internal/platform/metrics"
	"anchorage/internal/platform/middleware"
	dErrors "anchorage/pkg/domain-errors"
	"anchorage/pkg/requestcontext"
)

type appKey struct{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRoot(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps domain failures to distinct codes so scripts can branch.
func exitCode(err error) int {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeIneligible:
		return 3
	case dErrors.CodeConflict:
		return 4
	case dErrors.CodeNotFound:
		return 5
	case dErrors.CodeUnavailable, dErrors.CodeTimeout:
		return 6
	}
	return 1
}

func newRoot(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "anchorctl",
		Usage: "freeze, mint and inspect anchored records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Usage: "identity recorded as the requester", Sources: cli.EnvVars("ANCHOR_ACTOR"), Value: "anchorctl"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("no-color") {
				color.NoColor = true
			}
			ctx = requestcontext.WithActor(ctx, cmd.String("actor"))
			ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
			return requestcontext.WithTime(ctx, time.Now()), nil
		},
		Commands: []*cli.Command{
			freezeCommand(out),
			mintCommand(out),
			statusCommand(out),
			verifyCommand(out),
			reconcileCommand(out),
			tokenCommand(out),
		},
	}
}

// withApp builds the anchoring stack for one command and closes it afterwards.
func withApp(action func(ctx context.Context, cmd *cli.Command, a *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if a, ok := ctx.Value(appKey{}).(*app.App); ok {
			return action(ctx, cmd, a)
		}
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		log := logger.New(os.Stderr, cfg.LogLevel, logger.FormatText)
		a, err := app.Build(ctx, cfg, log, metrics.New("anchorctl"))
		if err != nil {
			return err
		}
		defer a.Close()
		return action(ctx, cmd, a)
	}
}

func entityArgs(cmd *cli.Command) (models.EntityType, string, error) {
	if cmd.Args().Len() != 2 {
		return "", "", fmt.Errorf("expected <type> <id>, got %d arguments", cmd.Args().Len())
	}
	entityType, ok := models.ParseEntityType(cmd.Args().Get(0))
	if !ok {
		return "", "", fmt.Errorf("unknown entity type %q", cmd.Args().Get(0))
	}
	return entityType, cmd.Args().Get(1), nil
}

func freezeCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "freeze",
		Usage:     "freeze an entity off-chain",
		ArgsUsage: "<identity|evidence|claim> <id>",
		Flags: []cli.Flag{
			&cli.StringMapFlag{Name: "meta", Usage: "metadata recorded with the freeze (key=value)"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			entityType, entityID, err := entityArgs(cmd)
			if err != nil {
				return err
			}
			meta := map[string]any{}
			for k, v := range cmd.StringMap("meta") {
				meta[k] = v
			}
			res, err := a.Service.Freeze(ctx, models.FreezeRequest{
				EntityType: entityType,
				EntityID:   entityID,
				Metadata:   meta,
			})
			if err != nil {
				return err
			}
			renderFreeze(out, res)
			return nil
		}),
	}
}

func mintCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "mint",
		Usage:     "anchor a matured freeze on the ledger",
		ArgsUsage: "<freeze-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "priority", Value: string(models.PriorityMedium), Usage: "gas tier: low, medium or high"},
			&cli.StringFlag{Name: "gas-price", Usage: "explicit gas price in wei, overrides the tier"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			freezeID, err := uuid.Parse(cmd.Args().First())
			if err != nil {
				return fmt.Errorf("invalid freeze id %q: %w", cmd.Args().First(), err)
			}
			priority, ok := models.ParsePriority(cmd.String("priority"))
			if !ok {
				return fmt.Errorf("unknown priority %q", cmd.String("priority"))
			}
			req := models.MintRequest{FreezeID: freezeID, Priority: priority}
			if raw := cmd.String("gas-price"); raw != "" {
				price, ok := new(big.Int).SetString(raw, 10)
				if !ok {
					return fmt.Errorf("invalid gas price %q", raw)
				}
				req.GasPrice = price
			}
			res, err := a.Service.Mint(ctx, req)
			if err != nil {
				return err
			}
			renderMint(out, res)
			return nil
		}),
	}
}

func statusCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show the immutability stage and eligibility of an entity",
		ArgsUsage: "<identity|evidence|claim> <id>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			entityType, entityID, err := entityArgs(cmd)
			if err != nil {
				return err
			}
			st, err := a.Service.Status(ctx, entityID, entityType)
			if err != nil {
				return err
			}
			renderStatus(out, st)
			return nil
		}),
	}
}

func verifyCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "look up the on-chain anchor for a freeze hash",
		ArgsUsage: "<freeze-hash>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			hash := cmd.Args().First()
			info, err := a.Service.VerifyOnChain(ctx, hash)
			if err != nil {
				return err
			}
			renderAnchor(out, hash, info)
			if !info.Exists {
				return dErrors.New(dErrors.CodeNotFound, "no anchor on the ledger")
			}
			return nil
		}),
	}
}

func reconcileCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "resolve entities stuck in minting",
		Action: withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error {
			report, err := a.Service.Reconcile(ctx)
			if err != nil {
				return err
			}
			renderReconcile(out, report)
			if len(report.Failed) > 0 {
				return errors.New("some entities could not be reconciled")
			}
			return nil
		}),
	}
}

func tokenCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an operator token for the admin endpoints",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key := os.Getenv("ANCHOR_OPS_TOKEN_KEY")
			if key == "" {
				return errors.New("ANCHOR_OPS_TOKEN_KEY is not set")
			}
			tokens, err := middleware.NewOperatorTokens(key)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(requestcontext.Actor(ctx), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
}
