package main

import (
	"context"
	"os"

	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	rt := &runtime{}
	cmd := &cli.Command{
		Name:  "storefront",
		Usage: "Manage the storefront cart and coupons from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file loaded before reading configuration",
				Value:   ".env",
				Sources: cli.EnvVars("STOREFRONT_ENV_FILE"),
			},
			&cli.BoolFlag{
				Name:    "print-metrics",
				Usage:   "write collected metrics to stderr on exit",
				Sources: cli.EnvVars("STOREFRONT_PRINT_METRICS"),
			},
		},
		Before: rt.bootstrap,
		After:  rt.shutdown,
		Commands: []*cli.Command{
			showCommand(rt),
			addCommand(rt),
			updateCommand(rt),
			removeCommand(rt),
			fetchCommand(rt),
			syncCommand(rt),
			loginCommand(rt),
			logoutCommand(rt),
			couponCommand(rt),
			verifyPaymentCommand(rt),
			clearCommand(rt),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logg := rt.logg
		if logg == nil {
			logg = logger.New(logger.Options{ServiceName: "storefront"})
		}
		logg.Error(context.Background(), "command failed", err)
		os.Exit(1)
	}
}
