// Command hat is the content-addressed, deduplicating backup tool built
// on the repo, hashstore, and hashtree packages. Grounded on the
// original's hat::main (snapshot/checkout commands, --license/--help).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hat-backup/hat/internal/config"
	"github.com/hat-backup/hat/internal/xlog"
	"github.com/hat-backup/hat/repo"
	"github.com/urfave/cli/v2"
)

const license = `hat-backup
Copyright 2014 Google Inc. All rights reserved.
Licensed under the Apache License, Version 2.0.`

func main() {
	app := &cli.App{
		Name:  "hat",
		Usage: "content-addressed, deduplicating backup tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "repo", Value: "repo", Usage: "repository directory"},
			&cli.IntFlag{Name: "blob-size", Value: 4 * 1024 * 1024, Usage: "target blob size in bytes"},
			&cli.StringFlag{Name: "backend", Value: "local", Usage: "blob backend: local, pebble, s3, azblob"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				xlog.SetLevel(slog.LevelDebug)
			}
			return nil
		},
		Commands: []*cli.Command{
			snapshotCommand,
			checkoutCommand,
			verifyCommand,
			{
				Name:  "license",
				Usage: "print license information",
				Action: func(c *cli.Context) error {
					fmt.Println(license)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		xlog.Error("hat: fatal", "err", err)
		os.Exit(1)
	}
}

// openRepository loads <repo>/hat.toml (falling back to flag-derived
// defaults) and opens the repository directory named by --repo.
func openRepository(ctx context.Context, c *cli.Context) (*repo.Repository, error) {
	dir := c.String("repo")
	cfg, err := config.Load(dir + "/hat.toml")
	if err != nil {
		return nil, err
	}
	if c.IsSet("blob-size") {
		cfg.TargetBlobSize = c.Int("blob-size")
	}
	if c.IsSet("backend") {
		cfg.Backend = config.Backend(c.String("backend"))
	}
	return repo.OpenRepository(ctx, dir, cfg)
}
