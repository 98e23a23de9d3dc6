package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"folibot/internal/app"
	"folibot/internal/config"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"

	"github.com/urfave/cli"
)

var version = "dev"

const defaultConfigPath = "./config.yaml"

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "folibot"
	a.HelpName = "folibot"
	a.Usage = "Telegram bot that issues folios and enforces their payment window"
	a.Version = version
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  defaultConfigPath,
			Usage:  "path to the YAML or JSON config file",
			EnvVar: "FOLIBOT_CONFIG",
		},
	}
	a.Action = runBot
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "start the bot (default)",
			Action: runBot,
		},
		{
			Name:    "check-config",
			Aliases: []string{"check"},
			Usage:   "validate the config file and print a summary",
			Action:  checkConfig,
		},
		{
			Name:   "folios",
			Usage:  "list stored folios by status",
			Action: listFolios,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "status, s",
					Value: string(storage.StatusPending),
					Usage: "PENDIENTE, COMPROBANTE_ENVIADO or VALIDADO_ADMIN",
				},
				cli.DurationFlag{
					Name:  "older-than",
					Usage: "only folios created at least this long ago",
				},
			},
		},
	}
	return a
}

func configPath(c *cli.Context) string {
	if p := c.GlobalString("config"); p != "" {
		return p
	}
	if p := c.String("config"); p != "" {
		return p
	}
	return defaultConfigPath
}

func runBot(c *cli.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, configPath(c))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = stopReasonFor(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func stopReasonFor(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	}
	return app.StopUnknown
}

func checkConfig(c *cli.Context) error {
	cfg, err := loadConfig(configPath(c))
	if err != nil {
		return err
	}
	printSummary(c.App.Writer, cfg)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "owners\t%d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Fprintf(tw, "folio prefix\t%s\n", cfg.Folio.Prefix)
	fmt.Fprintf(tw, "entity\t%s\n", cfg.Folio.Entity)
	fmt.Fprintf(tw, "deadline\t%s\n", cfg.Deadline.Total)
	fmt.Fprintf(tw, "reminders\t%s\n", strings.Join(cfg.Deadline.Reminders, ", "))
	fmt.Fprintf(tw, "storage\t%s %s\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Fprintf(tw, "sweep\t%v %s\n", cfg.Sweep.Enabled, cfg.Sweep.Schedule)
	fmt.Fprintf(tw, "http\t%v %s\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)
	_ = tw.Flush()
	fmt.Fprintln(w, "config ok")
}

func listFolios(c *cli.Context) error {
	status := storage.Status(strings.ToUpper(strings.TrimSpace(c.String("status"))))
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", c.String("status"))
	}
	cfg, err := loadConfig(configPath(c))
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	var before time.Time
	if d := c.Duration("older-than"); d > 0 {
		before = time.Now().Add(-d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	list, err := st.ListByStatus(ctx, status, before)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	printFolios(c.App.Writer, list)
	return nil
}

func printFolios(w io.Writer, list []storage.Folio) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no folios")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLIO\tOWNER\tSTATUS\tCREATED\tVEHICLE\tNAME")
	for _, f := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s %s %s\t%s\n",
			f.Folio, f.Owner, f.Status, f.CreatedAt.Local().Format("2006-01-02 15:04"),
			f.Marca, f.Linea, f.Anio, f.Nombre)
	}
	_ = tw.Flush()
}
