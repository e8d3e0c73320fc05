package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"github.com/vdavid/mailfolders/internal/imap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("foldertree failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "foldertree",
		Usage: "Print the folder tree of an IMAP account as the folder cache sees it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server",
				Usage:    "IMAP server as host:port",
				EnvVars:  []string{"IMAP_SERVER"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user",
				EnvVars:  []string{"IMAP_USER"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				EnvVars:  []string{"IMAP_PASSWORD"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "connect without TLS",
			},
			&cli.BoolFlag{
				Name:  "lsub",
				Usage: "print the subscribed folders only",
			},
			&cli.BoolFlag{
				Name:  "ignore-subscriptions",
				Usage: "treat every folder as subscribed",
			},
			&cli.BoolFlag{
				Name:  "counts",
				Usage: "fetch message counts for every selectable folder",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log cache internals",
			},
		},
		Action: run,
	}
}

func run(cctx *cli.Context) error {
	if cctx.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	server := strings.TrimSpace(cctx.String("server"))
	if server == "" {
		return fmt.Errorf("server must not be empty")
	}

	c, err := imap.ConnectToIMAP(server, !cctx.Bool("insecure"))
	if err != nil {
		return err
	}
	defer func(c *client.Client) {
		if err := c.Logout(); err != nil {
			logrus.WithError(err).Debug("Failed to log out")
		}
	}(c)

	if err := imap.Login(c, cctx.String("user"), cctx.String("password")); err != nil {
		return err
	}

	ctx := cctx.Context
	exec := imap.NewExecutor(c)

	ns, err := exec.Namespace(ctx)
	if err != nil {
		return fmt.Errorf("failed to read namespaces: %w", err)
	}
	caps, err := exec.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}

	key := foldercache.AccountKey{UserID: cctx.String("user")}
	collection := foldercache.NewCollection(key, ns, foldercache.Options{
		IgnoreSubscriptions: cctx.Bool("ignore-subscriptions"),
		SpecialUse:          caps.Has("SPECIAL-USE"),
	})
	if err := collection.Reinit(ctx, exec); err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	if cctx.Bool("counts") {
		fetchCounts(ctx, exec, collection.ListEntries())
	}

	return printTree(cctx.App.Writer, collection, cctx.Bool("lsub"))
}

func fetchCounts(ctx context.Context, exec *imap.Executor, entries []*foldercache.Entry) {
	for _, e := range entries {
		if !e.CanOpen() {
			continue
		}
		counts, err := exec.Status(ctx, e.ServerPath())
		if err != nil {
			logrus.WithError(err).WithField("path", e.FullPath()).Warn("Failed to fetch message counts")
			continue
		}
		e.RememberCounts(counts)
	}
}

func printTree(w io.Writer, c *foldercache.Collection, lsub bool) error {
	root := c.Root()
	if lsub {
		root = c.LsubIgnoreDeprecated("")
	}
	if root == nil {
		return fmt.Errorf("no folders")
	}

	if sep := root.Separator(); sep != 0 {
		if _, err := fmt.Fprintf(w, "separator %q, mbox layout: %s\n", sep, c.ConsideredMbox()); err != nil {
			return err
		}
	}
	for _, child := range root.Children() {
		if err := printEntry(w, child, 0); err != nil {
			return err
		}
	}

	for _, use := range foldercache.SpecialUses {
		for _, e := range c.SpecialUse(use) {
			if _, err := fmt.Fprintf(w, "%s: %s\n", use, e.FullPath()); err != nil {
				return err
			}
		}
	}
	return nil
}

func printEntry(w io.Writer, e *foldercache.Entry, depth int) error {
	var flags []string
	if e.IsSubscribed() {
		flags = append(flags, "subscribed")
	}
	if !e.CanOpen() {
		flags = append(flags, "noselect")
	}
	if e.IsNamespace() {
		flags = append(flags, "namespace")
	}
	if e.IsDummy() {
		flags = append(flags, "placeholder")
	}
	if counts, ok := e.MessageCounts(); ok {
		flags = append(flags, fmt.Sprintf("%d messages, %d unseen", counts.Total, counts.Unseen))
	}

	line := strings.Repeat("  ", depth) + e.Name()
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ", ") + "]"
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	for _, child := range e.Children() {
		if err := printEntry(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
