// Command migrate copies stored session credentials between credential
// store backends, e.g. from a local SQLite file into Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wagateway/internal/authstore"
	pkgconstants "wagateway/pkg/constants"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("Migration failed")
	}
}

func run(ctx context.Context, args []string, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	from := fs.String("from", "", "Source backend: sqlite:<path> or redis://host:port/db")
	to := fs.String("to", "", "Destination backend: sqlite:<path> or redis://host:port/db")
	prefix := fs.String("prefix", pkgconstants.DefaultKeyPrefix, "Credential key prefix")
	overwrite := fs.Bool("overwrite", false, "Replace credentials already present in the destination")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return fmt.Errorf("both -from and -to are required")
	}
	if *from == *to {
		return fmt.Errorf("source and destination are the same backend")
	}

	src, err := openTarget(*from)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := openTarget(*to)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	for name, b := range map[string]authstore.Backend{"source": src, "destination": dst} {
		if err := b.Ping(ctx); err != nil {
			return fmt.Errorf("%s not reachable: %w", name, err)
		}
	}

	pattern := *prefix + ":*:" + pkgconstants.AuthStateSuffix
	res, err := authstore.Copy(ctx, src, dst, pattern, *overwrite)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"copied":  res.Keys,
		"fields":  res.Fields,
		"skipped": res.Skipped,
		"pattern": pattern,
	}).Info("Credential migration complete")
	return nil
}

func openTarget(spec string) (authstore.Backend, error) {
	switch {
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return authstore.DialRedis(spec)
	case strings.HasPrefix(spec, "sqlite:"):
		path := strings.TrimPrefix(spec, "sqlite:")
		if path == "" {
			return nil, fmt.Errorf("sqlite target needs a file path")
		}
		return authstore.NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unsupported backend %q", spec)
	}
}
