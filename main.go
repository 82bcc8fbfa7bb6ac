package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/juju/errors"
)

const (
	exitOK     = 0
	exitImport = 1
	exitSetup  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	args, err := parseArgs("acrimport", argv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitSetup
	}

	level := slog.LevelInfo
	if args.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	defaults := mustLoadDefaults()

	cloud := mustInitConfig(
		withSubscription(args.subscription),
		withTenant(args.tenant),
	)

	svc, err := cloud.stablishClientWith(
		resourcesService(),
		dataPlaneService(),
		registriesService(),
		exchangeService(),
	)
	if err != nil {
		fmt.Fprintln(stderr, errors.ErrorStack(err))
		return exitSetup
	}

	var importer registryImporter = newACRImporter(svc)
	if args.importMode == importModeDocker {
		dest := args.destination()
		importer = newDocker(ctx, mustStartCli(), func(ctx context.Context) (authorization, error) {
			return acrCredentials(ctx, svc.exchange, cloud.cred, dest.loginServer())
		})
	}

	return migrate(ctx, newConsole(stdout), newAzureWorkspace(svc), importer, defaults, args)
}

// migrate resolves the source registry, imports every repository and
// reports the result as a process exit code.
func migrate(ctx context.Context, con *console, ws workspaceService, imp registryImporter, d Defaults, args *Args) int {
	con.printf("Resolving workspace global registry...\n")
	creds, err := resolve(ctx, ws, args.workspaceIdentity(), d.Environment)
	if err != nil {
		var resErr *ResolutionError
		if errors.As(err, &resErr) {
			con.printf("Failed to resolve workspace registry (%s):\n%s\n", resErr.Reason, errors.ErrorStack(resErr.Err))
		} else {
			con.printf("%s\n", errors.ErrorStack(err))
		}
		return exitSetup
	}

	con.printf("Resolved registry detail, address: %s, region: %s\n", creds.Address, creds.Region)
	con.printf("Starting to import images...\n")

	dest := args.destination()
	report := importAll(ctx, imp, creds, d.repositories(), dest, importOptions{
		defaults:       d,
		parallel:       args.parallel,
		revealPassword: args.revealPassword,
		console:        con,
	})

	if err := con.summary(report, dest, d); err != nil {
		slog.Error("summary", "error", err)
		return exitImport
	}
	if !report.ok() {
		return exitImport
	}
	return exitOK
}
