package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/distribution/reference"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

const maskedPassword = "***"

type DestinationTarget struct {
	RegistryName   string
	ResourceGroup  string
	SubscriptionID string
}

func (d DestinationTarget) loginServer() string {
	return d.RegistryName + ".azurecr.io"
}

// importRequest is a single registry-to-registry copy. Force overwrites an
// existing destination tag.
type importRequest struct {
	repository     string
	source         string
	sourceRegistry string
	sourceImage    string
	username       string
	password       string
	destination    string
	target         DestinationTarget
	force          bool
}

type registryImporter interface {
	importImage(ctx context.Context, req importRequest) error
}

// invocationRenderer is implemented by importers whose work differs from a
// server-side acr import and want the console line to say so.
type invocationRenderer interface {
	invocation(req importRequest, revealPassword bool) string
}

func newImportRequest(creds RegistryCredentials, repo string, dest DestinationTarget, d Defaults) (importRequest, error) {
	srcName, err := reference.WithName(creds.Address + "/" + repo)
	if err != nil {
		return importRequest{}, errors.NewNotValid(err, fmt.Sprintf("source repository %q", repo))
	}
	src, err := reference.WithTag(srcName, d.sourceTag(creds.Region))
	if err != nil {
		return importRequest{}, errors.NewNotValid(err, fmt.Sprintf("source tag for region %q", creds.Region))
	}

	dstName, err := reference.WithName(repo)
	if err != nil {
		return importRequest{}, errors.NewNotValid(err, fmt.Sprintf("destination repository %q", repo))
	}
	dst, err := reference.WithTag(dstName, d.DestinationTag)
	if err != nil {
		return importRequest{}, errors.NewNotValid(err, fmt.Sprintf("destination tag %q", d.DestinationTag))
	}

	return importRequest{
		repository:     repo,
		source:         src.String(),
		sourceRegistry: reference.Domain(src),
		sourceImage:    reference.Path(src) + ":" + src.Tag(),
		username:       creds.Username,
		password:       creds.Password,
		destination:    dst.String(),
		target:         dest,
		force:          true,
	}, nil
}

// targetImage is the destination reference qualified by the login server.
func (r importRequest) targetImage() string {
	return r.target.loginServer() + "/" + r.destination
}

// invocation renders the request the way an operator would type it.
func (r importRequest) invocation(revealPassword bool) string {
	password := maskedPassword
	if revealPassword {
		password = r.password
	}
	args := []string{
		"acr", "import",
		"--source", r.source,
		"--username", r.username,
		"--password", password,
		"--image", r.destination,
		"--name", r.target.RegistryName,
		"--resource-group", r.target.ResourceGroup,
		"--subscription", r.target.SubscriptionID,
	}
	if r.force {
		args = append(args, "--force")
	}
	return strings.Join(args, " ")
}

type importStatus string

const (
	statusSucceeded importStatus = "succeeded"
	statusFailed    importStatus = "failed"
	statusSkipped   importStatus = "skipped"
)

type ImportOutcome struct {
	Repository  string
	Source      string
	Destination string
	Status      importStatus
	Err         error
}

type importReport struct {
	outcomes []ImportOutcome
}

func (r importReport) ok() bool {
	for _, o := range r.outcomes {
		if o.Status != statusSucceeded {
			return false
		}
	}
	return true
}

func (r importReport) attempted() int {
	n := 0
	for _, o := range r.outcomes {
		if o.Status != statusSkipped {
			n++
		}
	}
	return n
}

// firstFailure is the earliest failed repository in list order.
func (r importReport) firstFailure() (ImportOutcome, bool) {
	for _, o := range r.outcomes {
		if o.Status == statusFailed {
			return o, true
		}
	}
	return ImportOutcome{}, false
}

type importOptions struct {
	defaults       Defaults
	parallel       int
	revealPassword bool
	console        *console
}

func importAll(ctx context.Context, imp registryImporter, creds RegistryCredentials, repos []string, dest DestinationTarget, opts importOptions) importReport {
	if opts.parallel > 1 {
		return importParallel(ctx, imp, creds, repos, dest, opts)
	}

	report := importReport{outcomes: make([]ImportOutcome, 0, len(repos))}
	for i, repo := range repos {
		outcome := importOne(ctx, imp, creds, repo, dest, opts)
		report.outcomes = append(report.outcomes, outcome)
		if outcome.Status == statusFailed {
			for _, rest := range repos[i+1:] {
				report.outcomes = append(report.outcomes, ImportOutcome{Repository: rest, Status: statusSkipped})
			}
			break
		}
	}
	return report
}

// importParallel keeps at most opts.parallel imports in flight and dispatches
// no new import once one has failed. Every dispatched import runs, so skipped
// repositories only ever follow the first failure in list order.
func importParallel(ctx context.Context, imp registryImporter, creds RegistryCredentials, repos []string, dest DestinationTarget, opts importOptions) importReport {
	outcomes := make([]ImportOutcome, len(repos))
	var failed atomic.Bool

	g := new(errgroup.Group)
	g.SetLimit(opts.parallel)
	for i, repo := range repos {
		outcomes[i] = ImportOutcome{Repository: repo, Status: statusSkipped}
		if failed.Load() {
			continue
		}
		g.Go(func() error {
			outcomes[i] = importOne(ctx, imp, creds, repo, dest, opts)
			if outcomes[i].Status == statusFailed {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	return importReport{outcomes: outcomes}
}

func importOne(ctx context.Context, imp registryImporter, creds RegistryCredentials, repo string, dest DestinationTarget, opts importOptions) ImportOutcome {
	outcome := ImportOutcome{Repository: repo}

	req, err := newImportRequest(creds, repo, dest, opts.defaults)
	if err != nil {
		outcome.Status = statusFailed
		outcome.Err = err
		opts.console.printf("Registry import returned error: %v.\n", err)
		return outcome
	}
	outcome.Source = req.source
	outcome.Destination = req.destination

	line := req.invocation(opts.revealPassword)
	if r, ok := imp.(invocationRenderer); ok {
		line = r.invocation(req, opts.revealPassword)
	}
	opts.console.printf("Invoking registry import:\n%s\n", line)

	if err := safeImport(ctx, imp, req); err != nil {
		outcome.Status = statusFailed
		outcome.Err = err
		opts.console.printf("Registry import returned error: %v.\n", err)
		slog.Error("registryImport", "repository", repo, "source", req.source, "error", err)
		return outcome
	}

	outcome.Status = statusSucceeded
	slog.Info("registryImport", "repository", repo, "destination", req.destination, "status", "imported")
	return outcome
}

// safeImport turns a panicking backend into an ordinary failure.
func safeImport(ctx context.Context, imp registryImporter, req importRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("import of %s panicked: %v", req.source, r)
		}
	}()
	return imp.importImage(ctx, req)
}
