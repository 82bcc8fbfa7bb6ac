package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

const (
	importModeACR    = "acr"
	importModeDocker = "docker"
)

const usageHeader = `Import Azure ML compute runtime images to the specified Container Registry
from the ML workspace global registry.

usage: acrimport -w WORKSPACE -a CONTAINER_REGISTRY -wsg WS_RESOURCE_GROUP -crg CR_RESOURCE_GROUP -s SUBSCRIPTION

example:
  az login
  acrimport -w myworkspace -a myregistry -wsg myrg -crg myrg -s 12345678-0000-0000-0000-abcd12345678

flags:
`

type Args struct {
	workspace       string
	registry        string
	wsResourceGroup string
	crResourceGroup string
	subscription    string
	tenant          string
	importMode      string
	parallel        int
	revealPassword  bool
	debug           bool
}

func (a *Args) workspaceIdentity() WorkspaceIdentity {
	return WorkspaceIdentity{
		Name:           a.workspace,
		ResourceGroup:  a.wsResourceGroup,
		SubscriptionID: a.subscription,
	}
}

func (a *Args) destination() DestinationTarget {
	return DestinationTarget{
		RegistryName:   a.registry,
		ResourceGroup:  a.crResourceGroup,
		SubscriptionID: a.subscription,
	}
}

// parseArgs parses the command line. Both the long and the short name of a
// flag write to the same variable, so either spelling is accepted.
func parseArgs(name string, arguments []string, output io.Writer) (*Args, error) {
	args := &Args{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	required := []struct {
		target      *string
		long, short string
		usage       string
	}{
		{&args.workspace, "workspace", "w", "Name of the ML Workspace"},
		{&args.registry, "container-registry", "a", "Name of the Container Registry"},
		{&args.wsResourceGroup, "ws-resource-group", "wsg", "Name of resource group of the ML Workspace"},
		{&args.crResourceGroup, "cr-resource-group", "crg", "Name of resource group of the Container Registry"},
		{&args.subscription, "subscription", "s", "ID of subscription that the ML Workspace and Container Registry are in"},
	}
	for _, r := range required {
		fs.StringVar(r.target, r.long, "", r.usage+" (required)")
		fs.StringVar(r.target, r.short, "", "alias of --"+r.long)
	}

	fs.StringVar(&args.tenant, "tenant", "", "Azure AD tenant used for the ambient credential")
	fs.StringVar(&args.importMode, "import-mode", importModeACR, "import backend: acr (server-side) or docker (local daemon)")
	fs.IntVar(&args.parallel, "parallel", 1, "number of repositories imported concurrently")
	fs.BoolVar(&args.revealPassword, "reveal-password", false, "print the source registry password in the invocation log")
	fs.BoolVar(&args.debug, "debug", false, "enable debug logging")

	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageHeader)
		fs.PrintDefaults()
	}

	if err := fs.Parse(arguments); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, errors.NewNotValid(nil, "unexpected arguments: "+strings.Join(fs.Args(), " "))
	}

	var missing []string
	for _, r := range required {
		if *r.target == "" {
			missing = append(missing, "--"+r.long)
		}
	}
	if len(missing) > 0 {
		fs.Usage()
		return nil, errors.NewNotValid(nil, "missing required flags: "+strings.Join(missing, ", "))
	}

	if err := args.validate(); err != nil {
		fs.Usage()
		return nil, err
	}
	return args, nil
}

func (a *Args) validate() error {
	if _, err := uuid.Parse(a.subscription); err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("invalid subscription %q", a.subscription))
	}
	switch a.importMode {
	case importModeACR, importModeDocker:
	default:
		return errors.NewNotValid(nil, fmt.Sprintf("unknown import mode %q", a.importMode))
	}
	if a.parallel < 1 {
		return errors.NewNotValid(nil, fmt.Sprintf("parallel must be at least 1, got %d", a.parallel))
	}
	return nil
}
