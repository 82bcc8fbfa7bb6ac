package main

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"
)

const (
	moduleName    = "acrimport"
	moduleVersion = "v1.0.0"

	// Both the ML data plane and the ACR token exchange accept ARM tokens.
	armScope = "https://management.azure.com/.default"
)

type CloudConfig struct {
	cred          azcore.TokenCredential
	clientOptions policy.ClientOptions
	subscription  string
	tenant        string
}

type Option func(*CloudConfig)

func withSubscription(subscription string) Option {
	return func(cc *CloudConfig) {
		cc.subscription = subscription
	}
}

func withTenant(tenant string) Option {
	return func(cc *CloudConfig) {
		cc.tenant = tenant
	}
}

// withCredential replaces the ambient credential, mostly for tests.
func withCredential(cred azcore.TokenCredential) Option {
	return func(cc *CloudConfig) {
		cc.cred = cred
	}
}

func withClientOptions(opts policy.ClientOptions) Option {
	return func(cc *CloudConfig) {
		cc.clientOptions = opts
	}
}

func initConfig(opts ...Option) (*CloudConfig, error) {
	cc := &CloudConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	if cc.cred != nil {
		return cc, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		ClientOptions: cc.clientOptions,
		TenantID:      cc.tenant,
	})
	if err != nil {
		return nil, errors.Annotate(err, "loading ambient Azure credential")
	}
	cc.cred = cred
	return cc, nil
}

func mustInitConfig(opts ...Option) *CloudConfig {
	cc, err := initConfig(opts...)
	if err != nil {
		panic(err)
	}
	return cc
}

func (c *CloudConfig) armOptions() *arm.ClientOptions {
	return &arm.ClientOptions{ClientOptions: c.clientOptions}
}

// pipeline builds a bare azcore pipeline for the non-ARM endpoints. The
// bearer policy is optional because the ACR exchange carries its token in
// the form body.
func (c *CloudConfig) pipeline(bearer bool) runtime.Pipeline {
	var perRetry []policy.Policy
	if bearer {
		perRetry = append(perRetry, runtime.NewBearerTokenPolicy(c.cred, []string{armScope}, nil))
	}
	return runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: perRetry,
	}, &c.clientOptions)
}

func (c *CloudConfig) stablishClientWith(opts ...ResourceOpt) (*ResourceConfig, error) {
	o := &ResourceConfig{}

	for _, opt := range opts {
		if err := opt(c, o); err != nil {
			return nil, errors.Trace(err)
		}
	}

	return o, nil
}

type ResourceConfig struct {
	resources  *armresources.Client
	registries *armcontainerregistry.RegistriesClient
	dataPlane  runtime.Pipeline
	exchange   runtime.Pipeline
}

type ResourceOpt func(*CloudConfig, *ResourceConfig) error

func resourcesService() ResourceOpt {
	return func(cc *CloudConfig, rc *ResourceConfig) error {
		client, err := armresources.NewClient(cc.subscription, cc.cred, cc.armOptions())
		if err != nil {
			return errors.Annotate(err, "creating resources client")
		}
		rc.resources = client
		return nil
	}
}

func registriesService() ResourceOpt {
	return func(cc *CloudConfig, rc *ResourceConfig) error {
		client, err := armcontainerregistry.NewRegistriesClient(cc.subscription, cc.cred, cc.armOptions())
		if err != nil {
			return errors.Annotate(err, "creating container registry client")
		}
		rc.registries = client
		return nil
	}
}

func dataPlaneService() ResourceOpt {
	return func(cc *CloudConfig, rc *ResourceConfig) error {
		rc.dataPlane = cc.pipeline(true)
		return nil
	}
}

func exchangeService() ResourceOpt {
	return func(cc *CloudConfig, rc *ResourceConfig) error {
		rc.exchange = cc.pipeline(false)
		return nil
	}
}
