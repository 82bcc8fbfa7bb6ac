package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"
	"github.com/juju/errors"
)

// ACR accepts this username together with a refresh token obtained through
// the token exchange.
const acrTokenUser = "00000000-0000-0000-0000-000000000000"

type authorization struct {
	username string
	password string
}

type acrImporter struct {
	registries *armcontainerregistry.RegistriesClient
}

func newACRImporter(rc *ResourceConfig) *acrImporter {
	return &acrImporter{registries: rc.registries}
}

func importParameters(req importRequest) armcontainerregistry.ImportImageParameters {
	mode := armcontainerregistry.ImportModeNoForce
	if req.force {
		mode = armcontainerregistry.ImportModeForce
	}
	return armcontainerregistry.ImportImageParameters{
		Source: &armcontainerregistry.ImportSource{
			RegistryURI: to.Ptr(req.sourceRegistry),
			SourceImage: to.Ptr(req.sourceImage),
			Credentials: &armcontainerregistry.ImportSourceCredentials{
				Username: to.Ptr(req.username),
				Password: to.Ptr(req.password),
			},
		},
		TargetTags: []*string{to.Ptr(req.destination)},
		Mode:       to.Ptr(mode),
	}
}

func (a *acrImporter) importImage(ctx context.Context, req importRequest) error {
	poller, err := a.registries.BeginImportImage(ctx, req.target.ResourceGroup, req.target.RegistryName, importParameters(req), nil)
	if err != nil {
		return errors.Annotatef(err, "starting import of %s into %s", req.source, req.target.RegistryName)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return errors.Annotatef(err, "importing %s into %s", req.source, req.target.RegistryName)
	}

	slog.Info("acrImport", "source", req.source, "registry", req.target.RegistryName, "image", req.destination, "status", "imported")
	return nil
}

// acrCredentials exchanges an AAD token for an ACR refresh token usable as
// a docker password against loginServer.
func acrCredentials(ctx context.Context, pl runtime.Pipeline, cred azcore.TokenCredential, loginServer string) (authorization, error) {
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}})
	if err != nil {
		return authorization{}, errors.Annotate(err, "getting AAD token")
	}

	form := url.Values{
		"grant_type":   {"access_token"},
		"service":      {loginServer},
		"access_token": {token.Token},
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost, "https://"+loginServer+"/oauth2/exchange")
	if err != nil {
		return authorization{}, errors.Trace(err)
	}
	if err := req.SetBody(streaming.NopCloser(strings.NewReader(form.Encode())), "application/x-www-form-urlencoded"); err != nil {
		return authorization{}, errors.Trace(err)
	}

	resp, err := pl.Do(req)
	if err != nil {
		return authorization{}, errors.Annotatef(err, "exchanging token with %s", loginServer)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return authorization{}, errors.Annotatef(runtime.NewResponseError(resp), "exchanging token with %s", loginServer)
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := runtime.UnmarshalAsJSON(resp, &body); err != nil {
		return authorization{}, errors.Annotate(err, "decoding token exchange response")
	}
	if body.RefreshToken == "" {
		return authorization{}, errors.NotFoundf("refresh token from %s", loginServer)
	}

	slog.Debug("acrExchange", "loginServer", loginServer, "status", "authorized")
	return authorization{username: acrTokenUser, password: body.RefreshToken}, nil
}
