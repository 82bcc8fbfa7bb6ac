package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"
)

const workspaceAPIVersion = "2023-04-01"

type WorkspaceIdentity struct {
	Name           string
	ResourceGroup  string
	SubscriptionID string
}

func (w WorkspaceIdentity) validate() error {
	switch {
	case w.Name == "":
		return errors.NewNotValid(nil, "empty workspace name")
	case w.ResourceGroup == "":
		return errors.NewNotValid(nil, "empty workspace resource group")
	case w.SubscriptionID == "":
		return errors.NewNotValid(nil, "empty subscription")
	}
	return nil
}

func (w WorkspaceIdentity) resourceID() string {
	return fmt.Sprintf(
		"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.MachineLearningServices/workspaces/%s",
		w.SubscriptionID, w.ResourceGroup, w.Name,
	)
}

// RegistryCredentials describe the workspace global registry. Password is
// left out of structured logs.
type RegistryCredentials struct {
	Address  string
	Username string
	Password string
	Region   string
}

func (c RegistryCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", c.Address),
		slog.String("username", c.Username),
		slog.String("region", c.Region),
	)
}

type workspaceInfo struct {
	location     string
	discoveryURL string
}

// apiEndpoint is the scheme and host of the workspace data plane.
func (w workspaceInfo) apiEndpoint() string {
	if u, err := url.Parse(w.discoveryURL); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return fmt.Sprintf("https://%s.api.azureml.ms", w.location)
}

type registryDescriptor struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type environmentImage struct {
	DockerImage *struct {
		Name     string              `json:"name"`
		Registry *registryDescriptor `json:"registry"`
	} `json:"dockerImage"`
}

func (e environmentImage) registry() (registryDescriptor, error) {
	if e.DockerImage == nil || e.DockerImage.Registry == nil {
		return registryDescriptor{}, errors.NewNotValid(nil, "image details carry no registry descriptor")
	}
	reg := *e.DockerImage.Registry

	var missing []string
	for _, field := range []struct{ name, value string }{
		{"address", reg.Address},
		{"username", reg.Username},
		{"password", reg.Password},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return registryDescriptor{}, errors.NewNotValid(nil, "registry descriptor missing "+strings.Join(missing, ", "))
	}
	return reg, nil
}

type workspaceService interface {
	workspace(ctx context.Context, ws WorkspaceIdentity) (workspaceInfo, error)
	environmentImage(ctx context.Context, ws WorkspaceIdentity, info workspaceInfo, environment string) (environmentImage, error)
}

type resolutionReason string

const (
	reasonInvalidInput        resolutionReason = "invalid-input"
	reasonWorkspaceNotFound   resolutionReason = "workspace-not-found"
	reasonUnauthorized        resolutionReason = "unauthorized"
	reasonEnvironmentNotFound resolutionReason = "environment-not-found"
	reasonMalformed           resolutionReason = "malformed-descriptor"
	reasonService             resolutionReason = "service-error"
)

type ResolutionError struct {
	Workspace string
	Reason    resolutionReason
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving registry of workspace %q (%s): %v", e.Workspace, e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// classify maps a collaborator failure to a resolution reason. notFound is
// the reason reported for a 404 at this step.
func classify(err error, notFound resolutionReason) resolutionReason {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return notFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return reasonUnauthorized
		}
	}

	switch {
	case errors.Is(err, errors.NotFound):
		return notFound
	case errors.Is(err, errors.Unauthorized), errors.Is(err, errors.Forbidden):
		return reasonUnauthorized
	case errors.Is(err, errors.NotValid):
		return reasonMalformed
	}
	return reasonService
}

func resolve(ctx context.Context, svc workspaceService, ws WorkspaceIdentity, environment string) (RegistryCredentials, error) {
	fail := func(reason resolutionReason, err error) (RegistryCredentials, error) {
		return RegistryCredentials{}, &ResolutionError{Workspace: ws.Name, Reason: reason, Err: err}
	}

	if err := ws.validate(); err != nil {
		return fail(reasonInvalidInput, err)
	}

	info, err := svc.workspace(ctx, ws)
	if err != nil {
		return fail(classify(err, reasonWorkspaceNotFound), errors.Annotatef(err, "getting workspace %q", ws.Name))
	}
	if info.location == "" {
		return fail(reasonMalformed, errors.NewNotValid(nil, "workspace reports no location"))
	}
	slog.Debug("workspaceLookup", "workspace", ws.Name, "location", info.location, "discoveryURL", info.discoveryURL)

	image, err := svc.environmentImage(ctx, ws, info, environment)
	if err != nil {
		return fail(classify(err, reasonEnvironmentNotFound), errors.Annotatef(err, "getting image details of environment %q", environment))
	}

	reg, err := image.registry()
	if err != nil {
		return fail(reasonMalformed, errors.Annotatef(err, "environment %q", environment))
	}

	creds := RegistryCredentials{
		Address:  reg.Address,
		Username: reg.Username,
		Password: reg.Password,
		Region:   info.location,
	}
	slog.Info("workspaceResolve", "workspace", ws.Name, "registry", creds)
	return creds, nil
}

type azureWorkspace struct {
	resources *armresources.Client
	pipeline  runtime.Pipeline
}

func newAzureWorkspace(rc *ResourceConfig) *azureWorkspace {
	return &azureWorkspace{
		resources: rc.resources,
		pipeline:  rc.dataPlane,
	}
}

func (a *azureWorkspace) workspace(ctx context.Context, ws WorkspaceIdentity) (workspaceInfo, error) {
	resp, err := a.resources.GetByID(ctx, ws.resourceID(), workspaceAPIVersion, nil)
	if err != nil {
		return workspaceInfo{}, errors.Trace(err)
	}

	var info workspaceInfo
	if resp.Location != nil {
		info.location = normalizeLocation(*resp.Location)
	}
	if props, ok := resp.Properties.(map[string]any); ok {
		info.discoveryURL, _ = props["discoveryUrl"].(string)
	}
	return info, nil
}

func (a *azureWorkspace) environmentImage(ctx context.Context, ws WorkspaceIdentity, info workspaceInfo, environment string) (environmentImage, error) {
	endpoint := info.apiEndpoint() + path.Join(
		"/environment/v1.0",
		ws.resourceID(),
		"environments", url.PathEscape(environment),
		"image",
	)

	req, err := runtime.NewRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return environmentImage{}, errors.Trace(err)
	}
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := a.pipeline.Do(req)
	if err != nil {
		return environmentImage{}, errors.Trace(err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return environmentImage{}, runtime.NewResponseError(resp)
	}

	var image environmentImage
	if err := runtime.UnmarshalAsJSON(resp, &image); err != nil {
		return environmentImage{}, errors.NewNotValid(err, "decoding environment image details")
	}
	return image, nil
}

// normalizeLocation turns display names such as "East US" into the short
// region code used as tag prefix.
func normalizeLocation(location string) string {
	return strings.ToLower(strings.ReplaceAll(location, " ", ""))
}
