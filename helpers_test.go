package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/mock"
)

func testDefaults(repos ...string) Defaults {
	return Defaults{
		Environment:      "AzureML-sklearn-0.24-ubuntu18.04-py37-cpu",
		SourceTagSuffix:  "stable",
		DestinationTag:   "stable",
		OverrideVariable: "AZUREML_CR_BOOTSTRAPPER_CONFIG_OVERRIDE",
		List:             repos,
	}
}

func testCredentials() RegistryCredentials {
	return RegistryCredentials{
		Address:  "wsaglobal.azurecr.io",
		Username: "00000000-1111-2222-3333-444444444444",
		Password: "secretpw",
		Region:   "eastus",
	}
}

func testArgs() *Args {
	return &Args{
		workspace:       "wsA",
		registry:        "myregistry",
		wsResourceGroup: "ws-rg",
		crResourceGroup: "cr-rg",
		subscription:    "12345678-0000-0000-0000-abcd12345678",
		importMode:      importModeACR,
		parallel:        1,
	}
}

func testDestination() DestinationTarget {
	return testArgs().destination()
}

func wellFormedImage(address, username, password string) environmentImage {
	var img environmentImage
	img.DockerImage = &struct {
		Name     string              `json:"name"`
		Registry *registryDescriptor `json:"registry"`
	}{
		Name:     "azureml/sklearn",
		Registry: &registryDescriptor{Address: address, Username: username, Password: password},
	}
	return img
}

func responseError(status int) *azcore.ResponseError {
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  http.StatusText(status),
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Request:    httptest.NewRequest(http.MethodGet, "https://management.azure.com/subscriptions/x", nil),
			Body:       io.NopCloser(strings.NewReader("")),
		},
	}
}

type mockWorkspace struct {
	mock.Mock
}

func (m *mockWorkspace) workspace(ctx context.Context, ws WorkspaceIdentity) (workspaceInfo, error) {
	args := m.Called(ctx, ws)
	return args.Get(0).(workspaceInfo), args.Error(1)
}

func (m *mockWorkspace) environmentImage(ctx context.Context, ws WorkspaceIdentity, info workspaceInfo, environment string) (environmentImage, error) {
	args := m.Called(ctx, ws, info, environment)
	return args.Get(0).(environmentImage), args.Error(1)
}

// recordingImporter records every request and fails the repositories named
// in failures.
type recordingImporter struct {
	mu       sync.Mutex
	calls    []importRequest
	failures map[string]error
	panics   map[string]bool
	delay    time.Duration
}

func (r *recordingImporter) importImage(ctx context.Context, req importRequest) error {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panics[req.repository] {
		panic("backend exploded")
	}
	return r.failures[req.repository]
}

func (r *recordingImporter) requests() []importRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]importRequest(nil), r.calls...)
}

type fakeCredential struct {
	token string
}

func (f fakeCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: f.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// testCloud points every Azure client at srv.
func testCloud(srv *httptest.Server) *CloudConfig {
	return mustInitConfig(
		withSubscription("12345678-0000-0000-0000-abcd12345678"),
		withCredential(fakeCredential{token: "aad-token"}),
		withClientOptions(policy.ClientOptions{
			Transport: srv.Client(),
			Retry:     policy.RetryOptions{MaxRetries: -1},
			Cloud: cloud.Configuration{
				ActiveDirectoryAuthorityHost: srv.URL,
				Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
					cloud.ResourceManager: {
						Audience: "https://management.azure.com",
						Endpoint: srv.URL,
					},
				},
			},
		}),
	)
}

type fakeDocker struct {
	mu     sync.Mutex
	events []string
	pulls  []image.PullOptions
	pushes []image.PushOptions
	failAt string
	stream string
}

func (f *fakeDocker) record(event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.failAt != "" && strings.HasPrefix(event, f.failAt) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (f *fakeDocker) body() io.ReadCloser {
	stream := f.stream
	if stream == "" {
		stream = `{"status":"done"}` + "\n"
	}
	return io.NopCloser(bytes.NewBufferString(stream))
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.pulls = append(f.pulls, options)
	if err := f.record("pull " + ref); err != nil {
		return nil, err
	}
	return f.body(), nil
}

func (f *fakeDocker) ImageTag(_ context.Context, source, target string) error {
	return f.record("tag " + source + " " + target)
}

func (f *fakeDocker) ImagePush(_ context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	f.pushes = append(f.pushes, options)
	if err := f.record("push " + ref); err != nil {
		return nil, err
	}
	return f.body(), nil
}
