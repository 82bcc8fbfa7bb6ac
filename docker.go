package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/juju/errors"
)

type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// Docker imports through the local daemon: pull the source, retag it under
// the destination login server, push. Pushing an existing tag overwrites it.
type Docker struct {
	cli        dockerAPI
	targetAuth func() (string, error)
}

// newDocker resolves the destination credentials once, on first use, with
// ctx.
func newDocker(ctx context.Context, cli dockerAPI, target func(context.Context) (authorization, error)) *Docker {
	d := &Docker{cli: cli}
	d.targetAuth = sync.OnceValues(func() (string, error) {
		auth, err := target(ctx)
		if err != nil {
			return "", errors.Annotate(err, "authorizing destination registry")
		}
		return d.authorize(auth)
	})
	return d
}

func mustStartCli() *client.Client {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		panic(err)
	}
	return cli
}

func (d *Docker) importImage(ctx context.Context, req importRequest) error {
	sourceAuth, err := d.authorize(authorization{username: req.username, password: req.password})
	if err != nil {
		return errors.Trace(err)
	}
	targetAuth, err := d.targetAuth()
	if err != nil {
		return errors.Trace(err)
	}

	to := req.targetImage()
	if err := d.pull(ctx, sourceAuth, req.source); err != nil {
		return errors.Annotatef(err, "pulling %s", req.source)
	}
	if err := d.rename(ctx, req.source, to); err != nil {
		return errors.Annotatef(err, "tagging %s as %s", req.source, to)
	}
	if err := d.push(ctx, targetAuth, to); err != nil {
		return errors.Annotatef(err, "pushing %s", to)
	}
	return nil
}

// invocation renders the daemon steps of one import as shell commands.
func (d *Docker) invocation(req importRequest, revealPassword bool) string {
	password := maskedPassword
	if revealPassword {
		password = req.password
	}
	to := req.targetImage()
	return strings.Join([]string{
		"docker login " + req.sourceRegistry + " --username " + req.username + " --password " + password,
		"docker pull " + req.source,
		"docker tag " + req.source + " " + to,
		"docker push " + to,
	}, " && ")
}

func (d *Docker) pull(ctx context.Context, auth, name string) error {
	out, err := d.cli.ImagePull(ctx, name, image.PullOptions{
		RegistryAuth: auth,
	})
	if err != nil {
		return err
	}
	defer out.Close()

	if err := drain(out); err != nil {
		return err
	}
	slog.Info("imagePulling", "image", name, "status", "pulled")
	return nil
}

func (d *Docker) push(ctx context.Context, auth, name string) error {
	out, err := d.cli.ImagePush(ctx, name, image.PushOptions{
		RegistryAuth: auth,
	})
	if err != nil {
		return err
	}
	defer out.Close()

	if err := drain(out); err != nil {
		return err
	}
	slog.Info("imagePushing", "image", name, "status", "pushed")
	return nil
}

func (d *Docker) rename(ctx context.Context, from, to string) error {
	if err := d.cli.ImageTag(ctx, from, to); err != nil {
		return err
	}

	slog.Info("renaming", "from", from, "to", to)
	return nil
}

// drain consumes the daemon progress stream. Failures the daemon reports
// inside the stream are returned as errors.
func drain(stream io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(stream, io.Discard, 0, false, nil)
}

func (d *Docker) authorize(auth authorization) (string, error) {
	authConfig := registry.AuthConfig{
		Username: auth.username,
		Password: auth.password,
	}

	encodedJSON, err := json.Marshal(authConfig)
	if err != nil {
		return "", errors.Trace(err)
	}

	return base64.URLEncoding.EncodeToString(encodedJSON), nil
}
