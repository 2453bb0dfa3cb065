package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/signalnine/frugal/internal/config"
)

// Container is the server_model variant: a one-shot model invocation inside a
// container. The prompt and model are passed through the environment; stdout
// is the result. Free, and strictly sequential.
type Container struct {
	id          string
	image       string
	command     []string
	models      []string
	temperature float64
	timeout     time.Duration
}

func newContainer(cfg config.Backend, _ Deps) (Adapter, error) {
	return &Container{
		id:          cfg.ID,
		image:       cfg.Image,
		command:     cfg.Command,
		models:      cfg.Models,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout(),
	}, nil
}

func (c *Container) ID() string               { return c.id }
func (c *Container) Concurrent() bool         { return false }
func (c *Container) EstimateCost(Request) int { return 0 }

func (c *Container) Execute(ctx context.Context, req Request) (*Result, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &Failure{Kind: FailUnreachable, Message: fmt.Sprintf("creating docker client: %v", err)}
	}
	defer cli.Close()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}

	containerCfg := &container.Config{
		Image: c.image,
		Cmd:   c.command,
		Env: []string{
			"FRUGAL_MODEL=" + req.Model,
			"FRUGAL_PROMPT=" + req.Prompt,
			fmt.Sprintf("FRUGAL_TEMPERATURE=%.2f", temp),
		},
		Tty:    true,
		Labels: map[string]string{"frugal": "true"},
	}
	initTrue := true
	hostCfg := &container.HostConfig{Init: &initTrue}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, &Failure{Kind: FailUnreachable, Message: fmt.Sprintf("creating container: %v", err)}
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, &Failure{Kind: FailExecution, Message: fmt.Sprintf("starting container: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitResult := cli.ContainerWait(timeoutCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				if ctx.Err() != nil {
					return nil, ctxFailure(ctx.Err())
				}
				return nil, &Failure{Kind: FailTimeout, Message: fmt.Sprintf("container exceeded %s", timeout)}
			}
			// nil error means no error on this channel; wait for result
		case status := <-waitResult.Result:
			output := c.readLogs(containerID, cli)
			if status.StatusCode != 0 {
				return nil, &Failure{Kind: FailExecution, Message: fmt.Sprintf("exit code %d: %s", status.StatusCode, truncate(output, 256))}
			}
			return &Result{
				Output:    strings.TrimSpace(output),
				Latency:   time.Since(start),
				CostCents: 0,
			}, nil
		}
	}
}

func (c *Container) readLogs(containerID string, cli *client.Client) string {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil || logReader == nil {
		return ""
	}
	defer logReader.Close()
	data, _ := io.ReadAll(logReader)
	return string(data)
}

func (c *Container) HealthCheck(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx, client.PingOptions{}); err != nil {
		return &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	return nil
}

// ListModels reports the configured model list; a one-shot container has no
// listing endpoint to ask.
func (c *Container) ListModels(context.Context) ([]ModelDescriptor, error) {
	descriptors := make([]ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		descriptors = append(descriptors, ModelDescriptor{Name: m})
	}
	return descriptors, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
