// Package selfcheck provides test classes compiled into the runner binary so
// a deployment can verify itself end to end.
package selfcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-unitrunner/envinfo"
	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// EndpointEnvVar names the URL probed by RemoteEnvironmentTests. When unset,
// those tests are reported as unsupported.
const EndpointEnvVar = "OP_UNITRUNNER_SELFCHECK_ENDPOINT"

type runtimeChecks struct {
	startGoroutines int
}

type environmentChecks struct {
	info envinfo.Info
}

type remoteChecks struct {
	*environmentChecks
	endpoint string
	client   *http.Client
}

// environment is satisfied by the instances of EnvironmentTests and of every
// class extending it.
type environment interface {
	env() *environmentChecks
}

func (e *environmentChecks) env() *environmentChecks { return e }

// Classes returns the built-in classes. version is reported by the
// environment checks.
func Classes(version string) []*registry.Class {
	runtimeTests := registry.NewClass("RuntimeTests", func() any {
		return &runtimeChecks{startGoroutines: runtime.NumGoroutine()}
	}).
		Test("GoVersion", registry.Bind(func(ctx context.Context, r *runtimeChecks) (any, error) {
			v := runtime.Version()
			if v == "" {
				return nil, errors.New("go version not reported")
			}
			return v, nil
		})).
		Test("GoroutinesSettle", registry.Bind(func(ctx context.Context, r *runtimeChecks) (any, error) {
			return types.Async(ctx, func(ctx context.Context) (any, error) {
				done := make(chan struct{})
				go func() { close(done) }()
				<-done
				return fmt.Sprintf("%d goroutines, %d at start", runtime.NumGoroutine(), r.startGoroutines), nil
			}), nil
		})).
		Test("Sleep", func(ctx context.Context, _ any) (any, error) {
			return types.Async(ctx, func(ctx context.Context) (any, error) {
				start := time.Now()
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
					return nil, fmt.Errorf("timer fired early after %v", elapsed)
				}
				return nil, nil
			}), nil
		}, registry.WithTimeout(2*time.Second))

	newEnv := func() *environmentChecks {
		return &environmentChecks{info: envinfo.Collect(version)}
	}

	environmentTests := registry.NewClass("EnvironmentTests", func() any { return newEnv() }).
		Test("Platform", registry.Bind(func(ctx context.Context, e environment) (any, error) {
			info := e.env().info
			if info.OS == "" || info.Arch == "" {
				return nil, errors.New("platform not reported")
			}
			return info.Platform(), nil
		})).
		Test("CPUCount", registry.Bind(func(ctx context.Context, e environment) (any, error) {
			if n := e.env().info.NumCPU; n < 1 {
				return nil, fmt.Errorf("invalid cpu count %d", n)
			}
			return fmt.Sprintf("%d cpus", e.env().info.NumCPU), nil
		})).
		Test("TempDirWritable", func(ctx context.Context, _ any) (any, error) {
			f, err := os.CreateTemp("", "unitrunner-selfcheck-*")
			if err != nil {
				return nil, fmt.Errorf("creating temp file: %w", err)
			}
			name := f.Name()
			defer os.Remove(name)
			if _, err := f.WriteString("ok"); err != nil {
				f.Close()
				return nil, fmt.Errorf("writing temp file: %w", err)
			}
			return nil, f.Close()
		})

	remoteTests := registry.NewClass("RemoteEnvironmentTests", func() any {
		return &remoteChecks{
			environmentChecks: newEnv(),
			endpoint:          os.Getenv(EndpointEnvVar),
			client:            &http.Client{Timeout: 5 * time.Second},
		}
	}).
		Extends(environmentTests).
		Require(func(ctx context.Context) error {
			if os.Getenv(EndpointEnvVar) == "" {
				return types.Unsupportedf("%s not set", EndpointEnvVar)
			}
			return nil
		}).
		// remote hosts are probed over the network, not through the local disk
		Func("TempDirWritable", func(ctx context.Context, _ any) (any, error) { return nil, nil }).
		Test("EndpointReachable", registry.Bind(func(ctx context.Context, r *remoteChecks) (any, error) {
			return types.Async(ctx, func(ctx context.Context) (any, error) {
				return r.probe(ctx)
			}), nil
		}), registry.WithTimeout(10*time.Second)).
		Test("EndpointUsesHTTPS", registry.Bind(func(ctx context.Context, r *remoteChecks) (any, error) {
			if !strings.HasPrefix(r.endpoint, "https://") {
				return nil, types.Unsupported("requires HTTPS")
			}
			return nil, nil
		}))

	return []*registry.Class{runtimeTests, environmentTests, remoteTests}
}

// Services returns the instances the built-in classes resolve before
// falling back to their constructors, keyed by class name. The environment
// is collected once and shared by every run.
func Services(version string) map[string]any {
	return map[string]any{
		"EnvironmentTests": &environmentChecks{info: envinfo.Collect(version)},
	}
}

// Register adds the built-in classes to reg.
func Register(reg *registry.Registry, version string) error {
	return reg.Register(Classes(version)...)
}

func (r *remoteChecks) probe(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", r.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return resp.Status, nil
}
