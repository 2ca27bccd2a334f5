package runner

import (
	"context"
	"net/http"
	"time"

	"grimm.is/uqdev/internal/build"
	"grimm.is/uqdev/internal/cleanup"
	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/fleet"
	"grimm.is/uqdev/internal/inject"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
	"grimm.is/uqdev/internal/router"
	"grimm.is/uqdev/internal/verdict"
)

// Builder compiles packages and resolves the node runtime.
type Builder interface {
	ResolveRuntime(ctx context.Context, rt config.Runtime, verbose bool) (string, error)
	BuildPackages(ctx context.Context, paths []string, verbose bool) error
}

// Routers starts network routers. Start must return a handle that is safe
// to shut down even if WaitReady later fails.
type Routers interface {
	Start(cfg config.NetworkRouter) (cleanup.Router, error)
	WaitReady(ctx context.Context, r cleanup.Router, timeout time.Duration) error
}

// Endpoint addresses a ready node.
type Endpoint struct {
	Name string
	URL  string
}

// Fleet launches the nodes of a test with the given runtime binary,
// registering each with reg before any readiness wait.
type Fleet interface {
	Start(ctx context.Context, binary string, test config.Test, reg fleet.Registrar, logDir string, timeout time.Duration) ([]Endpoint, error)
}

// Injector talks to nodes over their message endpoint.
type Injector interface {
	Send(ctx context.Context, url string, msg inject.Message) (*inject.Reply, error)
	LoadPackage(ctx context.Context, url, projectDir string) error
}

// Recorder persists verdicts.
type Recorder interface {
	RecordRun(ctx context.Context, runID, configPath string, results []verdict.Result) error
}

type routerAdapter struct {
	m *router.Manager
}

// NewRouters adapts a router.Manager.
func NewRouters(m *router.Manager) Routers {
	return routerAdapter{m: m}
}

func (a routerAdapter) Start(cfg config.NetworkRouter) (cleanup.Router, error) {
	h, err := a.m.Start(cfg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a routerAdapter) WaitReady(ctx context.Context, r cleanup.Router, timeout time.Duration) error {
	return a.m.WaitReady(ctx, r.(*router.Handle), timeout)
}

type fleetAdapter struct {
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewFleet returns a Fleet backed by fleet.Manager.
func NewFleet(logger *logging.Logger, m *metrics.Registry) Fleet {
	return fleetAdapter{logger: logger, metrics: m}
}

func (a fleetAdapter) Start(ctx context.Context, binary string, test config.Test, reg fleet.Registrar, logDir string, timeout time.Duration) ([]Endpoint, error) {
	m := fleet.NewManager(fleet.Options{
		Binary:  binary,
		LogDir:  logDir,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	nodes, err := m.Start(ctx, test, reg, timeout)
	eps := make([]Endpoint, len(nodes))
	for i, n := range nodes {
		eps[i] = Endpoint{Name: n.Name, URL: n.URL()}
	}
	return eps, err
}

type injectAdapter struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewInjector returns an Injector over HTTP. The client must not impose a
// timeout shorter than the longest test; the verdict wait bounds requests.
func NewInjector(hc *http.Client, logger *logging.Logger) Injector {
	if hc == nil {
		hc = &http.Client{}
	}
	return injectAdapter{httpClient: hc, logger: logger}
}

func (a injectAdapter) client(url string) *inject.Client {
	return inject.NewClient(url, inject.WithHTTPClient(a.httpClient), inject.WithLogger(a.logger))
}

func (a injectAdapter) Send(ctx context.Context, url string, msg inject.Message) (*inject.Reply, error) {
	return a.client(url).Send(ctx, msg)
}

func (a injectAdapter) LoadPackage(ctx context.Context, url, projectDir string) error {
	_, err := a.client(url).LoadPackage(ctx, projectDir, nil)
	return err
}

var _ Builder = (*build.Builder)(nil)

// discardReporter is used when no reporter is configured.
type discardReporter struct{}

func (discardReporter) Start(int)               {}
func (discardReporter) Result(verdict.Result)   {}
func (discardReporter) Finish([]verdict.Result) {}
