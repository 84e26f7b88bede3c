// Package pipeline runs every query and write through a fixed chain of
// stages. The chain is built once from configuration; each stage receives a
// continuation for the rest of the chain and may stop early.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/materialize"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/navigation"
	"github.com/kailas-cloud/docq/internal/query/builder"
)

// Stage is one handler of the chain.
type Stage int

const (
	StageErrorContainment Stage = iota
	StageResolve
	StageLog
	StageExecute
	StageConvert
	StageTrack
	StageProxy
)

func (s Stage) String() string {
	switch s {
	case StageErrorContainment:
		return "error-containment"
	case StageResolve:
		return "resolve"
	case StageLog:
		return "log"
	case StageExecute:
		return "execute"
	case StageConvert:
		return "convert"
	case StageTrack:
		return "track"
	case StageProxy:
		return "proxy"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Verbosity controls the logging stage.
type Verbosity string

const (
	VerbosityOff     Verbosity = "off"
	VerbositySummary Verbosity = "summary"
	VerbosityVerbose Verbosity = "verbose"
)

// ParseVerbosity accepts off, summary or verbose; empty means summary.
func ParseVerbosity(s string) (Verbosity, error) {
	switch v := Verbosity(strings.ToLower(s)); v {
	case "":
		return VerbositySummary, nil
	case VerbosityOff, VerbositySummary, VerbosityVerbose:
		return v, nil
	default:
		return "", fmt.Errorf("unknown query log verbosity %q", s)
	}
}

// Config selects the optional behavior of the chain.
type Config struct {
	LazyLoading bool
	Verbosity   Verbosity
}

// Deps are the collaborators shared by all exchanges.
type Deps struct {
	Gateway  db.Gateway
	Registry *model.Registry
	Table    *codec.Table
	Pool     *ants.Pool
	Logger   *zap.Logger
}

// Pipeline is an immutable, ordered chain of stages.
type Pipeline struct {
	stages    []Stage
	verbosity Verbosity

	gw       db.Gateway
	registry *model.Registry
	builder  *builder.Builder
	mat      *materialize.Materializer
	nav      *navigation.Resolver
	log      *zap.Logger
}

// New builds the chain. The proxy stage is present only with lazy loading.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("pipeline: gateway is required")
	}
	if deps.Registry == nil {
		deps.Registry = model.NewRegistry()
	}
	if deps.Table == nil {
		deps.Table = codec.Default
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = VerbositySummary
	}

	stages := []Stage{StageErrorContainment, StageResolve, StageLog, StageExecute, StageConvert, StageTrack}
	if cfg.LazyLoading {
		stages = append(stages, StageProxy)
	}
	b := builder.New(deps.Table)
	return &Pipeline{
		stages:    stages,
		verbosity: cfg.Verbosity,
		gw:        deps.Gateway,
		registry:  deps.Registry,
		builder:   b,
		mat:       materialize.New(deps.Table),
		nav:       navigation.New(b, deps.Pool),
		log:       deps.Logger,
	}, nil
}

// Stages returns the chain in execution order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// LazyLoading reports whether unloaded references resolve on demand.
func (p *Pipeline) LazyLoading() bool {
	return p.stages[len(p.stages)-1] == StageProxy
}

// Materializer returns the materializer used by the convert stage.
func (p *Pipeline) Materializer() *materialize.Materializer { return p.mat }

// Gateway returns the store gateway.
func (p *Pipeline) Gateway() db.Gateway { return p.gw }

// Execute runs x through the whole chain.
func (p *Pipeline) Execute(ctx context.Context, x *Exchange) error {
	return p.run(ctx, 0, x)
}

func (p *Pipeline) run(ctx context.Context, i int, x *Exchange) error {
	if i == len(p.stages) {
		return nil
	}
	next := func(ctx context.Context) error { return p.run(ctx, i+1, x) }
	switch p.stages[i] {
	case StageErrorContainment:
		return p.contain(ctx, x, next)
	case StageResolve:
		return p.resolve(ctx, x, next)
	case StageLog:
		return p.logPlan(ctx, x, next)
	case StageExecute:
		return p.execute(ctx, x, next)
	case StageConvert:
		return p.convert(ctx, x, next)
	case StageTrack:
		return p.track(ctx, x, next)
	case StageProxy:
		return p.proxy(ctx, x, next)
	default:
		return fmt.Errorf("pipeline: unknown stage %s", p.stages[i])
	}
}
