// Package startup gates service construction: configuration is validated
// before any network client exists, the container is provisioned before any
// request is served, and either gate failing drops the process into a
// diagnostic mode that serves an explanation instead of crashing.
package startup

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/smartgallery/smartgallery/gallery"
)

// State is the supervisor's position in the startup sequence.
type State int

const (
	StateValidatingConfig State = iota
	StateProvisioning
	StateServing
	StateDiagnosticMode
)

func (s State) String() string {
	switch s {
	case StateValidatingConfig:
		return "validating-config"
	case StateProvisioning:
		return "provisioning"
	case StateServing:
		return "serving"
	case StateDiagnosticMode:
		return "diagnostic-mode"
	default:
		return "unknown"
	}
}

// Supervisor runs the two startup gates in order. It is used once, before
// request handling begins, and holds no locks: DiagnosticMode is absorbing
// and nothing transitions after Run returns.
type Supervisor struct {
	logger log.Logger
	cfg    gallery.Config

	state State
	repo  *gallery.Repository
	diag  *Diagnostic
}

// New returns a supervisor for the given configuration.
func New(logger log.Logger, cfg gallery.Config) *Supervisor {
	return &Supervisor{
		logger: logger,
		cfg:    cfg,
		state:  StateValidatingConfig,
	}
}

// Run drives the gates: validate, then construct and provision. After Run
// the supervisor is either in StateServing with a usable Repository or in
// StateDiagnosticMode with a Diagnostic. Run itself never returns an error;
// every failure becomes a diagnostic.
func (s *Supervisor) Run(ctx context.Context) {
	// Gate 1: pure validation, before any client or network call.
	if errs := s.cfg.Validate(); len(errs) > 0 {
		level.Error(s.logger).Log("msg", "storage configuration is invalid", "errors", len(errs))

		s.diag = &Diagnostic{Title: TitleConfiguration, Lines: errs}
		s.state = StateDiagnosticMode

		return
	}

	// Gate 2: build the repository and provision the container.
	s.state = StateProvisioning

	repo, err := gallery.New(s.logger, s.cfg)
	if err == nil {
		err = repo.ProvisionContainer(ctx)
	}

	if err != nil {
		level.Error(s.logger).Log("msg", "provisioning failed, entering diagnostic mode", "err", err)

		s.diag = &Diagnostic{Title: TitleRuntime, Lines: classifyProvisionFailure(s.cfg, err)}
		s.state = StateDiagnosticMode

		return
	}

	s.repo = repo
	s.state = StateServing

	level.Info(s.logger).Log("msg", "startup gates passed", "container", s.cfg.ContainerName)
}

// State returns the state reached by Run.
func (s *Supervisor) State() State { return s.state }

// Repository returns the provisioned repository, nil unless StateServing.
func (s *Supervisor) Repository() *gallery.Repository { return s.repo }

// Diagnostic returns the failure payload, nil unless StateDiagnosticMode.
func (s *Supervisor) Diagnostic() *Diagnostic { return s.diag }
