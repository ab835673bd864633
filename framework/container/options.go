package container

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/metrics"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

const tracerName = "github.com/km-arc/go-ioc/framework/container"

type options struct {
	policy             registration.ConflictPolicy
	lifetimeValidation bool
	universalName      string
	nameAsDependency   bool
	unknownTypes       bool
	cycleTracking      bool
	defaultLifetime    lifetime.Descriptor
	introspector       typeinfo.Introspector

	logger   *zap.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer
}

func defaultOptions() options {
	return options{
		policy:          registration.SkipDuplicates,
		cycleTracking:   true,
		defaultLifetime: lifetime.Transient,
		introspector:    typeinfo.Reflector{},
		logger:          zap.NewNop(),
		recorder:        metrics.Noop,
		tracer:          noop.NewTracerProvider().Tracer(tracerName),
	}
}

// Option configures a Container.
type Option func(*options)

// WithConflictPolicy decides what happens when a registration lands on an
// occupied (type, name) slot. The default skips the newcomer.
func WithConflictPolicy(p registration.ConflictPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLifetimeValidation turns the scoped-from-root and captive dependency
// checks on or off. They are off by default.
func WithLifetimeValidation(enabled bool) Option {
	return func(o *options) { o.lifetimeValidation = enabled }
}

// WithUniversalName sets a registration name that answers every named request.
func WithUniversalName(name string) Option {
	return func(o *options) { o.universalName = name }
}

// WithNameAsDependency lets unnamed registrations answer named dependencies
// when no registration carries the name.
func WithNameAsDependency(enabled bool) Option {
	return func(o *options) { o.nameAsDependency = enabled }
}

// WithUnknownTypeResolution registers unregistered struct types the first
// time they are requested.
func WithUnknownTypeResolution(enabled bool) Option {
	return func(o *options) { o.unknownTypes = enabled }
}

// WithCircularDependencyTracking turns the constructor cycle check on or off.
func WithCircularDependencyTracking(enabled bool) Option {
	return func(o *options) { o.cycleTracking = enabled }
}

// WithDefaultLifetime is used by registrations that declare none.
func WithDefaultLifetime(d lifetime.Descriptor) Option {
	return func(o *options) { o.defaultLifetime = d }
}

// WithIntrospector replaces the reflection-based constructor and member
// discovery.
func WithIntrospector(i typeinfo.Introspector) Option {
	return func(o *options) { o.introspector = i }
}

// WithLogger logs registrations, cache invalidations and plan builds.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics reports cache, registration, resolution and scope events.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTracerProvider traces plan builds.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(tracerName) }
}

// FromConfig translates the IoC section of the application configuration.
func FromConfig(cfg config.IoCConfig) ([]Option, error) {
	policy, err := registration.ParsePolicy(cfg.RegistrationBehavior)
	if err != nil {
		return nil, err
	}
	life, err := lifetime.Parse(cfg.DefaultLifetime)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithConflictPolicy(policy),
		WithLifetimeValidation(cfg.LifetimeValidation),
		WithUniversalName(cfg.UniversalName),
		WithNameAsDependency(cfg.NameAsDependency),
		WithUnknownTypeResolution(cfg.UnknownTypeResolution),
		WithCircularDependencyTracking(cfg.CircularDependencyTracking),
		WithDefaultLifetime(life),
	}, nil
}
