package model

import (
	"fmt"
	"strings"

	"github.com/canvasmesh/canvas/internal/config"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// internalPackageSuffix resolves bare type names against the declared base
// package. Callers that want fully-qualified names only can disable short
// forms via ExtractOptions.
const internalPackageSuffix = "model"

// TypePair is a signature hint for a delegated operator whose step declares
// neither input nor output.
type TypePair struct {
	Input  string
	Output string
}

// ExtractOptions tunes catalogue extraction.
type ExtractOptions struct {
	// Signatures supplies operator signature hints, keyed by the qualified
	// operator name, for delegated steps that declare no types.
	Signatures map[string]TypePair
	// RejectShortForms refuses bare type names instead of resolving them
	// against basePackage.
	RejectShortForms bool
	// Reporter receives diagnostics; nil collects silently.
	Reporter Reporter
}

// Extract builds the immutable step catalogue from a parsed configuration.
// Any ERROR diagnostic fails extraction; warnings and infos do not.
func Extract(cfg *config.Config, opts ExtractOptions) (*Catalogue, error) {
	if cfg == nil {
		return nil, canvaserrors.NewInvalidConfiguration("configuration is nil", nil)
	}

	collector := NewCollectingReporter()
	reporter := Reporter(collector)
	if opts.Reporter != nil {
		reporter = TeeReporter{collector, opts.Reporter}
	}

	defaultTransport := Transport(cfg.Transport)
	if defaultTransport == "" {
		defaultTransport = TransportGRPC
	}

	steps := make([]StepModel, 0, len(cfg.Steps))
	for _, raw := range cfg.Steps {
		step, ok := extractStep(cfg, raw, defaultTransport, opts, reporter)
		if ok {
			steps = append(steps, step)
		}
	}

	aspects := make([]Aspect, 0, len(cfg.Aspects))
	for _, raw := range cfg.Aspects {
		aspects = append(aspects, NewAspect(raw))
	}

	if collector.HasErrors() {
		first := firstError(collector.Diagnostics())
		return nil, canvaserrors.NewInvalidConfiguration(first.Message, nil).
			WithContext(map[string]any{"step": first.Step})
	}

	return NewCatalogue(steps, aspects), nil
}

func extractStep(cfg *config.Config, raw config.StepConfig, defaultTransport Transport, opts ExtractOptions, reporter Reporter) (StepModel, bool) {
	fail := func(msg string) (StepModel, bool) {
		reporter.Report(Diagnostic{Severity: SeverityError, Step: raw.Name, Message: msg})
		return StepModel{}, false
	}

	for _, key := range raw.UnknownKeys {
		reporter.Report(Diagnostic{
			Severity: SeverityWarn,
			Step:     raw.Name,
			Message:  fmt.Sprintf("unknown key %q ignored", key),
		})
	}

	if raw.BothOperatorKeys {
		return fail("step declares both operator and delegate")
	}

	hasService := raw.Service != ""
	hasOperator := raw.Operator != ""
	switch {
	case hasService && hasOperator:
		return fail("step declares both service and operator")
	case !hasService && !hasOperator:
		return fail("step declares neither service nor operator")
	}

	kind := KindInternal
	implementation := raw.Service
	if hasOperator {
		kind = KindDelegated
		implementation = raw.Operator
	}

	if kind == KindInternal && (raw.OperatorMapper != "" || raw.MapperFallback != "") {
		return fail("internal step rejects explicit mapper and fallback declarations")
	}

	input := raw.Input
	output := raw.Output
	if kind == KindDelegated {
		switch {
		case input == "" && output == "":
			pair, ok := opts.Signatures[raw.Operator]
			if !ok {
				return fail("delegated step types cannot be inferred from operator signature")
			}
			input, output = pair.Input, pair.Output
			reporter.Report(Diagnostic{
				Severity: SeverityInfo,
				Step:     raw.Name,
				Message:  "step types inferred from operator signature",
			})
		case input == "" || output == "":
			return fail("delegated step must declare input and output together or neither")
		}
	}

	var resolveErr error
	resolve := func(name string) string {
		if name == "" || resolveErr != nil {
			return name
		}
		resolved, err := resolveTypeName(cfg.BasePackage, name, opts.RejectShortForms)
		if err != nil {
			resolveErr = err
		}
		return resolved
	}

	input = resolve(input)
	output = resolve(output)
	implementation = resolve(implementation)
	inboundMapper := resolve(raw.OperatorMapper)
	if resolveErr != nil {
		return fail(resolveErr.Error())
	}

	cardinality, err := ParseCardinality(raw.Cardinality)
	if err != nil {
		return fail(err.Error())
	}

	transport := defaultTransport
	if raw.Transport != "" {
		transport = Transport(raw.Transport)
	}

	ordering := OrderingRelaxed
	if raw.Ordering != "" {
		ordering = OrderingRequirement(raw.Ordering)
	}
	safety := SafetySafe
	if raw.ThreadSafety != "" {
		safety = ThreadSafety(raw.ThreadSafety)
	}
	fallback := FallbackNone
	if raw.MapperFallback != "" {
		fallback = MapperFallback(raw.MapperFallback)
	}

	return StepModel{
		Name:           raw.Name,
		Input:          input,
		Output:         output,
		Cardinality:    cardinality,
		Kind:           kind,
		Implementation: implementation,
		InboundMapper:  inboundMapper,
		OutboundMapper: inboundMapper,
		MapperFallback: fallback,
		Role:           RoleRegular,
		Transport:      transport,
		CacheStrategy:  raw.CacheStrategy,
		Ordering:       ordering,
		ThreadSafety:   safety,
		Parallelism:    raw.Parallelism,
	}, true
}

func resolveTypeName(basePackage, name string, rejectShort bool) (string, error) {
	if !config.IsQualifiedName(name) {
		return "", fmt.Errorf("invalid identifier segment in %q", name)
	}
	if strings.Contains(name, ".") {
		return name, nil
	}
	if rejectShort {
		return "", fmt.Errorf("short-form type name %q requires full qualification", name)
	}
	if basePackage == "" {
		return name, nil
	}
	return basePackage + "." + internalPackageSuffix + "." + name, nil
}

func firstError(diags []Diagnostic) Diagnostic {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return d
		}
	}
	return Diagnostic{Severity: SeverityError, Message: "extraction failed"}
}
