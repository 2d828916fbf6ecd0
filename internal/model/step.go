package model

import "strings"

// ExecutionKind distinguishes framework-owned services from user-owned
// operators.
type ExecutionKind string

const (
	KindInternal  ExecutionKind = "INTERNAL"
	KindDelegated ExecutionKind = "DELEGATED"
)

// DeploymentRole tags what part a generated step plays in the deployed
// topology.
type DeploymentRole string

const (
	RoleRegular            DeploymentRole = "REGULAR"
	RoleOrchestratorClient DeploymentRole = "ORCHESTRATOR_CLIENT"
	RolePluginClient       DeploymentRole = "PLUGIN_CLIENT"
	RoleSynthetic          DeploymentRole = "SYNTHETIC"
)

// Transport selects the wire mechanism for a step.
type Transport string

const (
	TransportGRPC     Transport = "GRPC"
	TransportREST     Transport = "REST"
	TransportLocal    Transport = "LOCAL"
	TransportFunction Transport = "FUNCTION"
)

// ClientSuffix returns the synthetic client-step class name suffix for the
// transport. FUNCTION clients reuse the local suffix because dispatch mode
// is decided by invocation metadata, not by the class name.
func (t Transport) ClientSuffix() string {
	switch t {
	case TransportREST:
		return "RestClientStep"
	case TransportLocal, TransportFunction:
		return "LocalClientStep"
	default:
		return "GrpcClientStep"
	}
}

// OrderingRequirement declares the cross-invocation ordering contract of a
// step.
type OrderingRequirement string

const (
	OrderingStrict        OrderingRequirement = "STRICT"
	OrderingStrictAdvised OrderingRequirement = "STRICT_ADVISED"
	OrderingRelaxed       OrderingRequirement = "RELAXED"
)

// ThreadSafety declares whether a step instance tolerates concurrent calls.
type ThreadSafety string

const (
	SafetySafe   ThreadSafety = "SAFE"
	SafetyUnsafe ThreadSafety = "UNSAFE"
)

// MapperFallback selects the conversion fallback when no explicit mapper is
// declared.
type MapperFallback string

const (
	FallbackNone    MapperFallback = "NONE"
	FallbackJackson MapperFallback = "JACKSON"
)

// StepModel is the intermediate representation of one declared step. It is
// created during extraction and immutable thereafter.
type StepModel struct {
	Name           string
	Input          string
	Output         string
	Cardinality    Cardinality
	Kind           ExecutionKind
	Implementation string
	InboundMapper  string
	OutboundMapper string
	MapperFallback MapperFallback
	Role           DeploymentRole
	Transport      Transport
	CacheStrategy  string
	Ordering       OrderingRequirement
	ThreadSafety   ThreadSafety
	Parallelism    int
	Module         string
}

// Synthetic reports whether the step was injected by aspect expansion.
func (s StepModel) Synthetic() bool {
	return s.Role == RoleSynthetic
}

// SimpleInput returns the bare input type name without package qualifier.
func (s StepModel) SimpleInput() string {
	return simpleName(s.Input)
}

// SimpleOutput returns the bare output type name without package qualifier.
func (s StepModel) SimpleOutput() string {
	return simpleName(s.Output)
}

func simpleName(qualified string) string {
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}
