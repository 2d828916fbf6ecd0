package codegen

import (
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const serverHandlerTemplate = `// Code generated by canvas. DO NOT EDIT.
package {{ .Package }}

import (
	"context"
)

// {{ .Step }}Handler adapts wire traffic onto the user {{ .Step }} service.
// Wire input is mapped to the domain, the service is invoked, and the
// result is mapped back to the wire.
type {{ .Step }}Handler struct {
	service {{ .Step }}Service
	mapper  {{ .Step }}Mapper
}

// New{{ .Step }}Handler wires the handler.
func New{{ .Step }}Handler(service {{ .Step }}Service, mapper {{ .Step }}Mapper) *{{ .Step }}Handler {
	return &{{ .Step }}Handler{service: service, mapper: mapper}
}
{{ if and (not .ClientStreaming) (not .ServerStreaming) }}
// Process handles one {{ .InputMessage }} and returns one {{ .OutputMessage }}.
func (h *{{ .Step }}Handler) Process(ctx context.Context, wire string) (string, error) {
	input, err := h.mapper.DomainFromWire(wire)
	if err != nil {
		return "", err
	}
	output, err := h.service.Apply(ctx, input)
	if err != nil {
		return "", err
	}
	return h.mapper.WireFromDomain(output)
}
{{ else if and (not .ClientStreaming) .ServerStreaming }}
// Process handles one {{ .InputMessage }} and streams {{ .OutputMessage }} values.
func (h *{{ .Step }}Handler) Process(ctx context.Context, wire string, emit func(string) error) error {
	input, err := h.mapper.DomainFromWire(wire)
	if err != nil {
		return err
	}
	return h.service.Apply(ctx, input, func(output {{ .OutputMessage }}) error {
		encoded, err := h.mapper.WireFromDomain(output)
		if err != nil {
			return err
		}
		return emit(encoded)
	})
}
{{ else if and .ClientStreaming (not .ServerStreaming) }}
// Process collects the {{ .InputMessage }} stream and returns one {{ .OutputMessage }}.
func (h *{{ .Step }}Handler) Process(ctx context.Context, wires <-chan string) (string, error) {
	inputs := make([]{{ .InputMessage }}, 0)
	for wire := range wires {
		input, err := h.mapper.DomainFromWire(wire)
		if err != nil {
			return "", err
		}
		inputs = append(inputs, input)
	}
	output, err := h.service.Apply(ctx, inputs)
	if err != nil {
		return "", err
	}
	return h.mapper.WireFromDomain(output)
}
{{ else }}
// Process bridges the {{ .InputMessage }} stream onto the {{ .OutputMessage }} stream.
func (h *{{ .Step }}Handler) Process(ctx context.Context, wires <-chan string, emit func(string) error) error {
	return h.service.Apply(ctx, wires, emit)
}
{{ end }}`

const clientStepTemplate = `// Code generated by canvas. DO NOT EDIT.
package {{ .Package }}

import (
	"context"
)

// {{ .Step }}{{ .ClientSuffix }} invokes the remote {{ .Service }} over {{ .Transport }}.
{{- if eq .Transport "REST" }}
// Resource path: {{ .ResourcePath }}
{{- end }}
{{- if eq .Transport "FUNCTION" }}
// Invocation metadata drives dispatch: {{ .ModeKey }} selects LOCAL or
// REMOTE; {{ .TargetRuntimeKey }}, {{ .TargetModuleKey }} and
// {{ .TargetHandlerKey }} address the remote handler.
{{- end }}
type {{ .Step }}{{ .ClientSuffix }} struct {
	endpoint string
	invoker  TransportInvoker
}

// New{{ .Step }}{{ .ClientSuffix }} wires the client against its endpoint.
func New{{ .Step }}{{ .ClientSuffix }}(endpoint string, invoker TransportInvoker) *{{ .Step }}{{ .ClientSuffix }} {
	return &{{ .Step }}{{ .ClientSuffix }}{endpoint: endpoint, invoker: invoker}
}

// Invoke sends one payload through the {{ .Method }} method.
func (c *{{ .Step }}{{ .ClientSuffix }}) Invoke(ctx context.Context, payload string) (string, error) {
	{{- if eq .Transport "FUNCTION" }}
	metadata := map[string]string{
		"{{ .ModeKey }}": "{{ .Mode }}",
		{{- if .TargetRuntime }}
		"{{ .TargetRuntimeKey }}": "{{ .TargetRuntime }}",
		{{- end }}
		{{- if .TargetModule }}
		"{{ .TargetModuleKey }}": "{{ .TargetModule }}",
		{{- end }}
		{{- if .TargetHandler }}
		"{{ .TargetHandlerKey }}": "{{ .TargetHandler }}",
		{{- end }}
	}
	return c.invoker.InvokeFunction(ctx, metadata, payload)
	{{- else }}
	return c.invoker.Invoke(ctx, c.endpoint, "{{ .Service }}/{{ .Method }}", payload)
	{{- end }}
}
`

const orchestratorStubTemplate = `// Code generated by canvas. DO NOT EDIT.
package {{ .Package }}

// {{ .App | title }}Order is the effective step order after expansion.
var {{ .App | title }}Order = []string{
{{- range .Order }}
	"{{ . }}",
{{- end }}
}

// Register{{ .App | title }}Steps binds every generated client step into the
// orchestrator registry in effective order.
func Register{{ .App | title }}Steps(registry StepRegistry) {
{{- range .Steps }}
	registry.Register("{{ .Name }}", "{{ .Input }}", "{{ .Output }}", "{{ .Cardinality }}")
{{- end }}
}
`

const schemaFragmentTemplate = `syntax = "proto3";

package {{ .ProtoPackage }};

message {{ .InputMessage }} {
  string payload = 1;
}
{{ if ne .OutputMessage .InputMessage }}
message {{ .OutputMessage }} {
  string payload = 1;
}
{{ end }}
service {{ .Service }} {
  rpc {{ .Method }} ({{ if .ClientStreaming }}stream {{ end }}{{ .InputMessage }}) returns ({{ if .ServerStreaming }}stream {{ end }}{{ .OutputMessage }});
}
`

func newTemplates() (*template.Template, error) {
	root := template.New("canvas").Funcs(sprig.TxtFuncMap())
	for name, text := range map[string]string{
		"server":       serverHandlerTemplate,
		"client":       clientStepTemplate,
		"orchestrator": orchestratorStubTemplate,
		"schema":       schemaFragmentTemplate,
	} {
		if _, err := root.New(name).Parse(text); err != nil {
			return nil, err
		}
	}
	return root, nil
}
