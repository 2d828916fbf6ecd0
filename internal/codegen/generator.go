package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/canvasmesh/canvas/internal/binding"
	"github.com/canvasmesh/canvas/internal/config"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Invocation metadata keys honored by FUNCTION-transport clients. The mode
// key selects local in-process dispatch or a remote call; the target keys
// address the remote handler.
const (
	InvocationModeKey = "invocation.mode"
	ModeLocal         = "LOCAL"
	ModeRemote        = "REMOTE"
	TargetRuntimeKey  = "target.runtime"
	TargetModuleKey   = "target.module"
	TargetHandlerKey  = "target.handler"
)

// Artifact is one generated file, rendered but not yet persisted. Paths are
// slash-separated and relative to the generation root.
type Artifact struct {
	Path    string
	Content string
}

// Generator renders all compilation artifacts from the expanded order and
// its bindings.
type Generator struct {
	templates *template.Template
	pkg       string
}

// NewGenerator parses the embedded templates. The package name is used for
// every generated Go source file.
func NewGenerator(pkg string) (*Generator, error) {
	if pkg == "" {
		pkg = "generated"
	}
	templates, err := newTemplates()
	if err != nil {
		return nil, canvaserrors.NewPermanent("parse generation templates", err)
	}
	return &Generator{templates: templates, pkg: pkg}, nil
}

type serverData struct {
	Package         string
	Step            string
	InputMessage    string
	OutputMessage   string
	ClientStreaming bool
	ServerStreaming bool
}

// ServerHandler renders the wire-facing handler for one bound step.
func (g *Generator) ServerHandler(step model.StepModel, b binding.Binding) (Artifact, error) {
	content, err := g.render("server", serverData{
		Package:         g.pkg,
		Step:            step.Name,
		InputMessage:    b.InputMessage,
		OutputMessage:   b.OutputMessage,
		ClientStreaming: b.ClientStreaming,
		ServerStreaming: b.ServerStreaming,
	})
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Path:    path.Join("server", snake(step.Name)+"_handler.go"),
		Content: content,
	}, nil
}

type clientData struct {
	Package      string
	Step         string
	ClientSuffix string
	Transport    string
	Service      string
	Method       string
	ResourcePath string

	ModeKey          string
	Mode             string
	TargetRuntimeKey string
	TargetModuleKey  string
	TargetHandlerKey string
	TargetRuntime    string
	TargetModule     string
	TargetHandler    string
}

// ClientStep renders the orchestrator-side client for one bound step. For
// FUNCTION transport the rendered client carries the invocation metadata
// that decides local versus remote dispatch.
func (g *Generator) ClientStep(step model.StepModel, b binding.Binding, mapping *config.RuntimeMapping) (Artifact, error) {
	data := clientData{
		Package:      g.pkg,
		Step:         step.Name,
		ClientSuffix: clientSuffix(step),
		Transport:    string(step.Transport),
		Service:      b.Service,
		Method:       b.Method,
		ResourcePath: ResourcePath(step),

		ModeKey:          InvocationModeKey,
		TargetRuntimeKey: TargetRuntimeKey,
		TargetModuleKey:  TargetModuleKey,
		TargetHandlerKey: TargetHandlerKey,
	}
	if step.Transport == model.TransportFunction {
		runtime := mapping.RuntimeFor(step.Module)
		data.Mode = ModeLocal
		if runtime != "" {
			data.Mode = ModeRemote
			data.TargetRuntime = runtime
			data.TargetModule = step.Module
			data.TargetHandler = step.Name + "Handler"
		}
	}

	content, err := g.render("client", data)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Path:    path.Join("client", snake(step.Name)+"_client.go"),
		Content: content,
	}, nil
}

type orchestratorData struct {
	Package string
	App     string
	Order   []string
	Steps   []orchestratorStep
}

type orchestratorStep struct {
	Name        string
	Input       string
	Output      string
	Cardinality string
}

// OrchestratorStub renders the pipeline wiring source for the expanded
// order.
func (g *Generator) OrchestratorStub(appName string, expanded []model.StepModel) (Artifact, error) {
	data := orchestratorData{
		Package: g.pkg,
		App:     identifier(appName),
	}
	for _, step := range expanded {
		data.Order = append(data.Order, step.Name)
		data.Steps = append(data.Steps, orchestratorStep{
			Name:        step.Name,
			Input:       step.Input,
			Output:      step.Output,
			Cardinality: string(step.Cardinality),
		})
	}

	content, err := g.render("orchestrator", data)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Path:    path.Join("orchestrator", snake(appName)+"_pipeline.go"),
		Content: content,
	}, nil
}

// SchemaFragment renders the proto schema fragment for one binding with the
// streaming modifiers its cardinality implies.
func (g *Generator) SchemaFragment(b binding.Binding) (Artifact, error) {
	content, err := g.render("schema", b)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Path:    path.Join("schema", snake(b.Step)+".proto"),
		Content: content,
	}, nil
}

// stepDescriptor is one telemetry.json entry.
type stepDescriptor struct {
	Name        string `json:"name"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Cardinality string `json:"cardinality"`
	Transport   string `json:"transport"`
	Ordering    string `json:"ordering"`
	Safety      string `json:"threadSafety"`
	Module      string `json:"module,omitempty"`
	Synthetic   bool   `json:"synthetic"`
}

// MetadataFiles renders the deployment metadata set: order.json with the
// effective step order, telemetry.json with per-step descriptors, and
// clients.properties mapping each step to the address of its hosting
// runtime.
func (g *Generator) MetadataFiles(expanded []model.StepModel, mapping *config.RuntimeMapping) ([]Artifact, error) {
	order := make([]string, 0, len(expanded))
	descriptors := make([]stepDescriptor, 0, len(expanded))
	for _, step := range expanded {
		order = append(order, step.Name)
		descriptors = append(descriptors, stepDescriptor{
			Name:        step.Name,
			Input:       step.Input,
			Output:      step.Output,
			Cardinality: string(step.Cardinality),
			Transport:   string(step.Transport),
			Ordering:    string(step.Ordering),
			Safety:      string(step.ThreadSafety),
			Module:      step.Module,
			Synthetic:   step.Synthetic(),
		})
	}

	orderJSON, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return nil, canvaserrors.NewPermanent("encode order metadata", err)
	}
	telemetryJSON, err := json.MarshalIndent(descriptors, "", "  ")
	if err != nil {
		return nil, canvaserrors.NewPermanent("encode telemetry metadata", err)
	}

	return []Artifact{
		{Path: path.Join("meta", "order.json"), Content: string(orderJSON) + "\n"},
		{Path: path.Join("meta", "telemetry.json"), Content: string(telemetryJSON) + "\n"},
		{Path: path.Join("meta", "clients.properties"), Content: clientsProperties(expanded, mapping)},
	}, nil
}

// clientsProperties lists one endpoint line per step, sorted by step name.
// Steps whose module resolves to no declared runtime dispatch locally.
func clientsProperties(expanded []model.StepModel, mapping *config.RuntimeMapping) string {
	lines := make([]string, 0, len(expanded))
	for _, step := range expanded {
		endpoint := "local"
		if runtime := mapping.RuntimeFor(step.Module); runtime != "" {
			endpoint = runtime
			if address, ok := mapping.Runtimes[runtime]; ok && address != "" {
				endpoint = address
			}
		}
		lines = append(lines, fmt.Sprintf("%s=%s", step.Name, endpoint))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

// ResourcePath derives the REST resource path the resourceful naming scheme
// assigns to a step: the output type keys one-to-one steps, the input type
// keys the streaming shapes.
func ResourcePath(step model.StepModel) string {
	typeName := step.SimpleOutput()
	if step.Cardinality != model.OneOne {
		typeName = step.SimpleInput()
	}
	typeName = strings.TrimSuffix(strings.TrimSuffix(typeName, "Dto"), "DTO")
	return "/api/" + kebab(typeName)
}

func (g *Generator) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := g.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", canvaserrors.NewPermanent("render "+name+" template", err)
	}
	return buf.String(), nil
}

func clientSuffix(step model.StepModel) string {
	if strings.HasSuffix(step.Name, "ClientStep") {
		// Synthetic names already carry the suffix.
		return ""
	}
	return step.Transport.ClientSuffix()
}

// snake converts a PascalCase step name into a snake_case file stem.
func snake(name string) string {
	return splitCamel(name, "_")
}

// kebab converts a PascalCase type name into a kebab-case path segment.
func kebab(name string) string {
	return splitCamel(name, "-")
}

func splitCamel(name, sep string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteString(sep)
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == '_' || r == ' ' {
			b.WriteString(sep)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// identifier strips characters that cannot appear in a Go identifier so app
// names like "search-indexer" render as "searchindexer".
func identifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}
