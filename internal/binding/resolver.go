package binding

import (
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Binding is the resolved link between one step's IR symbols and the
// descriptor set catalogue. It carries everything the generators need to
// render transport artifacts.
type Binding struct {
	Step            string
	ProtoPackage    string
	Service         string
	Method          string
	InputMessage    string
	OutputMessage   string
	ClientStreaming bool
	ServerStreaming bool
}

// processMethod is the single RPC exposed per step service.
const processMethod = "Process"

// Resolve binds every catalogue step against the descriptor set. A step's
// service is <Name>Service; its input and output messages are matched by
// simple type name. Any missing symbol is a binding failure.
func Resolve(catalogue *model.Catalogue, set *descriptorpb.FileDescriptorSet) ([]Binding, error) {
	if catalogue == nil {
		return nil, canvaserrors.NewBindingFailure("catalogue is nil", nil)
	}
	if set == nil {
		return nil, canvaserrors.NewBindingFailure("descriptor set is nil", nil)
	}

	messages := make(map[string]string)
	services := make(map[string]string)
	for _, file := range set.GetFile() {
		pkg := file.GetPackage()
		for _, message := range file.GetMessageType() {
			messages[message.GetName()] = pkg
		}
		for _, svc := range file.GetService() {
			services[svc.GetName()] = pkg
		}
	}

	bindings := make([]Binding, 0, len(catalogue.Steps))
	for _, step := range catalogue.Steps {
		serviceName := step.Name + "Service"
		pkg, ok := services[serviceName]
		if !ok {
			return nil, canvaserrors.NewBindingFailure("service not declared in descriptor set", nil).
				WithContext(map[string]any{"step": step.Name, "service": serviceName})
		}

		input := step.SimpleInput()
		if _, ok := messages[input]; !ok {
			return nil, canvaserrors.NewBindingFailure("input message not declared in descriptor set", nil).
				WithContext(map[string]any{"step": step.Name, "message": input})
		}
		output := step.SimpleOutput()
		if _, ok := messages[output]; !ok {
			return nil, canvaserrors.NewBindingFailure("output message not declared in descriptor set", nil).
				WithContext(map[string]any{"step": step.Name, "message": output})
		}

		bindings = append(bindings, Binding{
			Step:            step.Name,
			ProtoPackage:    pkg,
			Service:         serviceName,
			Method:          processMethod,
			InputMessage:    input,
			OutputMessage:   output,
			ClientStreaming: step.Cardinality.StreamingIn(),
			ServerStreaming: step.Cardinality.StreamingOut(),
		})
	}
	return bindings, nil
}
