// Package hubproto provides concrete HubProtocol implementations used by
// the demo transport and by tests that exercise multi-protocol
// serialization caching.
package hubproto

import (
	"encoding/json"
	"fmt"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

// wireMessage is the JSON shape written to clients: a target method name
// and its positional arguments.
type wireMessage struct {
	Target    string        `json:"target"`
	Arguments []interface{} `json:"arguments"`
}

// JSONProtocol encodes HubMessage as plain JSON with snake_case-free,
// verbatim field names.
type JSONProtocol struct{}

func (JSONProtocol) Name() string { return "json" }

func (JSONProtocol) Encode(msg hubcore.HubMessage) ([]byte, error) {
	data, err := json.Marshal(wireMessage{Target: msg.Target, Arguments: msg.Args})
	if err != nil {
		return nil, fmt.Errorf("hubproto: encode json: %w", err)
	}
	return data, nil
}

// camelWireMessage is the same shape under camelCase field names, standing
// in for a second client dialect that exercises the serialization cache's
// multi-protocol path.
type camelWireMessage struct {
	MethodName string        `json:"methodName"`
	Args       []interface{} `json:"args"`
}

// JSONCamelProtocol is a second JSON dialect with camelCase field names.
// Its only purpose is to prove the serialization cache encodes each
// configured protocol independently and exactly once.
type JSONCamelProtocol struct{}

func (JSONCamelProtocol) Name() string { return "json-camel" }

func (JSONCamelProtocol) Encode(msg hubcore.HubMessage) ([]byte, error) {
	data, err := json.Marshal(camelWireMessage{MethodName: msg.Target, Args: msg.Args})
	if err != nil {
		return nil, fmt.Errorf("hubproto: encode json-camel: %w", err)
	}
	return data, nil
}

var (
	_ hubcore.HubProtocol = JSONProtocol{}
	_ hubcore.HubProtocol = JSONCamelProtocol{}
)
