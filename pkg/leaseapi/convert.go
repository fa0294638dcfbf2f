package leaseapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldInterface  = "interface"
	fieldVersion    = "version"
	fieldInterfaces = "interfaces"
)

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func statusToStruct(s InterfaceStatus) (*structpb.Struct, error) {
	return toStruct(s)
}

func structToStatus(s *structpb.Struct) (InterfaceStatus, error) {
	var out InterfaceStatus
	if err := fromStruct(s, &out); err != nil {
		return InterfaceStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

func listToStruct(list []InterfaceStatus) (*structpb.Struct, error) {
	return toStruct(map[string]any{fieldInterfaces: list})
}

func structToList(s *structpb.Struct) ([]InterfaceStatus, error) {
	var out struct {
		Interfaces []InterfaceStatus `json:"interfaces"`
	}
	if err := fromStruct(s, &out); err != nil {
		return nil, fmt.Errorf("decode interface list: %w", err)
	}
	return out.Interfaces, nil
}

func interfaceRequest(iface string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldInterface: structpb.NewStringValue(iface),
	}}
}

func stringField(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}
