package control

import "encoding/json"

// jsonCodec is a grpc/encoding.Codec that carries messages.go's plain
// structs as JSON instead of protobuf wire bytes. The teacher's
// pkg/api gRPC server depends on a generated api/proto package that
// this repo has no protoc toolchain to reproduce; registering a codec
// is the documented, supported grpc-go extension point for exactly
// this case (see google.golang.org/grpc/encoding), so the control
// surface still runs on real grpc.Server/grpc.ClientConn machinery —
// listener, service registration, interceptors, call options — it
// only swaps out the on-wire message format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

const codecName = "json"
