// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import (
	"context"
	"encoding/json"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/chronobase/dataprovider/internal/codec/codecpb"
)

const jsonCodecName = "dataprovider-json"

// jsonCodec lets the hand-authored codecpb structs ride a gRPC stream
// without a protoc-generated marshaler — this module never invokes the
// Go toolchain, so there is no generated .pb.go to carry the default
// proto codec's Marshal/Unmarshal. Registered once in init().
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const decodeStreamMethod = "/dataprovider.codec.Decoder/Decode"

// GRPCTransport adapts a single bidirectional gRPC stream to a decoder
// replica into the Transport interface.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream

	sendMu sync.Mutex
}

// DialTransport opens one decode stream against target. The connection
// uses the JSON codec registered above in place of the default protobuf
// codec.
func DialTransport(ctx context.Context, target string, dialOpts ...grpc.DialOption) (*GRPCTransport, error) {
	conn, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return newGRPCTransport(ctx, conn)
}

func newGRPCTransport(ctx context.Context, conn *grpc.ClientConn) (*GRPCTransport, error) {
	desc := &grpc.StreamDesc{
		StreamName:    "Decode",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := conn.NewStream(ctx, desc, decodeStreamMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &GRPCTransport{conn: conn, stream: stream}, nil
}

func (t *GRPCTransport) Send(ctx context.Context, req *codecpb.DecodeRequest) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.SendMsg(req)
}

func (t *GRPCTransport) Recv(ctx context.Context) (*codecpb.DecodeResponse, error) {
	resp := new(codecpb.DecodeResponse)
	if err := t.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}
