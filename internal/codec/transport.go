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

// Package codec implements the broker that correlates decode requests
// with their responses, and the converter/decoder/unpacker stage that
// sits on top of the duplex codec transport.
package codec

import (
	"context"

	"github.com/chronobase/dataprovider/internal/codec/codecpb"
)

// Transport is the duplex codec connection Broker drives: send a
// DecodeRequest, receive DecodeResponses in arbitrary order correlated
// by RequestId — the decoder may answer out of order, so correlation by
// id rather than by position on the stream is required.
type Transport interface {
	Send(ctx context.Context, req *codecpb.DecodeRequest) error
	Recv(ctx context.Context) (*codecpb.DecodeResponse, error)
	Close() error
}
