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

// Package codecpb holds the wire types exchanged with the external
// decoder service over the codec transport. These are hand-authored in
// the shape protoc-gen-go would emit — plain
// structs with no runtime reflection magic — since they only ever
// round-trip through internal/codec's broker and are never serialized
// through a generated marshaler in this repository.
package codecpb

// RawMessage is one undecoded message passed to the external decoder.
type RawMessage struct {
	Sequence  int64
	Timestamp int64 // unix nanos
	Body      []byte
	Type      string
}

// DecodeRequest is sent to the decoder for one batch.
type DecodeRequest struct {
	RequestId  string
	StreamName string
	Direction  string
	Messages   []RawMessage
}

// DecodedMessage is one message after decoding.
type DecodedMessage struct {
	Sequence  int64
	Timestamp int64
	Body      []byte
	Type      string
	Metadata  map[string]string
}

// DecodeResponse is the decoder's reply to a DecodeRequest, correlated
// by RequestId.
type DecodeResponse struct {
	RequestId string
	Messages  []DecodedMessage
	Failed    bool
	Error     string
}
