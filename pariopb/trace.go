// Package pariopb defines the wire message the diagnostics package exports
// stripe traces as. There is no protoc-generated .pb.go here -- none exists
// anywhere in the corpus this module was grounded on to imitate codegen
// output against -- so StripeTrace is a plain, hand-tagged struct marshaled
// through gogo/protobuf's reflection-based codec, the way hand-maintained
// protobuf messages were written before protoc-gen-go existed.
package pariopb

import "github.com/gogo/protobuf/proto"

// StripeTrace records one completed stripe for export: its block position,
// the shape of the array that produced it, a checksum per reader (in
// worker-table order, data range then parity range), and how many of those
// readers reported a timestamp mismatch.
type StripeTrace struct {
	Position               uint64   `protobuf:"varint,1,opt,name=position" json:"position,omitempty"`
	DataCount              uint32   `protobuf:"varint,2,opt,name=data_count,json=dataCount" json:"data_count,omitempty"`
	ParityCount            uint32   `protobuf:"varint,3,opt,name=parity_count,json=parityCount" json:"parity_count,omitempty"`
	Checksums              []uint64 `protobuf:"varint,4,rep,name=checksums" json:"checksums,omitempty"`
	TimestampMismatchCount uint32   `protobuf:"varint,5,opt,name=timestamp_mismatch_count,json=timestampMismatchCount" json:"timestamp_mismatch_count,omitempty"`
}

// Reset, String, and ProtoMessage satisfy proto.Message. Deliberately no
// Marshal/Unmarshal methods of that exact shape: proto.Marshal favors a
// Marshaler implementation over reflection when one's present, and the
// whole point here is to exercise the reflection path.
func (m *StripeTrace) Reset()         { *m = StripeTrace{} }
func (m *StripeTrace) String() string { return proto.CompactTextString(m) }
func (*StripeTrace) ProtoMessage()    {}

// Encode serializes the trace to its wire form.
func Encode(m *StripeTrace) ([]byte, error) {
	return proto.Marshal(m)
}

// Decode parses wire-form bytes into a StripeTrace.
func Decode(data []byte) (*StripeTrace, error) {
	m := &StripeTrace{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
