// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleLease mirrors the shape of castore's provenance lease record:
// a small struct with cbor tags, one of them omitempty.
type sampleLease struct {
	OwnerPID  int    `cbor:"owner_pid"`
	OwnerHost string `cbor:"owner_host,omitempty"`
	Note      string `cbor:"note,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleLease{OwnerPID: 4217, OwnerHost: "build-worker-3"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleLease
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	lease := sampleLease{OwnerPID: 99, OwnerHost: "a"}

	first, err := Marshal(lease)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(lease)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	leases := []sampleLease{
		{OwnerPID: 1, OwnerHost: "a"},
		{OwnerPID: 2, OwnerHost: "b"},
		{OwnerPID: 3},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, lease := range leases {
		if err := encoder.Encode(lease); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range leases {
		var got sampleLease
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if got != want {
			t.Errorf("message %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withHost := sampleLease{OwnerPID: 1, OwnerHost: "x"}
	withoutHost := sampleLease{OwnerPID: 1}

	dataWith, err := Marshal(withHost)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutHost)
	if err != nil {
		t.Fatal(err)
	}

	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var lease sampleLease
	err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &lease)
	if err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	type envelope struct {
		Payload []byte `cbor:"payload"`
	}

	original := envelope{Payload: []byte{0x01, 0x02, 0x03, 0x00, 0xff}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("byte string roundtrip: got %x, want %x", decoded.Payload, original.Payload)
	}
}

func BenchmarkMarshal(b *testing.B) {
	lease := sampleLease{OwnerPID: 4217, OwnerHost: "build-worker-3"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Marshal(lease)
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	lease := sampleLease{OwnerPID: 4217, OwnerHost: "build-worker-3"}
	data, err := Marshal(lease)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var decoded sampleLease
		Unmarshal(data, &decoded)
	}
}
