package serialization

import "testing"

type greeting struct {
	Name string `json:"name"`
}

type farewell struct {
	Name string `json:"name"`
}

func TestRecordCodecRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register("greeting", ContentTypeJSON, NewRecordCodec(func() any { return &greeting{} }))

	msg, err := reg.Serialize("greeting", ContentTypeJSON, &greeting{Name: "ada"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := reg.Deserialize(msg)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got, ok := decoded.(*greeting)
	if !ok {
		t.Fatalf("expected *greeting, got %T", decoded)
	}
	if got.Name != "ada" {
		t.Errorf("expected Name=ada, got %q", got.Name)
	}
}

func TestDeserializeUnregisteredPairReturnsUnknownPayload(t *testing.T) {
	reg := NewRegistry()
	msg := SerializedMessage{TypeName: "mystery", ContentType: ContentTypeJSON, PayloadBytes: []byte(`{"x":1}`)}

	decoded, err := reg.Deserialize(msg)
	if err != nil {
		t.Fatalf("Deserialize of an unregistered pair should not error, got: %v", err)
	}
	unknown, ok := decoded.(UnknownPayload)
	if !ok {
		t.Fatalf("expected UnknownPayload, got %T", decoded)
	}
	if unknown.TypeName != "mystery" {
		t.Errorf("expected TypeName=mystery, got %q", unknown.TypeName)
	}
}

func TestSerializeUnregisteredPairErrors(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Serialize("mystery", ContentTypeJSON, struct{}{}); err == nil {
		t.Error("expected Serialize of an unregistered pair to fail")
	}
}

func TestUnionCodecDispatchesByDiscriminator(t *testing.T) {
	union, err := NewUnionCodec("kind", map[string]func() any{
		"greeting": func() any { return &greeting{} },
		"farewell": func() any { return &farewell{} },
	})
	if err != nil {
		t.Fatalf("NewUnionCodec: %v", err)
	}

	decoded, err := union.Deserialize([]byte(`{"kind":"farewell","name":"ada"}`))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, ok := decoded.(*farewell); !ok {
		t.Errorf("expected *farewell for discriminator %q, got %T", "farewell", decoded)
	}
}

func TestUnionCodecRejectsEmptyDiscriminator(t *testing.T) {
	if _, err := NewUnionCodec("", map[string]func() any{"x": func() any { return &greeting{} }}); err == nil {
		t.Error("expected empty discriminator to be rejected")
	}
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	inner := NewRecordCodec(func() any { return &greeting{} })
	binary := NewBinaryCodec("greeting.v1", inner)

	data, err := binary.Serialize(&greeting{Name: "grace"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := binary.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got, ok := decoded.(*greeting)
	if !ok {
		t.Fatalf("expected *greeting, got %T", decoded)
	}
	if got.Name != "grace" {
		t.Errorf("expected Name=grace, got %q", got.Name)
	}
}
