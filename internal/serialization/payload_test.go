package serialization

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestCodecJSONRoundTrip(t *testing.T) {
	codec := NewJSONCodec()

	payload := map[string]interface{}{
		"to":      "user@example.com",
		"retries": float64(3),
		"urgent":  true,
	}

	data, err := codec.Encode(payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if !codec.IsJSON(data) {
		t.Error("expected JSON format detection")
	}
	if codec.IsProtobuf(data) {
		t.Error("did not expect protobuf format detection")
	}

	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, payload) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded, payload)
	}
}

func TestCodecProtobufRoundTrip(t *testing.T) {
	codec := NewProtobufCodec()

	payload := map[string]interface{}{
		"name":  "resize",
		"width": float64(800),
		"tags":  []interface{}{"thumb", "webp"},
	}

	data, err := codec.Encode(payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// The envelope must still be a JSON object
	var env map[string]interface{}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("protobuf envelope is not valid JSON: %v", err)
	}
	if env["$format"] != "protobuf" {
		t.Errorf("envelope format = %v, want protobuf", env["$format"])
	}

	if !codec.IsProtobuf(data) {
		t.Error("expected protobuf format detection")
	}

	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, payload) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded, payload)
	}
}

func TestCodecScalarPayloads(t *testing.T) {
	codec := NewJSONCodec()

	tests := []struct {
		name string
		in   interface{}
	}{
		{"string", "hello"},
		{"number", float64(42)},
		{"array", []interface{}{float64(1), float64(2)}},
		{"null", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.in) {
				t.Errorf("round trip mismatch: got %v, want %v", decoded, tt.in)
			}
		})
	}
}

func TestCodecTypedStruct(t *testing.T) {
	type emailTask struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
	}

	codec := NewProtobufCodec()
	data, err := codec.Encode(emailTask{To: "a@b.c", Subject: "hi"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := decoded.(map[string]interface{})
	if !ok {
		t.Fatalf("decoded type = %T, want map", decoded)
	}
	if m["to"] != "a@b.c" || m["subject"] != "hi" {
		t.Errorf("decoded fields wrong: %v", m)
	}
}

func TestDecodeErrors(t *testing.T) {
	codec := NewJSONCodec()

	if _, err := codec.Decode(nil); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := codec.Decode(json.RawMessage("not json at all")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := codec.Decode(json.RawMessage(`{"$format":"protobuf","$payload":"!!!"}`)); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestLegacyObjectStaysJSON(t *testing.T) {
	codec := NewJSONCodec()

	// An object that happens to have a $format-like key but not the marker
	data := json.RawMessage(`{"$format":"custom","x":1}`)
	format, err := codec.DetectFormat(data)
	if err != nil {
		t.Fatalf("DetectFormat() error = %v", err)
	}
	if format != FormatJSON {
		t.Errorf("format = %v, want FormatJSON", format)
	}
}

func TestHashString(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "plain", "plain"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 1.5, "1.5"},
		{"time", ts, "2025-03-01T12:30:45.123Z"},
		{"nil", nil, ""},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashString(tt.in); got != tt.want {
				t.Errorf("HashString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	if n := ParseInt("123"); n != 123 {
		t.Errorf("ParseInt(123) = %d", n)
	}
	if n := ParseInt("3.0"); n != 3 {
		t.Errorf("ParseInt(3.0) = %d", n)
	}
	if n := ParseInt(""); n != 0 {
		t.Errorf("ParseInt(empty) = %d", n)
	}
	if n := ParseInt("abc"); n != 0 {
		t.Errorf("ParseInt(abc) = %d, want 0", n)
	}

	if !ParseBool("true") || !ParseBool("1") {
		t.Error("ParseBool should accept true and 1")
	}
	if ParseBool("") || ParseBool("yes") || ParseBool("false") {
		t.Error("ParseBool should read anything else as false")
	}

	if f := ParseFloat("2.25"); f != 2.25 {
		t.Errorf("ParseFloat(2.25) = %v", f)
	}
	if f := ParseFloat("junk"); f != 0 {
		t.Errorf("ParseFloat(junk) = %v, want 0", f)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 15, 8, 0, 0, 500000000, time.UTC)

	s := FormatTime(ts)
	parsed := ParseTime(s)
	if !parsed.Equal(ts) {
		t.Errorf("time round trip: got %v, want %v", parsed, ts)
	}

	// Plain RFC3339 is accepted too
	if ParseTime("2025-06-15T08:00:00Z").IsZero() {
		t.Error("ParseTime should accept plain RFC3339")
	}

	if !ParseTime("").IsZero() {
		t.Error("ParseTime(empty) should be the zero time")
	}
	if !ParseTime("not a time").IsZero() {
		t.Error("ParseTime(malformed) should be the zero time")
	}
}

func TestEpochMillis(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 678000000, time.UTC)
	ms := EpochMillis(ts)
	back := FromEpochMillis(ms)
	if !back.Equal(ts) {
		t.Errorf("epoch round trip: got %v, want %v", back, ts)
	}
}

func TestMarshalField(t *testing.T) {
	type meta struct {
		Attempts int    `json:"attempts"`
		Source   string `json:"source"`
	}

	s, err := MarshalField(meta{Attempts: 2, Source: "api"})
	if err != nil {
		t.Fatalf("MarshalField() error = %v", err)
	}

	var out meta
	if err := UnmarshalField(s, &out); err != nil {
		t.Fatalf("UnmarshalField() error = %v", err)
	}
	if out.Attempts != 2 || out.Source != "api" {
		t.Errorf("field round trip mismatch: %+v", out)
	}

	// Empty string leaves target untouched
	out = meta{Attempts: 9}
	if err := UnmarshalField("", &out); err != nil {
		t.Errorf("UnmarshalField(empty) error = %v", err)
	}
	if out.Attempts != 9 {
		t.Error("UnmarshalField(empty) should not modify target")
	}
}
