package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// Measurement is the fixed measurement name for every sensor point.
const Measurement = "hive_sensors"

// Variant identifies which payload schema a reading was decoded from.
type Variant string

const (
	// VariantHive is keyed by apiary and hive ids with strict unsigned fields.
	VariantHive Variant = "hive"
	// VariantDevice is keyed by device name with number-or-string fields.
	VariantDevice Variant = "device"
)

// SensorReading is one decoded inbound payload. The concrete type is
// either HiveReading or DeviceReading.
type SensorReading interface {
	Variant() Variant
	linePoint() LinePoint
}

// HiveReading is the apiary/hive schema.
type HiveReading struct {
	ApiaryID         string
	HiveID           string
	Weight           uint32
	InnerTemperature uint32
	InnerHumidity    uint32
	OuterTemperature uint32
	OuterHumidity    uint32
}

func (HiveReading) Variant() Variant { return VariantHive }

func (r HiveReading) linePoint() LinePoint {
	return LinePoint{
		Measurement: Measurement,
		Tags: []Tag{
			{Key: "apiary_id", Value: r.ApiaryID},
			{Key: "hive_id", Value: r.HiveID},
		},
		Fields: []Field{
			uintField("inner_temperature", r.InnerTemperature),
			uintField("inner_humidity", r.InnerHumidity),
			uintField("outer_temperature", r.OuterTemperature),
			uintField("outer_humidity", r.OuterHumidity),
			uintField("weight", r.Weight),
		},
	}
}

// DeviceReading is the device-name schema.
type DeviceReading struct {
	DeviceName  string
	Weight      float64
	Temperature float64
	Humidity    float64
}

func (DeviceReading) Variant() Variant { return VariantDevice }

func (r DeviceReading) linePoint() LinePoint {
	return LinePoint{
		Measurement: Measurement,
		Tags:        []Tag{{Key: "device_name", Value: r.DeviceName}},
		Fields: []Field{
			{Key: "temperature", Value: r.Temperature},
			{Key: "humidity", Value: r.Humidity},
			{Key: "weight", Value: r.Weight},
		},
	}
}

func uintField(key string, v uint32) Field {
	return Field{Key: key, Value: float64(v), Unsigned: true}
}

// Encode converts a reading into its single line point.
func Encode(r SensorReading) LinePoint {
	return r.linePoint()
}

// Decode reads raw message bytes as one of the known sensor schemas.
// The schema is picked from the fields present: device_name selects the
// device schema, apiary_id or hive_id the hive schema.
func Decode(payload []byte) (SensorReading, error) {
	if !utf8.Valid(payload) {
		return nil, &mqtmodels.DecodeError{Kind: mqtmodels.DecodeInvalidEncoding}
	}
	if !json.Valid(payload) {
		return nil, &mqtmodels.DecodeError{Kind: mqtmodels.DecodeMalformedJSON}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, &mqtmodels.SchemaMismatchError{Reason: "payload is not a JSON object"}
	}

	if _, ok := obj["device_name"]; ok {
		return decodeDevice(obj)
	}
	_, hasApiary := obj["apiary_id"]
	_, hasHive := obj["hive_id"]
	if hasApiary || hasHive {
		return decodeHive(obj)
	}
	return nil, &mqtmodels.SchemaMismatchError{Reason: "unrecognized payload shape"}
}

func decodeHive(obj map[string]json.RawMessage) (SensorReading, error) {
	var (
		r   HiveReading
		err error
	)
	if r.ApiaryID, err = stringField(obj, "apiary_id"); err != nil {
		return nil, err
	}
	if r.HiveID, err = stringField(obj, "hive_id"); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		key string
		dst *uint32
	}{
		{"weight", &r.Weight},
		{"inner_temperature", &r.InnerTemperature},
		{"inner_humidity", &r.InnerHumidity},
		{"outer_temperature", &r.OuterTemperature},
		{"outer_humidity", &r.OuterHumidity},
	} {
		if *f.dst, err = strictUint32(obj, f.key); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func decodeDevice(obj map[string]json.RawMessage) (SensorReading, error) {
	var (
		r   DeviceReading
		err error
	)
	if r.DeviceName, err = stringField(obj, "device_name"); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"weight", &r.Weight},
		{"temperature", &r.Temperature},
		{"humidity", &r.Humidity},
	} {
		if *f.dst, err = coercedFloat(obj, f.key); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func lookup(obj map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, &mqtmodels.SchemaMismatchError{Field: key, Reason: "missing"}
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, &mqtmodels.SchemaMismatchError{Field: key, Reason: "null"}
	}
	return raw, nil
}

func stringField(obj map[string]json.RawMessage, key string) (string, error) {
	raw, err := lookup(obj, key)
	if err != nil {
		return "", err
	}
	var s string
	if raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", &mqtmodels.SchemaMismatchError{Field: key, Reason: "expected string"}
	}
	// Ids become line-protocol tags, which may not be empty.
	if s == "" {
		return "", &mqtmodels.SchemaMismatchError{Field: key, Reason: "empty"}
	}
	return s, nil
}

func strictUint32(obj map[string]json.RawMessage, key string) (uint32, error) {
	raw, err := lookup(obj, key)
	if err != nil {
		return 0, err
	}
	if !isNumberToken(raw) {
		return 0, &mqtmodels.SchemaMismatchError{Field: key, Reason: "expected number, got " + tokenKind(raw)}
	}
	v, perr := strconv.ParseUint(string(raw), 10, 32)
	if perr != nil {
		return 0, &mqtmodels.SchemaMismatchError{Field: key, Reason: "expected unsigned 32-bit integer"}
	}
	return uint32(v), nil
}

func coercedFloat(obj map[string]json.RawMessage, key string) (float64, error) {
	raw, err := lookup(obj, key)
	if err != nil {
		return 0, err
	}

	text := string(raw)
	switch {
	case isNumberToken(raw):
	case raw[0] == '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, &mqtmodels.SchemaMismatchError{Field: key, Reason: "invalid string"}
		}
		text = strings.TrimSpace(s)
	default:
		return 0, &mqtmodels.SchemaMismatchError{Field: key, Reason: "expected number or numeric string, got " + tokenKind(raw)}
	}

	v, perr := strconv.ParseFloat(text, 64)
	if perr != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &mqtmodels.SchemaMismatchError{Field: key, Reason: "not a finite number: " + strconv.Quote(text)}
	}
	return v, nil
}

func isNumberToken(raw json.RawMessage) bool {
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func tokenKind(raw json.RawMessage) string {
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	}
	if isNumberToken(raw) {
		return "number"
	}
	return "unknown"
}
