package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Parameter types offered by the tests screen. Any other non-empty type is
// accepted and treated as numeric.
const (
	ParamBloodPressure = "Blood Pressure"
	ParamHemoglobin    = "Hemoglobin"
	ParamAFI           = "AFI"
	ParamWeight        = "Weight"
	ParamGlucose       = "Glucose"
	ParamHeartRate     = "Heart Rate"
)

var KnownParameterTypes = []string{
	ParamBloodPressure, ParamHemoglobin, ParamAFI, ParamWeight, ParamGlucose, ParamHeartRate,
}

type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueNumeric
	ValueBloodPressure
	// ValueText is a stored reading that is neither a number nor a pair,
	// such as "normal" in records written before values were validated.
	// New readings never take this kind.
	ValueText
)

type BloodPressure struct {
	Systolic  int `bson:"systolic" json:"systolic"`
	Diastolic int `bson:"diastolic" json:"diastolic"`
}

func (bp BloodPressure) String() string {
	return fmt.Sprintf("%d/%d", bp.Systolic, bp.Diastolic)
}

// MeasurementValue is either a plain number or a blood pressure pair. On the
// wire it is a bare number or a {systolic, diastolic} object.
type MeasurementValue struct {
	kind ValueKind
	num  float64
	bp   BloodPressure
	text string
}

func Numeric(v float64) MeasurementValue {
	return MeasurementValue{kind: ValueNumeric, num: v}
}

func BloodPressureValue(systolic, diastolic int) MeasurementValue {
	return MeasurementValue{kind: ValueBloodPressure, bp: BloodPressure{Systolic: systolic, Diastolic: diastolic}}
}

func textValue(s string) MeasurementValue {
	return MeasurementValue{kind: ValueText, text: s}
}

func (v MeasurementValue) Kind() ValueKind { return v.kind }

func (v MeasurementValue) Float() (float64, bool) {
	return v.num, v.kind == ValueNumeric
}

func (v MeasurementValue) BloodPressure() (BloodPressure, bool) {
	return v.bp, v.kind == ValueBloodPressure
}

func (v MeasurementValue) String() string {
	switch v.kind {
	case ValueNumeric:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case ValueBloodPressure:
		return v.bp.String()
	case ValueText:
		return v.text
	}
	return ""
}

// ParseMeasurement validates raw user input for the given parameter type.
func ParseMeasurement(paramType, raw string) (MeasurementValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MeasurementValue{}, Validationf("value is required")
	}
	if paramType == ParamBloodPressure {
		parts := strings.Split(raw, "/")
		if len(parts) != 2 {
			return MeasurementValue{}, Validationf("invalid format: expected systolic/diastolic")
		}
		sys, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		dia, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || sys <= 0 || dia <= 0 {
			return MeasurementValue{}, Validationf("invalid format: expected systolic/diastolic")
		}
		return BloodPressureValue(sys, dia), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return MeasurementValue{}, Validationf("invalid format: %s requires a number", paramType)
	}
	return Numeric(f), nil
}

// parseLenient decodes legacy string-typed values, guessing the shape.
// Anything unparseable is kept verbatim so one old reading cannot make a
// whole record unreadable.
func parseLenient(s string) MeasurementValue {
	s = strings.TrimSpace(s)
	if s == "" {
		return MeasurementValue{}
	}
	paramType := "value"
	if strings.Contains(s, "/") {
		paramType = ParamBloodPressure
	}
	if v, err := ParseMeasurement(paramType, s); err == nil {
		return v
	}
	return textValue(s)
}

func (v MeasurementValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNumeric:
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case ValueBloodPressure:
		return json.Marshal(v.bp)
	case ValueText:
		return json.Marshal(v.text)
	}
	return []byte("null"), nil
}

func (v *MeasurementValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = MeasurementValue{}
	case data[0] == '{':
		var bp BloodPressure
		if err := json.Unmarshal(data, &bp); err != nil {
			return fmt.Errorf("decode blood pressure: %w", err)
		}
		*v = BloodPressureValue(bp.Systolic, bp.Diastolic)
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = parseLenient(s)
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("decode measurement value: %w", err)
		}
		*v = Numeric(f)
	}
	return nil
}

func (v MeasurementValue) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch v.kind {
	case ValueNumeric:
		return bson.MarshalValue(v.num)
	case ValueBloodPressure:
		return bson.MarshalValue(v.bp)
	case ValueText:
		return bson.MarshalValue(v.text)
	}
	return bsontype.Null, nil, nil
}

func (v *MeasurementValue) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Double:
		*v = Numeric(raw.Double())
	case bsontype.Int32:
		*v = Numeric(float64(raw.Int32()))
	case bsontype.Int64:
		*v = Numeric(float64(raw.Int64()))
	case bsontype.EmbeddedDocument:
		var bp BloodPressure
		if err := raw.Unmarshal(&bp); err != nil {
			return fmt.Errorf("decode blood pressure: %w", err)
		}
		*v = BloodPressureValue(bp.Systolic, bp.Diastolic)
	case bsontype.String:
		*v = parseLenient(raw.StringValue())
	case bsontype.Null, bsontype.Undefined:
		*v = MeasurementValue{}
	default:
		return fmt.Errorf("unsupported measurement value type %s", t)
	}
	return nil
}
