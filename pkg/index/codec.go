package index

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NormalizeFields converts fields to the values they decode to once stored: numbers become
// float64, times RFC 3339 strings and stringers their string form.
func NormalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	s, err := toStruct(fields)
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

func EncodeFields(fields map[string]interface{}) ([]byte, error) {
	s, err := toStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

func DecodeFields(data []byte) (map[string]interface{}, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return s.AsMap(), nil
}

func toStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	m := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		m[k] = plain(v)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return s, nil
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []string:
		l := make([]interface{}, len(t))
		for i, s := range t {
			l[i] = s
		}
		return l
	case []int64:
		l := make([]interface{}, len(t))
		for i, n := range t {
			l[i] = n
		}
		return l
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, e := range t {
			l[i] = plain(e)
		}
		return l
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
