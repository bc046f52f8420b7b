package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Decode converts a record into a typed model through its JSON tags.
func Decode[T any](rec Record) (*T, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &out, nil
}

func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// plain round-trips v through JSON so stored values only hold JSON kinds.
func plain(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func plainRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = plain(v)
	}
	return out
}

func matches(rec Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, plain(want)) {
			return false
		}
	}
	return true
}

func sortRecords(recs []Record, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, f := range fields {
			c := compareValues(recs[i][f.Field], recs[j][f.Field])
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	if af, err := strconv.ParseFloat(as, 64); err == nil {
		if bf, err := strconv.ParseFloat(bs, 64); err == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// sqlArg unwraps named string types and uuid arrays for the SQL drivers.
func sqlArg(v any) any {
	switch t := v.(type) {
	case nil, string, bool, time.Time, *time.Time, []byte:
		return v
	case [16]byte:
		return uuid.UUID(t).String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// fromSQL turns driver values into JSON-friendly ones.
func fromSQL(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		trimmed := bytes.TrimSpace(t)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var out any
			if err := json.Unmarshal(trimmed, &out); err == nil {
				return out
			}
		}
		return string(t)
	}
	return v
}
