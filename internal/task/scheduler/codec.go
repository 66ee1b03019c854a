package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"remindd/internal/action"
)

// Args travel through a text document. Action references become strings
// with refPrefix; plain strings that already start with escapeChar get one
// more escapeChar in front. Floats always carry a '.' or an exponent so they
// decode back as float64 and integers as int64.
const (
	refPrefix  = "@action:"
	escapeChar = "@"

	nextRunLayout = time.RFC3339
	atTimeLayout  = "15:04:05"
)

// record is the persisted shape of a Job.
type record struct {
	Interval  int      `json:"interval"`
	Unit      string   `json:"unit"`
	AtTime    *string  `json:"at_time"`
	NextRun   string   `json:"next_run"`
	Action    string   `json:"action"`
	Args      []any    `json:"args"`
	Tags      []string `json:"tags"`
	RunsLeft  int      `json:"runs_left"`
	Important bool     `json:"important"`
}

// normalizeArgs checks that every value is storable and converts Go number
// and slice types to the forms decoding produces.
func normalizeArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, v := range args {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, action.Ref:
		return v, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("uint %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return normalizeValue(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("float %v is not storable", x)
		}
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		return normalizeArgs(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			nv, err := normalizeValue(vv)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = nv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported arg type %T", v)
	}
}

// encodeValue maps a normalized value to its JSON-ready form.
func encodeValue(v any) any {
	switch x := v.(type) {
	case action.Ref:
		return refPrefix + string(x)
	case string:
		if strings.HasPrefix(x, escapeChar) {
			return escapeChar + x
		}
		return x
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s)
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = encodeValue(vv)
		}
		return out
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = encodeValue(vv)
		}
		return m
	default:
		return v
	}
}

// decodeValue reverses encodeValue on a value decoded with UseNumber.
func decodeValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			return x.Float64()
		}
		return x.Int64()
	case string:
		switch {
		case strings.HasPrefix(x, escapeChar+escapeChar):
			return x[len(escapeChar):], nil
		case strings.HasPrefix(x, refPrefix):
			return action.Ref(x[len(refPrefix):]), nil
		default:
			return x, nil
		}
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			dv, err := decodeValue(vv)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			dv, err := decodeValue(vv)
			if err != nil {
				return nil, err
			}
			m[k] = dv
		}
		return m, nil
	default:
		return v, nil
	}
}

// collectRefs lists every action reference nested in args.
func collectRefs(args []any) []action.Ref {
	var refs []action.Ref
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case action.Ref:
			refs = append(refs, x)
		case []any:
			for _, vv := range x {
				walk(vv)
			}
		case map[string]any:
			for _, vv := range x {
				walk(vv)
			}
		}
	}
	for _, a := range args {
		walk(a)
	}
	return refs
}

func toRecord(j Job) record {
	r := record{
		Interval:  j.Interval,
		Unit:      string(j.Unit),
		NextRun:   j.NextRun.Format(nextRunLayout),
		Action:    string(j.Action),
		Args:      make([]any, len(j.Args)),
		Tags:      append([]string{}, j.Tags...),
		RunsLeft:  j.RunsLeft,
		Important: j.Important,
	}
	if j.AtTime != nil {
		s := j.AtTime.String()
		r.AtTime = &s
	}
	for i, a := range j.Args {
		r.Args[i] = encodeValue(a)
	}
	return r
}

func fromRecord(id string, r record, loc *time.Location) (Job, error) {
	unit, ok := ParseUnit(r.Unit)
	if !ok {
		return Job{}, fmt.Errorf("unknown unit %q", r.Unit)
	}
	next, err := time.Parse(nextRunLayout, r.NextRun)
	if err != nil {
		return Job{}, fmt.Errorf("next_run: %w", err)
	}
	j := Job{
		ID:        id,
		Interval:  r.Interval,
		Unit:      unit,
		NextRun:   next.In(loc),
		Action:    action.Ref(r.Action),
		Args:      make([]any, len(r.Args)),
		Tags:      append([]string{}, r.Tags...),
		RunsLeft:  r.RunsLeft,
		Important: r.Important,
	}
	if r.AtTime != nil {
		at, err := ParseTimeOfDay(*r.AtTime)
		if err != nil {
			return Job{}, fmt.Errorf("at_time: %w", err)
		}
		j.AtTime = &at
	}
	for i, a := range r.Args {
		v, err := decodeValue(a)
		if err != nil {
			return Job{}, fmt.Errorf("arg %d: %w", i, err)
		}
		j.Args[i] = v
	}
	return j, nil
}

// encodeDocument renders the job map as indented JSON. Keys are sorted by
// encoding/json, so equal maps produce equal bytes.
func encodeDocument(jobs map[string]Job) ([]byte, error) {
	doc := make(map[string]record, len(jobs))
	for id, j := range jobs {
		doc[id] = toRecord(j)
	}
	return json.MarshalIndent(doc, "", "    ")
}

// decodeDocument parses the document record by record. A malformed document
// is an error; a malformed record lands in bad and the rest still load.
func decodeDocument(b []byte, loc *time.Location) (jobs map[string]Job, bad map[string]error, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, err
	}
	jobs = make(map[string]Job, len(raw))
	bad = map[string]error{}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		dec := json.NewDecoder(bytes.NewReader(raw[id]))
		dec.UseNumber()
		var r record
		if err := dec.Decode(&r); err != nil {
			bad[id] = err
			continue
		}
		j, err := fromRecord(id, r, loc)
		if err != nil {
			bad[id] = err
			continue
		}
		jobs[id] = j
	}
	return jobs, bad, nil
}
