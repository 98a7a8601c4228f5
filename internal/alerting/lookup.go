package alerting

import (
	"encoding/json"
	"strings"
)

// LookupKind distinguishes a missing metric from a zero one.
type LookupKind int

const (
	NotFound LookupKind = iota
	Found
	WrongType
)

func (k LookupKind) String() string {
	switch k {
	case Found:
		return "found"
	case WrongType:
		return "wrong_type"
	default:
		return "not_found"
	}
}

// LookupResult is the outcome of resolving a dotted metric path. Value is
// meaningful only when Kind is Found.
type LookupResult struct {
	Kind  LookupKind
	Value float64
}

// Lookup walks a dotted path such as "sales.total" through nested maps.
// A missing segment yields NotFound; a non-numeric leaf or a non-map
// intermediate yields WrongType.
func Lookup(metrics map[string]any, path string) LookupResult {
	if path == "" {
		return LookupResult{Kind: NotFound}
	}
	var cur any = metrics
	for _, seg := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return LookupResult{Kind: NotFound}
			}
			cur = v
		case map[string]float64:
			v, ok := m[seg]
			if !ok {
				return LookupResult{Kind: NotFound}
			}
			cur = v
		case nil:
			return LookupResult{Kind: NotFound}
		default:
			return LookupResult{Kind: WrongType}
		}
	}
	return leafValue(cur)
}

func leafValue(v any) LookupResult {
	switch x := v.(type) {
	case nil:
		return LookupResult{Kind: NotFound}
	case float64:
		return LookupResult{Kind: Found, Value: x}
	case float32:
		return LookupResult{Kind: Found, Value: float64(x)}
	case int:
		return LookupResult{Kind: Found, Value: float64(x)}
	case int32:
		return LookupResult{Kind: Found, Value: float64(x)}
	case int64:
		return LookupResult{Kind: Found, Value: float64(x)}
	case uint64:
		return LookupResult{Kind: Found, Value: float64(x)}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return LookupResult{Kind: WrongType}
		}
		return LookupResult{Kind: Found, Value: f}
	default:
		return LookupResult{Kind: WrongType}
	}
}
