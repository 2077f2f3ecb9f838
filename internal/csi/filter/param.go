package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParamType is the declared type of a filter parameter.
type ParamType string

const (
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
	TypeBool    ParamType = "bool"
	TypeFloat   ParamType = "float"
)

// ParamSpec is one line of a filter's parameter list:
// identifier,description,type,min,max,digits,reserved.
type ParamSpec struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Type        ParamType `json:"type"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Digits      int       `json:"digits"`
	Reserved    string    `json:"reserved,omitempty"`
}

// Bounded reports whether Min and Max describe a usable numeric range.
func (s ParamSpec) Bounded() bool {
	return (s.Type == TypeInteger || s.Type == TypeFloat) && s.Min < s.Max
}

// ParseParamList parses a parameter-list descriptor. Parsing stops at the
// first line without exactly seven fields; the specs parsed so far are
// returned with the error. Lines with an unknown type are skipped and
// reported. Reserved policy names are never returned as options.
func ParseParamList(list string) ([]ParamSpec, error) {
	var specs []ParamSpec
	var errs []error
	for i, line := range strings.Split(list, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens := strings.Split(line, ",")
		if len(tokens) != 7 {
			errs = append(errs, fmt.Errorf("line %d: want 7 fields, got %d: %q", i+1, len(tokens), line))
			break
		}
		spec, err := parseSpec(tokens)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		if spec.ID == ParamDefaultActive || spec.ID == ParamDefaultPriority {
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errors.Join(errs...)
}

func parseSpec(tokens []string) (ParamSpec, error) {
	spec := ParamSpec{
		ID:          strings.TrimSpace(tokens[0]),
		Description: tokens[1],
		Type:        ParamType(strings.TrimSpace(tokens[2])),
		Reserved:    strings.TrimSpace(tokens[6]),
	}
	if spec.ID == "" {
		return spec, errors.New("empty parameter identifier")
	}
	switch spec.Type {
	case TypeInteger, TypeString, TypeBool, TypeFloat:
	default:
		return spec, fmt.Errorf("parameter %q: unknown type %q", spec.ID, spec.Type)
	}
	var err error
	if spec.Min, err = parseNumber(tokens[3]); err != nil {
		return spec, fmt.Errorf("parameter %q min: %w", spec.ID, err)
	}
	if spec.Max, err = parseNumber(tokens[4]); err != nil {
		return spec, fmt.Errorf("parameter %q max: %w", spec.ID, err)
	}
	digits, err := parseNumber(tokens[5])
	if err != nil {
		return spec, fmt.Errorf("parameter %q digits: %w", spec.ID, err)
	}
	spec.Digits = int(digits)
	return spec, nil
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Param is a parameter value decoded according to its spec. Raw is the
// string last reported by the filter.
type Param struct {
	Spec  ParamSpec `json:"spec"`
	Raw   string    `json:"raw"`
	Int   int64     `json:"-"`
	Float float64   `json:"-"`
	Bool  bool      `json:"-"`
}

// Value returns the typed value.
func (p Param) Value() any {
	switch p.Spec.Type {
	case TypeInteger:
		return p.Int
	case TypeFloat:
		return p.Float
	case TypeBool:
		return p.Bool
	default:
		return p.Raw
	}
}

// decodeParam converts a raw filter string into a typed Param. Numeric
// conversion is locale independent.
func decodeParam(spec ParamSpec, raw string) (Param, error) {
	p := Param{Spec: spec, Raw: raw}
	s := strings.TrimSpace(raw)
	switch spec.Type {
	case TypeInteger:
		if s == "" {
			return p, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Integer parameters are occasionally reported as "3.000".
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return p, fmt.Errorf("parameter %q: %w", spec.ID, err)
			}
			v = int64(f)
		}
		p.Int = v
	case TypeFloat:
		if s == "" {
			return p, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, fmt.Errorf("parameter %q: %w", spec.ID, err)
		}
		p.Float = v
	case TypeBool:
		p.Bool = s == "1" || strings.EqualFold(s, "true")
	}
	return p, nil
}

// encodeValue formats v for the string ABI, validating it against spec.
func encodeValue(spec ParamSpec, v any) (string, error) {
	switch spec.Type {
	case TypeInteger:
		n, err := toInt(v)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", spec.ID, err)
		}
		if spec.Bounded() && (float64(n) < spec.Min || float64(n) > spec.Max) {
			return "", fmt.Errorf("parameter %q: %d outside [%g, %g]", spec.ID, n, spec.Min, spec.Max)
		}
		return strconv.FormatInt(n, 10), nil
	case TypeFloat:
		f, err := toFloat(v)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", spec.ID, err)
		}
		if spec.Bounded() && (f < spec.Min || f > spec.Max) {
			return "", fmt.Errorf("parameter %q: %g outside [%g, %g]", spec.ID, f, spec.Min, spec.Max)
		}
		digits := spec.Digits
		if digits <= 0 {
			digits = -1
		}
		return strconv.FormatFloat(f, 'f', digits, 64), nil
	case TypeBool:
		switch b := v.(type) {
		case bool:
			if b {
				return "1", nil
			}
			return "0", nil
		case string:
			if b == "1" || strings.EqualFold(b, "true") {
				return "1", nil
			}
			return "0", nil
		}
		return "", fmt.Errorf("parameter %q: cannot use %T as bool", spec.ID, v)
	default:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		return s, nil
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%g is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("cannot use %T as integer", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("cannot use %T as float", v)
}
