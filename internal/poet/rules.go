package poet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"weave/internal/diag"
	"weave/internal/object"
)

var validate = validator.New()

// Rule checks one value. Check returns a short reason on failure.
type Rule struct {
	Name  string
	check func(object.Object) error
}

func (r Rule) Check(v object.Object) error { return r.check(v) }

var simpleRules = map[string]func(object.Object) error{
	"not_null": func(v object.Object) error {
		if v == nil || v == object.NONE {
			return fmt.Errorf("value is none")
		}
		return nil
	},
	"numeric": func(v object.Object) error {
		if _, ok := object.ToFloat(v); !ok {
			return fmt.Errorf("expected a number, got %s", typeOf(v))
		}
		return nil
	},
	"finite": func(v object.Object) error {
		f, ok := object.ToFloat(v)
		if !ok {
			return fmt.Errorf("expected a number, got %s", typeOf(v))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("value %v is not finite", f)
		}
		return nil
	},
	"positive": func(v object.Object) error {
		f, ok := object.ToFloat(v)
		if !ok || f <= 0 {
			return fmt.Errorf("expected a positive number, got %s", v.Inspect())
		}
		return nil
	},
	"non_empty": func(v object.Object) error {
		switch x := v.(type) {
		case nil, *object.None:
			return fmt.Errorf("value is none")
		case *object.String:
			if strings.TrimSpace(x.Value) == "" {
				return fmt.Errorf("string is empty")
			}
		case *object.List:
			if len(x.Elements) == 0 {
				return fmt.Errorf("list is empty")
			}
		case *object.Tuple:
			if len(x.Elements) == 0 {
				return fmt.Errorf("tuple is empty")
			}
		case *object.Dict:
			if x.Len() == 0 {
				return fmt.Errorf("dict is empty")
			}
		}
		return nil
	},
	"string": typeRule(object.STRING_OBJ),
	"list":   typeRule(object.LIST_OBJ),
	"dict":   typeRule(object.DICT_OBJ),
}

func typeOf(v object.Object) string {
	if v == nil {
		return string(object.NONE_OBJ)
	}
	return string(v.Type())
}

func typeRule(t object.ObjectType) func(object.Object) error {
	return func(v object.Object) error {
		if v == nil || v.Type() != t {
			return fmt.Errorf("expected %s, got %s", t, typeOf(v))
		}
		return nil
	}
}

// ParseRule accepts a catalogue name, "has:<key>" or "validate:<tag>" where
// tag is a go-playground validator expression.
func ParseRule(rule string) (Rule, error) {
	if fn, ok := simpleRules[rule]; ok {
		return Rule{Name: rule, check: fn}, nil
	}
	name, arg, found := strings.Cut(rule, ":")
	if found && arg != "" {
		switch name {
		case "has":
			return Rule{Name: rule, check: func(v object.Object) error {
				d, ok := v.(*object.Dict)
				if !ok {
					return fmt.Errorf("expected dict with key %q, got %s", arg, typeOf(v))
				}
				if _, ok := d.GetString(arg); !ok {
					return fmt.Errorf("missing key %q", arg)
				}
				return nil
			}}, nil
		case "validate":
			return Rule{Name: rule, check: func(v object.Object) error {
				if err := validate.Var(object.ToGo(v), arg); err != nil {
					var verrs validator.ValidationErrors
					if errors.As(err, &verrs) && len(verrs) > 0 {
						return fmt.Errorf("failed %q constraint", verrs[0].Tag())
					}
					return err
				}
				return nil
			}}, nil
		}
	}
	return Rule{}, diag.New(diag.ConfigError, "unknown poet rule %q", rule)
}

func ParseRules(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// formatters convert an Operate result to the declared output type.
var formatters = map[string]func(object.Object) (object.Object, error){
	"float": func(v object.Object) (object.Object, error) {
		if s, ok := v.(*object.String); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s.Value), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot format %q as float", s.Value)
			}
			return &object.Float{Value: f}, nil
		}
		f, ok := object.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot format %s as float", typeOf(v))
		}
		return &object.Float{Value: f}, nil
	},
	"int": func(v object.Object) (object.Object, error) {
		switch x := v.(type) {
		case *object.Integer:
			return x, nil
		case *object.Float:
			return &object.Integer{Value: int64(x.Value)}, nil
		case *object.String:
			n, err := strconv.ParseInt(strings.TrimSpace(x.Value), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot format %q as int", x.Value)
			}
			return &object.Integer{Value: n}, nil
		}
		return nil, fmt.Errorf("cannot format %s as int", typeOf(v))
	},
	"str": func(v object.Object) (object.Object, error) {
		if s, ok := v.(*object.String); ok {
			return s, nil
		}
		return &object.String{Value: v.Inspect()}, nil
	},
	"bool": func(v object.Object) (object.Object, error) {
		return object.NativeBool(object.Truthy(v)), nil
	},
	"list": func(v object.Object) (object.Object, error) {
		if elems, ok := object.Elements(v); ok {
			return &object.List{Elements: elems}, nil
		}
		return nil, fmt.Errorf("cannot format %s as list", typeOf(v))
	},
	"dict": func(v object.Object) (object.Object, error) {
		if d, ok := v.(*object.Dict); ok {
			return d, nil
		}
		if s, ok := v.(*object.String); ok {
			var m map[string]any
			if err := json.Unmarshal([]byte(s.Value), &m); err == nil {
				return object.FromGo(m), nil
			}
		}
		return nil, fmt.Errorf("cannot format %s as dict", typeOf(v))
	},
	"json": func(v object.Object) (object.Object, error) {
		b, err := json.Marshal(object.ToGo(v))
		if err != nil {
			return nil, err
		}
		return &object.String{Value: string(b)}, nil
	},
}
