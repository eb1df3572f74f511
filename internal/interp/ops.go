package interp

import (
	"math"
	"strings"

	"weave/internal/diag"
	"weave/internal/object"
)

// The coercion table for binary operators:
//
//	int    op int    -> int, except / which yields float
//	int    op float  -> float (either side)
//	str    cmp str   -> bool (==, !=, <, <=, >, >=)
//	list   +   list  -> list
//	any    ==  any   -> structural equality, ints and floats compare numerically
//	x      in  coll  -> membership in list, tuple, dict keys or substring
//
// Everything else is a TypeError: there is no str + x (use an f-string), no
// arithmetic on bools and no implicit conversion to str.

func evalBinary(op string, left, right object.Object) (object.Object, error) {
	switch op {
	case "==":
		return object.NativeBool(object.Equal(left, right)), nil
	case "!=":
		return object.NativeBool(!object.Equal(left, right)), nil
	case "in":
		return evalMembership(left, right)
	}

	switch {
	case isInt(left) && isInt(right):
		return evalIntegerOp(op, left.(*object.Integer).Value, right.(*object.Integer).Value)
	case isNumber(left) && isNumber(right):
		l, _ := object.ToFloat(left)
		r, _ := object.ToFloat(right)
		return evalFloatOp(op, l, r)
	case left.Type() == object.STRING_OBJ && right.Type() == object.STRING_OBJ:
		return evalStringOp(op, left.(*object.String).Value, right.(*object.String).Value)
	case op == "+" && left.Type() == object.LIST_OBJ && right.Type() == object.LIST_OBJ:
		l, r := left.(*object.List).Elements, right.(*object.List).Elements
		out := make([]object.Object, 0, len(l)+len(r))
		return &object.List{Elements: append(append(out, l...), r...)}, nil
	case op == "+" && (left.Type() == object.STRING_OBJ || right.Type() == object.STRING_OBJ):
		return nil, diag.New(diag.TypeError, "cannot add %s and %s; use an f-string to build text", left.Type(), right.Type())
	}
	return nil, unsupported(op, left, right)
}

func unsupported(op string, left, right object.Object) error {
	return diag.New(diag.TypeError, "unsupported operand types for %s: %s and %s", op, left.Type(), right.Type())
}

func isInt(o object.Object) bool {
	_, ok := o.(*object.Integer)
	return ok
}

func isNumber(o object.Object) bool {
	switch o.(type) {
	case *object.Integer, *object.Float:
		return true
	}
	return false
}

func evalIntegerOp(op string, l, r int64) (object.Object, error) {
	switch op {
	case "+":
		return &object.Integer{Value: l + r}, nil
	case "-":
		return &object.Integer{Value: l - r}, nil
	case "*":
		return &object.Integer{Value: l * r}, nil
	case "/":
		if r == 0 {
			return nil, divisionByZero()
		}
		return &object.Float{Value: float64(l) / float64(r)}, nil
	case "//":
		if r == 0 {
			return nil, divisionByZero()
		}
		q := l / r
		if (l%r != 0) && ((l < 0) != (r < 0)) {
			q--
		}
		return &object.Integer{Value: q}, nil
	case "%":
		if r == 0 {
			return nil, divisionByZero()
		}
		m := l % r
		if m != 0 && ((m < 0) != (r < 0)) {
			m += r
		}
		return &object.Integer{Value: m}, nil
	case "<":
		return object.NativeBool(l < r), nil
	case "<=":
		return object.NativeBool(l <= r), nil
	case ">":
		return object.NativeBool(l > r), nil
	case ">=":
		return object.NativeBool(l >= r), nil
	}
	return nil, diag.New(diag.TypeError, "unknown operator: int %s int", op)
}

func evalFloatOp(op string, l, r float64) (object.Object, error) {
	switch op {
	case "+":
		return &object.Float{Value: l + r}, nil
	case "-":
		return &object.Float{Value: l - r}, nil
	case "*":
		return &object.Float{Value: l * r}, nil
	case "/":
		if r == 0 {
			return nil, divisionByZero()
		}
		return &object.Float{Value: l / r}, nil
	case "//":
		if r == 0 {
			return nil, divisionByZero()
		}
		return &object.Float{Value: math.Floor(l / r)}, nil
	case "%":
		if r == 0 {
			return nil, divisionByZero()
		}
		m := math.Mod(l, r)
		if m != 0 && ((m < 0) != (r < 0)) {
			m += r
		}
		return &object.Float{Value: m}, nil
	case "<":
		return object.NativeBool(l < r), nil
	case "<=":
		return object.NativeBool(l <= r), nil
	case ">":
		return object.NativeBool(l > r), nil
	case ">=":
		return object.NativeBool(l >= r), nil
	}
	return nil, diag.New(diag.TypeError, "unknown operator: float %s float", op)
}

func evalStringOp(op string, l, r string) (object.Object, error) {
	switch op {
	case "<":
		return object.NativeBool(l < r), nil
	case "<=":
		return object.NativeBool(l <= r), nil
	case ">":
		return object.NativeBool(l > r), nil
	case ">=":
		return object.NativeBool(l >= r), nil
	case "+":
		return nil, diag.New(diag.TypeError, "cannot add str and str; use an f-string to build text")
	}
	return nil, diag.New(diag.TypeError, "unsupported operand types for %s: str and str", op)
}

func evalMembership(item, container object.Object) (object.Object, error) {
	switch c := container.(type) {
	case *object.List:
		return object.NativeBool(containsEqual(c.Elements, item)), nil
	case *object.Tuple:
		return object.NativeBool(containsEqual(c.Elements, item)), nil
	case *object.Dict:
		key, ok := item.(object.Hashable)
		if !ok {
			return nil, diag.New(diag.TypeError, "unhashable type: %s", item.Type())
		}
		_, found := c.Get(key)
		return object.NativeBool(found), nil
	case *object.String:
		s, ok := item.(*object.String)
		if !ok {
			return nil, diag.New(diag.TypeError, "'in <str>' requires str as left operand, not %s", item.Type())
		}
		return object.NativeBool(strings.Contains(c.Value, s.Value)), nil
	}
	return nil, diag.New(diag.TypeError, "argument of type %s is not a container", container.Type())
}

func containsEqual(elems []object.Object, item object.Object) bool {
	for _, e := range elems {
		if object.Equal(e, item) {
			return true
		}
	}
	return false
}

func evalUnary(op string, operand object.Object) (object.Object, error) {
	switch op {
	case "not":
		return object.NativeBool(!object.Truthy(operand)), nil
	case "-":
		switch v := operand.(type) {
		case *object.Integer:
			return &object.Integer{Value: -v.Value}, nil
		case *object.Float:
			return &object.Float{Value: -v.Value}, nil
		}
		return nil, diag.New(diag.TypeError, "bad operand type for unary -: %s", operand.Type())
	}
	return nil, diag.New(diag.TypeError, "unknown operator: %s%s", op, operand.Type())
}

func divisionByZero() error {
	return diag.New(diag.RuntimeError, "division by zero")
}

// typeMatches checks a parameter or return annotation. Unknown annotation
// names are not checked.
func typeMatches(annotation string, v object.Object) bool {
	switch annotation {
	case "", "any":
		return true
	case "int":
		return v.Type() == object.INTEGER_OBJ
	case "float", "number":
		return isNumber(v)
	case "str":
		return v.Type() == object.STRING_OBJ
	case "bool":
		return v.Type() == object.BOOLEAN_OBJ
	case "list":
		return v.Type() == object.LIST_OBJ
	case "tuple":
		return v.Type() == object.TUPLE_OBJ
	case "dict":
		return v.Type() == object.DICT_OBJ
	case "none":
		return v == object.NONE
	}
	return true
}
