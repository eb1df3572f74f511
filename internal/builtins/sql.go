package builtins

import (
	"context"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/resource"
)

// connection accepts a resource value or the name it was bound under.
func connection(env *object.Context, arg object.Object, fnName string) (*resource.Handle, *resource.SQL, error) {
	var h *resource.Handle
	switch v := arg.(type) {
	case *object.Resource:
		h = v.Handle
	case *object.String:
		bound, ok := env.Resource(v.Value)
		if !ok {
			return nil, nil, diag.New(diag.NameError, "%s: resource %q is not bound", fnName, v.Value)
		}
		h = bound
	default:
		return nil, nil, diag.New(diag.TypeError, "argument to `%s` must be a resource or its name, got=%s", fnName, arg.Type())
	}
	if h.Closed() {
		return nil, nil, diag.Wrap(diag.RuntimeError, resource.ErrReleased, "%s: %s is closed", fnName, h.Name)
	}
	conn, ok := h.Value().(*resource.SQL)
	if !ok {
		return nil, nil, diag.New(diag.TypeError, "%s: %s is a %s resource, not sql", fnName, h.Name, h.Kind)
	}
	return h, conn, nil
}

func sqlParams(args []object.Object) []any {
	params := make([]any, len(args))
	for i, a := range args {
		params[i] = object.ToGo(a)
	}
	return params
}

func fnSQLQuery() *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sql.query", args, 2, -1); err != nil {
			return nil, err
		}
		_, conn, err := connection(env, args[0], "sql.query")
		if err != nil {
			return nil, err
		}
		query, err := unpackString(args[1], "sql.query")
		if err != nil {
			return nil, err
		}
		rows, columns, err := conn.Query(ctx, query, sqlParams(args[2:])...)
		if err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "sql.query: %v", err)
		}
		out := make([]object.Object, len(rows))
		for i, row := range rows {
			d := object.NewDict()
			for _, col := range columns {
				d.PutString(col, object.FromGo(row[col]))
			}
			out[i] = d
		}
		return &object.List{Elements: out}, nil
	}}
}

func fnSQLExec() *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sql.exec", args, 2, -1); err != nil {
			return nil, err
		}
		_, conn, err := connection(env, args[0], "sql.exec")
		if err != nil {
			return nil, err
		}
		query, err := unpackString(args[1], "sql.exec")
		if err != nil {
			return nil, err
		}
		res, err := conn.Exec(ctx, query, sqlParams(args[2:])...)
		if err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "sql.exec: %v", err)
		}
		return object.NewDict().
			PutString("rows_affected", &object.Integer{Value: res.RowsAffected}).
			PutString("last_insert_id", &object.Integer{Value: res.LastInsertID}), nil
	}}
}

func txFn(name string, op func(ctx context.Context, conn *resource.SQL) error) *object.Foreign {
	return &object.Foreign{Params: []string{"conn"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
		_, conn, err := connection(env, args[0], name)
		if err != nil {
			return nil, err
		}
		if err := op(ctx, conn); err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "%s: %v", name, err)
		}
		return object.NONE, nil
	}}
}

func fnSQLBegin() *object.Foreign {
	return txFn("sql.begin", func(ctx context.Context, conn *resource.SQL) error { return conn.Begin(ctx) })
}

func fnSQLCommit() *object.Foreign {
	return txFn("sql.commit", func(_ context.Context, conn *resource.SQL) error { return conn.Commit() })
}

func fnSQLRollback() *object.Foreign {
	return txFn("sql.rollback", func(_ context.Context, conn *resource.SQL) error { return conn.Rollback() })
}

// fnSQLClose unbinds the connection from the calling context.
func fnSQLClose() *object.Foreign {
	return &object.Foreign{Params: []string{"conn"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sql.close", args, 1, 1); err != nil {
			return nil, err
		}
		h, _, err := connection(env, args[0], "sql.close")
		if err != nil {
			return nil, err
		}
		if err := env.UnbindResource(h.Name); err != nil {
			return nil, err
		}
		return object.NONE, nil
	}}
}
