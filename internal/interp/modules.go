package interp

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/normalize"
	"weave/internal/object"
	"weave/internal/registry"
)

// SourceExt is the file extension of weave modules.
const SourceExt = ".wv"

// evalImport binds a registry namespace, or a source module loaded from the
// import root, under the import's binding name in private scope.
func (e *Engine) evalImport(ctx context.Context, node *ast.Import, env *object.Context) (object.Object, error) {
	name := strings.Join(node.Path, ".")
	var mod *object.Module
	// a loaded source module also has its functions under its namespace, so
	// the module cache goes first
	if !e.isModule(name) && e.registry.HasNamespace(name) {
		mod = e.registry.Namespace(name)
	} else {
		var err error
		if mod, err = e.loadModule(ctx, node.Path); err != nil {
			return nil, err
		}
	}
	env.Set(object.Private, node.Binding(), mod)
	return object.NONE, nil
}

// loadModule reads, normalizes and runs a module once per session. Its
// top-level functions register under the module's dotted name.
func (e *Engine) loadModule(ctx context.Context, path []string) (*object.Module, error) {
	name := strings.Join(path, ".")

	e.mu.Lock()
	if mod, ok := e.modules[name]; ok {
		e.mu.Unlock()
		return mod, nil
	}
	if e.loading[name] {
		e.mu.Unlock()
		return nil, diag.New(diag.RuntimeError, "import cycle through module %s", name)
	}
	e.loading[name] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.loading, name)
		e.mu.Unlock()
	}()

	file, src, err := e.readModule(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("loading module", slog.String("module", name), slog.String("path", file))

	program, err := normalize.Source(src)
	if err != nil {
		return nil, diag.Ensure(err).WithFunction(name)
	}
	mod := &object.Module{Name: name, Path: file, Src: src, Program: program, Members: map[string]object.Object{}}

	modEnv := object.NewContext()
	defer func() {
		if err := modEnv.Release(); err != nil {
			slog.Warn("failed to release module context", slog.String("module", name), slog.Any("error", err))
		}
	}()
	before := ownEntries(e.registry)
	if _, err := e.evalProgram(context.WithValue(ctx, moduleKey{}, name), program, modEnv, name); err != nil {
		e.rollback(name, before)
		return nil, err
	}

	for _, s := range []object.Scope{object.Local, object.Private, object.Public} {
		for k, v := range modEnv.Snapshot(s) {
			mod.Members[k] = v
		}
	}
	for _, entry := range e.registry.Entries() {
		if entry.Namespace == name && entry.Priority == registry.User {
			mod.Members[entry.Name] = entry.Callable
		}
	}

	e.mu.Lock()
	e.modules[name] = mod
	e.mu.Unlock()
	return mod, nil
}

type ownKey struct {
	key      registry.Key
	priority registry.Priority
}

func ownEntries(r *registry.Registry) map[ownKey]bool {
	keys := map[ownKey]bool{}
	for _, e := range r.Own() {
		keys[ownKey{e.Key(), e.Priority}] = true
	}
	return keys
}

// rollback drops what a failed load of module name registered, so a later
// import reruns it cleanly. Modules that finished loading meanwhile keep
// their functions.
func (e *Engine) rollback(name string, before map[ownKey]bool) {
	for _, entry := range e.registry.Own() {
		k := ownKey{entry.Key(), entry.Priority}
		if before[k] || (entry.Namespace != name && e.isLoaded(entry.Namespace)) {
			continue
		}
		e.registry.Unregister(k.key, k.priority)
		slog.Debug("rolled back registration", slog.String("module", name), slog.String("key", k.key.String()))
	}
}

func (e *Engine) isLoaded(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.modules[name]
	return ok
}

// readModule looks under the import root first and then the library path.
func (e *Engine) readModule(path []string) (string, string, error) {
	rel := filepath.Join(path...) + SourceExt
	dirs := []string{e.opts.Root}
	if lib := e.libPath(); lib != "" {
		dirs = append(dirs, lib)
	}
	var tried []string
	for _, dir := range dirs {
		file := filepath.Join(dir, rel)
		data, err := os.ReadFile(file)
		if err == nil {
			return file, string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", "", diag.Wrap(diag.RuntimeError, err, "failed to read module %s", strings.Join(path, "."))
		}
		tried = append(tried, file)
	}
	return "", "", diag.New(diag.RuntimeError, "module %s not found (tried %s)",
		strings.Join(path, "."), strings.Join(tried, ", "))
}

func (e *Engine) libPath() string {
	if e.opts.LibPath != "" {
		return e.opts.LibPath
	}
	if home := os.Getenv("WEAVE_HOME"); home != "" {
		return filepath.Join(home, "lib")
	}
	return ""
}
