package declaration

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// directive is one call chain recorded while evaluating a declaration.
type directive struct {
	name   string
	values []lua.LValue
}

// Parse evaluates declaration source in a sandboxed Lua state. ctx bounds
// evaluation time.
func Parse(ctx context.Context, name string, src []byte) (*Metadata, error) {
	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	var recorded []*directive
	installDirectives(L, &recorded)

	fn, err := L.Load(strings.NewReader(string(src)), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("evaluate %s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("evaluate %s: %w", name, err)
	}
	return build(recorded), nil
}

// newSandbox opens only side-effect free libraries.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Removed names must stay defined, or they would resolve as directives.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("%s is not available in declaration files", name)
			return 0
		}))
	}
	L.SetGlobal("print", L.NewFunction(func(*lua.LState) int { return 0 }))
	return L
}

// installDirectives makes every unknown global a directive recorder.
func installDirectives(L *lua.LState, out *[]*directive) {
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		L.Push(newDirective(L, key, out))
		return 1
	}))
	L.SetMetatable(L.G.Global, mt)
}

// newDirective returns a function that records a call chain under name.
func newDirective(L *lua.LState, name string, out *[]*directive) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		d := &directive{name: name}
		*out = append(*out, d)

		var chain *lua.LFunction
		chain = L.NewFunction(func(L *lua.LState) int {
			for i := 1; i <= L.GetTop(); i++ {
				d.values = append(d.values, L.Get(i))
			}
			L.Push(chain)
			return 1
		})

		for i := 1; i <= L.GetTop(); i++ {
			d.values = append(d.values, L.Get(i))
		}
		L.Push(chain)
		return 1
	})
}

func build(recorded []*directive) *Metadata {
	m := &Metadata{}
	for _, d := range recorded {
		switch d.name {
		case "client_script", "client_scripts":
			m.ClientScripts = append(m.ClientScripts, flatten(d.values)...)
		case "server_script", "server_scripts":
			m.ServerScripts = append(m.ServerScripts, flatten(d.values)...)
		case "shared_script", "shared_scripts":
			m.SharedScripts = append(m.SharedScripts, flatten(d.values)...)
		case "fxdk_watch_command":
			if cmd, ok := command(d.values); ok {
				m.WatchCommands = append(m.WatchCommands, cmd)
			}
		case "fxdk_build_command":
			if cmd, ok := command(d.values); ok {
				m.BuildCommands = append(m.BuildCommands, cmd)
			}
		default:
			if m.Extras == nil {
				m.Extras = make(map[string][]string)
			}
			m.Extras[d.name] = append(m.Extras[d.name], flatten(d.values)...)
		}
	}
	return m
}

// command reads `name 'cmd' { args }`.
func command(values []lua.LValue) (Command, bool) {
	if len(values) == 0 {
		return Command{}, false
	}
	name, ok := scalar(values[0])
	if !ok || name == "" {
		return Command{}, false
	}
	cmd := Command{Command: name, Args: []string{}}
	if len(values) > 1 {
		cmd.Args = flatten(values[1:])
	}
	return cmd, true
}

// flatten converts strings, numbers, booleans and array tables (nested)
// to strings. Other values are skipped.
func flatten(values []lua.LValue) []string {
	var out []string
	for _, v := range values {
		if tbl, ok := v.(*lua.LTable); ok {
			n := tbl.Len()
			items := make([]lua.LValue, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, tbl.RawGetInt(i))
			}
			out = append(out, flatten(items)...)
			continue
		}
		if s, ok := scalar(v); ok {
			out = append(out, s)
		}
	}
	return out
}

func scalar(v lua.LValue) (string, bool) {
	switch v := v.(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return strconv.FormatFloat(float64(v), 'f', -1, 64), true
	case lua.LBool:
		return strconv.FormatBool(bool(v)), true
	default:
		return "", false
	}
}
