// Package scripting embeds a sandboxed Lua interpreter that produces grammar
// strings for constrained sampling. A script must define start() returning
// the initial grammar; it may define on_eos(text), consulted whenever the
// model emits end-of-stream, which returns the next grammar or nil to stop.
package scripting

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

// Host runs one grammar script. It is not safe for concurrent use; the
// inference call that created it is its sole owner.
type Host struct {
	state *lua.LState
	onEOS *lua.LFunction
}

// ErrScript wraps any error raised by script code.
var ErrScript = errors.New("grammar script error")

// New executes script in a fresh sandboxed state and calls its start()
// function. The sandbox opens the package, base, string and table libraries
// plus a `json` table with pure-Go encode/decode; the os and io libraries
// are not opened.
func New(script string) (host *Host, grammar string, err error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer func() {
		if err != nil {
			L.Close()
		}
	}()

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
	} {
		if cerr := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); cerr != nil {
			return nil, "", fmt.Errorf("%w: open %s: %v", ErrScript, lib.name, cerr)
		}
	}
	installJSON(L)

	if derr := L.DoString(script); derr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrScript, derr)
	}

	start, ok := L.GetGlobal("start").(*lua.LFunction)
	if !ok {
		return nil, "", fmt.Errorf("%w: start() is not defined", ErrScript)
	}
	if cerr := L.CallByParam(lua.P{Fn: start, NRet: 1, Protect: true}); cerr != nil {
		return nil, "", fmt.Errorf("%w: start(): %v", ErrScript, cerr)
	}
	ret := L.Get(-1)
	L.Pop(1)
	g, ok := ret.(lua.LString)
	if !ok {
		return nil, "", fmt.Errorf("%w: start() must return a string, got %s", ErrScript, ret.Type())
	}

	h := &Host{state: L}
	if fn, ok := L.GetGlobal("on_eos").(*lua.LFunction); ok {
		h.onEOS = fn
	}
	return h, string(g), nil
}

// HasOnEOS reports whether the script defined an on_eos handler.
func (h *Host) HasOnEOS() bool { return h.onEOS != nil }

// OnEOS invokes on_eos with the text generated since the previous reset.
// ok is false when the script returned nil, signalling end of inference.
func (h *Host) OnEOS(text string) (grammar string, ok bool, err error) {
	if h.onEOS == nil {
		return "", false, nil
	}
	if cerr := h.state.CallByParam(lua.P{
		Fn:      h.onEOS,
		NRet:    1,
		Protect: true,
	}, lua.LString(text)); cerr != nil {
		return "", false, fmt.Errorf("%w: on_eos(): %v", ErrScript, cerr)
	}
	ret := h.state.Get(-1)
	h.state.Pop(1)
	switch v := ret.(type) {
	case lua.LString:
		return string(v), true, nil
	case *lua.LNilType:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: on_eos() must return a string or nil, got %s", ErrScript, ret.Type())
	}
}

// Close releases the interpreter state.
func (h *Host) Close() {
	h.state.Close()
}

// installJSON exposes encode/decode backed by the pure-Go gopher-json
// package without pulling in its module loader.
func installJSON(L *lua.LState) {
	tbl := L.NewTable()
	L.SetField(tbl, "encode", L.NewFunction(func(L *lua.LState) int {
		data, err := luajson.Encode(L.CheckAny(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))
	L.SetField(tbl, "decode", L.NewFunction(func(L *lua.LState) int {
		v, err := luajson.Decode(L, []byte(L.CheckString(1)))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(v)
		return 1
	}))
	L.SetGlobal("json", tbl)
}
