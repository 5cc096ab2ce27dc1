// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package lua

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// registerHostAPI installs the cogbox.* table into a state. Scripts get:
//
//	cogbox.name                  the plugin's own name
//	cogbox.log(level, msg)       write to the plugin's logger
//	cogbox.emit(key, payload)    publish a custom event
func registerHostAPI(L *lua.LState, pctx *pluginpkg.Context) {
	t := L.NewTable()

	L.SetField(t, "name", lua.LString(pctx.Name()))

	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		log := pctx.Log()
		switch level {
		case "debug":
			log.Debug(msg)
		case "warn":
			log.Warn(msg)
		case "error":
			log.Error(msg)
		default:
			log.Info(msg)
		}
		return 0
	}))

	L.SetField(t, "emit", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		payload := L.OptString(2, "")
		pctx.Events().Emit(key, payload)
		return 0
	}))

	L.SetGlobal("cogbox", t)
}

// buildEventTable converts an event into the table handed to on_event. The
// payload crosses as a JSON string; scripts parse what they need.
func buildEventTable(L *lua.LState, evt pluginpkg.Event) *lua.LTable {
	payload := "null"
	if b, err := json.Marshal(evt.Payload); err == nil {
		payload = string(b)
	}

	t := L.NewTable()
	L.SetField(t, "id", lua.LString(evt.ID.String()))
	L.SetField(t, "channel", lua.LString(string(evt.Channel)))
	L.SetField(t, "key", lua.LString(evt.Key))
	L.SetField(t, "at", lua.LNumber(evt.At.Unix()))
	L.SetField(t, "payload", lua.LString(payload))
	return t
}

// emitEvent is one entry of an on_event return value.
type emitEvent struct {
	Key     string
	Payload string
}

// parseEmitEvents reads the optional table returned by on_event. Each
// entry is a table with a required key and an optional payload string.
// Invalid entries are skipped and reported; valid ones still go out.
func parseEmitEvents(ret lua.LValue) (emits []emitEvent, validationErrs []string) {
	if ret.Type() == lua.LTNil {
		return nil, nil
	}

	table, ok := ret.(*lua.LTable)
	if !ok {
		return nil, []string{"returned non-table value: " + ret.Type().String()}
	}

	index := 0
	table.ForEach(func(_, v lua.LValue) {
		index++

		entry, ok := v.(*lua.LTable)
		if !ok {
			validationErrs = append(validationErrs,
				fmt.Sprintf("entry[%d]: expected table, got %s", index, v.Type().String()))
			return
		}

		key := entry.RawGetString("key").String()
		if key == "nil" || key == "" {
			validationErrs = append(validationErrs,
				fmt.Sprintf("entry[%d]: missing required 'key' field", index))
			return
		}

		payload := ""
		if p := entry.RawGetString("payload"); p.Type() != lua.LTNil {
			payload = p.String()
		}

		emits = append(emits, emitEvent{Key: key, Payload: payload})
	})

	return emits, validationErrs
}
