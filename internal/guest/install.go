package guest

import (
	"github.com/dop251/goja"
)

const weakRefShim = `
if (typeof WeakRef === "undefined") {
	Object.defineProperty(globalThis, "WeakRef", {
		configurable: true,
		writable: true,
		value: (function () {
			const targets = new WeakMap();
			return class WeakRef {
				constructor(target) {
					if (target === null || (typeof target !== "object" && typeof target !== "function")) {
						throw new TypeError("WeakRef: target must be an object");
					}
					targets.set(this, target);
				}
				deref() { return targets.get(this); }
			};
		})(),
	});
}
`

// proxyFactory replaces Proxy with a constructor that reports every proxy it
// creates, so the marshaller can describe proxies by what they wrap.
const proxyFactory = `(function (Native, record) {
	function Proxy(target, handler) {
		if (new.target === undefined) {
			throw new TypeError("Constructor Proxy requires 'new'");
		}
		const p = new Native(target, handler);
		record(p, target, handler);
		return p;
	}
	Object.defineProperty(Proxy, "revocable", {
		configurable: true,
		writable: true,
		value: function revocable(target, handler) {
			const r = Native.revocable(target, handler);
			record(r.proxy, target, handler);
			return r;
		},
	});
	return Proxy;
})`

func (r *Runtime) installShims() error {
	_, err := r.vm.RunString(weakRefShim)
	return err
}

func (r *Runtime) installProxy() error {
	factory, err := r.vm.RunString(proxyFactory)
	if err != nil {
		return err
	}
	fn, _ := goja.AssertFunction(factory)
	record := func(p, target, handler *goja.Object) {
		if p != nil {
			r.proxies[p] = [2]*goja.Object{target, handler}
		}
	}
	wrapped, err := fn(goja.Undefined(), r.vm.Get("Proxy"), r.vm.ToValue(record))
	if err != nil {
		return err
	}
	return r.vm.GlobalObject().DefineDataProperty("Proxy", wrapped, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (r *Runtime) proxy(o *goja.Object) (*goja.Object, *goja.Object, bool) {
	rec, ok := r.proxies[o]
	return rec[0], rec[1], ok
}

// installTimers wraps the loop's timer functions so an exception thrown by a
// callback is reported instead of silently discarded.
func (r *Runtime) installTimers() error {
	for _, name := range []string{"setTimeout", "setInterval", "setImmediate"} {
		orig, ok := goja.AssertFunction(r.vm.Get(name))
		if !ok {
			continue
		}
		wrapper := func(call goja.FunctionCall) goja.Value {
			args := append([]goja.Value(nil), call.Arguments...)
			if len(args) > 0 {
				if fn, ok := goja.AssertFunction(args[0]); ok {
					args[0] = r.vm.ToValue(func(c goja.FunctionCall) goja.Value {
						v, err := fn(c.This, c.Arguments...)
						if err != nil {
							r.ReportError(err)
							return goja.Undefined()
						}
						return v
					})
				}
			}
			v, err := orig(call.This, args...)
			if err != nil {
				panic(err)
			}
			return v
		}
		if err := r.vm.Set(name, wrapper); err != nil {
			return err
		}
	}
	return nil
}
