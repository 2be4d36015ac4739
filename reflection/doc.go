// Package reflection exposes host-declared classes to a [goja.Runtime].
//
// A [ProxyBuilder] declares a class by namespace path and name: at most one
// constructor and finalizer, plus any number of properties, methods, raw
// native methods and event names, each in an instance and a static variant.
// [ProxyBuilder.Build] publishes the class into the [Host]'s [Registry] and
// defines a constructible function for it under the namespace.
//
// Static members are defined eagerly on the constructible function. Instance
// members are bound lazily, one member at a time, the first time a script
// touches a declared name on an instance. Every constructed instance carries a
// small tag naming its class and host instance id, read back by the shared
// trampolines that route each access to the registered Go closure.
//
// Instances are tracked by the host's [Directory]. When the Go garbage
// collector reclaims an instance, a finalize notification is posted through
// the configured notifier, and on arrival the class finalizer runs and the
// instance's listener table is dropped.
//
// A Host and everything reachable from it must only be used from the
// goroutine that owns its runtime.
package reflection
