// Package bus provides the message bus used to announce lifecycle changes.
//
// # Overview
//
// When an instance starts draining, routers and peers should stop sending it
// work without waiting for the next readiness probe. The announce package
// publishes state transitions and heartbeats here; anything that routes work
// subscribes.
//
// # Subjects
//
//	lifecycle.<instance>   state transitions (LifecycleSubject)
//	heartbeat.<instance>   periodic liveness (HeartbeatSubject)
//
// Subscriptions take NATS-style patterns, so a router watches every
// instance with AllInstances ("lifecycle.*").
//
// # Implementations
//
//   - NATSBus: a NATS connection, for more than one process
//   - MemoryBus: in-process, for tests and single-process use
//
// # Usage
//
//	b, _ := bus.NewNATSBus(bus.DefaultNATSConfig())
//	sub, _ := b.Subscribe(bus.AllInstances(""))
//	for msg := range sub.Messages() {
//	    // msg.Subject names the instance; stop routing to it
//	}
//
// # Teardown
//
// Both implementations satisfy shutdown.Cleaner. Register the bus early so
// it closes late, after every task that publishes through it. Cleanup
// refuses new publishes, hands queued messages over, then closes every
// subscription, bounded by Config.DrainTimeout. Close drops what is queued.
package bus
