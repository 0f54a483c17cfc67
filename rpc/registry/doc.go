// Package registry publishes provider endpoints and resolves them for consumers.
//
// Backends:
//
//   - etcd: one key per instance under "/rpc/<name>:<version>/<host>:<port>", bound to a lease
//     that Heartbeat renews. A lost lease triggers a new registration.
//
//   - zookeeper: one ephemeral node per instance under "/rpc/zk/<name>:<version>", kept alive by
//     the session of the client.
//
//   - redis: one key per instance under "rpc:<name>:<version>/<host>:<port>" with a TTL, changes
//     are announced on "rpc:events:<name>:<version>".
//
//   - memory: an in-process TTL map for single binary deployments and tests.
//
// Discovery results of the remote backends are cached per service key. The cache is cleared by
// a watch on the service as soon as its membership changes, so consumers see new and departed
// instances without polling.
//
// Usage:
//
//	reg, err := registry.New(registry.KeyEtcd)
//	err = reg.Init(common.RegistryConfig{Address: "127.0.0.1:2379"})
//	err = reg.Register(ctx, meta)
//	reg.Heartbeat()
//	metas, err := reg.ServiceDiscovery(ctx, common.ServiceKey("Echo", ""))
package registry
