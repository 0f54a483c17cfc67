// Package plugin maps capability kinds and string keys to constructors.
//
// Consumers name their serializer, load balancer, retry and tolerant strategies and registry
// backend by key in the configuration. The bootstrap package registers the built-in
// implementations, applications add their own with Register before creating a consumer:
//
//	r := bootstrap.DefaultResolver()
//	r.Register(plugin.KindLoadBalancer, "leastLoaded", func(conf common.ClientConfig) (any, error) {
//		return newLeastLoaded(), nil
//	})
//	lb := plugin.ResolveOr[loadbalancer.ILoadBalancer](r, plugin.KindLoadBalancer, conf.LoadBalancer, conf, loadbalancer.NewRoundRobinLoadBalancer())
package plugin
