// Package common provides the data structures and utilities shared by all rpc packages.
//
// Key Components:
//
//   - Request, Response: The bodies of REQUEST and RESPONSE frames. Arguments and results
//     are carried as serialized bytes together with their type names.
//
//   - ServiceMetaInfo: One physical endpoint of a service. ServiceKey (name:version) groups
//     the endpoints of a service, ServiceNodeKey identifies a single one.
//
//   - ServerConfig, ClientConfig, RegistryConfig, RetryConfig, TCPConf: Configuration
//     structures with DefaultXxx constructors and String printers.
//
//   - Errors: Sentinel errors (ErrProtocol, ErrConnection, ErrTimeout, ErrDiscovery, ErrInvocation,
//     ErrRegistration, ErrSerialization, ErrClosed). Every error returned by the rpc packages wraps
//     one of them.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
