// Package echo is the example service shipped with dRPC. It is served by `drpc serve`
// and called by the `drpc echo` commands, the rpc/server and rpc/client packages
// contain its adapter and typed client stub.
package echo
